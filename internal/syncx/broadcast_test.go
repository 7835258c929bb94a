package syncx

import (
	"sync"
	"testing"
	"time"
)

func TestBroadcastDeliversToEverySubscriber(t *testing.T) {
	b := NewBroadcaster[int]()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)

	b.Publish(1)
	b.Publish(2)

	for _, s := range []*Subscription[int]{s1, s2} {
		for _, want := range []int{1, 2} {
			if got := <-s.C; got != want {
				t.Errorf("received %d, want %d", got, want)
			}
		}
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	b := NewBroadcaster[string]()
	s := b.Subscribe(1)

	s.Close()
	s.Close()

	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
	if _, ok := <-s.C; ok {
		t.Error("channel should be closed after Close")
	}

	b.Publish("ignored")
}

func TestCloseAllClosesChannelsButKeepsBroadcaster(t *testing.T) {
	b := NewBroadcaster[int]()
	old := b.Subscribe(0)

	b.CloseAll()

	if _, ok := <-old.C; ok {
		t.Error("old subscription should be closed")
	}

	fresh := b.Subscribe(1)
	b.Publish(7)
	if got := <-fresh.C; got != 7 {
		t.Errorf("fresh subscriber got %d, want 7", got)
	}
}

func TestCloseUnblocksPendingPublish(t *testing.T) {
	b := NewBroadcaster[int]()
	s := b.Subscribe(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Publish(1)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish stayed blocked after subscriber closed")
	}
}

func TestRelayPreservesOrderWithoutBlocking(t *testing.T) {
	b := NewBroadcaster[int]()
	sub := b.Subscribe(0)
	r := NewRelay(b)

	for i := 0; i < 100; i++ {
		r.Push(i)
	}

	for want := 0; want < 100; want++ {
		select {
		case got := <-sub.C:
			if got != want {
				t.Fatalf("received %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d", want)
		}
	}
	sub.Close()
	r.Stop()
}

func TestRelayStopFlushes(t *testing.T) {
	b := NewBroadcaster[string]()
	sub := b.Subscribe(4)
	r := NewRelay(b)

	r.Push("a")
	r.Push("b")
	r.Stop()

	if got := <-sub.C; got != "a" {
		t.Errorf("first = %q, want a", got)
	}
	if got := <-sub.C; got != "b" {
		t.Errorf("second = %q, want b", got)
	}
}
