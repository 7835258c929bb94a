package syncx

import "sync"

// Broadcaster fans one producer's values out to any number of subscribers.
// Publish blocks until every live subscriber has accepted the value, so delivery
// is lossless and ordered per subscriber. Subscribers must drain C or Close.
type Broadcaster[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

// Subscription is one observer's view of a Broadcaster.
type Subscription[T any] struct {
	C <-chan T

	ch       chan T
	done     chan struct{}
	stopOnce sync.Once
	b        *Broadcaster[T]
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new observer with the given channel buffer.
func (b *Broadcaster[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)
	s := &Subscription[T]{C: ch, ch: ch, done: make(chan struct{}), b: b}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers v to every current subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- v:
		case <-s.done:
		}
	}
}

// CloseAll terminates every current subscription; C is closed for each of them.
// The broadcaster stays usable for new subscribers.
func (b *Broadcaster[T]) CloseAll() {
	b.mu.RLock()
	current := make([]*Subscription[T], 0, len(b.subs))
	for s := range b.subs {
		current = append(current, s)
	}
	b.mu.RUnlock()

	for _, s := range current {
		s.Close()
	}
}

// Len returns the number of live subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.stopOnce.Do(func() {
		// Unblock any publisher waiting on this subscriber before taking the write lock.
		close(s.done)

		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()

		close(s.ch)
	})
}

// Relay publishes to a Broadcaster from its own goroutine so that Push never
// blocks the producer. Values are delivered in Push order.
type Relay[T any] struct {
	b     *Broadcaster[T]
	mu    sync.Mutex
	queue []T
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewRelay starts a relay feeding b.
func NewRelay[T any](b *Broadcaster[T]) *Relay[T] {
	r := &Relay[T]{
		b:    b,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Push enqueues v for publication.
func (r *Relay[T]) Push(v T) {
	r.mu.Lock()
	r.queue = append(r.queue, v)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop ends the relay goroutine after the values already queued are published.
func (r *Relay[T]) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Relay[T]) run() {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

func (r *Relay[T]) flush() {
	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, v := range batch {
			r.b.Publish(v)
		}
	}
}
