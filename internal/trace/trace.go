// Package trace carries call and request correlation ids through context.Context
// so every log line emitted while serving a call can be tied back to it.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Header names used when ids cross an HTTP boundary.
const (
	TraceIDHeader = "X-Trace-Id"
	SpanIDHeader  = "X-Span-Id"
	CallIDHeader  = "X-Call-Id"
)

type (
	traceKey struct{}
	callKey  struct{}
)

// Context identifies one unit of work.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New starts a fresh trace.
func New() Context {
	return Context{TraceID: randomHex(16), SpanID: randomHex(8)}
}

// Child derives a span that shares parent's trace.
func Child(parent Context) Context {
	if parent.TraceID == "" {
		return New()
	}
	return Context{TraceID: parent.TraceID, SpanID: randomHex(8), ParentSpanID: parent.SpanID}
}

// FromContext returns the trace stored in ctx, if any.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceKey{}, tc)
}

// Ensure returns ctx unchanged when it already has a trace, otherwise attaches a new one.
func Ensure(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// WithCall tags ctx with the id of the active call.
func WithCall(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callKey{}, callID)
}

// CallID returns the call id stored in ctx, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callKey{}).(string)
	return id
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Span times a named operation.
type Span struct {
	Name  string
	Ctx   Context
	Start time.Time
	End   time.Time
	attrs []slog.Attr
}

// StartSpan opens a child span of whatever trace ctx carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	s := &Span{Name: name, Ctx: Child(parent), Start: time.Now()}
	return WithContext(ctx, s.Ctx), s
}

// Set records an attribute on the span.
func (s *Span) Set(key string, val any) {
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// Finish closes the span and logs it at debug level.
func (s *Span) Finish(ctx context.Context) {
	s.End = time.Now()
	Logger(ctx).Debug("span finished", "span", s)
}

// Duration is zero until the span is finished.
func (s *Span) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, 4+len(s.attrs))
	attrs = append(attrs,
		slog.String("name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	)
	attrs = append(attrs, s.attrs...)
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with the ids carried by ctx.
func Logger(ctx context.Context) *slog.Logger {
	args := make([]any, 0, 6)
	if tc, ok := FromContext(ctx); ok {
		args = append(args, "trace_id", tc.TraceID, "span_id", tc.SpanID)
	}
	if id := CallID(ctx); id != "" {
		args = append(args, "call_id", id)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
