package trace

import "net/http"

// Middleware attaches a trace to every inbound request, continuing the caller's if present.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{
			TraceID:      r.Header.Get(TraceIDHeader),
			ParentSpanID: r.Header.Get(SpanIDHeader),
			SpanID:       randomHex(8),
		}
		if tc.TraceID == "" {
			tc.TraceID = randomHex(16)
		}
		ctx := WithContext(r.Context(), tc)
		if id := r.Header.Get(CallIDHeader); id != "" {
			ctx = WithCall(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Inject copies ctx's ids onto an outgoing request.
func Inject(req *http.Request) {
	ctx := req.Context()
	if tc, ok := FromContext(ctx); ok {
		req.Header.Set(TraceIDHeader, tc.TraceID)
		req.Header.Set(SpanIDHeader, tc.SpanID)
	}
	if id := CallID(ctx); id != "" {
		req.Header.Set(CallIDHeader, id)
	}
}
