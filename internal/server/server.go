package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc/codes"

	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
	"github.com/GriffinCanCode/voicelink/internal/orchestrator"
	"github.com/GriffinCanCode/voicelink/internal/syncx"
	"github.com/GriffinCanCode/voicelink/internal/trace"
)

// Controller is the caller-facing surface of the call manager.
type Controller interface {
	Authenticate(ctx context.Context, userID, email string) error
	StartCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	Interrupt(ctx context.Context) (bool, error)
	SetCallOptions(ctx context.Context, model, voice *string) error
	Snapshot() orchestrator.Snapshot
	Subscribe(buffer int) *syncx.Subscription[orchestrator.Snapshot]
	GetRecentTranscript(seconds int) string
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type CommandMessage struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id,omitempty"`
}

type SnapshotMessage struct {
	Type string                `json:"type"`
	Call orchestrator.Snapshot `json:"call"`
}

type ResultMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type AuthRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type OptionsRequest struct {
	Model *string `json:"model,omitempty"`
	Voice *string `json:"voice,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
	now        func() time.Time
}

func newRateLimiter() *rateLimiter { return &rateLimiter{now: time.Now} }

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl  Controller
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

func New(ctrl Controller) *Server {
	return &Server{
		ctrl:  ctrl,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/auth", s.handleAuth)
	mux.HandleFunc("GET /api/call", s.handleSnapshot)
	mux.HandleFunc("POST /api/call/start", s.handleStart)
	mux.HandleFunc("POST /api/call/end", s.handleEnd)
	mux.HandleFunc("POST /api/call/mute", s.handleMute)
	mux.HandleFunc("POST /api/call/interrupt", s.handleInterrupt)
	mux.HandleFunc("PUT /api/call/options", s.handleOptions)
	mux.HandleFunc("GET /api/call/transcript", s.handleTranscript)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Connections returns the number of attached websocket clients.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, httpStatus(err), ErrorMessage{Type: "error", Code: string(code), Message: err.Error()})
}

// httpStatus maps an error's status code onto HTTP.
func httpStatus(err error) int {
	appErr, ok := apperrors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable, codes.Aborted, codes.Canceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "malformed request body")
	}
	return nil
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Authenticate(r.Context(), req.UserID, req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartCall(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.EndCall(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := s.ctrl.ToggleMute(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	ok, err := s.ctrl.Interrupt(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"interrupted": ok})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	var req OptionsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.SetCallOptions(r.Context(), req.Model, req.Voice); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	seconds := orchestrator.RecentTranscriptSeconds
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid seconds %q", v))
			return
		}
		seconds = min(n, MaxTranscriptSeconds)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.ctrl.GetRecentTranscript(seconds)))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	sub := s.ctrl.Subscribe(SnapshotBuffer)
	defer sub.Close()
	go s.streamSnapshots(ctx, cancel, conn, sub)

	rl := newRateLimiter()
	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			s.send(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var cmd CommandMessage
		if err := json.Unmarshal(msg, &cmd); err != nil {
			s.send(ctx, conn, ErrorMessage{Type: "error", Code: string(apperrors.CodeInvalidArgument), Message: "malformed message"})
			continue
		}
		cctx := ctx
		if cmd.TraceID != "" {
			cctx = trace.WithContext(ctx, trace.Child(trace.Context{TraceID: cmd.TraceID}))
		}
		s.handleCommand(cctx, conn, cmd.Type)
	}
}

// streamSnapshots forwards every published snapshot, starting with the current one.
func (s *Server) streamSnapshots(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *syncx.Subscription[orchestrator.Snapshot]) {
	defer cancel()
	if !s.send(ctx, conn, SnapshotMessage{Type: "snapshot", Call: s.ctrl.Snapshot()}) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C:
			if !ok {
				return
			}
			if !s.send(ctx, conn, SnapshotMessage{Type: "snapshot", Call: snap}) {
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, v any) bool {
	wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, v); err != nil {
		trace.Logger(ctx).Debug("websocket write error", "error", err)
		return false
	}
	return true
}

func (s *Server) handleCommand(ctx context.Context, conn *websocket.Conn, kind string) {
	ctx, span := trace.StartSpan(ctx, "ws."+kind)
	defer span.Finish(ctx)

	var err error
	switch kind {
	case "start_call":
		err = s.ctrl.StartCall(ctx)
	case "end_call":
		err = s.ctrl.EndCall(ctx)
	case "toggle_mute":
		_, err = s.ctrl.ToggleMute(ctx)
	case "interrupt":
		_, err = s.ctrl.Interrupt(ctx)
	default:
		err = apperrors.Newf(apperrors.CodeInvalidArgument, "unknown command %q", kind)
	}
	if err != nil {
		span.Set("error", err.Error())
		s.send(ctx, conn, ErrorMessage{Type: "error", Code: string(apperrors.CodeOf(err)), Message: err.Error()})
		return
	}
	s.send(ctx, conn, ResultMessage{Type: "result", Command: kind, OK: true})
}
