package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/voicelink/internal/errors"
	"github.com/GriffinCanCode/voicelink/internal/resilience"
	"github.com/GriffinCanCode/voicelink/internal/syncx"
	"github.com/GriffinCanCode/voicelink/internal/trace"
)

// Options configures a Client. Zero values take the package defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      resilience.RetryConfig
	Breaker    resilience.BreakerConfig
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = resilience.SessionRetryConfig()
	}
	if o.Breaker.Name == "" {
		o.Breaker = resilience.DefaultBreakerConfig("session-api")
	}
	return o
}

// Token is the bearer credential held between calls.
type Token struct {
	Value     string
	ExpiresAt time.Time // zero when the server gave no expiry
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type sessionRequest struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the session API. It is safe for concurrent use.
type Client struct {
	base    string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	token   *syncx.RWGuard[Token]
	now     func() time.Time
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		base:    opts.BaseURL,
		http:    opts.HTTPClient,
		retry:   opts.Retry,
		breaker: resilience.NewBreaker(opts.Breaker),
		token:   syncx.NewGuard(Token{}),
		now:     time.Now,
	}
}

// CreateToken exchanges a user identity for a bearer token and keeps it.
func (c *Client) CreateToken(ctx context.Context, userID, email string) error {
	if userID == "" || email == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id and email are required")
	}
	var resp tokenResponse
	if err := c.call(ctx, tokenPath, "", tokenRequest{UserID: userID, Email: email}, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return apperrors.New(apperrors.CodeDecodeFailed, "token response carried no token")
	}

	var exp time.Time
	if resp.ExpiresIn > 0 {
		exp = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if jexp, ok := jwtExpiry(resp.Token); ok && (exp.IsZero() || jexp.Before(exp)) {
		exp = jexp
	}
	c.token.Set(Token{Value: resp.Token, ExpiresAt: exp})
	trace.Logger(ctx).Info("bearer token issued", "user_id", userID, "expires_at", exp)
	return nil
}

// jwtExpiry reads the exp claim without verifying the signature; the server
// remains the authority on validity.
func jwtExpiry(raw string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// CreateSession opens a voice session for model on provider and returns its id.
func (c *Client) CreateSession(ctx context.Context, model, provider string) (string, error) {
	if !c.HasValidToken() {
		return "", apperrors.New(apperrors.CodeNotAuthenticated, "no valid bearer token")
	}
	var resp sessionResponse
	err := c.call(ctx, sessionPath, c.BearerToken(), sessionRequest{Model: model, Provider: provider}, &resp)
	if apperrors.IsCode(err, apperrors.CodeInvalidToken) {
		c.ClearToken()
	}
	if err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", apperrors.New(apperrors.CodeDecodeFailed, "session response carried no session id")
	}
	trace.Logger(ctx).Info("voice session created", "session_id", resp.SessionID, "model", model)
	return resp.SessionID, nil
}

// HasValidToken reports whether a token is held and outside the expiry skew.
func (c *Client) HasValidToken() bool {
	t := c.token.Get()
	if t.Value == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || c.now().Add(ExpirySkew).Before(t.ExpiresAt)
}

func (c *Client) BearerToken() string { return c.token.Get().Value }

func (c *Client) Token() Token { return c.token.Get() }

func (c *Client) ClearToken() { c.token.Set(Token{}) }

// call POSTs in as JSON and decodes the reply into out, retrying transient
// failures inside the circuit breaker.
func (c *Client) call(ctx context.Context, path, bearer string, in, out any) error {
	ctx, span := trace.StartSpan(ctx, "session"+path)
	defer span.Finish(ctx)

	body, err := json.Marshal(in)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode request")
	}
	countable := func(err error) bool { return ctx.Err() == nil && resilience.IsRetryable(err) }
	_, err = resilience.Do(c.breaker, countable, func() (struct{}, error) {
		return struct{}{}, resilience.Retry(ctx, c.retry, func(attempt int) error {
			span.Set("attempts", attempt)
			return c.roundTrip(ctx, path, bearer, body, out)
		})
	})
	switch {
	case errors.Is(err, resilience.ErrOpen):
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "session api unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if _, ok := apperrors.As(err); !ok {
			return apperrors.Wrap(err, apperrors.CodeTimeout, "session api request")
		}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, path, bearer string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	trace.Inject(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Wrapf(err, apperrors.CodeUnavailable, "POST %s", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(path, resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDecodeFailed, "decode response")
	}
	return nil
}

func statusError(path string, status int, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.Message
	if msg == "" {
		msg = er.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	var code apperrors.Code
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		code = apperrors.CodeInvalidToken
	case status == http.StatusNotFound:
		code = apperrors.CodeSessionNotFound
	case status == http.StatusTooManyRequests, status >= 500:
		code = apperrors.CodeUnavailable
	default:
		code = apperrors.CodeInvalidArgument
	}
	return apperrors.New(code, fmt.Sprintf("POST %s: %s", path, msg)).
		WithMetadata("status", strconv.Itoa(status))
}
