// Package errors provides the structured error taxonomy shared by the transport,
// audio pipeline, session client and call orchestrator.
// Codes map onto gRPC status codes so retry policy can classify any error uniformly.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a class of failure.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeInternal           Code = "INTERNAL"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeTimeout            Code = "TIMEOUT"
	CodeCancelled          Code = "CANCELLED"
	CodeDecodeFailed       Code = "DECODE_FAILED"
	CodeConnectionFailed   Code = "CONNECTION_FAILED"
	CodeNotConnected       Code = "NOT_CONNECTED"
	CodeReconnectExhausted Code = "RECONNECT_EXHAUSTED"
	CodeNotAuthenticated   Code = "NOT_AUTHENTICATED"
	CodeDeviceUnavailable  Code = "DEVICE_UNAVAILABLE"
	CodePermissionDenied   Code = "PERMISSION_DENIED"

	// Server-reported codes that terminate a call.
	CodeAuthFailed      Code = "AUTH_FAILED"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeInvalidToken    Code = "INVALID_TOKEN"
	CodeSessionExpired  Code = "SESSION_EXPIRED"
)

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:            codes.Unknown,
	CodeInternal:           codes.Internal,
	CodeInvalidArgument:    codes.InvalidArgument,
	CodeInvalidState:       codes.FailedPrecondition,
	CodeUnavailable:        codes.Unavailable,
	CodeTimeout:            codes.DeadlineExceeded,
	CodeCancelled:          codes.Canceled,
	CodeDecodeFailed:       codes.InvalidArgument,
	CodeConnectionFailed:   codes.Unavailable,
	CodeNotConnected:       codes.FailedPrecondition,
	CodeReconnectExhausted: codes.Aborted,
	CodeNotAuthenticated:   codes.Unauthenticated,
	CodeDeviceUnavailable:  codes.Unavailable,
	CodePermissionDenied:   codes.PermissionDenied,
	CodeAuthFailed:         codes.Unauthenticated,
	CodeSessionNotFound:    codes.NotFound,
	CodeInvalidToken:       codes.Unauthenticated,
	CodeSessionExpired:     codes.Unauthenticated,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus lets status.FromError classify an AppError.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// fatalCodes terminate a call when reported by the voice server.
var fatalCodes = map[Code]bool{
	CodeAuthFailed:      true,
	CodeSessionNotFound: true,
	CodeInvalidToken:    true,
	CodeSessionExpired:  true,
}

// IsFatalCode reports whether a server-reported code terminates the call.
func IsFatalCode(code Code) bool { return fatalCodes[code] }

// IsFatal reports whether err carries a call-terminating code.
func IsFatal(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Code == CodeReconnectExhausted || fatalCodes[appErr.Code]
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeConnectionFailed:
		return true
	default:
		return false
	}
}
