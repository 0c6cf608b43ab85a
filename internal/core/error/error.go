package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is used when a key does not exist.
	RedisNotFoundMessage = "redis key not found"
)

// Kind discriminates internal failures so callers can decide between retrying
// and surfacing a message to the user.
type Kind string

const (
	KindInternal             Kind = "internal"
	KindInvalidInput         Kind = "invalid_input"
	KindNotFound             Kind = "not_found"
	KindStorage              Kind = "storage"
	KindRetrievalUnavailable Kind = "retrieval_unavailable"
	KindRoutingAmbiguous     Kind = "routing_ambiguous"
	KindPartialFanoutFailure Kind = "partial_fanout_failure"
	KindMemoryWriteFailure   Kind = "memory_write_failure"
	KindBackendTimeout       Kind = "backend_timeout"
	KindBackendUnavailable   Kind = "backend_unavailable"
)

// defaultStatus maps each kind to the HTTP status used at the API boundary.
var defaultStatus = map[Kind]int{
	KindInternal:             http.StatusInternalServerError,
	KindInvalidInput:         http.StatusBadRequest,
	KindNotFound:             http.StatusNotFound,
	KindStorage:              http.StatusBadGateway,
	KindRetrievalUnavailable: http.StatusServiceUnavailable,
	KindRoutingAmbiguous:     http.StatusUnprocessableEntity,
	KindPartialFanoutFailure: http.StatusInternalServerError,
	KindMemoryWriteFailure:   http.StatusInternalServerError,
	KindBackendTimeout:       http.StatusGatewayTimeout,
	KindBackendUnavailable:   http.StatusServiceUnavailable,
}

// AppError wraps an underlying error with a kind, an HTTP status and a safe message.
type AppError struct {
	Kind    Kind
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches the underlying error, or is an
// AppError of the same kind.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) && t != nil && t.Err == nil && t.Kind != "" {
		return t.Kind == e.Kind
	}
	return errors.Is(e.Err, target)
}

// Retryable reports whether a caller may retry the failed operation unchanged.
func (e *AppError) Retryable() bool {
	return e.Kind == KindBackendTimeout || e.Kind == KindBackendUnavailable
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Kind:    kindForStatus(status),
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Wrap creates an AppError of the given kind using the kind's default status.
func Wrap(kind Kind, err error, message string) *AppError {
	status, ok := defaultStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{Kind: kind, Err: err, Status: status, Message: message}
}

// Sentinels usable with errors.Is to test for a kind regardless of the wrapped cause.
var (
	ErrRetrievalUnavailable = &AppError{Kind: KindRetrievalUnavailable, Message: "information unavailable"}
	ErrRoutingAmbiguous     = &AppError{Kind: KindRoutingAmbiguous, Message: "no applicable route"}
	ErrBackendTimeout       = &AppError{Kind: KindBackendTimeout, Message: "backend timeout"}
	ErrBackendUnavailable   = &AppError{Kind: KindBackendUnavailable, Message: "backend unavailable"}
	ErrMemoryWriteFailure   = &AppError{Kind: KindMemoryWriteFailure, Message: "memory write failed"}
)

// RetrievalUnavailable marks a knowledge partition as unreachable or missing.
func RetrievalUnavailable(partition string, err error) *AppError {
	return Wrap(KindRetrievalUnavailable, err, fmt.Sprintf("knowledge partition %q unavailable", partition))
}

// RoutingAmbiguous reports that no category of router matched confidently.
func RoutingAmbiguous(router string) *AppError {
	return Wrap(KindRoutingAmbiguous, nil, fmt.Sprintf("no applicable route in %s", router))
}

// PartialFanout reports the children of router that failed during a fan-out.
func PartialFanout(router string, failed []string) *AppError {
	return Wrap(KindPartialFanoutFailure, nil, fmt.Sprintf("%s: %d child(ren) failed: %v", router, len(failed), failed))
}

// MemoryWrite marks a failed best-effort memory update.
func MemoryWrite(userID string, err error) *AppError {
	return Wrap(KindMemoryWriteFailure, err, fmt.Sprintf("memory write for user %q failed", userID))
}

// BackendTimeout marks a generation or retrieval call that exceeded its bound.
func BackendTimeout(op string, err error) *AppError {
	return Wrap(KindBackendTimeout, err, fmt.Sprintf("%s timed out", op))
}

// BackendUnavailable marks a backend rejected by an open circuit or failing outright.
func BackendUnavailable(op string, err error) *AppError {
	return Wrap(KindBackendUnavailable, err, fmt.Sprintf("%s unavailable", op))
}

// InvalidInput marks a request rejected before processing.
func InvalidInput(err error, message string) *AppError {
	return Wrap(KindInvalidInput, err, message)
}

// KindOf returns the kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status carried by err, defaulting to 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether any AppError in err's chain is retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable()
	}
	return false
}

func kindForStatus(status int) Kind {
	for k, s := range defaultStatus {
		if s == status && k != KindPartialFanoutFailure && k != KindMemoryWriteFailure && k != KindRetrievalUnavailable && k != KindBackendUnavailable {
			return k
		}
	}
	return KindInternal
}
