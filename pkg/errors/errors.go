package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error at its origin so callers can branch on the
// category instead of matching message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindBadRequest
	// KindTransient covers network failures, timeouts and 5xx responses
	// from remote collaborators. Transient errors are retryable.
	KindTransient
	// KindData covers unprocessable records: missing phone number,
	// invoice no longer collectible, malformed remote payloads. Never
	// retried.
	KindData
	// KindIntegrity covers references to state we do not hold, such as a
	// delivery callback for an unknown provider id.
	KindIntegrity
	// KindConfig covers missing or invalid per-owner configuration.
	KindConfig
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindTransient:
		return "transient"
	case KindData:
		return "data"
	case KindIntegrity:
		return "integrity"
	case KindConfig:
		return "config"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// AppError represents an application error with an explicit kind.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors
func NotFound(message string, err error) *AppError {
	return &AppError{Kind: KindNotFound, Message: message, Err: err}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{Kind: KindBadRequest, Message: message, Err: err}
}

func Transient(message string, err error) *AppError {
	return &AppError{Kind: KindTransient, Message: message, Err: err}
}

func Data(message string, err error) *AppError {
	return &AppError{Kind: KindData, Message: message, Err: err}
}

func Integrity(message string, err error) *AppError {
	return &AppError{Kind: KindIntegrity, Message: message, Err: err}
}

func Config(message string, err error) *AppError {
	return &AppError{Kind: KindConfig, Message: message, Err: err}
}

func Internal(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the kind of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsTransient(err error) bool {
	return IsKind(err, KindTransient)
}

func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}
