package coordinator

import (
	"errors"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrInternal   = errors.New("internal error")
)

// Error carries the text that may be shown to the originating connection.
// Err, when set, stays server-side.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func validationError(message string) *Error {
	return &Error{Kind: ErrValidation, Message: message}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: ErrInternal, Message: message, Err: err}
}

// publicMessage picks the text sent to the client. Errors built by this package
// carry their own text; anything else gets the caller's generic fallback.
func publicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && errors.Is(e.Kind, ErrValidation) {
		return e.Message
	}
	if errors.As(err, &e) && errors.Is(e.Kind, ErrInternal) && e.Message != "" {
		return e.Message
	}
	return fallback
}
