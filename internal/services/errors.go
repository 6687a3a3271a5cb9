package services

import "fmt"

// Kind classifies engine failures so handlers can map them to HTTP statuses.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConnection        Kind = "connection"
	KindConnectionTimeout Kind = "connection_timeout"
	KindLaunch            Kind = "launch"
	KindExecutionTimeout  Kind = "execution_timeout"
	KindNotFound          Kind = "not_found"
	KindRange             Kind = "range"
	KindAlreadyTerminal   Kind = "already_terminal"
)

// Error is the structured failure every engine operation returns.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the error kind, or empty for untyped errors.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
