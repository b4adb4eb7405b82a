package fd

import "fmt"

// ErrorType classifies file descriptor failures. The type name travels in
// the error envelope so the model can react to the specific failure.
type ErrorType string

const (
	ErrNotFound         ErrorType = "not_found"
	ErrInvalidPage      ErrorType = "invalid_page"
	ErrInvalidReference ErrorType = "invalid_reference"
	ErrInvalidRange     ErrorType = "invalid_range"
	ErrInvalidMode      ErrorType = "invalid_mode"
	ErrFileExists       ErrorType = "file_exists"
	ErrFileNotFound     ErrorType = "file_not_found"
	ErrWriteError       ErrorType = "write_error"
	ErrReadError        ErrorType = "read_error"
)

// Error is a typed file descriptor failure. It renders both as a Go error
// and as the XML error envelope handed back to the model.
type Error struct {
	Type ErrorType
	FD   string
	Msg  string
}

func (e *Error) Error() string {
	if e.FD != "" {
		return fmt.Sprintf("fd %s: %s: %s", e.FD, e.Type, e.Msg)
	}
	return fmt.Sprintf("fd: %s: %s", e.Type, e.Msg)
}

// Envelope renders the error in the XML form surfaced to the model.
func (e *Error) Envelope() string {
	return fmt.Sprintf("<fd_error type=%q fd=%q>\n  %s\n</fd_error>", string(e.Type), e.FD, e.Msg)
}

func newError(t ErrorType, id, format string, args ...any) *Error {
	return &Error{Type: t, FD: id, Msg: fmt.Sprintf(format, args...)}
}

// NewError builds a typed descriptor failure. Tool handlers use it to
// classify failures that arise before the manager is consulted.
func NewError(t ErrorType, id, format string, args ...any) *Error {
	return newError(t, id, format, args...)
}
