package testcase

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a file holds no registered case.
	ErrNotFound = errors.New("case not found")
	// ErrUnreadable is returned when a case file cannot be read or parsed.
	ErrUnreadable = errors.New("case file unreadable")
)

// LoadError reports a case file that could not be turned into an instance.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load case from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// SkipError requests that the current test be skipped.
type SkipError struct {
	Message string
}

func (e *SkipError) Error() string {
	return e.Message
}

// IncompleteError marks the current test as not yet finished.
type IncompleteError struct {
	Message string
}

func (e *IncompleteError) Error() string {
	return e.Message
}

// PanicError wraps a recovered panic value that is not an error.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Skip aborts the running test body and marks it skipped.
func Skip(message string) {
	panic(&SkipError{Message: message})
}

// Skipf is Skip with formatting.
func Skipf(format string, args ...any) {
	panic(&SkipError{Message: fmt.Sprintf(format, args...)})
}

// Incomplete aborts the running test body and marks it incomplete.
func Incomplete(message string) {
	panic(&IncompleteError{Message: message})
}
