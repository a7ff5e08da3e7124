// Package event carries lifecycle events from the case runner and the
// executors to reporting subscribers.
package event

import (
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-caserunner/meta"
	"github.com/ethereum-optimism/infra/op-caserunner/types"
)

// Name identifies a lifecycle event kind.
type Name string

const (
	AppStarted     Name = "app.started"
	AppFinished    Name = "app.finished"
	CaseBefore     Name = "case.before"
	CaseAfter      Name = "case.after"
	CaseFiltered   Name = "case.filtered"
	TestBefore     Name = "test.before"
	TestAfter      Name = "test.after"
	TestDone       Name = "test.done"
	TestFailed     Name = "test.failed"
	TestSkipped    Name = "test.skipped"
	TestIncomplete Name = "test.incomplete"
	TestError      Name = "test.error"
	StorageUpdated Name = "storage.updated"
)

// Names lists every event kind the engine publishes.
var Names = []Name{
	AppStarted, AppFinished,
	CaseBefore, CaseAfter, CaseFiltered,
	TestBefore, TestAfter,
	TestDone, TestFailed, TestSkipped, TestIncomplete, TestError,
	StorageUpdated,
}

// Known reports whether n is part of the closed event set.
func Known(n Name) bool {
	for _, known := range Names {
		if n == known {
			return true
		}
	}
	return false
}

// OutcomeName maps a terminal status to its method-level outcome event.
func OutcomeName(status types.TestStatus) Name {
	switch status {
	case types.TestStatusDone:
		return TestDone
	case types.TestStatusSkipped:
		return TestSkipped
	case types.TestStatusIncomplete:
		return TestIncomplete
	case types.TestStatusFailed:
		return TestFailed
	}
	return TestError
}

// Event is an immutable lifecycle notification. It is the unit written, one
// JSON object per line, from worker processes to the parent.
type Event struct {
	Name       Name             `json:"name"`
	Case       string           `json:"case,omitempty"`
	Method     string           `json:"method,omitempty"`
	DataSet    *int             `json:"dataSet,omitempty"`
	Status     types.TestStatus `json:"status,omitempty"`
	Elapsed    time.Duration    `json:"elapsed,omitempty"`
	Assertions int64            `json:"assertions,omitempty"`
	Failure    *Failure         `json:"failure,omitempty"`
	File       string           `json:"file,omitempty"`
	Storage    json.RawMessage  `json:"storage,omitempty"`
	Worker     int              `json:"worker,omitempty"`
	Time       time.Time        `json:"time"`
}

// Frame is one call stack entry. Argument values are never recorded.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Failure describes the condition behind a non-success status.
type Failure struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	File    string  `json:"file,omitempty"`
	Line    int     `json:"line,omitempty"`
	Stack   []Frame `json:"stack,omitempty"`
	// Dependency names the prerequisite whose outcome caused a skip, Root
	// the first method in that chain that did not complete.
	Dependency string `json:"dependency,omitempty"`
	Root       string `json:"root,omitempty"`
}

// locator is implemented by errors that know where they were raised.
type locator interface {
	Location() (string, int)
}

// NewFailure describes err. The stack is the caller's, so calling it from a
// deferred recover captures the frames of the panicking test body.
func NewFailure(err error) *Failure {
	return NewFailureWithStack(err, CallStack(2))
}

// NewFailureWithStack describes err with an already captured stack.
func NewFailureWithStack(err error, stack []Frame) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{
		Type:    meta.TypeName(err),
		Message: err.Error(),
		Stack:   stack,
	}
	var loc locator
	if errors.As(err, &loc) {
		f.File, f.Line = loc.Location()
	} else if len(f.Stack) > 0 {
		f.File, f.Line = f.Stack[0].File, f.Stack[0].Line
	}
	return f
}

// CallStack returns the sanitized stack of the caller, skipping runtime and
// engine internals. The stack ends at the reflective call into a test body.
func CallStack(skip int) []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var stack []Frame
	for {
		frame, more := frames.Next()
		if strings.HasPrefix(frame.Function, "reflect.Value.call") {
			break
		}
		if !internalFrame(frame.Function) {
			stack = append(stack, Frame{Function: frame.Function, File: frame.File, Line: frame.Line})
		}
		if !more {
			break
		}
	}
	return stack
}

func internalFrame(function string) bool {
	return strings.HasPrefix(function, "runtime.") ||
		strings.HasPrefix(function, "reflect.") ||
		strings.Contains(function, "op-caserunner/event.") ||
		strings.Contains(function, "op-caserunner/runner.") ||
		strings.Contains(function, "op-caserunner/assertion.") ||
		strings.Contains(function, "testify/assert.")
}
