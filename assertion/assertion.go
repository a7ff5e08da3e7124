// Package assertion is the assertion collaborator used by test cases. It
// counts every assertion performed in the process and aborts the running test
// body with a *Failure when an expectation does not hold. Comparison logic is
// delegated to testify's assert package.
package assertion

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/stretchr/testify/assert"
)

var count atomic.Int64

// Count returns the number of assertions performed so far in this process.
// The counter never decreases.
func Count() int64 {
	return count.Load()
}

// Failure is raised when a checked expectation did not hold.
type Failure struct {
	Message string
	File    string
	Line    int
}

func (f *Failure) Error() string {
	return f.Message
}

// Location returns the file and line of the failing assertion call.
func (f *Failure) Location() (string, int) {
	return f.File, f.Line
}

// recorder captures testify failure output instead of reporting it.
type recorder struct {
	failed  bool
	message string
}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
}

// Assertions exposes counted assertions.
type Assertions struct{}

// New returns an assertion helper.
func New() *Assertions {
	return &Assertions{}
}

// check runs one counted assertion. It must be called directly from an
// exported assertion method so the reported location is the caller's.
func (a *Assertions) check(fn func(t assert.TestingT) bool) {
	count.Add(1)
	rec := &recorder{}
	if fn(rec) && !rec.failed {
		return
	}
	_, file, line, _ := runtime.Caller(2)
	panic(&Failure{Message: cleanMessage(rec.message), File: file, Line: line})
}

// cleanMessage keeps testify's "Error:" and "Messages:" sections and drops
// its own stack trace, which points into this package.
func cleanMessage(raw string) string {
	var kept []string
	keep := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Error Trace:"):
			keep = false
			continue
		case strings.HasPrefix(trimmed, "Error:"), strings.HasPrefix(trimmed, "Messages:"):
			keep = true
		}
		if keep && trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(raw)
	}
	return strings.Join(kept, "\n")
}

func (a *Assertions) Equal(expected, actual interface{}, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.Equal(t, expected, actual, msgAndArgs...) })
}

func (a *Assertions) NotEqual(expected, actual interface{}, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.NotEqual(t, expected, actual, msgAndArgs...) })
}

func (a *Assertions) True(value bool, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.True(t, value, msgAndArgs...) })
}

func (a *Assertions) False(value bool, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.False(t, value, msgAndArgs...) })
}

func (a *Assertions) Nil(object interface{}, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.Nil(t, object, msgAndArgs...) })
}

func (a *Assertions) NotNil(object interface{}, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.NotNil(t, object, msgAndArgs...) })
}

func (a *Assertions) NoError(err error, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.NoError(t, err, msgAndArgs...) })
}

func (a *Assertions) Error(err error, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.Error(t, err, msgAndArgs...) })
}

func (a *Assertions) ErrorIs(err, target error, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.ErrorIs(t, err, target, msgAndArgs...) })
}

func (a *Assertions) Contains(s, contains interface{}, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.Contains(t, s, contains, msgAndArgs...) })
}

func (a *Assertions) Len(object interface{}, length int, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.Len(t, object, length, msgAndArgs...) })
}

// Fail unconditionally fails the current test.
func (a *Assertions) Fail(message string, msgAndArgs ...interface{}) {
	a.check(func(t assert.TestingT) bool { return assert.Fail(t, message, msgAndArgs...) })
}
