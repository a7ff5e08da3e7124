// Package policy decides how the case runner reacts to each kind of
// non-success outcome: keep going, convert the outcome, or abort the case.
package policy

import (
	"fmt"
	"strings"
)

// Kind is a failure kind with its own reaction slot.
type Kind int

const (
	KindError Kind = iota
	KindFailure
	KindIncomplete
	KindSkip

	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindFailure:
		return "failure"
	case KindIncomplete:
		return "incomplete"
	case KindSkip:
		return "skip"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status returns the exit status contribution of an outcome of this kind when
// the outcome is tolerated.
func (k Kind) Status(strict bool) int {
	switch k {
	case KindError, KindFailure:
		return 1
	}
	if strict {
		return 1
	}
	return 0
}

// Strategy reacts to one outcome. A non-nil abort error makes the runner
// abort the remainder of the case.
type Strategy interface {
	React(kind Kind, err error) (status int, abort error)
}

// AbortError is the normalized error raised by the Wrap strategy.
type AbortError struct {
	Kind Kind
	Err  error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s aborted case: %v", e.Kind, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Rethrow aborts the case with the original error.
type Rethrow struct{}

func (Rethrow) React(_ Kind, err error) (int, error) {
	return 1, err
}

// Wrap aborts the case with an *AbortError around the original error.
type Wrap struct{}

func (Wrap) React(kind Kind, err error) (int, error) {
	return 1, &AbortError{Kind: kind, Err: err}
}

// Swallow tolerates the outcome and lets the case continue.
type Swallow struct {
	// Strict makes skips and incompletes count as non-zero.
	Strict bool
}

func (s Swallow) React(kind Kind, _ error) (int, error) {
	return kind.Status(s.Strict), nil
}

// ConvertToSkip is bound while a dependency runs on behalf of a dependent.
// It never aborts; the dependent observes the dependency's terminal status
// and skips itself.
type ConvertToSkip struct{}

func (ConvertToSkip) React(kind Kind, _ error) (int, error) {
	return kind.Status(false), nil
}

// Strategy names accepted in configuration.
const (
	StrategyRethrow = "rethrow"
	StrategyWrap    = "wrap"
	StrategySwallow = "swallow"
)

// ParseStrategy returns the strategy registered under name.
func ParseStrategy(name string, strict bool) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyRethrow:
		return Rethrow{}, nil
	case StrategyWrap:
		return Wrap{}, nil
	case StrategySwallow:
		return Swallow{Strict: strict}, nil
	}
	return nil, fmt.Errorf("unknown failure strategy %q, must be one of: %s, %s, %s",
		name, StrategyRethrow, StrategyWrap, StrategySwallow)
}
