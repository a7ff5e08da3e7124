package runner

import "github.com/ethereum-optimism/infra/op-caserunner/event"

// state is the execution mode of a case.
type state int

const (
	// stateRun executes tests normally.
	stateRun state = iota
	// stateSkipAll skips every remaining test of the case.
	stateSkipAll
	// stateSkipOnce skips the next test row only.
	stateSkipOnce
)

func (s state) String() string {
	switch s {
	case stateSkipAll:
		return "skip-all"
	case stateSkipOnce:
		return "skip-once"
	}
	return "run"
}

// signal drives controller transitions.
type signal int

const (
	sigCaseAborted signal = iota
	sigHookFailed
	sigRowFinished
)

// transition is the whole controller state machine.
func transition(s state, sig signal) state {
	switch sig {
	case sigCaseAborted:
		return stateSkipAll
	case sigHookFailed:
		if s == stateSkipAll {
			return s
		}
		return stateSkipOnce
	case sigRowFinished:
		if s == stateSkipOnce {
			return stateRun
		}
	}
	return s
}

type controller struct {
	state state
	// cause is the failure that moved the controller out of stateRun.
	cause *event.Failure
}

func (c *controller) fire(sig signal, cause *event.Failure) {
	next := transition(c.state, sig)
	if next != c.state && next != stateRun {
		c.cause = cause
	}
	if next == stateRun {
		c.cause = nil
	}
	c.state = next
}

func (c *controller) skipping() bool {
	return c.state != stateRun
}
