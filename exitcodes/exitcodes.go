// Package exitcodes defines the exit codes used by op-caserunner.
package exitcodes

// * Success (0): every executed test completed or was skipped
// * TestFailure (1): a test failed, errored or a case could not be loaded
// * RuntimeErr (2): invalid configuration, discovery failures or panics
//   outside of test bodies
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
