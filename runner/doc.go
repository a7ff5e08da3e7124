// Package runner executes the test methods of one case instance.
//
// The main pieces are:
//   - Runner: extracts test metadata, orders tests by their dependencies and
//     runs each test once, every data set row in turn
//   - controller: the Run / SkipAll / SkipOnce state machine that decides
//     whether the next test or row executes
//   - invoke: reflective calls into test bodies, hooks and data providers,
//     with panics recovered into errors
//
// Outcomes flow through a policy.Context and are published on an event.Bus.
package runner
