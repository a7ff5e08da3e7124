package types

// TestStatus represents the lifecycle state of a test method or the outcome
// carried by a lifecycle event.
type TestStatus string

const (
	TestStatusNew        TestStatus = "new"
	TestStatusMarked     TestStatus = "marked"
	TestStatusDone       TestStatus = "done"
	TestStatusSkipped    TestStatus = "skipped"
	TestStatusFailed     TestStatus = "failed"
	TestStatusIncomplete TestStatus = "incomplete"
	TestStatusError      TestStatus = "error"
)

// IsTerminal reports whether dependency resolution treats the status as final.
func (s TestStatus) IsTerminal() bool {
	switch s {
	case TestStatusDone, TestStatusSkipped, TestStatusFailed, TestStatusIncomplete, TestStatusError:
		return true
	}
	return false
}

// BlocksDependents reports whether methods depending on a method in this
// status must be skipped.
func (s TestStatus) BlocksDependents() bool {
	return s.IsTerminal() && s != TestStatusDone
}

// Severity orders statuses so that the aggregate of several data rows is the
// worst one observed.
func (s TestStatus) Severity() int {
	switch s {
	case TestStatusDone:
		return 1
	case TestStatusSkipped:
		return 2
	case TestStatusIncomplete:
		return 3
	case TestStatusFailed:
		return 4
	case TestStatusError:
		return 5
	}
	return 0
}

// Worst returns the more severe of two statuses.
func Worst(a, b TestStatus) TestStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}
