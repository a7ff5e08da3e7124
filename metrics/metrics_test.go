package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordTest_IgnoresNonTerminal(t *testing.T) {
	RecordTest("run-ignore", types.TestStatusMarked, 3)
	assert.Zero(t, testutil.ToFloat64(testsTotal.WithLabelValues("run-ignore", string(types.TestStatusMarked))))
	assert.Zero(t, testutil.ToFloat64(assertionsTotal.WithLabelValues("run-ignore")))
}

func TestRecorder_Listen(t *testing.T) {
	const runID = "run-recorder"
	r := NewRecorder(runID)
	start := time.Now()

	events := []event.Event{
		{Name: event.AppStarted, Time: start},
		{Name: event.CaseBefore, Case: "A", Worker: 11},
		{Name: event.TestDone, Case: "A", Method: "TestOne", Status: types.TestStatusDone, Assertions: 2, Worker: 11},
		{Name: event.TestFailed, Case: "A", Method: "TestTwo", Status: types.TestStatusFailed, Assertions: 1, Worker: 11},
		{Name: event.CaseAfter, Case: "A", Status: types.TestStatusFailed, Worker: 11},
		{Name: event.TestSkipped, Case: "B", Method: "TestThree", Status: types.TestStatusSkipped, Worker: 12},
		{Name: event.CaseFiltered, Case: "C"},
		{Name: event.StorageUpdated, Worker: 12},
		{Name: event.TestError, File: "broken_case.go", Status: types.TestStatusError, Failure: &event.Failure{Type: "testcase.LoadError"}},
		{Name: event.AppFinished, Status: types.TestStatusFailed, Time: start.Add(3 * time.Second)},
	}
	for _, ev := range events {
		require.NoError(t, r.Listen(ev))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(testsTotal.WithLabelValues(runID, "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(testsTotal.WithLabelValues(runID, "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(testsTotal.WithLabelValues(runID, "skipped")))
	assert.Zero(t, testutil.ToFloat64(testsTotal.WithLabelValues(runID, "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(assertionsTotal.WithLabelValues(runID)))
	assert.Equal(t, 1.0, testutil.ToFloat64(casesTotal.WithLabelValues(runID, "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(casesTotal.WithLabelValues(runID, "filtered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(workersTotal.WithLabelValues(runID)))
	assert.Equal(t, 1.0, testutil.ToFloat64(storageUpdatesTotal.WithLabelValues(runID)))
	assert.Equal(t, 1.0, testutil.ToFloat64(errorsTotal.WithLabelValues("load.testcase_LoadError")))
	assert.Equal(t, 3.0, testutil.ToFloat64(runDuration.WithLabelValues(runID, "failed")))
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
	RecordErrorDetails("label", errors.New("some failure"))
	RecordErrorDetails("label", nil)
}
