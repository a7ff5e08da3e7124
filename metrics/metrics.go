package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/types"
)

const (
	MetricsNamespace = "caserunner"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{
		types.TestStatusDone,
		types.TestStatusSkipped,
		types.TestStatusFailed,
		types.TestStatusIncomplete,
		types.TestStatusError,
	}
	nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of test method outcomes",
	}, []string{
		"run_id",
		"result",
	})

	assertionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "assertions_total",
		Help:      "Count of assertions performed by test bodies",
	}, []string{
		"run_id",
	})

	casesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "cases_total",
		Help:      "Count of cases run or filtered out",
	}, []string{
		"run_id",
		"result",
	})

	workersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "workers_total",
		Help:      "Count of worker processes that reported events",
	}, []string{
		"run_id",
	})

	storageUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "storage_updates_total",
		Help:      "Count of shared storage replacements",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	}, []string{
		"run_id",
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordTest(runID string, result types.TestStatus, assertions int64) {
	if !isValidResult(result) {
		log.Error("RecordTest - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "tests_total",
			"run_id", runID,
			"result", result)
	}
	testsTotal.WithLabelValues(runID, string(result)).Inc()
	if assertions > 0 {
		assertionsTotal.WithLabelValues(runID).Add(float64(assertions))
	}
}

func RecordCase(runID string, result string) {
	casesTotal.WithLabelValues(runID, result).Inc()
}

func RecordWorker(runID string) {
	workersTotal.WithLabelValues(runID).Inc()
}

func RecordStorageUpdate(runID string) {
	storageUpdatesTotal.WithLabelValues(runID).Inc()
}

func RecordRun(runID string, result types.TestStatus, duration time.Duration) {
	runDuration.WithLabelValues(runID, string(result)).Set(duration.Seconds())
}

// Recorder is an event bus listener that turns lifecycle events of one run
// into metric updates.
type Recorder struct {
	runID   string
	started time.Time
	workers map[int]struct{}
}

func NewRecorder(runID string) *Recorder {
	return &Recorder{runID: runID, workers: make(map[int]struct{})}
}

// Listen implements event.Listener.
func (r *Recorder) Listen(ev event.Event) error {
	if ev.Worker != 0 {
		if _, seen := r.workers[ev.Worker]; !seen {
			r.workers[ev.Worker] = struct{}{}
			RecordWorker(r.runID)
		}
	}
	switch ev.Name {
	case event.AppStarted:
		r.started = ev.Time
	case event.AppFinished:
		RecordRun(r.runID, ev.Status, ev.Time.Sub(r.started))
	case event.CaseAfter:
		RecordCase(r.runID, string(ev.Status))
	case event.CaseFiltered:
		RecordCase(r.runID, "filtered")
	case event.StorageUpdated:
		RecordStorageUpdate(r.runID)
	case event.TestDone, event.TestFailed, event.TestSkipped, event.TestIncomplete:
		RecordTest(r.runID, ev.Status, ev.Assertions)
	case event.TestError:
		if ev.Method == "" {
			RecordError(fmt.Sprintf("load.%s", failureType(ev.Failure)))
			return nil
		}
		RecordTest(r.runID, ev.Status, ev.Assertions)
	}
	return nil
}

func failureType(f *event.Failure) string {
	if f == nil {
		return "unknown"
	}
	return nonAlphanumericRegex.ReplaceAllString(f.Type, "_")
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
