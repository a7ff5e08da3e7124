// Package caserunner wires discovery, the executors, reporting and metrics
// into the op-caserunner application lifecycle.
package caserunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-caserunner/discovery"
	"github.com/ethereum-optimism/infra/op-caserunner/environment"
	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-caserunner/logging"
	"github.com/ethereum-optimism/infra/op-caserunner/metrics"
	"github.com/ethereum-optimism/infra/op-caserunner/processor"
	"github.com/ethereum-optimism/infra/op-caserunner/reporting"
	"github.com/ethereum-optimism/infra/op-caserunner/service"
	"github.com/ethereum-optimism/infra/op-caserunner/storage"
	"github.com/ethereum-optimism/infra/op-caserunner/testcase"
	"github.com/ethereum-optimism/infra/op-caserunner/types"
)

// Deps are the collaborators the service does not read from flags. Zero
// values select the defaults.
type Deps struct {
	Loader  testcase.Loader
	Globals *environment.Registry
	Spawner processor.Spawner
	Output  io.Writer
}

// Result summarizes one run.
type Result struct {
	RunID    string
	Files    int
	Status   int
	Result   types.TestStatus
	Counts   reporting.Counts
	Problems []reporting.Entry
	Duration time.Duration
}

// Service implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Service{}

// Service discovers case files and runs them, once or periodically.
type Service struct {
	config    *Config
	version   string
	deps      Deps
	scheduler *scheduler
	http      *service.Service

	mu   sync.Mutex
	runs int
	last *Result

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(config *Config, deps Deps, version string, shutdownCallback func(error)) (*Service, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = log.New()
		config.Log.Error("No logger provided, using default")
	}
	if deps.Loader == nil {
		deps.Loader = testcase.NewSourceLoader()
	}
	if deps.Globals == nil {
		deps.Globals = environment.NewRegistry()
	}
	if deps.Spawner == nil {
		deps.Spawner = &processor.ExecSpawner{Args: []string{WorkerCommand}}
	}
	if deps.Output == nil {
		deps.Output = os.Stdout
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating case runner with config",
		"roots", config.Roots,
		"patterns", config.Patterns,
		"workDir", config.WorkDir,
		"processes", config.Processes,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	s := &Service{
		config:           config,
		version:          version,
		deps:             deps,
		scheduler:        newScheduler(config.RunInterval, config.RunOnce, config.Log),
		shutdownCallback: shutdownCallback,
	}
	if config.Metrics.Enabled {
		s.http = service.New(service.Config{
			Log:         config.Log.New("component", "service"),
			HealthzAddr: config.HealthzAddr,
			MetricsAddr: config.MetricsAddr(),
			Status:      s.status,
		})
	}
	s.scheduler.register(func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	})
	return s, nil
}

// Start implements the cliapp.Lifecycle interface. In run-once mode it
// returns a TestFailureError when the run did not succeed.
func (s *Service) Start(ctx context.Context) error {
	s.running.Store(true)
	if s.http != nil {
		s.http.Start(ctx)
	}

	if s.config.RunOnce {
		s.config.Log.Info("Starting op-caserunner in run-once mode", "version", s.version)
	} else {
		s.config.Log.Info("Starting op-caserunner in continuous mode", "version", s.version, "interval", s.config.RunInterval)
	}

	if err := s.scheduler.Start(ctx); err != nil {
		s.config.Log.Error("Runtime error running cases", "err", err)
		return err
	}
	if !s.config.RunOnce {
		return nil
	}

	last := s.Last()
	if last != nil && last.Status != exitcodes.Success {
		s.config.Log.Warn("Run completed with failures, returning exit code 1", "run_id", last.RunID)
		return NewTestFailureError(fmt.Sprintf("run %s finished with status %s", last.RunID, last.Result))
	}
	s.config.Log.Info("Run completed, exiting (run-once mode)")
	go s.shutdownCallback(nil)
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (s *Service) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-caserunner")
	if !s.running.CompareAndSwap(true, false) {
		s.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	_ = s.scheduler.Stop()
	err := s.scheduler.WaitForShutdown(ctx)
	if s.http != nil {
		s.http.Shutdown(ctx)
	}
	s.config.Log.Info("op-caserunner stopped")
	return err
}

// Stopped implements the cliapp.Lifecycle interface.
func (s *Service) Stopped() bool {
	return !s.running.Load()
}

// Last returns the result of the most recent run.
func (s *Service) Last() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) status() service.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := service.Status{Running: s.running.Load(), Runs: s.runs}
	if s.last != nil {
		st.LastRunID = s.last.RunID
		st.LastResult = string(s.last.Result)
	}
	return st
}

// RunOnce discovers the case files and executes them. Discovery and executor
// construction failures are RuntimeErrors; test outcomes are reported in the
// Result only.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	lgr := s.config.Log.New("run_id", runID)

	files, err := discovery.Find(discovery.Config{
		Roots:    s.config.Roots,
		Patterns: s.config.Patterns,
		WorkDir:  s.config.WorkDir,
		Log:      lgr,
	})
	if err != nil {
		metrics.RecordErrorDetails("discovery", err)
		return nil, NewRuntimeError(fmt.Errorf("failed to discover case files: %w", err))
	}
	if len(files) == 0 {
		lgr.Warn("No case files found", "roots", s.config.Roots, "patterns", s.config.Patterns)
	}

	bus := event.NewBus()
	summary := reporting.NewSummary(runID)
	bus.SubscribeAll(summary.Listen)
	bus.SubscribeAll(metrics.NewRecorder(runID).Listen)
	bus.SubscribeAll(logEvents(lgr))

	var eventLog *logging.EventLog
	if s.config.LogDir != "" {
		if eventLog, err = logging.NewEventLog(s.config.LogDir, runID); err != nil {
			return nil, NewRuntimeError(err)
		}
		defer func() {
			if err := eventLog.Close(); err != nil {
				lgr.Error("Failed to close event log", "err", err)
			}
		}()
		bus.SubscribeAll(eventLog.Listen)
	}

	exec, err := s.executor(lgr, bus)
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	lgr.Info("Running cases", "files", len(files), "processes", s.config.Processes)
	start := time.Now()
	status := exec.Run(ctx, files)

	summary.Render(s.deps.Output)
	if eventLog != nil {
		if err := eventLog.WriteSummary(summary); err != nil {
			lgr.Error("Failed to write summary", "err", err)
		}
		lgr.Info("Run logs written", "dir", eventLog.Dir())
	}
	result := &Result{
		RunID:    runID,
		Files:    len(files),
		Status:   status,
		Result:   summary.Result(),
		Counts:   summary.Counts(),
		Problems: summary.Problems(),
		Duration: time.Since(start),
	}
	lgr.Info("Run completed", "status", result.Result, "tests", result.Counts.Total, "duration", result.Duration)

	s.mu.Lock()
	s.runs++
	s.last = result
	s.mu.Unlock()
	return result, nil
}

func (s *Service) executor(lgr log.Logger, bus *event.Bus) (processor.Executor, error) {
	if s.config.Processes <= processor.MinProcesses {
		p, err := processor.New(processor.Config{
			Log:      lgr,
			Bus:      bus,
			Loader:   s.deps.Loader,
			Storage:  storage.New(),
			Globals:  s.deps.Globals,
			Settings: s.config.Settings,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create processor: %w", err)
		}
		return p, nil
	}
	m, err := processor.NewMulti(processor.MultiConfig{
		Log:       lgr,
		Bus:       bus,
		Storage:   storage.New(),
		Settings:  s.config.Settings,
		Processes: s.config.Processes,
		Spawner:   s.deps.Spawner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create multi processor: %w", err)
	}
	return m, nil
}

// logEvents logs non-successful outcomes as they arrive.
func logEvents(lgr log.Logger) event.Listener {
	return func(ev event.Event) error {
		switch ev.Name {
		case event.TestFailed, event.TestError, event.TestIncomplete:
			msg := ""
			if ev.Failure != nil {
				msg = reporting.KeyMessage(ev.Failure.Message)
			}
			lgr.Warn("Test did not pass", "case", ev.Case, "method", ev.Method, "file", ev.File, "status", ev.Status, "msg", msg)
		case event.TestDone, event.TestSkipped:
			lgr.Debug("Test finished", "case", ev.Case, "method", ev.Method, "status", ev.Status)
		case event.CaseFiltered:
			lgr.Debug("Case filtered", "case", ev.Case, "file", ev.File)
		}
		return nil
	}
}
