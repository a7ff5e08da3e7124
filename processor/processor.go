// Package processor executes case files, either sequentially in the current
// process or fanned out across worker processes.
package processor

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ethereum-optimism/infra/op-caserunner/environment"
	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/filter"
	"github.com/ethereum-optimism/infra/op-caserunner/policy"
	"github.com/ethereum-optimism/infra/op-caserunner/runner"
	"github.com/ethereum-optimism/infra/op-caserunner/storage"
	"github.com/ethereum-optimism/infra/op-caserunner/testcase"
	"github.com/ethereum-optimism/infra/op-caserunner/types"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel/trace"
)

// Settings is the execution configuration shared by the parent and its
// workers.
type Settings struct {
	Policy policy.Config `yaml:"policy" json:"policy"`
	Filter filter.Config `yaml:"filter" json:"filter"`
}

// Executor runs a list of case files and returns the combined exit status.
type Executor interface {
	Run(ctx context.Context, files []string) int
}

// Config holds configuration for creating a new Processor
type Config struct {
	Log      log.Logger
	Bus      *event.Bus
	Loader   testcase.Loader
	Storage  *storage.Storage
	Globals  *environment.Registry
	Settings Settings
	Tracer   trace.Tracer
}

// Processor runs case files one after another in the current process.
type Processor struct {
	log     log.Logger
	bus     *event.Bus
	loader  testcase.Loader
	storage *storage.Storage
	globals *environment.Registry
	policy  *policy.Context
	filter  *filter.Filter
	tracer  trace.Tracer
}

var _ Executor = (*Processor)(nil)

// New creates a Processor
func New(cfg Config) (*Processor, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	if cfg.Loader == nil {
		cfg.Loader = testcase.NewSourceLoader()
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.New()
	}

	pol, err := policy.NewContextFromConfig(cfg.Settings.Policy)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	f, err := filter.New(cfg.Settings.Filter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}

	return &Processor{
		log:     cfg.Log,
		bus:     cfg.Bus,
		loader:  cfg.Loader,
		storage: cfg.Storage,
		globals: cfg.Globals,
		policy:  pol,
		filter:  f,
		tracer:  cfg.Tracer,
	}, nil
}

// Storage returns the storage handed to every case.
func (p *Processor) Storage() *storage.Storage {
	return p.storage
}

// Run executes files in order. The result is non-zero if any file failed.
func (p *Processor) Run(ctx context.Context, files []string) int {
	p.publish(event.Event{Name: event.AppStarted})
	status := 0
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			p.log.Warn("Run cancelled", "remaining", len(files)-i, "err", err)
			status = 1
			break
		}
		status |= p.RunFile(ctx, path)
	}
	p.publish(event.Event{Name: event.AppFinished, Status: exitStatus(status)})
	return status
}

// RunFile loads and executes one case file between a snapshot and a restore
// of the process environment.
func (p *Processor) RunFile(ctx context.Context, path string) (status int) {
	lgr := p.log.New("file", path)

	snap, err := environment.Capture(p.globals)
	if err != nil {
		lgr.Error("Failed to capture environment", "err", err)
		p.publish(event.Event{Name: event.TestError, File: path, Status: types.TestStatusError, Failure: event.NewFailure(err)})
		return 1
	}
	defer func() {
		runtime.GC()
		if err := snap.Restore(); err != nil {
			lgr.Error("Failed to restore environment", "err", err)
			status = 1
		}
	}()

	loaded, err := p.loader.Load(path)
	if err != nil {
		lgr.Error("Failed to load case", "err", err)
		p.publish(event.Event{Name: event.TestError, File: path, Status: types.TestStatusError, Failure: event.NewFailure(err)})
		return 1
	}
	if loaded.Path == "" {
		loaded.Path = path
	}
	if !p.filter.AcceptCase(loaded.Name) {
		lgr.Debug("Case filtered", "case", loaded.Name)
		p.publish(event.Event{Name: event.CaseFiltered, Case: loaded.Name, File: path})
		return 0
	}
	if b, ok := loaded.Instance.(testcase.Binder); ok {
		b.Bind(&testcase.Env{Storage: p.storage})
	}

	r, err := runner.New(runner.Config{
		Log:          lgr,
		Bus:          p.bus,
		Policy:       p.policy,
		MethodFilter: p.filter,
		Tracer:       p.tracer,
	}, loaded)
	if err != nil {
		lgr.Error("Failed to create case runner", "err", err)
		p.publish(event.Event{Name: event.TestError, Case: loaded.Name, File: path, Status: types.TestStatusError, Failure: event.NewFailure(err)})
		return 1
	}

	status, aborted := r.Run(ctx)
	if aborted != nil {
		lgr.Warn("Case aborted", "case", loaded.Name, "err", aborted)
	}
	lgr.Info("Case finished", "case", loaded.Name, "status", status)
	return status
}

func (p *Processor) publish(ev event.Event) {
	if err := p.bus.Publish(ev); err != nil {
		p.log.Warn("Event listener failed", "event", ev.Name, "err", err)
	}
}

func exitStatus(status int) types.TestStatus {
	if status != 0 {
		return types.TestStatusFailed
	}
	return types.TestStatusDone
}
