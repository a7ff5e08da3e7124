package processor

import (
	"context"

	"github.com/ethereum-optimism/infra/op-caserunner/environment"
	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/storage"
	"github.com/ethereum-optimism/infra/op-caserunner/testcase"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel/trace"
)

// WorkerConfig configures the worker side of a MultiProcessor.
type WorkerConfig struct {
	Log     log.Logger
	Loader  testcase.Loader
	Globals *environment.Registry
	Tracer  trace.Tracer
	// Conn defaults to the connector named by EnvWorkerFD.
	Conn *Connector
}

// IsWorker reports whether the current process was started as a worker.
func IsWorker() bool {
	_, ok := lookupWorkerFD()
	return ok
}

// WorkerMain runs the file assigned by the parent and forwards every event
// over the connector. The result is the process exit status.
func WorkerMain(ctx context.Context, cfg WorkerConfig) int {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	conn := cfg.Conn
	if conn == nil {
		var err error
		if conn, err = ConnectorFromEnv(); err != nil {
			cfg.Log.Error("Failed to open worker connector", "err", err)
			return 1
		}
	}
	defer conn.Close()

	var hello initMessage
	if err := conn.Receive(&hello); err != nil {
		cfg.Log.Error("Failed to read worker assignment", "err", err)
		return 1
	}
	lgr := cfg.Log.New("worker", hello.File)

	store := storage.New()
	if err := store.Replace(hello.Storage); err != nil {
		lgr.Error("Failed to load storage snapshot", "err", err)
		return 1
	}
	before, err := store.Hash()
	if err != nil {
		lgr.Error("Failed to hash storage", "err", err)
		return 1
	}

	bus := event.NewBus()
	bus.SubscribeAll(func(ev event.Event) error {
		return conn.Send(ev)
	})

	proc, err := New(Config{
		Log:      lgr,
		Bus:      bus,
		Loader:   cfg.Loader,
		Storage:  store,
		Globals:  cfg.Globals,
		Settings: hello.Settings,
		Tracer:   cfg.Tracer,
	})
	if err != nil {
		lgr.Error("Failed to create processor", "err", err)
		return 1
	}
	status := proc.RunFile(ctx, hello.File)

	after, err := store.Hash()
	if err != nil {
		lgr.Error("Failed to hash storage", "err", err)
		return 1
	}
	if after != before {
		blob, err := store.Snapshot()
		if err != nil {
			lgr.Error("Failed to snapshot storage", "err", err)
			return 1
		}
		if err := conn.Send(event.Event{Name: event.StorageUpdated, File: hello.File, Storage: blob}); err != nil {
			lgr.Error("Failed to send storage update", "err", err)
			return 1
		}
	}
	return status
}
