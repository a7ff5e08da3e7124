package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/storage"
	"github.com/ethereum-optimism/infra/op-caserunner/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// MinProcesses and MaxProcesses bound the number of concurrent workers.
	MinProcesses = 1
	MaxProcesses = 10

	// DefaultPollInterval bounds a single wait for worker activity.
	DefaultPollInterval = 200 * time.Millisecond
)

// ClampProcesses limits n to [MinProcesses, MaxProcesses].
func ClampProcesses(n int) int {
	return max(MinProcesses, min(n, MaxProcesses))
}

// Spawner starts a worker process that owns child as its connector end.
type Spawner interface {
	Spawn(child *os.File) (*exec.Cmd, error)
}

// ExecSpawner re-executes a binary that calls WorkerMain.
type ExecSpawner struct {
	// Path defaults to the running executable.
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

var _ Spawner = (*ExecSpawner)(nil)

// Spawn implements Spawner. The returned command is started.
func (s *ExecSpawner) Spawn(child *os.File) (*exec.Cmd, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		path = exe
	}

	cmd := exec.Command(path, s.Args...)
	cmd.Env = append(append(os.Environ(), s.Env...), fmt.Sprintf("%s=%d", EnvWorkerFD, workerFD))
	cmd.ExtraFiles = []*os.File{child}
	cmd.Stdout = orWriter(s.Stdout, os.Stdout)
	cmd.Stderr = orWriter(s.Stderr, os.Stderr)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return cmd, nil
}

func orWriter(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

// initMessage is the first and only line the parent sends to a worker.
type initMessage struct {
	File     string          `json:"file"`
	Storage  json.RawMessage `json:"storage,omitempty"`
	Settings Settings        `json:"settings"`
}

// MultiConfig holds configuration for creating a new MultiProcessor
type MultiConfig struct {
	Log          log.Logger
	Bus          *event.Bus
	Storage      *storage.Storage
	Settings     Settings
	Processes    int
	PollInterval time.Duration
	Spawner      Spawner
}

// MultiProcessor runs every case file in its own worker process, at most
// Processes at a time, and republishes the workers' events on its bus.
type MultiProcessor struct {
	log       log.Logger
	bus       *event.Bus
	storage   *storage.Storage
	settings  Settings
	processes int
	poll      time.Duration
	spawner   Spawner
}

var _ Executor = (*MultiProcessor)(nil)

// NewMulti creates a MultiProcessor
func NewMulti(cfg MultiConfig) (*MultiProcessor, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Bus == nil {
		cfg.Bus = event.NewBus()
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Spawner == nil {
		cfg.Spawner = &ExecSpawner{}
	}
	processes := ClampProcesses(cfg.Processes)
	if processes != cfg.Processes {
		cfg.Log.Warn("Process count clamped", "requested", cfg.Processes, "using", processes)
	}
	return &MultiProcessor{
		log:       cfg.Log,
		bus:       cfg.Bus,
		storage:   cfg.Storage,
		settings:  cfg.Settings,
		processes: processes,
		poll:      cfg.PollInterval,
		spawner:   cfg.Spawner,
	}, nil
}

// Storage returns the parent's storage, updated from worker snapshots.
func (m *MultiProcessor) Storage() *storage.Storage {
	return m.storage
}

type worker struct {
	file string
	pid  int
	cmd  *exec.Cmd
	conn *Connector

	eof    bool
	exited bool
}

type message struct {
	w  *worker
	ev event.Event
}

type exit struct {
	w    *worker
	code int
	err  error
}

// loop is the state of one Run. It is owned by the Run goroutine.
type loop struct {
	inbox chan message
	eofs  chan *worker
	exits chan exit

	outstanding map[*worker]bool
	status      int
}

// Run executes files across worker processes. The result is the OR of every
// worker's exit status and of every file that could not be started.
func (m *MultiProcessor) Run(ctx context.Context, files []string) int {
	m.publish(event.Event{Name: event.AppStarted})

	l := &loop{
		inbox:       make(chan message),
		eofs:        make(chan *worker),
		exits:       make(chan exit, len(files)),
		outstanding: make(map[*worker]bool),
	}
	queue := append([]string(nil), files...)
	done := ctx.Done()

	for len(queue) > 0 || len(l.outstanding) > 0 {
		for len(queue) > 0 && len(l.outstanding) < m.processes {
			file := queue[0]
			queue = queue[1:]
			w, err := m.spawn(l, file)
			if err != nil {
				m.log.Error("Failed to start worker", "file", file, "err", err)
				m.publish(event.Event{Name: event.TestError, File: file, Status: types.TestStatusError, Failure: event.NewFailure(err)})
				l.status = 1
				continue
			}
			l.outstanding[w] = true
		}
		if len(l.outstanding) == 0 {
			continue
		}

		timer := time.NewTimer(m.poll)
		select {
		case msg := <-l.inbox:
			m.forward(msg)
		case w := <-l.eofs:
			w.eof = true
			m.reap(l, w)
		case x := <-l.exits:
			x.w.exited = true
			if x.code != 0 {
				m.log.Warn("Worker failed", "file", x.w.file, "pid", x.w.pid, "code", x.code, "err", x.err)
				l.status = 1
			}
			m.reap(l, x.w)
		case <-done:
			m.log.Warn("Run cancelled, stopping workers", "outstanding", len(l.outstanding), "queued", len(queue))
			for w := range l.outstanding {
				_ = w.cmd.Process.Kill()
			}
			queue = nil
			done = nil
			l.status = 1
		case <-timer.C:
			m.log.Trace("Waiting for workers", "outstanding", len(l.outstanding), "queued", len(queue))
		}
		timer.Stop()
	}

	m.publish(event.Event{Name: event.AppFinished, Status: exitStatus(l.status)})
	return l.status
}

func (m *MultiProcessor) spawn(l *loop, file string) (*worker, error) {
	conn, child, err := NewPair()
	if err != nil {
		return nil, err
	}
	cmd, err := m.spawner.Spawn(child)
	_ = child.Close()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	w := &worker{file: file, pid: cmd.Process.Pid, cmd: cmd, conn: conn}
	m.log.Debug("Started worker", "file", file, "pid", w.pid)

	go func() {
		if err := conn.ReadEvents(func(ev event.Event) {
			l.inbox <- message{w: w, ev: ev}
		}); err != nil {
			m.log.Warn("Worker stream failed", "pid", w.pid, "err", err)
		}
		l.eofs <- w
	}()
	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			code = 1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
				code = exitErr.ExitCode()
			}
		}
		l.exits <- exit{w: w, code: code, err: err}
	}()

	hello := initMessage{File: file, Settings: m.settings}
	if hello.Storage, err = m.storage.Snapshot(); err != nil {
		m.log.Error("Failed to snapshot storage for worker", "pid", w.pid, "err", err)
	}
	if err := conn.Send(hello); err != nil {
		m.log.Error("Failed to initialize worker, stopping it", "pid", w.pid, "err", err)
		_ = cmd.Process.Kill()
	}
	return w, nil
}

// reap retires a worker once its stream is drained and its exit observed.
func (m *MultiProcessor) reap(l *loop, w *worker) {
	if !w.eof || !w.exited {
		return
	}
	delete(l.outstanding, w)
	if err := w.conn.Close(); err != nil {
		m.log.Debug("Failed to close worker connector", "pid", w.pid, "err", err)
	}
	m.log.Debug("Worker finished", "file", w.file, "pid", w.pid)
}

func (m *MultiProcessor) forward(msg message) {
	ev := msg.ev
	ev.Worker = msg.w.pid
	if ev.Name == event.StorageUpdated {
		if err := m.storage.Replace(ev.Storage); err != nil {
			m.log.Error("Failed to merge worker storage", "pid", msg.w.pid, "err", err)
		}
	}
	m.publish(ev)
}

func (m *MultiProcessor) publish(ev event.Event) {
	if err := m.bus.Publish(ev); err != nil {
		m.log.Warn("Event listener failed", "event", ev.Name, "err", err)
	}
}
