// Package logging persists the lifecycle events and summary of each run to a
// per-run directory.
package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/reporting"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	EventsFilename     = "events.jsonl"
	SummaryFilename    = "summary.txt"
)

// EventLog writes every event of one run as a JSON line to
// <logDir>/testrun-<runID>/events.jsonl.
type EventLog struct {
	dir string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// NewEventLog creates the run directory and opens the events file.
func NewEventLog(logDir, runID string) (*EventLog, error) {
	dir := filepath.Join(logDir, RunDirectoryPrefix+runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %w", dir, err)
	}
	f, err := os.Create(filepath.Join(dir, EventsFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to create events file: %w", err)
	}
	return &EventLog{dir: dir, file: f, writer: bufio.NewWriter(f)}, nil
}

// Dir returns the run directory.
func (l *EventLog) Dir() string {
	return l.dir
}

// Listen implements event.Listener.
func (l *EventLog) Listen(ev event.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.Name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if _, err := l.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// WriteSummary renders s without terminal colors into the run directory.
func (l *EventLog) WriteSummary(s *reporting.Summary) error {
	var buf bytes.Buffer
	s.Render(&buf)
	path := filepath.Join(l.dir, SummaryFilename)
	if err := os.WriteFile(path, []byte(stripansi.Strip(buf.String())), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Close flushes and closes the events file. It is safe to call twice.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.writer.Flush(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("failed to flush events: %w", err)
	}
	return l.file.Close()
}
