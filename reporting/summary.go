// Package reporting renders the outcome of a run from its lifecycle events.
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/types"
)

const maxMessageLen = 120

// Counts tallies method-level outcomes.
type Counts struct {
	Total      int
	Passed     int
	Skipped    int
	Failed     int
	Incomplete int
	Errored    int
	Assertions int64
}

// Entry is one test outcome worth showing in the summary.
type Entry struct {
	Case       string
	Method     string
	File       string
	Status     types.TestStatus
	Message    string
	Location   string
	Dependency string
	Root       string
}

// ID returns "Case::Method", or the file when the case never loaded.
func (e Entry) ID() string {
	if e.Case == "" {
		return e.File
	}
	if e.Method == "" {
		return e.Case
	}
	return e.Case + "::" + e.Method
}

// Summary is an event listener that aggregates a run.
type Summary struct {
	mu       sync.Mutex
	runID    string
	counts   Counts
	problems []Entry
	skips    []Entry
	filtered []string
	cases    int
	started  time.Time
	finished time.Time
	result   types.TestStatus
}

func NewSummary(runID string) *Summary {
	return &Summary{runID: runID}
}

// Listen implements event.Listener.
func (s *Summary) Listen(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Name {
	case event.AppStarted:
		s.started = ev.Time
	case event.AppFinished:
		s.finished = ev.Time
		s.result = ev.Status
	case event.CaseBefore:
		s.cases++
	case event.CaseFiltered:
		s.filtered = append(s.filtered, ev.Case)
	case event.TestDone:
		s.counts.Total++
		s.counts.Passed++
		s.counts.Assertions += ev.Assertions
	case event.TestSkipped:
		s.counts.Total++
		s.counts.Skipped++
		s.counts.Assertions += ev.Assertions
		if ev.Failure != nil && ev.Failure.Dependency != "" {
			s.skips = append(s.skips, newEntry(ev))
		}
	case event.TestFailed, event.TestIncomplete, event.TestError:
		if ev.Method == "" {
			// load or case level error, no test was counted
			s.problems = append(s.problems, newEntry(ev))
			return nil
		}
		s.counts.Total++
		s.counts.Assertions += ev.Assertions
		switch ev.Name {
		case event.TestFailed:
			s.counts.Failed++
		case event.TestIncomplete:
			s.counts.Incomplete++
		default:
			s.counts.Errored++
		}
		s.problems = append(s.problems, newEntry(ev))
	}
	return nil
}

func newEntry(ev event.Event) Entry {
	e := Entry{Case: ev.Case, Method: ev.Method, File: ev.File, Status: ev.Status}
	if ev.DataSet != nil {
		e.Method = fmt.Sprintf("%s#%d", ev.Method, *ev.DataSet)
	}
	if f := ev.Failure; f != nil {
		e.Message = KeyMessage(f.Message)
		if f.Type != "" && e.Message != "" {
			e.Message = f.Type + ": " + e.Message
		}
		if f.File != "" {
			e.Location = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		e.Dependency = f.Dependency
		e.Root = f.Root
	}
	return e
}

// Counts returns the outcome tallies seen so far.
func (s *Summary) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// Problems returns failed, incomplete and errored entries in event order.
func (s *Summary) Problems() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.problems...)
}

// DependencySkips returns tests skipped because a dependency did not complete.
func (s *Summary) DependencySkips() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.skips...)
}

// Result is the status carried by app.finished, empty before the run ends.
func (s *Summary) Result() types.TestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Render writes the summary tables to w.
func (s *Summary) Render(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Case Runner Results %s (%s)", s.runID, formatDuration(s.finished.Sub(s.started))))
	t.AppendHeader(table.Row{"Cases", "Tests", "Assertions", "Passed", "Skipped", "Failed", "Incomplete", "Errors", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Cases", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Assertions", Align: text.AlignRight},
	})
	t.AppendRow(table.Row{
		s.cases,
		s.counts.Total,
		s.counts.Assertions,
		s.counts.Passed,
		s.counts.Skipped,
		s.counts.Failed,
		s.counts.Incomplete,
		s.counts.Errored,
		resultString(s.result),
	})
	switch s.result {
	case types.TestStatusDone:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusSkipped:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.Render()

	if len(s.problems) > 0 {
		p := table.NewWriter()
		p.SetOutputMirror(w)
		p.SetTitle("Problems")
		p.AppendHeader(table.Row{"Test", "Status", "Location", "Message"})
		p.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
			{Name: "Message", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		})
		for _, e := range s.problems {
			p.AppendRow(table.Row{e.ID(), resultString(e.Status), e.Location, e.Message})
		}
		p.Render()
	}

	if len(s.skips) > 0 {
		d := table.NewWriter()
		d.SetOutputMirror(w)
		d.SetTitle("Skipped by dependency")
		d.AppendHeader(table.Row{"Test", "Dependency", "Root cause"})
		for _, e := range s.skips {
			d.AppendRow(table.Row{e.ID(), e.Dependency, e.Root})
		}
		d.Render()
	}

	if len(s.filtered) > 0 {
		fmt.Fprintf(w, "Filtered cases: %s\n", strings.Join(s.filtered, ", "))
	}
}

// KeyMessage strips terminal escapes from msg and keeps its first line.
func KeyMessage(msg string) string {
	msg = strings.TrimSpace(stripansi.Strip(msg))
	if idx := strings.Index(msg, "\n"); idx != -1 {
		msg = msg[:idx]
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen-3] + "..."
	}
	return msg
}

func resultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusDone:
		return "✓ pass"
	case types.TestStatusSkipped:
		return "- skip"
	case types.TestStatusIncomplete:
		return "? incomplete"
	case types.TestStatusError:
		return "! error"
	case "":
		return ""
	default:
		return "✗ fail"
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
