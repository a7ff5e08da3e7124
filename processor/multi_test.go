package processor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/storage"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSpawner re-executes the test binary, whose TestMain enters WorkerMain.
func testSpawner() *ExecSpawner {
	return &ExecSpawner{Path: os.Args[0], Args: []string{"-test.run=^$"}}
}

func newMulti(t *testing.T, bus *event.Bus, processes int, spawner Spawner) *MultiProcessor {
	t.Helper()
	m, err := NewMulti(MultiConfig{
		Log:          log.NewLogger(log.DiscardHandler()),
		Bus:          bus,
		Processes:    processes,
		PollInterval: 50 * time.Millisecond,
		Spawner:      spawner,
	})
	require.NoError(t, err)
	return m
}

func TestMultiProcessor_MergesWorkerStreams(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeCase(t, dir, "procPassCase", "TestWrites"),
		writeCase(t, dir, "procFailCase", "TestFails"),
	}
	bus, c := newCollector()
	m := newMulti(t, bus, 2, testSpawner())

	status := m.Run(context.Background(), files)

	assert.Equal(t, 1, status)
	assert.ElementsMatch(t, []string{"procPassCase", "procFailCase"}, c.cases(event.CaseBefore))
	assert.ElementsMatch(t, []string{"procPassCase", "procFailCase"}, c.cases(event.CaseAfter))
	for _, ev := range c.named(event.CaseBefore) {
		assert.NotZero(t, ev.Worker)
	}
	assert.Equal(t, event.AppStarted, c.events[0].Name)
	assert.Equal(t, event.AppFinished, c.events[len(c.events)-1].Name)

	updates := c.named(event.StorageUpdated)
	require.Len(t, updates, 2)
	lastWriter := storage.New()
	require.NoError(t, lastWriter.Replace(updates[len(updates)-1].Storage))
	assert.Equal(t, lastWriter.Keys(), m.Storage().Keys())
	assert.Equal(t, 1, m.Storage().Len(), "updates replace the whole snapshot")
}

func TestMultiProcessor_PropagatesStorage(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeCase(t, dir, "procPassCase", "TestWrites"),
		writeCase(t, dir, "procReaderCase", "TestReads"),
	}
	bus, c := newCollector()
	m := newMulti(t, bus, 1, testSpawner())

	status := m.Run(context.Background(), files)

	assert.Equal(t, 0, status)
	assert.Len(t, c.named(event.StorageUpdated), 1, "reader leaves storage unchanged")
	assert.Equal(t, []string{"pass"}, m.Storage().Keys())
	assert.Len(t, c.named(event.TestDone), 2)
	for _, ev := range c.named(event.TestDone) {
		assert.NotZero(t, ev.Assertions, "%s::%s", ev.Case, ev.Method)
	}
}

func TestMultiProcessor_WorkerLoadFailure(t *testing.T) {
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "missing_case.go")}
	bus, c := newCollector()

	status := newMulti(t, bus, 2, testSpawner()).Run(context.Background(), files)

	assert.Equal(t, 1, status)
	errs := c.named(event.TestError)
	require.Len(t, errs, 1)
	assert.Equal(t, files[0], errs[0].File)
	assert.NotZero(t, errs[0].Worker)
}

type flakySpawner struct {
	calls int
	next  Spawner
}

func (s *flakySpawner) Spawn(child *os.File) (*exec.Cmd, error) {
	s.calls++
	if s.calls == 1 {
		return nil, errors.New("fork refused")
	}
	return s.next.Spawn(child)
}

func TestMultiProcessor_SpawnFailureContinues(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeCase(t, dir, "procFailCase", "TestFails"),
		writeCase(t, dir, "procPassCase", "TestWrites"),
	}
	bus, c := newCollector()
	spawner := &flakySpawner{next: testSpawner()}

	status := newMulti(t, bus, 1, spawner).Run(context.Background(), files)

	assert.Equal(t, 1, status)
	assert.Equal(t, 2, spawner.calls)
	errs := c.named(event.TestError)
	require.Len(t, errs, 1)
	assert.Equal(t, files[0], errs[0].File)
	assert.Contains(t, errs[0].Failure.Message, "fork refused")
	assert.Equal(t, []string{"procPassCase"}, c.cases(event.CaseBefore))
}

func TestMultiProcessor_CancelledBeforeStart(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeCase(t, dir, "procPassCase", "TestWrites"),
		writeCase(t, dir, "procReaderCase", "TestReads"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus, _ := newCollector()

	status := newMulti(t, bus, 1, testSpawner()).Run(ctx, files)
	assert.Equal(t, 1, status)
}

func TestMultiProcessor_CancelKillsRunningWorkers(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeCase(t, dir, "procSlowCase", "TestSleeps"),
		writeCase(t, dir, "procPassCase", "TestWrites"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus, c := newCollector()
	bus.Subscribe(event.CaseBefore, func(ev event.Event) error {
		if ev.Case == "procSlowCase" {
			cancel()
		}
		return nil
	})

	start := time.Now()
	status := newMulti(t, bus, 1, testSpawner()).Run(ctx, files)

	assert.Equal(t, 1, status)
	assert.Less(t, time.Since(start), 30*time.Second, "the sleeping worker must be killed")
	assert.Equal(t, []string{"procSlowCase"}, c.cases(event.CaseBefore), "queued files are dropped")
	assert.Empty(t, c.named(event.CaseAfter))
	assert.Empty(t, c.named(event.TestDone))
	assert.Equal(t, event.AppFinished, c.events[len(c.events)-1].Name)
}

func TestClampProcesses(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-3, 1}, {0, 1}, {1, 1}, {4, 4}, {10, 10}, {11, 10}, {100, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampProcesses(tt.in), "processes %d", tt.in)
	}
}

func TestConnector_DiscardsMalformedLines(t *testing.T) {
	parent, child, err := NewPair()
	require.NoError(t, err)
	defer parent.Close()

	_, err = child.Write([]byte("garbage\n" +
		`{"name":"case.before","case":"A","time":"2026-01-01T00:00:00Z"}` + "\n" +
		`{"name":"bogus.event","time":"2026-01-01T00:00:00Z"}` + "\n" +
		`{"name":"case.after","case":"A","time":"2026-01-01T00:00:00Z"}` + "\n" +
		`{"name":"test.af`))
	require.NoError(t, err)
	require.NoError(t, child.Close())

	var got []event.Name
	require.NoError(t, parent.ReadEvents(func(ev event.Event) {
		got = append(got, ev.Name)
	}))
	assert.Equal(t, []event.Name{event.CaseBefore, event.CaseAfter}, got)
}

func TestConnector_SendReceive(t *testing.T) {
	parent, child, err := NewPair()
	require.NoError(t, err)
	defer parent.Close()

	worker, err := newConnector(child)
	require.NoError(t, err)
	defer worker.Close()

	want := initMessage{File: "a_case.go", Storage: []byte(`{"k":1}`)}
	require.NoError(t, parent.Send(want))

	var got initMessage
	require.NoError(t, worker.Receive(&got))
	assert.Equal(t, want.File, got.File)
	assert.JSONEq(t, `{"k":1}`, string(got.Storage))
}
