package runner

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/ethereum-optimism/infra/op-caserunner/assertion"
	"github.com/ethereum-optimism/infra/op-caserunner/event"
	"github.com/ethereum-optimism/infra/op-caserunner/filter"
	"github.com/ethereum-optimism/infra/op-caserunner/meta"
	"github.com/ethereum-optimism/infra/op-caserunner/policy"
	"github.com/ethereum-optimism/infra/op-caserunner/testcase"
	"github.com/ethereum-optimism/infra/op-caserunner/types"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds configuration for creating a new case runner
type Config struct {
	Log log.Logger
	// Bus receives every lifecycle event. It may be nil.
	Bus *event.Bus
	// Policy decides how outcomes affect the case. Defaults to policy.NewContext().
	Policy       *policy.Context
	MethodFilter filter.MethodFilter
	Tracer       trace.Tracer
}

// Runner drives the test methods of one case instance through their
// lifecycle. A Runner is single use.
type Runner struct {
	log    log.Logger
	bus    *event.Bus
	hooks  *event.Bus
	policy *policy.Context
	tracer trace.Tracer

	loaded   *testcase.Loaded
	instance reflect.Value

	tests    []*meta.TestMeta
	byName   map[string]*meta.TestMeta
	methods  map[string]reflect.Value
	excluded map[string]bool
	roots    map[string]string

	resolving []string
	ctrl      controller
	status    int
	aborted   error
}

// outcome is the classified result of one test row.
type outcome struct {
	status     types.TestStatus
	failure    *event.Failure
	abort      error
	assertions int64
}

var hookEvents = map[meta.Hook]event.Name{
	meta.HookBeforeClass: event.CaseBefore,
	meta.HookAfterClass:  event.CaseAfter,
	meta.HookBefore:      event.TestBefore,
	meta.HookAfter:       event.TestAfter,
}

// New extracts test metadata and hooks from a loaded case.
func New(cfg Config, loaded *testcase.Loaded) (*Runner, error) {
	if loaded == nil || loaded.Instance == nil {
		return nil, fmt.Errorf("case instance is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.NewContext()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("case runner")
	}

	r := &Runner{
		log:      cfg.Log.New("case", loaded.Name),
		bus:      cfg.Bus,
		hooks:    event.NewBus(),
		policy:   cfg.Policy,
		tracer:   cfg.Tracer,
		loaded:   loaded,
		instance: reflect.ValueOf(loaded.Instance),
		byName:   make(map[string]*meta.TestMeta),
		methods:  make(map[string]reflect.Value),
		excluded: make(map[string]bool),
		roots:    make(map[string]string),
	}
	r.extract(cfg.MethodFilter)
	r.log.Debug("NewRunner()", "tests", len(r.tests), "excluded", len(r.excluded), "hooks", r.hooks.Len())
	return r, nil
}

// Tests returns the metadata of every candidate test in discovery order.
func (r *Runner) Tests() []*meta.TestMeta {
	return r.tests
}

// extract walks the documented methods in declaration order, then any
// remaining exported methods, sorting them into tests and hooks.
func (r *Runner) extract(mf filter.MethodFilter) {
	docs := make(map[string]string)
	var order []string
	for _, md := range r.loaded.Methods {
		if _, seen := docs[md.Name]; !seen {
			order = append(order, md.Name)
		}
		docs[md.Name] = md.Doc
	}
	typ := r.instance.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		name := typ.Method(i).Name
		if _, seen := docs[name]; !seen {
			docs[name] = ""
			order = append(order, name)
		}
	}

	providers := make(map[string]bool)
	var candidates []*meta.TestMeta
	for _, name := range order {
		fn := r.instance.MethodByName(name)
		if !fn.IsValid() {
			continue
		}
		a := meta.ParseAnnotations(docs[name])
		if meta.IsTest(name, a) {
			m := meta.New(r.loaded.Name, name, a)
			if mf != nil && !mf.AcceptMethod(r.loaded.Name, name, m.Groups) {
				r.log.Debug("Test excluded by filter", "test", name)
				r.excluded[name] = true
				continue
			}
			if m.DataProvider != "" {
				providers[m.DataProvider] = true
			}
			r.methods[name] = fn
			candidates = append(candidates, m)
			continue
		}
		if hook := meta.HookKind(name, a); hook != meta.HookNone {
			r.registerHook(hook, name, fn)
		}
	}

	for _, m := range candidates {
		if providers[m.Name] {
			continue
		}
		r.tests = append(r.tests, m)
		r.byName[m.Name] = m
	}
}

func (r *Runner) registerHook(hook meta.Hook, name string, fn reflect.Value) {
	r.hooks.Subscribe(hookEvents[hook], func(event.Event) error {
		if err := callHook(fn); err != nil {
			return &HookError{Hook: hook.String(), Method: name, Err: err}
		}
		return nil
	})
}

// Run executes every test of the case. The returned status is 0 when the
// case passed, 1 otherwise; the error is the condition that aborted the case,
// if any.
func (r *Runner) Run(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("case %s", r.loaded.Name))
	defer span.End()

	r.policy.Restore()
	defer r.policy.Restore()

	r.log.Info("Running case", "tests", len(r.tests))
	if err := r.emit(event.Event{Name: event.CaseBefore}); err != nil {
		r.abort(err, nil)
	}

	for _, m := range r.tests {
		if err := ctx.Err(); err != nil && !r.ctrl.skipping() {
			r.abort(err, nil)
		}
		if err := r.execute(ctx, m); err != nil {
			r.abort(err, nil)
			if !m.Status.IsTerminal() {
				r.skip(m, r.ctrl.cause)
			}
		}
	}

	if err := r.emit(event.Event{Name: event.CaseAfter, Status: r.caseStatus()}); err != nil {
		r.log.Error("After-case hook failed", "err", err)
		r.status = 1
	}
	if r.aborted != nil {
		span.RecordError(r.aborted)
		span.SetStatus(codes.Error, r.aborted.Error())
	}
	return r.status, r.aborted
}

func (r *Runner) caseStatus() types.TestStatus {
	switch {
	case r.aborted != nil:
		return types.TestStatusError
	case r.status != 0:
		return types.TestStatusFailed
	}
	return types.TestStatusDone
}

// abort switches the controller so that every remaining test is skipped with
// the first abort as the shared cause.
func (r *Runner) abort(err error, failure *event.Failure) {
	if r.aborted == nil {
		r.aborted = err
		r.log.Error("Case aborted", "err", err)
	}
	r.status = 1
	if failure == nil {
		failure = event.NewFailure(err)
	}
	r.ctrl.fire(sigCaseAborted, failure)
}

// execute resolves the dependencies of m and runs it. Returned errors are
// fatal to the case.
func (r *Runner) execute(ctx context.Context, m *meta.TestMeta) error {
	if m.Status.IsTerminal() {
		return nil
	}
	if r.ctrl.state == stateSkipAll {
		r.skip(m, r.ctrl.cause)
		return nil
	}

	if len(m.Depends) > 0 {
		m.Status = types.TestStatusMarked
		r.resolving = append(r.resolving, m.Name)
		b, err := r.resolve(ctx, m)
		r.resolving = r.resolving[:len(r.resolving)-1]
		if err != nil {
			m.Status = types.TestStatusNew
			return err
		}
		if b != nil {
			return r.skipDependent(m, b)
		}
	}
	return r.runTest(ctx, m)
}

// blocker is a prerequisite that prevents a method from running.
type blocker struct {
	name   string
	root   string
	reason string
}

func (r *Runner) resolve(ctx context.Context, m *meta.TestMeta) (*blocker, error) {
	for _, name := range m.Depends {
		d, ok := r.byName[name]
		if !ok {
			if r.excluded[name] {
				return &blocker{name: name, root: name, reason: "is excluded by the method filter"}, nil
			}
			return nil, &ConfigError{Case: r.loaded.Name, Method: m.Name, Dependency: name}
		}

		switch d.Status {
		case types.TestStatusNew:
			undo := r.policy.Override(policy.ConvertToSkip{})
			err := r.execute(ctx, d)
			undo()
			if err != nil {
				return nil, err
			}
		case types.TestStatusMarked:
			return nil, &CycleError{Case: r.loaded.Name, Method: d.Name, Path: slices.Clone(r.resolving)}
		}

		if d.Status.BlocksDependents() {
			root, ok := r.roots[d.Name]
			if !ok {
				root = d.Name
			}
			return &blocker{name: d.Name, root: root, reason: fmt.Sprintf("finished as %s", d.Status)}, nil
		}
	}
	return nil, nil
}

func (r *Runner) skipDependent(m *meta.TestMeta, b *blocker) error {
	err := &DependencyError{Method: m.Name, Dependency: b.name, Root: b.root, Reason: b.reason}
	f := r.describe(m, err, nil)
	f.Dependency, f.Root = b.name, b.root
	m.Cause = b.name
	r.roots[m.Name] = b.root

	contribution, abort := r.policy.OnSkip(err)
	if contribution != 0 {
		r.status = 1
	}
	r.log.Info("Skipping test", "test", m.Name, "dependency", b.name, "root", b.root)
	r.notify(event.Event{Name: event.TestBefore, Method: m.Name})
	r.notify(event.Event{Name: event.TestAfter, Method: m.Name, Status: types.TestStatusSkipped, Failure: f})
	return r.finish(m, outcome{status: types.TestStatusSkipped, failure: f, abort: abort})
}

// skip marks a test skipped because the case is no longer running tests.
func (r *Runner) skip(m *meta.TestMeta, cause *event.Failure) {
	r.notify(event.Event{Name: event.TestBefore, Method: m.Name})
	r.notify(event.Event{Name: event.TestAfter, Method: m.Name, Status: types.TestStatusSkipped, Failure: cause})
	_ = r.finish(m, outcome{status: types.TestStatusSkipped, failure: cause})
}

func (r *Runner) runTest(ctx context.Context, m *meta.TestMeta) error {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s", m.Name))
	defer span.End()

	r.log.Debug("Running test", "test", m.Name, "provider", m.DataProvider)
	rows, err := r.rows(m)
	if err != nil {
		out := r.react(types.TestStatusError, policy.KindError, err, r.describe(m, err, nil))
		r.notify(event.Event{Name: event.TestBefore, Method: m.Name})
		r.notify(event.Event{Name: event.TestAfter, Method: m.Name, Status: out.status, Failure: out.failure})
		return r.finish(m, out)
	}

	total := outcome{status: types.TestStatusNew}
	for i, row := range rows {
		var dataSet *int
		if m.DataProvider != "" {
			dataSet = &i
		}
		out := r.runRow(ctx, m, dataSet, row)
		total.assertions += out.assertions
		if out.status.Severity() > total.status.Severity() {
			total.status, total.failure = out.status, out.failure
		}
		if out.abort != nil {
			span.SetStatus(codes.Error, out.abort.Error())
			total.abort = out.abort
			return r.finish(m, total)
		}
	}
	if total.status != types.TestStatusDone {
		span.SetStatus(codes.Error, string(total.status))
	}
	return r.finish(m, total)
}

// rows returns the data sets of m; a single empty row without a provider.
func (r *Runner) rows(m *meta.TestMeta) ([][]any, error) {
	if m.DataProvider == "" {
		return [][]any{nil}, nil
	}
	provider := r.instance.MethodByName(m.DataProvider)
	if !provider.IsValid() {
		return nil, fmt.Errorf("data provider %s of %s not found", m.DataProvider, m.Name)
	}
	rows, err := dataSets(provider)
	if err != nil {
		return nil, fmt.Errorf("data provider %s: %w", m.DataProvider, err)
	}
	return rows, nil
}

func (r *Runner) runRow(ctx context.Context, m *meta.TestMeta, dataSet *int, row []any) outcome {
	if err := r.emit(event.Event{Name: event.TestBefore, Method: m.Name, DataSet: dataSet}); err != nil {
		r.log.Error("Before-test hook failed", "test", m.Name, "err", err)
		r.status = 1
		r.ctrl.fire(sigHookFailed, r.describe(m, err, nil))
	}

	var out outcome
	var elapsed time.Duration
	var delta int64
	if r.ctrl.state == stateSkipOnce {
		out = outcome{status: types.TestStatusSkipped, failure: r.ctrl.cause}
	} else {
		before := assertion.Count()
		start := time.Now()
		raised, stack := call(r.methods[m.Name], row)
		elapsed = time.Since(start)
		delta = assertion.Count() - before
		out = r.classify(m, raised, stack)
		out.assertions = delta
	}

	after := event.Event{
		Name:       event.TestAfter,
		Method:     m.Name,
		DataSet:    dataSet,
		Status:     out.status,
		Elapsed:    elapsed,
		Assertions: delta,
		Failure:    out.failure,
	}
	if err := r.emit(after); err != nil {
		r.log.Error("After-test hook failed", "test", m.Name, "err", err)
		r.status = 1
	}
	r.ctrl.fire(sigRowFinished, nil)
	return out
}

// classify maps a raised condition to a status, in order: expected error
// contract, skip request, assertion failure, incomplete marker, error.
func (r *Runner) classify(m *meta.TestMeta, raised error, stack []event.Frame) outcome {
	if m.Expect != nil {
		if raised == nil {
			err := m.Expect.NotRaised()
			return r.react(types.TestStatusFailed, policy.KindFailure, err, r.describe(m, err, nil))
		}
		if matched, violation := m.Expect.Match(raised); matched {
			if violation == nil {
				return outcome{status: types.TestStatusDone}
			}
			return r.react(types.TestStatusFailed, policy.KindFailure, violation, r.describe(m, violation, stack))
		}
	}
	if raised == nil {
		return outcome{status: types.TestStatusDone}
	}

	f := r.describe(m, raised, stack)
	var (
		skip       *testcase.SkipError
		failure    *assertion.Failure
		incomplete *testcase.IncompleteError
	)
	switch {
	case errors.As(raised, &skip):
		return r.react(types.TestStatusSkipped, policy.KindSkip, raised, f)
	case errors.As(raised, &failure):
		return r.react(types.TestStatusFailed, policy.KindFailure, raised, f)
	case errors.As(raised, &incomplete):
		return r.react(types.TestStatusIncomplete, policy.KindIncomplete, raised, f)
	}
	return r.react(types.TestStatusError, policy.KindError, raised, f)
}

func (r *Runner) react(status types.TestStatus, kind policy.Kind, err error, f *event.Failure) outcome {
	contribution, abort := r.policy.On(kind, err)
	if contribution != 0 {
		r.status = 1
	}
	return outcome{status: status, failure: f, abort: abort}
}

// finish publishes the method outcome, carrying the assertions of every
// data set, and records the terminal status.
func (r *Runner) finish(m *meta.TestMeta, out outcome) error {
	status := out.status
	if status == types.TestStatusNew {
		status = types.TestStatusDone
	}
	r.notify(event.Event{
		Name:       event.OutcomeName(status),
		Method:     m.Name,
		Status:     status,
		Assertions: out.assertions,
		Failure:    out.failure,
	})
	m.Status = status
	return out.abort
}

func (r *Runner) describe(m *meta.TestMeta, err error, stack []event.Frame) *event.Failure {
	f := event.NewFailureWithStack(err, stack)
	if f.File == "" {
		f.File, f.Line = r.declaredAt(m.Name)
	}
	return f
}

func (r *Runner) declaredAt(method string) (string, int) {
	mt, ok := r.instance.Type().MethodByName(method)
	if !ok {
		return r.loaded.Path, 0
	}
	pc := mt.Func.Pointer()
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return r.loaded.Path, 0
	}
	return fn.FileLine(pc)
}

// emit publishes ev to the case's hooks, then to the shared bus. Only hook
// failures are returned.
func (r *Runner) emit(ev event.Event) error {
	ev.Case, ev.File = r.loaded.Name, r.loaded.Path
	err := r.hooks.Publish(ev)
	r.notify(ev)
	return err
}

// notify publishes ev to the shared bus without running hooks.
func (r *Runner) notify(ev event.Event) {
	if r.bus == nil {
		return
	}
	ev.Case, ev.File = r.loaded.Name, r.loaded.Path
	if err := r.bus.Publish(ev); err != nil {
		r.log.Warn("Event listener failed", "event", ev.Name, "err", err)
	}
}
