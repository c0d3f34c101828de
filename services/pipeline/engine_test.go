// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestEngine() *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func quietOpts() *Options {
	return &Options{EnableLogging: Ptr(false)}
}

// trackedUnit records executions and can be told to delay or fail.
type trackedUnit struct {
	BaseUnit
	executions atomic.Int32
	delay      time.Duration
	failures   int32 // fail the first N attempts
	err        error
}

func newTrackedUnit(id string, cat Category) *trackedUnit {
	return &trackedUnit{
		BaseUnit: BaseUnit{UnitID: id, UnitCategory: cat, UnitParallel: true},
	}
}

func (u *trackedUnit) withDelay(d time.Duration) *trackedUnit {
	u.delay = d
	return u
}

func (u *trackedUnit) withFailures(n int, err error) *trackedUnit {
	u.failures = int32(n)
	u.err = err
	return u
}

func (u *trackedUnit) Execute(ctx context.Context, st *State) (*State, error) {
	n := u.executions.Add(1)
	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if u.failures < 0 || n <= u.failures {
		return nil, u.err
	}
	st.SetOutput(u.UnitID, u.UnitID+"_output")
	return st, nil
}

func (u *trackedUnit) count() int {
	return int(u.executions.Load())
}

// graphFrom registers the given units and builds a graph from the specs.
func graphFrom(t *testing.T, units []WorkUnit, specs ...NodeSpec) *Graph {
	t.Helper()
	r := NewRegistry()
	mustRegister(t, r, units...)
	cfg := &PipelineConfig{OwnerID: "tester", Version: "v1", Nodes: specs}
	return mustBuild(t, r, cfg)
}

// diamondGraph wires A -> {B, C} -> D over four tracked units.
func diamondGraph(t *testing.T, delay time.Duration) (*Graph, map[string]*trackedUnit) {
	t.Helper()
	units := map[string]*trackedUnit{
		"A": newTrackedUnit("A", CategoryRequired).withDelay(delay),
		"B": newTrackedUnit("B", CategoryEnrichment).withDelay(delay),
		"C": newTrackedUnit("C", CategoryEnrichment).withDelay(delay),
		"D": newTrackedUnit("D", CategoryScoring).withDelay(delay),
	}
	g := graphFrom(t,
		[]WorkUnit{units["A"], units["B"], units["C"], units["D"]},
		spec("A", CategoryRequired, "A"),
		spec("B", CategoryEnrichment, "B", "A"),
		spec("C", CategoryEnrichment, "C", "A"),
		spec("D", CategoryScoring, "D", "B", "C"),
	)
	return g, units
}

func TestEngine_Execute_SingleNode(t *testing.T) {
	unit := newTrackedUnit("solo", CategoryRequired)
	g := graphFrom(t, []WorkUnit{unit}, spec("solo", CategoryRequired, "solo"))

	eng := newTestEngine()
	res, err := eng.Execute(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !res.Success {
		t.Errorf("Success = false, errors = %v", res.Errors)
	}
	if res.Status != ExecutionCompleted {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionCompleted)
	}
	if res.Metrics.NodesExecuted != 1 || res.Metrics.NodesSucceeded != 1 {
		t.Errorf("metrics = %+v, want 1 executed / 1 succeeded", res.Metrics)
	}
	out, ok := res.FinalState.Output("solo")
	if !ok || out != "solo_output" {
		t.Errorf("Output(solo) = %v, %v; want %q, true", out, ok, "solo_output")
	}
	if unit.count() != 1 {
		t.Errorf("unit executed %d times, want 1", unit.count())
	}
}

func TestEngine_Execute_Diamond_BothStrategies(t *testing.T) {
	strategies := []struct {
		name string
		run  func(e *Engine, g *Graph) (*Result, error)
	}{
		{"sequential", func(e *Engine, g *Graph) (*Result, error) {
			return e.ExecuteSequential(context.Background(), g, nil, quietOpts())
		}},
		{"parallel", func(e *Engine, g *Graph) (*Result, error) {
			return e.ExecuteParallel(context.Background(), g, nil, quietOpts())
		}},
	}

	for _, st := range strategies {
		t.Run(st.name, func(t *testing.T) {
			g, units := diamondGraph(t, 0)
			eng := newTestEngine()

			res, err := st.run(eng, g)
			if err != nil {
				t.Fatalf("execute error = %v", err)
			}
			if !res.Success {
				t.Fatalf("Success = false, errors = %v", res.Errors)
			}
			if res.Metrics.NodesExecuted != 4 {
				t.Errorf("NodesExecuted = %d, want 4", res.Metrics.NodesExecuted)
			}
			for id, u := range units {
				if u.count() != 1 {
					t.Errorf("unit %s executed %d times, want 1", id, u.count())
				}
			}
			for _, id := range []string{"A", "B", "C", "D"} {
				if _, ok := res.FinalState.Output(id); !ok {
					t.Errorf("Output(%s) missing", id)
				}
			}
		})
	}
}

func TestEngine_ExecuteParallel_CountsParallelLevels(t *testing.T) {
	g, _ := diamondGraph(t, 10*time.Millisecond)
	eng := newTestEngine()

	res, err := eng.ExecuteParallel(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("ExecuteParallel() error = %v", err)
	}
	// Only the {B, C} level dispatches more than one node.
	if res.Metrics.ParallelLevels != 1 {
		t.Errorf("ParallelLevels = %d, want 1", res.Metrics.ParallelLevels)
	}
}

func TestEngine_ExecuteSequential_NoParallelLevels(t *testing.T) {
	g, _ := diamondGraph(t, 0)
	eng := newTestEngine()

	res, err := eng.ExecuteSequential(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("ExecuteSequential() error = %v", err)
	}
	if res.Metrics.ParallelLevels != 0 {
		t.Errorf("ParallelLevels = %d, want 0", res.Metrics.ParallelLevels)
	}
}

func TestEngine_Execute_AdaptiveDegradesWithMaxParallelOne(t *testing.T) {
	g, _ := diamondGraph(t, 0)
	eng := newTestEngine()

	opts := quietOpts()
	opts.MaxParallel = Ptr(1)
	opts.Mode = ModeAdaptive

	res, err := eng.Execute(context.Background(), g, nil, opts)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, errors = %v", res.Errors)
	}
	if res.Metrics.ParallelLevels != 0 {
		t.Errorf("ParallelLevels = %d, want 0 (degraded to sequential)", res.Metrics.ParallelLevels)
	}
}

func TestEngine_ParallelFasterThanSequential(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	const delay = 100 * time.Millisecond

	// Three independent nodes: sequential pays 3x the delay, parallel ~1x.
	build := func() *Graph {
		u1 := newTrackedUnit("u1", CategoryEnrichment).withDelay(delay)
		u2 := newTrackedUnit("u2", CategoryEnrichment).withDelay(delay)
		u3 := newTrackedUnit("u3", CategoryEnrichment).withDelay(delay)
		return graphFrom(t, []WorkUnit{u1, u2, u3},
			spec("u1", CategoryEnrichment, "u1"),
			spec("u2", CategoryEnrichment, "u2"),
			spec("u3", CategoryEnrichment, "u3"),
		)
	}

	eng := newTestEngine()

	start := time.Now()
	if _, err := eng.ExecuteSequential(context.Background(), build(), nil, quietOpts()); err != nil {
		t.Fatalf("ExecuteSequential() error = %v", err)
	}
	seqElapsed := time.Since(start)

	start = time.Now()
	if _, err := eng.ExecuteParallel(context.Background(), build(), nil, quietOpts()); err != nil {
		t.Fatalf("ExecuteParallel() error = %v", err)
	}
	parElapsed := time.Since(start)

	if seqElapsed < 3*delay {
		t.Errorf("sequential elapsed = %v, want >= %v", seqElapsed, 3*delay)
	}
	if parElapsed >= 3*delay {
		t.Errorf("parallel elapsed = %v, want < %v", parElapsed, 3*delay)
	}
}

func TestEngine_Execute_FailureSkipsDependents(t *testing.T) {
	boom := errors.New("boom")
	a := newTrackedUnit("A", CategoryRequired).withFailures(-1, boom)
	b := newTrackedUnit("B", CategoryEnrichment)
	c := newTrackedUnit("C", CategoryEnrichment)
	g := graphFrom(t, []WorkUnit{a, b, c},
		spec("A", CategoryRequired, "A"),
		spec("B", CategoryEnrichment, "B", "A"),
		spec("C", CategoryEnrichment, "C"),
	)

	eng := newTestEngine()
	res, err := eng.ExecuteSequential(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("ExecuteSequential() error = %v", err)
	}

	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.Status != ExecutionFailed {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionFailed)
	}
	if got := res.Metrics.NodeResults["A"].Status; got != NodeStatusFailed {
		t.Errorf("A status = %q, want %q", got, NodeStatusFailed)
	}
	if got := res.Metrics.NodeResults["B"].Status; got != NodeStatusSkipped {
		t.Errorf("B status = %q, want %q", got, NodeStatusSkipped)
	}
	// C is independent of A: default continue-on-error still runs it.
	if got := res.Metrics.NodeResults["C"].Status; got != NodeStatusCompleted {
		t.Errorf("C status = %q, want %q", got, NodeStatusCompleted)
	}
	if b.count() != 0 {
		t.Errorf("B executed %d times, want 0", b.count())
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], `node "A"`) {
		t.Errorf("Errors = %v, want node error naming A", res.Errors)
	}
}

func TestEngine_Execute_FailFastHaltsDispatch(t *testing.T) {
	boom := errors.New("boom")
	a := newTrackedUnit("A", CategoryRequired).withFailures(-1, boom)
	c := newTrackedUnit("C", CategoryEnrichment)
	g := graphFrom(t, []WorkUnit{a, c},
		spec("A", CategoryRequired, "A"),
		spec("C", CategoryEnrichment, "C"),
	)

	eng := newTestEngine()
	opts := quietOpts()
	opts.FailFast = Ptr(true)

	res, err := eng.ExecuteSequential(context.Background(), g, nil, opts)
	if err != nil {
		t.Fatalf("ExecuteSequential() error = %v", err)
	}

	if res.Status != ExecutionFailed {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionFailed)
	}
	if c.count() != 0 {
		t.Errorf("C executed %d times after halt, want 0", c.count())
	}
	if got := res.Metrics.NodeResults["C"].Status; got != NodeStatusSkipped {
		t.Errorf("C status = %q, want %q", got, NodeStatusSkipped)
	}
}

func TestEngine_Execute_ContinueOnErrorDisabled(t *testing.T) {
	boom := errors.New("boom")
	a := newTrackedUnit("A", CategoryRequired).withFailures(-1, boom)
	c := newTrackedUnit("C", CategoryEnrichment)
	g := graphFrom(t, []WorkUnit{a, c},
		spec("A", CategoryRequired, "A"),
		spec("C", CategoryEnrichment, "C"),
	)

	eng := newTestEngine()
	opts := quietOpts()
	opts.ContinueOnError = Ptr(false)

	res, err := eng.ExecuteSequential(context.Background(), g, nil, opts)
	if err != nil {
		t.Fatalf("ExecuteSequential() error = %v", err)
	}
	if res.Status != ExecutionFailed {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionFailed)
	}
	if c.count() != 0 {
		t.Errorf("C executed %d times after halt, want 0", c.count())
	}
}

func TestEngine_Execute_OptionalFailureDoesNotFailRun(t *testing.T) {
	boom := errors.New("boom")
	a := newTrackedUnit("A", CategoryRequired)
	b := newTrackedUnit("B", CategoryEnrichment).withFailures(-1, boom)
	g := graphFrom(t, []WorkUnit{a, b},
		spec("A", CategoryRequired, "A"),
		NodeSpec{ID: "B", Category: CategoryEnrichment, Ref: "B", Enabled: true, Optional: true, DependsOn: []string{"A"}},
	)

	eng := newTestEngine()
	res, err := eng.Execute(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !res.Success {
		t.Errorf("Success = false, errors = %v", res.Errors)
	}
	if res.Status != ExecutionCompleted {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionCompleted)
	}
	if res.Metrics.NodesFailed != 1 {
		t.Errorf("NodesFailed = %d, want 1", res.Metrics.NodesFailed)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning for the failed optional node")
	}
}

func TestEngine_Execute_RetrySucceedsAfterFailures(t *testing.T) {
	boom := errors.New("flaky")
	const failures = 2

	unit := newTrackedUnit("flaky", CategoryRequired).withFailures(failures, boom)
	g := graphFrom(t, []WorkUnit{unit}, spec("flaky", CategoryRequired, "flaky"))

	eng := newTestEngine()
	opts := quietOpts()
	opts.MaxRetries = Ptr(3)
	opts.RetryDelay = Ptr(time.Millisecond)

	res, err := eng.Execute(context.Background(), g, nil, opts)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !res.Success {
		t.Fatalf("Success = false, errors = %v", res.Errors)
	}
	if unit.count() != failures+1 {
		t.Errorf("unit executed %d times, want %d", unit.count(), failures+1)
	}
	nr := res.Metrics.NodeResults["flaky"]
	if nr.Retries != failures {
		t.Errorf("Retries = %d, want %d", nr.Retries, failures)
	}

	// One trace entry per attempt: two failed, one completed.
	trace := res.FinalState.Trace()
	if len(trace) != failures+1 {
		t.Fatalf("trace length = %d, want %d", len(trace), failures+1)
	}
	for i, entry := range trace {
		if entry.Attempt != i {
			t.Errorf("trace[%d].Attempt = %d, want %d", i, entry.Attempt, i)
		}
		want := NodeStatusFailed
		if i == failures {
			want = NodeStatusCompleted
		}
		if entry.Status != want {
			t.Errorf("trace[%d].Status = %q, want %q", i, entry.Status, want)
		}
	}
}

func TestEngine_Execute_RetryExhausted(t *testing.T) {
	boom := errors.New("always fails")
	unit := newTrackedUnit("doomed", CategoryRequired).withFailures(-1, boom)
	g := graphFrom(t, []WorkUnit{unit}, spec("doomed", CategoryRequired, "doomed"))

	eng := newTestEngine()
	opts := quietOpts()
	opts.MaxRetries = Ptr(2)
	opts.RetryDelay = Ptr(time.Millisecond)

	res, err := eng.Execute(context.Background(), g, nil, opts)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Success {
		t.Error("Success = true, want false")
	}
	if unit.count() != 3 {
		t.Errorf("unit executed %d times, want 3 (1 + 2 retries)", unit.count())
	}
	nr := res.Metrics.NodeResults["doomed"]
	if nr.Status != NodeStatusFailed {
		t.Errorf("Status = %q, want %q", nr.Status, NodeStatusFailed)
	}
	if nr.Retries != 2 {
		t.Errorf("Retries = %d, want 2", nr.Retries)
	}
	if res.FinalState.TraceLen() != 3 {
		t.Errorf("trace length = %d, want 3", res.FinalState.TraceLen())
	}
}

func TestEngine_Execute_NodeTimeout(t *testing.T) {
	unit := newTrackedUnit("slow", CategoryRequired).withDelay(500 * time.Millisecond)
	unit.UnitTimeout = 50 * time.Millisecond
	g := graphFrom(t, []WorkUnit{unit}, spec("slow", CategoryRequired, "slow"))

	eng := newTestEngine()
	res, err := eng.Execute(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.Status != ExecutionFailed {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionFailed)
	}
	nr := res.Metrics.NodeResults["slow"]
	if !strings.Contains(nr.Error, ErrNodeTimeout.Error()) {
		t.Errorf("node error = %q, want it to mention %q", nr.Error, ErrNodeTimeout.Error())
	}
}

func TestEngine_Execute_OverallTimeout(t *testing.T) {
	a := newTrackedUnit("A", CategoryRequired).withDelay(200 * time.Millisecond)
	b := newTrackedUnit("B", CategoryEnrichment).withDelay(200 * time.Millisecond)
	g := graphFrom(t, []WorkUnit{a, b},
		spec("A", CategoryRequired, "A"),
		spec("B", CategoryEnrichment, "B", "A"),
	)

	eng := newTestEngine()
	opts := quietOpts()
	opts.Timeout = Ptr(100 * time.Millisecond)

	res, err := eng.ExecuteSequential(context.Background(), g, nil, opts)
	if err != nil {
		t.Fatalf("ExecuteSequential() error = %v", err)
	}

	if res.Status != ExecutionFailed {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionFailed)
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "execution timeout after") {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors = %v, want an execution timeout entry", res.Errors)
	}
	if b.count() != 0 {
		t.Errorf("B executed %d times after deadline, want 0", b.count())
	}
}

func TestEngine_CancelExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	gate := NewFuncUnit("gate", CategoryRequired, func(ctx context.Context, st *State) (*State, error) {
		close(started)
		select {
		case <-release:
			return st, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	after := newTrackedUnit("after", CategoryEnrichment)
	g := graphFrom(t, []WorkUnit{gate, after},
		spec("gate", CategoryRequired, "gate"),
		spec("after", CategoryEnrichment, "after", "gate"),
	)

	eng := newTestEngine()
	id, done, err := eng.ExecuteAsync(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}
	defer close(release)

	<-started
	if err := eng.CancelExecution(id, "operator request"); err != nil {
		t.Fatalf("CancelExecution() error = %v", err)
	}

	var res *Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish after cancellation")
	}

	if res.Status != ExecutionCancelled {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionCancelled)
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "operator request") {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors = %v, want the cancel reason recorded", res.Errors)
	}
	if after.count() != 0 {
		t.Errorf("downstream node executed %d times after cancel, want 0", after.count())
	}

	// A terminal execution cannot be cancelled again.
	if err := eng.CancelExecution(id, "again"); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second cancel error = %v, want %v", err, ErrNotCancellable)
	}
}

func TestEngine_CancelExecution_UnknownID(t *testing.T) {
	eng := newTestEngine()
	if err := eng.CancelExecution("missing", ""); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("error = %v, want %v", err, ErrExecutionNotFound)
	}
}

func TestEngine_Execute_ParentContextCancelled(t *testing.T) {
	unit := newTrackedUnit("A", CategoryRequired)
	g := graphFrom(t, []WorkUnit{unit}, spec("A", CategoryRequired, "A"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := newTestEngine()
	res, err := eng.Execute(ctx, g, nil, quietOpts())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Status != ExecutionCancelled {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionCancelled)
	}
	if unit.count() != 0 {
		t.Errorf("unit executed %d times under a dead context, want 0", unit.count())
	}
	// Nothing ran, so there is no state worth returning.
	if res.FinalState != nil {
		t.Error("FinalState should be nil when cancelled before any node ran")
	}
}

func TestEngine_Execute_NilArguments(t *testing.T) {
	eng := newTestEngine()
	g, _ := diamondGraph(t, 0)

	if _, err := eng.Execute(nil, g, nil, nil); !errors.Is(err, ErrNilContext) {
		t.Errorf("nil ctx error = %v, want %v", err, ErrNilContext)
	}
	if _, err := eng.Execute(context.Background(), nil, nil, nil); !errors.Is(err, ErrNilGraph) {
		t.Errorf("nil graph error = %v, want %v", err, ErrNilGraph)
	}
}

func TestEngine_Execute_EmptyGraph(t *testing.T) {
	eng := newTestEngine()
	res, err := eng.Execute(context.Background(), &Graph{Nodes: map[string]*GraphNode{}}, nil, quietOpts())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != ExecutionFailed {
		t.Errorf("Status = %q, want %q", res.Status, ExecutionFailed)
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, ErrNoNodes.Error()) {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors = %v, want %q", res.Errors, ErrNoNodes.Error())
	}
}

func TestEngine_Execute_PanicRecovered(t *testing.T) {
	unit := NewFuncUnit("panicky", CategoryRequired, func(ctx context.Context, st *State) (*State, error) {
		panic("unexpected state")
	})
	g := graphFrom(t, []WorkUnit{unit}, spec("panicky", CategoryRequired, "panicky"))

	eng := newTestEngine()
	res, err := eng.Execute(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Success {
		t.Error("Success = true, want false")
	}
	nr := res.Metrics.NodeResults["panicky"]
	if !strings.Contains(nr.Error, "unit panic") {
		t.Errorf("node error = %q, want a recovered panic message", nr.Error)
	}
}

func TestEngine_Execute_RunConfigReachesUnit(t *testing.T) {
	var gotThreshold any
	unit := NewFuncUnit("cfg", CategoryRequired, func(ctx context.Context, st *State) (*State, error) {
		gotThreshold = st.RunConfig("tuned")["threshold"]
		st.SetOutput("cfg", true)
		return st, nil
	})

	r := NewRegistry()
	mustRegister(t, r, unit)
	cfg := &PipelineConfig{
		OwnerID: "tester",
		Nodes: []NodeSpec{{
			ID:        "tuned",
			Category:  CategoryRequired,
			Ref:       "cfg",
			Enabled:   true,
			RunConfig: map[string]any{"threshold": 0.75},
		}},
	}
	g := mustBuild(t, r, cfg)

	eng := newTestEngine()
	res, err := eng.Execute(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, errors = %v", res.Errors)
	}
	if gotThreshold != 0.75 {
		t.Errorf("run config threshold = %v, want 0.75", gotThreshold)
	}
}

func TestEngine_ExecutionBookkeeping(t *testing.T) {
	g, _ := diamondGraph(t, 0)
	eng := newTestEngine()

	res, err := eng.Execute(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	id := res.ExecutionID

	status, err := eng.ExecutionStatus(id)
	if err != nil {
		t.Fatalf("ExecutionStatus() error = %v", err)
	}
	if status != ExecutionCompleted {
		t.Errorf("status = %q, want %q", status, ExecutionCompleted)
	}

	// Terminal metrics are a stable snapshot.
	m1, err := eng.ExecutionMetrics(id)
	if err != nil {
		t.Fatalf("ExecutionMetrics() error = %v", err)
	}
	m2, err := eng.ExecutionMetrics(id)
	if err != nil {
		t.Fatalf("ExecutionMetrics() error = %v", err)
	}
	if m1.NodesExecuted != m2.NodesExecuted || m1.Duration != m2.Duration {
		t.Errorf("metrics not idempotent: %+v vs %+v", m1, m2)
	}
	if m1.NodesExecuted != 4 {
		t.Errorf("NodesExecuted = %d, want 4", m1.NodesExecuted)
	}

	stored, err := eng.ExecutionResult(id)
	if err != nil {
		t.Fatalf("ExecutionResult() error = %v", err)
	}
	if stored.ExecutionID != id {
		t.Errorf("stored id = %q, want %q", stored.ExecutionID, id)
	}

	state, err := eng.ExecutionContext(id)
	if err != nil {
		t.Fatalf("ExecutionContext() error = %v", err)
	}
	if _, ok := state.Output("D"); !ok {
		t.Error("execution state is missing the terminal node output")
	}

	if active := eng.ActiveExecutions(); len(active) != 0 {
		t.Errorf("ActiveExecutions() = %v, want empty", active)
	}

	if removed := eng.ClearCompletedExecutions(); removed != 1 {
		t.Errorf("ClearCompletedExecutions() = %d, want 1", removed)
	}
	if _, err := eng.ExecutionStatus(id); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("post-eviction error = %v, want %v", err, ErrExecutionNotFound)
	}
}

func TestEngine_ExecuteAsync(t *testing.T) {
	g, _ := diamondGraph(t, 10*time.Millisecond)
	eng := newTestEngine()

	id, done, err := eng.ExecuteAsync(context.Background(), g, nil, quietOpts())
	if err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}
	if id == "" {
		t.Fatal("ExecuteAsync() returned empty id")
	}

	// Registered and queryable before completion.
	if _, err := eng.ExecutionStatus(id); err != nil {
		t.Errorf("ExecutionStatus() before completion error = %v", err)
	}

	select {
	case res := <-done:
		if res.ExecutionID != id {
			t.Errorf("result id = %q, want %q", res.ExecutionID, id)
		}
		if !res.Success {
			t.Errorf("Success = false, errors = %v", res.Errors)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async execution did not complete")
	}
}

func TestEngine_DefaultOptionsAreCopied(t *testing.T) {
	eng := newTestEngine()
	eng.SetDefaultOptions(Options{MaxRetries: Ptr(2), EnableLogging: Ptr(false)})

	got := eng.DefaultOptions()
	if got.MaxRetries == nil || *got.MaxRetries != 2 {
		t.Fatalf("MaxRetries = %v, want 2", got.MaxRetries)
	}

	// Mutating the copy must not leak into the engine.
	*got.MaxRetries = 99
	again := eng.DefaultOptions()
	if *again.MaxRetries != 2 {
		t.Errorf("engine default mutated through returned copy: %d", *again.MaxRetries)
	}
}

func TestEngine_Execute_UsesEngineDefaults(t *testing.T) {
	boom := errors.New("flaky")
	unit := newTrackedUnit("flaky", CategoryRequired).withFailures(1, boom)
	g := graphFrom(t, []WorkUnit{unit}, spec("flaky", CategoryRequired, "flaky"))

	eng := newTestEngine()
	eng.SetDefaultOptions(Options{
		MaxRetries:    Ptr(1),
		RetryDelay:    Ptr(time.Millisecond),
		EnableLogging: Ptr(false),
	})

	res, err := eng.Execute(context.Background(), g, nil, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, errors = %v (defaults not applied?)", res.Errors)
	}
	if unit.count() != 2 {
		t.Errorf("unit executed %d times, want 2", unit.count())
	}
}
