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
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
)

var (
	tracer = otel.Tracer("tideflow.pipeline")
	meter  = otel.Meter("tideflow.pipeline")
)

// Engine drives graph execution with configurable concurrency, retries,
// timeouts, and cancellation.
//
// Description:
//
//	An Engine owns its default options and its execution tracking table;
//	two engines never share mutable state. Executions are tracked by id
//	from dispatch until ClearCompletedExecutions evicts them.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple executions may run concurrently on
//	one Engine, each against its own graph and state.
type Engine struct {
	logger *slog.Logger

	optMu    sync.RWMutex
	defaults Options

	execMu     sync.RWMutex
	executions map[string]*execution

	// Metrics (initialized lazily)
	metricsOnce sync.Once
	nodeLatency metric.Float64Histogram
	nodeOK      metric.Int64Counter
	nodeFailed  metric.Int64Counter
	activeNodes metric.Int64UpDownCounter
	runLatency  metric.Float64Histogram
}

// NewEngine creates an Engine.
//
// Inputs:
//
//	logger - Logger for engine-level events. If nil, uses slog.Default().
//
// Outputs:
//
//	*Engine - The configured engine with package baseline defaults.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:     logger,
		executions: make(map[string]*execution),
	}
}

// SetDefaultOptions replaces the engine's default options.
//
// Description:
//
//	Defaults apply under every subsequent execute call; per-call options
//	shallow-merge over them field by field. Defaults are engine-scoped,
//	never process-global.
func (e *Engine) SetDefaultOptions(opts Options) {
	e.optMu.Lock()
	defer e.optMu.Unlock()
	e.defaults = opts
}

// DefaultOptions returns a copy of the engine's default options.
func (e *Engine) DefaultOptions() Options {
	e.optMu.RLock()
	defer e.optMu.RUnlock()
	out := e.defaults
	out.Timeout = copyPtr(e.defaults.Timeout)
	out.MaxRetries = copyPtr(e.defaults.MaxRetries)
	out.RetryDelay = copyPtr(e.defaults.RetryDelay)
	out.ContinueOnError = copyPtr(e.defaults.ContinueOnError)
	out.FailFast = copyPtr(e.defaults.FailFast)
	out.MaxParallel = copyPtr(e.defaults.MaxParallel)
	out.TrackMemory = copyPtr(e.defaults.TrackMemory)
	out.EnableLogging = copyPtr(e.defaults.EnableLogging)
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.nodeLatency, err = meter.Float64Histogram("pipeline_node_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		e.nodeOK, err = meter.Int64Counter("pipeline_node_success_total",
			metric.WithDescription("Number of successful node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}

		e.nodeFailed, err = meter.Int64Counter("pipeline_node_failure_total",
			metric.WithDescription("Number of failed node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}

		e.activeNodes, err = meter.Int64UpDownCounter("pipeline_active_nodes",
			metric.WithDescription("Number of currently executing nodes"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		e.runLatency, err = meter.Float64Histogram("pipeline_run_duration_seconds",
			metric.WithDescription("Total pipeline execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// execution is the engine's per-run tracking record.
type execution struct {
	id        string
	graph     *Graph
	state     *State
	startedAt time.Time

	cancelled atomic.Bool

	mu             sync.RWMutex
	cancel         context.CancelFunc
	status         ExecutionStatus
	results        map[string]*NodeResult
	result         *Result
	cancelReason   string
	endedAt        time.Time
	parallelLevels int
}

func (ex *execution) setStatus(s ExecutionStatus) {
	ex.mu.Lock()
	ex.status = s
	ex.mu.Unlock()
}

func (ex *execution) currentStatus() ExecutionStatus {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.status
}

func (ex *execution) record(nr *NodeResult) {
	ex.mu.Lock()
	ex.results[nr.NodeID] = nr
	ex.mu.Unlock()
}

func (ex *execution) recorded(id string) (*NodeResult, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	nr, ok := ex.results[id]
	return nr, ok
}

// Execute runs a graph under the merged options, selecting the strategy
// from options.Mode.
//
// Description:
//
//	The unified entry point. Adaptive mode behaves as parallel-by-level
//	and degrades to sequential when MaxParallel is 1. Run-time failures
//	(node errors, timeout, cancellation) are captured in the Result; the
//	returned error is non-nil only for API misuse.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	g - The graph to execute. Must not be nil.
//	initial - Optional starting state; nil means a fresh state.
//	opts - Optional per-call options, merged over the engine defaults.
//
// Outputs:
//
//	*Result - The execution outcome, always non-nil on nil error.
//	error - ErrNilContext or ErrNilGraph only.
func (e *Engine) Execute(ctx context.Context, g *Graph, initial *State, opts *Options) (*Result, error) {
	ex, ro, err := e.admit(ctx, g, initial, opts)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, ex, ro), nil
}

// ExecuteSequential runs a graph strictly one node at a time.
func (e *Engine) ExecuteSequential(ctx context.Context, g *Graph, initial *State, opts *Options) (*Result, error) {
	ex, ro, err := e.admit(ctx, g, initial, opts)
	if err != nil {
		return nil, err
	}
	ro.mode = ModeSequential
	return e.run(ctx, ex, ro), nil
}

// ExecuteParallel runs a graph level-by-level with intra-level concurrency.
func (e *Engine) ExecuteParallel(ctx context.Context, g *Graph, initial *State, opts *Options) (*Result, error) {
	ex, ro, err := e.admit(ctx, g, initial, opts)
	if err != nil {
		return nil, err
	}
	ro.mode = ModeParallel
	return e.run(ctx, ex, ro), nil
}

// ExecuteAsync starts a run in the background and returns its id at once.
//
// Description:
//
//	Service-layer convenience over Execute: the execution is registered
//	(and queryable, cancellable) before the first node dispatches. The
//	result is delivered on the returned channel, which is buffered so the
//	engine never blocks on a caller that walked away.
//
// Outputs:
//
//	string - The execution id.
//	<-chan *Result - Delivery channel for the final result.
//	error - ErrNilContext or ErrNilGraph only.
func (e *Engine) ExecuteAsync(ctx context.Context, g *Graph, initial *State, opts *Options) (string, <-chan *Result, error) {
	ex, ro, err := e.admit(ctx, g, initial, opts)
	if err != nil {
		return "", nil, err
	}
	done := make(chan *Result, 1)
	go func() {
		done <- e.run(ctx, ex, ro)
	}()
	return ex.id, done, nil
}

// admit validates arguments, resolves options, and registers the execution.
func (e *Engine) admit(ctx context.Context, g *Graph, initial *State, opts *Options) (*execution, *runOptions, error) {
	if ctx == nil {
		return nil, nil, ErrNilContext
	}
	if g == nil {
		return nil, nil, ErrNilGraph
	}

	ro := defaultRunOptions()
	e.optMu.RLock()
	e.defaults.overlay(&ro)
	e.optMu.RUnlock()
	opts.overlay(&ro)
	ro.normalize()

	st := initial
	if st == nil {
		st = NewState(nil)
	}
	st.init()
	st.Config = ConfigRef{OwnerID: g.OwnerID, Version: g.Version}
	runCfgs := make(map[string]map[string]any, len(g.Nodes))
	for id, n := range g.Nodes {
		if n.RunConfig != nil {
			runCfgs[id] = n.RunConfig
		}
	}
	st.setRunConfigs(runCfgs)

	ex := &execution{
		id:        uuid.NewString(),
		graph:     g,
		state:     st,
		startedAt: time.Now(),
		status:    ExecutionPending,
		results:   make(map[string]*NodeResult, len(g.Nodes)),
	}
	e.execMu.Lock()
	e.executions[ex.id] = ex
	e.execMu.Unlock()
	return ex, &ro, nil
}

// run drives one admitted execution to a terminal status.
func (e *Engine) run(ctx context.Context, ex *execution, ro *runOptions) *Result {
	e.initMetrics()
	g := ex.graph

	ctx, span := tracer.Start(ctx, "pipeline.Execute",
		trace.WithAttributes(
			attribute.String("pipeline.owner", g.OwnerID),
			attribute.String("pipeline.execution_id", ex.id),
			attribute.Int("pipeline.node_count", g.Len()),
			attribute.String("pipeline.mode", string(ro.mode)),
		),
	)
	defer span.End()

	var cancel context.CancelFunc
	if ro.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, ro.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	ex.mu.Lock()
	ex.cancel = cancel
	ex.mu.Unlock()

	ex.setStatus(ExecutionRunning)
	ro.logger.Info("pipeline started",
		slog.String("execution_id", ex.id),
		slog.String("owner", g.OwnerID),
		slog.Int("nodes", g.Len()),
		slog.String("mode", string(ro.mode)),
	)

	var planErr error
	if g.Len() == 0 {
		planErr = ErrNoNodes
	}

	haltedByFailure := false
	if planErr == nil {
		switch {
		case ro.mode == ModeSequential, ro.mode == ModeAdaptive && ro.maxParallel == 1:
			haltedByFailure, planErr = e.runSequential(ctx, ex, ro)
		default:
			haltedByFailure, planErr = e.runParallel(ctx, ex, ro)
		}
	}

	ctxErr := ctx.Err()
	res := e.buildResult(ex, ro, planErr, ctxErr, haltedByFailure)

	if e.runLatency != nil {
		e.runLatency.Record(ctx, res.Metrics.Duration.Seconds(),
			metric.WithAttributes(attribute.String("pipeline.owner", g.OwnerID)),
		)
	}
	if res.Success {
		span.SetStatus(codes.Ok, "")
		ro.logger.Info("pipeline completed",
			slog.String("execution_id", ex.id),
			slog.Duration("duration", res.Metrics.Duration),
			slog.Int("nodes_executed", res.Metrics.NodesExecuted),
			slog.Int("parallel_levels", res.Metrics.ParallelLevels),
		)
	} else {
		msg := string(res.Status)
		if len(res.Errors) > 0 {
			msg = res.Errors[0]
		}
		span.SetStatus(codes.Error, msg)
		ro.logger.Error("pipeline did not complete",
			slog.String("execution_id", ex.id),
			slog.String("status", string(res.Status)),
			slog.Int("nodes_failed", res.Metrics.NodesFailed),
			slog.Int("nodes_skipped", res.Metrics.NodesSkipped),
			slog.Any("errors", res.Errors),
		)
	}
	return res
}

// runSequential visits nodes one at a time in topological order.
func (e *Engine) runSequential(ctx context.Context, ex *execution, ro *runOptions) (haltedByFailure bool, err error) {
	order, err := TopologicalSort(ex.graph)
	if err != nil {
		return false, err
	}
	for _, id := range order {
		if ctx.Err() != nil || ex.cancelled.Load() {
			return haltedByFailure, nil
		}
		node := ex.graph.Nodes[id]
		if !e.depsCompleted(ex, node) {
			ex.record(&NodeResult{NodeID: id, Status: NodeStatusSkipped})
			continue
		}
		nr := e.runNode(ctx, ex, node, ro)
		ex.record(nr)
		if nr.Status == NodeStatusFailed && (ro.failFast || !ro.continueOnErr) {
			return true, nil
		}
	}
	return false, nil
}

// runParallel processes the level partition, dispatching each level
// concurrently and waiting for it to drain before the next one starts.
func (e *Engine) runParallel(ctx context.Context, ex *execution, ro *runOptions) (haltedByFailure bool, err error) {
	levels, err := ExecutionLevels(ex.graph)
	if err != nil {
		return false, err
	}

	var anyFailed atomic.Bool
	for _, level := range levels {
		if ctx.Err() != nil || ex.cancelled.Load() {
			return haltedByFailure, nil
		}
		if anyFailed.Load() && (ro.failFast || !ro.continueOnErr) {
			return true, nil
		}

		eg := new(errgroup.Group)
		if ro.maxParallel > 0 {
			eg.SetLimit(ro.maxParallel)
		}
		dispatched := 0
		for _, id := range level {
			if ctx.Err() != nil || ex.cancelled.Load() {
				break
			}
			if ro.failFast && anyFailed.Load() {
				break
			}
			node := ex.graph.Nodes[id]
			if !e.depsCompleted(ex, node) {
				ex.record(&NodeResult{NodeID: id, Status: NodeStatusSkipped})
				continue
			}
			dispatched++
			eg.Go(func() error {
				nr := e.runNode(ctx, ex, node, ro)
				ex.record(nr)
				if nr.Status == NodeStatusFailed {
					anyFailed.Store(true)
				}
				return nil
			})
		}
		_ = eg.Wait()
		if dispatched > 1 {
			ex.mu.Lock()
			ex.parallelLevels++
			ex.mu.Unlock()
		}
	}
	if anyFailed.Load() && (ro.failFast || !ro.continueOnErr) {
		haltedByFailure = true
	}
	return haltedByFailure, nil
}

// depsCompleted reports whether every direct dependency reached "completed".
func (e *Engine) depsCompleted(ex *execution, node *GraphNode) bool {
	for _, dep := range node.DependsOn {
		nr, ok := ex.recorded(dep)
		if !ok || nr.Status != NodeStatusCompleted {
			return false
		}
	}
	return true
}

// runNode executes one node with per-attempt tracing, retry, and timeout.
func (e *Engine) runNode(ctx context.Context, ex *execution, node *GraphNode, ro *runOptions) *NodeResult {
	ctx, span := tracer.Start(ctx, "pipeline.node."+node.ID,
		trace.WithAttributes(
			attribute.String("pipeline.node", node.ID),
			attribute.String("pipeline.node_category", string(node.Category)),
			attribute.StringSlice("pipeline.dependencies", node.DependsOn),
			attribute.String("pipeline.execution_id", ex.id),
		),
	)
	defer span.End()

	if e.activeNodes != nil {
		e.activeNodes.Add(ctx, 1)
		defer e.activeNodes.Add(ctx, -1)
	}

	nr := &NodeResult{NodeID: node.ID, Status: NodeStatusRunning, StartedAt: time.Now()}
	timeout := node.Unit.Timeout()
	if timeout <= 0 {
		timeout = DefaultUnitTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= ro.maxRetries; attempt++ {
		nr.Retries = attempt
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		idx := ex.state.AppendTrace(TraceEntry{
			NodeID:    node.ID,
			Category:  node.Category,
			Attempt:   attempt,
			StartedAt: time.Now(),
			Status:    NodeStatusRunning,
		})

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := invokeUnit(attemptCtx, node.Unit, ex.state)
		elapsed := time.Since(start)
		if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %s", ErrNodeTimeout, node.ID)
		}
		cancel()

		if e.nodeLatency != nil {
			e.nodeLatency.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("node", node.ID),
					attribute.String("category", string(node.Category)),
				),
			)
		}

		if err == nil {
			ex.state.UpdateTrace(idx, func(t *TraceEntry) {
				t.Status = NodeStatusCompleted
				t.EndedAt = time.Now()
				t.Duration = elapsed
			})
			if e.nodeOK != nil {
				e.nodeOK.Add(ctx, 1, metric.WithAttributes(attribute.String("node", node.ID)))
			}
			nr.Status = NodeStatusCompleted
			ro.logger.Debug("node completed",
				slog.String("node", node.ID),
				slog.String("execution_id", ex.id),
				slog.Duration("duration", elapsed),
				slog.Int("attempt", attempt),
			)
			break
		}

		lastErr = err
		ex.state.UpdateTrace(idx, func(t *TraceEntry) {
			t.Status = NodeStatusFailed
			t.EndedAt = time.Now()
			t.Duration = elapsed
			t.Error = err.Error()
		})
		if e.nodeFailed != nil {
			e.nodeFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("node", node.ID)))
		}
		ro.logger.Warn("node attempt failed",
			slog.String("node", node.ID),
			slog.String("execution_id", ex.id),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", ro.maxRetries),
			slog.String("error", err.Error()),
		)

		if attempt == ro.maxRetries {
			break
		}
		if !sleepRetry(ctx, ro.retryDelay) {
			break
		}
	}

	nr.EndedAt = time.Now()
	nr.Duration = nr.EndedAt.Sub(nr.StartedAt)
	if nr.Status != NodeStatusCompleted {
		nr.Status = NodeStatusFailed
		if lastErr != nil {
			nr.Error = NewNodeError(node.ID, lastErr).Error()
		} else {
			nr.Error = NewNodeError(node.ID, ErrNodeFailed).Error()
		}
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, nr.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return nr
}

// invokeUnit calls the unit, converting panics into recorded failures.
func invokeUnit(ctx context.Context, unit WorkUnit, st *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panic: %v", r)
		}
	}()
	_, err = unit.Execute(ctx, st)
	return err
}

// sleepRetry waits out the retry delay. Returns false if the run context
// died first.
func sleepRetry(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildResult finalizes an execution into its Result and terminal status.
func (e *Engine) buildResult(ex *execution, ro *runOptions, planErr, ctxErr error, haltedByFailure bool) *Result {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	// Sweep: every node the strategies never reached is skipped.
	for _, id := range ex.graph.Order() {
		if _, ok := ex.results[id]; !ok {
			ex.results[id] = &NodeResult{NodeID: id, Status: NodeStatusSkipped}
		}
	}

	m := &Metrics{
		StartedAt:      ex.startedAt,
		EndedAt:        time.Now(),
		NodeResults:    make(map[string]NodeResult, len(ex.results)),
		ParallelLevels: ex.parallelLevels,
	}
	m.Duration = m.EndedAt.Sub(m.StartedAt)

	requiredFailed := false
	var errs, warns []string
	for _, id := range ex.graph.Order() {
		nr := ex.results[id]
		m.NodeResults[id] = *nr
		switch nr.Status {
		case NodeStatusCompleted:
			m.NodesExecuted++
			m.NodesSucceeded++
		case NodeStatusFailed:
			m.NodesExecuted++
			m.NodesFailed++
			errs = append(errs, nr.Error)
			if ex.graph.Nodes[id].Optional {
				warns = append(warns, fmt.Sprintf("optional node %q failed; run success unaffected", id))
			} else {
				requiredFailed = true
			}
		case NodeStatusSkipped:
			m.NodesSkipped++
		}
	}

	var status ExecutionStatus
	switch {
	case planErr != nil:
		status = ExecutionFailed
		errs = append(errs, planErr.Error())
	case ex.cancelled.Load():
		status = ExecutionCancelled
		reason := ex.cancelReason
		if reason == "" {
			reason = "cancelled by caller"
		}
		errs = append(errs, fmt.Sprintf("execution cancelled: %s", reason))
	case errors.Is(ctxErr, context.DeadlineExceeded):
		status = ExecutionFailed
		if ro.timeout > 0 {
			errs = append(errs, fmt.Sprintf("execution timeout after %s", ro.timeout))
		} else {
			errs = append(errs, "execution timeout: context deadline exceeded")
		}
	case ctxErr != nil:
		status = ExecutionCancelled
		errs = append(errs, fmt.Sprintf("execution cancelled: %s", ctxErr))
	case requiredFailed || haltedByFailure:
		status = ExecutionFailed
	default:
		status = ExecutionCompleted
	}

	if ro.trackMemory {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		m.MemAllocBytes = ms.HeapAlloc
	}

	res := &Result{
		ExecutionID: ex.id,
		Success:     status == ExecutionCompleted,
		Status:      status,
		FinalState:  ex.state,
		Errors:      errs,
		Warnings:    warns,
		Metrics:     m,
	}
	if status == ExecutionCancelled && m.NodesExecuted == 0 {
		res.FinalState = nil
	}

	ex.status = status
	ex.endedAt = m.EndedAt
	ex.result = res
	return res
}

// CancelExecution requests cooperative cancellation of an active run.
//
// Description:
//
//	Flips the execution's cancel flag (checked before every dispatch) and
//	propagates context cancellation to in-flight nodes on a best-effort
//	basis. Nodes not yet started are recorded as skipped and the run
//	finalizes with status "cancelled".
//
// Inputs:
//
//	id - The execution id.
//	reason - Optional human-readable reason, recorded in the result.
//
// Outputs:
//
//	error - ErrExecutionNotFound for an unknown id; ErrNotCancellable if
//	  the execution already reached a terminal status.
func (e *Engine) CancelExecution(id, reason string) error {
	e.execMu.RLock()
	ex, ok := e.executions[id]
	e.execMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrExecutionNotFound, id)
	}

	ex.mu.Lock()
	if ex.status.Terminal() {
		ex.mu.Unlock()
		return fmt.Errorf("%w: %q is %s", ErrNotCancellable, id, ex.status)
	}
	ex.cancelReason = reason
	cancel := ex.cancel
	ex.mu.Unlock()

	ex.cancelled.Store(true)
	if cancel != nil {
		cancel()
	}
	e.logger.Info("execution cancel requested",
		slog.String("execution_id", id),
		slog.String("reason", reason),
	)
	return nil
}

// ExecutionStatus returns the current status for an execution id.
func (e *Engine) ExecutionStatus(id string) (ExecutionStatus, error) {
	e.execMu.RLock()
	ex, ok := e.executions[id]
	e.execMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrExecutionNotFound, id)
	}
	return ex.currentStatus(), nil
}

// ExecutionMetrics returns a metrics snapshot for an execution id.
//
// Description:
//
//	For terminal executions the snapshot is the final metrics block and
//	identical across calls until ClearCompletedExecutions evicts the id.
//	For live executions it reflects progress so far.
func (e *Engine) ExecutionMetrics(id string) (*Metrics, error) {
	e.execMu.RLock()
	ex, ok := e.executions[id]
	e.execMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, id)
	}

	ex.mu.RLock()
	defer ex.mu.RUnlock()
	if ex.result != nil {
		snap := *ex.result.Metrics
		snap.NodeResults = make(map[string]NodeResult, len(ex.result.Metrics.NodeResults))
		for k, v := range ex.result.Metrics.NodeResults {
			snap.NodeResults[k] = v
		}
		return &snap, nil
	}

	live := &Metrics{
		StartedAt:      ex.startedAt,
		Duration:       time.Since(ex.startedAt),
		NodeResults:    make(map[string]NodeResult, len(ex.results)),
		ParallelLevels: ex.parallelLevels,
	}
	for k, nr := range ex.results {
		live.NodeResults[k] = *nr
		switch nr.Status {
		case NodeStatusCompleted:
			live.NodesExecuted++
			live.NodesSucceeded++
		case NodeStatusFailed:
			live.NodesExecuted++
			live.NodesFailed++
		case NodeStatusSkipped:
			live.NodesSkipped++
		}
	}
	return live, nil
}

// ExecutionContext returns the state threaded through an execution.
//
// Description:
//
//	The returned state is live for running executions; read it through
//	its own thread-safe accessors.
func (e *Engine) ExecutionContext(id string) (*State, error) {
	e.execMu.RLock()
	ex, ok := e.executions[id]
	e.execMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, id)
	}
	return ex.state, nil
}

// ExecutionResult returns the final result for a terminal execution.
//
// Outputs:
//
//	*Result - The finalized result, or nil with an error while the
//	  execution is still active.
func (e *Engine) ExecutionResult(id string) (*Result, error) {
	e.execMu.RLock()
	ex, ok := e.executions[id]
	e.execMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExecutionNotFound, id)
	}
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	if ex.result == nil {
		return nil, fmt.Errorf("execution %q still active", id)
	}
	return ex.result, nil
}

// ActiveExecutions lists ids of executions that have not reached a
// terminal status, sorted for determinism.
func (e *Engine) ActiveExecutions() []string {
	e.execMu.RLock()
	defer e.execMu.RUnlock()
	var out []string
	for id, ex := range e.executions {
		if !ex.currentStatus().Terminal() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ClearCompletedExecutions evicts terminal executions from the tracking
// table and returns how many were removed.
func (e *Engine) ClearCompletedExecutions() int {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	removed := 0
	for id, ex := range e.executions {
		if ex.currentStatus().Terminal() {
			delete(e.executions, id)
			removed++
		}
	}
	return removed
}
