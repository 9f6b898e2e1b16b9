package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/viniolvs/mwfaas/pkg/backend"
	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/strategy"
	"github.com/viniolvs/mwfaas/pkg/types"
)

// Master runs functions over partitioned data through one Backend.
// A Master is safe for concurrent use. State and TaskStatuses describe the
// most recently started run; a run that is overtaken by a newer one stops
// updating them.
type Master struct {
	config   *Config
	strategy strategy.Strategy
	backend  backend.Backend
	clock    clockwork.Clock
	log      *zap.Logger

	state atomic.Int32
	// runs numbers runs; only the latest may write state and statuses.
	runs atomic.Uint64

	// cursorMu serializes endpoint assignment.
	cursorMu sync.Mutex
	cursor   int

	mu       sync.RWMutex
	statuses []taskHandle
}

// taskHandle tracks one position of the most recent run.
type taskHandle struct {
	position int
	endpoint string
	future   *backend.Future
	err      error
}

// TaskStatus describes one position of the most recent run.
type TaskStatus struct {
	Position int
	Endpoint string
	TaskID   string
	State    types.TaskState
}

// Option configures a Master.
type Option func(*Master)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Master) { m.log = l }
}

// WithClock sets the clock used to time runs.
func WithClock(c clockwork.Clock) Option {
	return func(m *Master) { m.clock = c }
}

// New creates a Master composed of one strategy and one backend.
func New(st strategy.Strategy, be backend.Backend, config *Config, opts ...Option) (*Master, error) {
	if st == nil {
		return nil, types.NewInvalidConfigurationError("a strategy is required")
	}
	if be == nil {
		return nil, types.NewInvalidConfigurationError("a backend is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Master{
		config:   config,
		strategy: st,
		backend:  be,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.log = m.log.Named("master")
	return m, nil
}

// State returns the state of the most recent run.
func (m *Master) State() State {
	return State(m.state.Load())
}

func (m *Master) setState(run uint64, s State) {
	m.mu.Lock()
	if m.runs.Load() == run {
		m.state.Store(int32(s))
	}
	m.mu.Unlock()
}

// String describes the master.
func (m *Master) String() string {
	return fmt.Sprintf("Master{backend=%s, strategy=%s, state=%s}", m.backend.Name(), m.strategy.Name(), m.State())
}

// TaskStatuses returns the state of every position of the most recent run.
func (m *Master) TaskStatuses() []TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TaskStatus, len(m.statuses))
	for i, h := range m.statuses {
		st := TaskStatus{Position: h.position, Endpoint: h.endpoint, State: types.TaskStateSubmitted}
		switch {
		case h.future != nil:
			st.TaskID = h.future.ID()
			st.State = h.future.State()
		case h.err != nil:
			st.State = types.TaskStateFailed
		}
		out[i] = st
	}
	return out
}

// Run splits data, submits every chunk and collects the outcomes by position.
//
// Errors raised before dispatch (configuration, empty input, backend or
// endpoint availability, and submission errors under SubmitAbort) return a
// nil RunResult. Once dispatch completes a RunResult is always returned; it
// carries an error only in FailureModeAggregate when a position failed.
//
// A run timeout or cancelled ctx stops waiting. Positions still pending are
// reported as TimedOut while their remote work may keep running.
func (m *Master) Run(ctx context.Context, data any, fn function.Function, meta types.Metadata) (*RunResult, error) {
	if fn == nil {
		return nil, types.NewInvalidConfigurationError("a function is required")
	}
	if m.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.RunTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	log := m.log.With(zap.String("run_id", runID), zap.String("function", fn.Descriptor().Name))
	started := m.clock.Now()
	run := m.runs.Add(1)

	m.setState(run, StateSplitting)
	chunks, err := m.strategy.Split(data, m.config.Strategy)
	if err != nil {
		m.setState(run, StateFailed)
		log.Warn("split failed", zap.Error(err))
		return nil, err
	}
	log.Debug("data split", zap.String("strategy", m.strategy.Name()), zap.Int("chunks", len(chunks)))

	m.setState(run, StateDispatching)
	endpoints, err := m.backend.ListEndpoints(ctx)
	if err != nil {
		m.setState(run, StateFailed)
		var te *types.Error
		if !errors.As(err, &te) {
			err = types.NewBackendUnavailableError("cannot list endpoints", err)
		}
		log.Warn("endpoint listing failed", zap.Error(err))
		return nil, err
	}
	if len(endpoints) == 0 {
		m.setState(run, StateFailed)
		err := types.NewNoEndpointsAvailableError()
		log.Warn("run aborted", zap.Error(err))
		return nil, err
	}

	result := &RunResult{RunID: runID, Outcomes: make([]Outcome, len(chunks))}
	futures, err := m.dispatch(ctx, run, log, chunks, endpoints, fn, meta, result)
	if err != nil {
		m.setState(run, StateFailed)
		return nil, err
	}

	m.setState(run, StateCollecting)
	m.collect(ctx, log, futures, result)
	result.Stats = newStats(result.Outcomes)
	result.Elapsed = m.clock.Since(started)

	if result.Complete() {
		m.setState(run, StateDone)
		log.Info("run completed", zap.Int("chunks", result.Len()), zap.Duration("elapsed", result.Elapsed))
		return result, nil
	}

	m.setState(run, StateFailed)
	log.Warn("run finished with failed chunks",
		zap.Ints("failed", result.Failed()),
		zap.Int("chunks", result.Len()),
		zap.Duration("elapsed", result.Elapsed))
	if m.config.FailureMode == FailureModeAggregate {
		return result, result.Err()
	}
	return result, nil
}

// dispatch submits every chunk without waiting for results. Endpoints are
// assigned round-robin starting from the first endpoint, so chunk i goes to
// endpoint i mod len(endpoints).
func (m *Master) dispatch(
	ctx context.Context,
	run uint64,
	log *zap.Logger,
	chunks []types.Chunk,
	endpoints []types.Endpoint,
	fn function.Function,
	meta types.Metadata,
	result *RunResult,
) ([]*backend.Future, error) {
	futures := make([]*backend.Future, len(chunks))
	handles := make([]taskHandle, len(chunks))

	m.cursorMu.Lock()
	defer m.cursorMu.Unlock()
	m.cursor = 0

	submitted := 0
	for i, chunk := range chunks {
		ep := m.nextEndpoint(endpoints)
		spec := backend.TaskSpec{Function: fn, Chunk: chunk, Metadata: meta.Clone()}

		result.Outcomes[i] = Outcome{Position: chunk.Position, Endpoint: ep.ID}
		handles[i] = taskHandle{position: chunk.Position, endpoint: ep.ID}

		f, err := m.backend.Submit(ctx, spec, ep)
		if err != nil {
			err = positioned(types.NewSubmissionError(chunk.Position, ep.ID, "submit failed", err), err, chunk.Position, ep.ID)
			if m.config.SubmitFailurePolicy == SubmitAbort {
				log.Warn("submission failed, aborting run",
					zap.Int("position", chunk.Position),
					zap.String("endpoint", ep.ID),
					zap.Int("already_submitted", submitted),
					zap.Error(err))
				if submitted > 0 {
					log.Warn("already submitted tasks were not cancelled and may still be running",
						zap.Int("count", submitted))
				}
				handles[i].err = err
				m.publish(run, handles[:i+1])
				return nil, err
			}
			log.Warn("submission failed, recording", zap.Int("position", chunk.Position), zap.Error(err))
			result.Outcomes[i].Err = err
			handles[i].err = err
			continue
		}

		submitted++
		futures[i] = f
		handles[i].future = f
		result.Outcomes[i].TaskID = f.ID()
		log.Debug("chunk submitted",
			zap.Int("position", chunk.Position),
			zap.String("endpoint", ep.ID),
			zap.String("task_id", f.ID()))
	}

	m.publish(run, handles)
	log.Info("chunks dispatched", zap.Int("submitted", submitted), zap.Int("endpoints", len(endpoints)))
	return futures, nil
}

// nextEndpoint advances the round-robin cursor. Callers hold cursorMu.
func (m *Master) nextEndpoint(endpoints []types.Endpoint) types.Endpoint {
	ep := endpoints[m.cursor%len(endpoints)]
	m.cursor++
	return ep
}

func (m *Master) publish(run uint64, handles []taskHandle) {
	m.mu.Lock()
	if m.runs.Load() == run {
		m.statuses = handles
	}
	m.mu.Unlock()
}

// collect waits for every future and stores each outcome at its position.
func (m *Master) collect(ctx context.Context, log *zap.Logger, futures []*backend.Future, result *RunResult) {
	var g errgroup.Group
	if m.config.MaxConcurrentWaits > 0 {
		g.SetLimit(m.config.MaxConcurrentWaits)
	}

	for i, f := range futures {
		if f == nil {
			continue
		}
		g.Go(func() error {
			out := &result.Outcomes[i]
			value, err := m.backend.Await(ctx, f, m.config.AwaitTimeout)
			out.Latency = f.Latency()
			if err != nil {
				out.Err = positioned(types.NewRemoteExecutionError(out.Position, out.Endpoint, "task failed", err), err, out.Position, out.Endpoint)
				if types.IsTimedOut(out.Err) {
					log.Warn("stopped waiting for chunk; remote work may still be running",
						zap.Int("position", out.Position),
						zap.String("endpoint", out.Endpoint),
						zap.String("task_id", out.TaskID))
				} else {
					log.Debug("chunk failed", zap.Int("position", out.Position), zap.Error(out.Err))
				}
				return nil
			}
			out.Value = value
			log.Debug("chunk completed",
				zap.Int("position", out.Position),
				zap.String("endpoint", out.Endpoint),
				zap.Duration("latency", out.Latency))
			return nil
		})
	}
	_ = g.Wait()
}

// positioned returns err as a *types.Error bound to position. Errors that
// are not *types.Error are replaced by fallback.
func positioned(fallback *types.Error, err error, position int, endpoint string) error {
	var te *types.Error
	if !errors.As(err, &te) {
		return fallback
	}
	if te.Position == types.NoPosition {
		return te.WithPosition(position, endpoint)
	}
	return err
}

// Reduce applies reducer to the successful values of res in position order.
// It fails with ReduceOnIncompleteResult when any position failed.
func (m *Master) Reduce(ctx context.Context, res *RunResult, reducer function.Reducer) (any, error) {
	if res == nil {
		return nil, types.NewInvalidConfigurationError("nothing to reduce")
	}
	if reducer == nil {
		return nil, types.NewInvalidConfigurationError("a reducer is required")
	}
	if failed := res.Failed(); len(failed) > 0 {
		return nil, types.NewReduceOnIncompleteResultError(failed)
	}
	value, err := reducer(ctx, res.Values())
	if err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}
	m.log.Debug("run reduced", zap.String("run_id", res.RunID), zap.Int("values", res.Len()))
	return value, nil
}
