package backend

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/viniolvs/mwfaas/pkg/codec"
	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/types"
)

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	// Endpoints is the number of simulated endpoints, named local-0..local-N-1.
	Endpoints int
	// PoolSize bounds concurrently executing tasks.
	PoolSize int
	// RoundTrip executes every task from its encoded form, as a remote
	// worker would, instead of calling the function directly.
	RoundTrip bool
	// ReleaseTimeout bounds how long Close waits for running tasks.
	ReleaseTimeout time.Duration

	Codec    codec.Codec
	Registry *function.Registry
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// DefaultMemoryConfig returns one endpoint and one pool slot per CPU.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		Endpoints:      runtime.NumCPU(),
		PoolSize:       runtime.NumCPU(),
		ReleaseTimeout: 5 * time.Second,
	}
}

// Memory runs tasks on a local goroutine pool. Each submitted task is still
// encoded with the configured codec so that tasks which could not travel to
// a real worker fail at submission time.
type Memory struct {
	cfg       *MemoryConfig
	pool      *ants.Pool
	endpoints []types.Endpoint
	codec     codec.Codec
	registry  *function.Registry
	clock     clockwork.Clock
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewMemory creates the in-process backend.
func NewMemory(cfg *MemoryConfig) (*Memory, error) {
	if cfg == nil {
		cfg = DefaultMemoryConfig()
	}
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.PoolSize)
	}
	if cfg.Endpoints < 0 {
		return nil, fmt.Errorf("endpoint count cannot be negative, got %d", cfg.Endpoints)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("memory-backend")

	pool, err := ants.NewPool(cfg.PoolSize, ants.WithPanicHandler(func(p any) {
		log.Error("worker pool panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	endpoints := make([]types.Endpoint, cfg.Endpoints)
	for i := range endpoints {
		endpoints[i] = types.Endpoint{ID: fmt.Sprintf("local-%d", i)}
	}

	m := &Memory{
		cfg:       cfg,
		pool:      pool,
		endpoints: endpoints,
		codec:     cfg.Codec,
		registry:  cfg.Registry,
		clock:     cfg.Clock,
		log:       log,
	}
	if m.codec == nil {
		m.codec = codec.Default
	}
	if m.registry == nil {
		m.registry = function.DefaultRegistry
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Name returns "memory".
func (m *Memory) Name() string {
	return "memory"
}

// Authenticate always succeeds while the backend is open.
func (m *Memory) Authenticate(_ context.Context) error {
	if m.closed.Load() {
		return types.NewBackendUnavailableError("memory backend is closed", nil)
	}
	return nil
}

// ListEndpoints implements Backend.
func (m *Memory) ListEndpoints(_ context.Context) ([]types.Endpoint, error) {
	if m.closed.Load() {
		return nil, types.NewBackendUnavailableError("memory backend is closed", nil)
	}
	return append([]types.Endpoint(nil), m.endpoints...), nil
}

// Submit implements Backend.
func (m *Memory) Submit(_ context.Context, spec TaskSpec, ep types.Endpoint) (*Future, error) {
	pos := spec.Chunk.Position
	if m.closed.Load() {
		return nil, types.NewSubmissionError(pos, ep.ID, "memory backend is closed", nil)
	}

	f := NewFuture(pos, ep, m.clock)
	env, err := codec.NewEnvelope(f.ID(), spec.Function, spec.Chunk, spec.Metadata)
	if err != nil {
		return nil, types.NewSubmissionError(pos, ep.ID, "malformed task", err)
	}
	raw, err := m.codec.MarshalTask(env)
	if err != nil {
		return nil, types.NewSubmissionError(pos, ep.ID, "cannot serialize task", err)
	}

	m.submitted.Add(1)
	m.log.Debug("task submitted",
		zap.String("task_id", f.ID()),
		zap.Int("position", pos),
		zap.String("endpoint", ep.ID))

	// Pool admission may block while all slots are busy, so it happens off
	// the caller's goroutine.
	go func() {
		if err := m.pool.Submit(func() { m.execute(f, spec, raw) }); err != nil {
			f.Resolve(nil, types.NewRemoteExecutionError(pos, ep.ID, "worker pool rejected task", err))
		}
	}()
	return f, nil
}

func (m *Memory) execute(f *Future, spec TaskSpec, raw []byte) {
	f.Start()
	defer func() {
		if r := recover(); r != nil {
			f.Resolve(nil, types.NewRemoteExecutionError(f.Position(), f.Endpoint().ID,
				"task panicked", fmt.Errorf("%v", r)))
		}
	}()

	if !m.cfg.RoundTrip {
		f.Resolve(spec.Function.Call(m.ctx, spec.Chunk.Data, spec.Metadata))
		return
	}

	env, err := m.codec.UnmarshalTask(raw)
	if err != nil {
		f.Resolve(nil, err)
		return
	}
	fn, err := m.registry.Resolve(env.Function)
	if err != nil {
		f.Resolve(nil, err)
		return
	}
	value, callErr := fn.Call(m.ctx, env.Data, env.Metadata)
	encoded, err := m.codec.MarshalResult(value, callErr)
	if err != nil {
		f.Resolve(nil, err)
		return
	}
	res, err := m.codec.UnmarshalResult(encoded)
	if err != nil {
		f.Resolve(nil, err)
		return
	}
	f.Resolve(res.Value, res.Err())
}

// Await implements Backend.
func (m *Memory) Await(ctx context.Context, f *Future, timeout time.Duration) (any, error) {
	if f == nil {
		return nil, fmt.Errorf("nil future")
	}
	return f.Wait(ctx, timeout)
}

// Submitted returns the number of accepted submissions.
func (m *Memory) Submitted() int64 {
	return m.submitted.Load()
}

// PoolSize returns the number of tasks that can execute at once.
func (m *Memory) PoolSize() int {
	return m.pool.Cap()
}

// Running returns the number of tasks currently executing.
func (m *Memory) Running() int {
	return m.pool.Running()
}

// Close stops accepting work and waits up to ReleaseTimeout for running tasks.
func (m *Memory) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		timeout := m.cfg.ReleaseTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		err = m.pool.ReleaseTimeout(timeout)
		m.cancel()
	})
	return err
}

var _ Backend = (*Memory)(nil)
