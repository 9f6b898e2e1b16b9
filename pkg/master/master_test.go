package master

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniolvs/mwfaas/pkg/backend"
	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/strategy"
	"github.com/viniolvs/mwfaas/pkg/types"
)

type submission struct {
	Position int
	Endpoint string
}

// fakeBackend records submissions and runs functions on goroutines.
type fakeBackend struct {
	endpoints []types.Endpoint
	listErr   error

	failSubmit map[int]bool
	hang       map[int]bool
	delay      func(position int) time.Duration

	mu      sync.Mutex
	submits []submission
}

func newFakeBackend(n int) *fakeBackend {
	eps := make([]types.Endpoint, n)
	for i := range eps {
		eps[i] = types.Endpoint{ID: fmt.Sprintf("E%d", i)}
	}
	return &fakeBackend{endpoints: eps, failSubmit: map[int]bool{}, hang: map[int]bool{}}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Authenticate(context.Context) error { return nil }

func (b *fakeBackend) ListEndpoints(context.Context) ([]types.Endpoint, error) {
	return b.endpoints, b.listErr
}

func (b *fakeBackend) Submit(_ context.Context, spec backend.TaskSpec, ep types.Endpoint) (*backend.Future, error) {
	pos := spec.Chunk.Position
	b.mu.Lock()
	b.submits = append(b.submits, submission{Position: pos, Endpoint: ep.ID})
	b.mu.Unlock()

	if b.failSubmit[pos] {
		return nil, errors.New("cannot serialize")
	}
	f := backend.NewFuture(pos, ep, clockwork.NewRealClock())
	if b.hang[pos] {
		return f, nil
	}
	go func() {
		if b.delay != nil {
			time.Sleep(b.delay(pos))
		}
		f.Start()
		f.Resolve(spec.Function.Call(context.Background(), spec.Chunk.Data, spec.Metadata))
	}()
	return f, nil
}

func (b *fakeBackend) Await(ctx context.Context, f *backend.Future, timeout time.Duration) (any, error) {
	return f.Wait(ctx, timeout)
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) recorded() []submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]submission(nil), b.submits...)
}

func rangeInput(from, to int) []any {
	out := make([]any, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func newTestMaster(t *testing.T, be backend.Backend, mutate func(*Config)) *Master {
	t.Helper()
	st, err := strategy.New(strategy.NameList)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Strategy.ItemsPerChunk = 2
	if mutate != nil {
		mutate(cfg)
	}
	m, err := New(st, be, cfg)
	require.NoError(t, err)
	return m
}

var failOnThree = function.Native("fail-on-three", func(_ context.Context, data any, _ types.Metadata) (any, error) {
	for _, v := range data.([]any) {
		if v == 3 {
			return nil, errors.New("three is not allowed")
		}
	}
	return data, nil
})

func TestEndToEndSquareAndFlatten(t *testing.T) {
	mem, err := backend.NewMemory(&backend.MemoryConfig{Endpoints: 2, PoolSize: 4})
	require.NoError(t, err)
	defer mem.Close()

	m := newTestMaster(t, mem, nil)
	ctx := context.Background()

	res, err := m.Run(ctx, rangeInput(1, 10), function.DefaultRegistry.Get("square"), nil)
	require.NoError(t, err)
	require.True(t, res.Complete())
	assert.Equal(t, StateDone, m.State())

	expected := [][]int64{{1, 4}, {9, 16}, {25, 36}, {49, 64}, {81, 100}}
	require.Len(t, res.Outcomes, len(expected))
	for i, want := range expected {
		assert.Equal(t, i, res.Outcomes[i].Position)
		got, err := function.Convert[[]int64](res.Outcomes[i].Value)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	flat, err := m.Reduce(ctx, res, function.Flatten)
	require.NoError(t, err)
	got, err := function.Convert[[]int64](flat)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4, 9, 16, 25, 36, 49, 64, 81, 100}, got)
}

func TestEndToEndWithCodecRoundTrip(t *testing.T) {
	mem, err := backend.NewMemory(&backend.MemoryConfig{Endpoints: 3, PoolSize: 2, RoundTrip: true})
	require.NoError(t, err)
	defer mem.Close()

	m := newTestMaster(t, mem, nil)
	ctx := context.Background()

	res, err := m.Run(ctx, rangeInput(1, 10), function.DefaultRegistry.Get("square"), nil)
	require.NoError(t, err)

	sum, err := m.Reduce(ctx, res, function.Sum)
	require.NoError(t, err)
	assert.Equal(t, int64(385), sum)
}

func TestRoundRobinAssignment(t *testing.T) {
	be := newFakeBackend(2)
	m := newTestMaster(t, be, func(c *Config) { c.Strategy.ItemsPerChunk = 1 })

	res, err := m.Run(context.Background(), rangeInput(1, 5), function.DefaultRegistry.Get("identity"), nil)
	require.NoError(t, err)

	var endpoints []string
	for _, s := range be.recorded() {
		endpoints = append(endpoints, s.Endpoint)
	}
	assert.Equal(t, []string{"E0", "E1", "E0", "E1", "E0"}, endpoints)
	for i, o := range res.Outcomes {
		assert.Equal(t, endpoints[i], o.Endpoint)
	}
}

func TestRoundRobinRestartsEachRun(t *testing.T) {
	be := newFakeBackend(2)
	m := newTestMaster(t, be, func(c *Config) { c.Strategy.ItemsPerChunk = 1 })
	fn := function.DefaultRegistry.Get("identity")

	_, err := m.Run(context.Background(), rangeInput(1, 3), fn, nil)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), rangeInput(1, 3), fn, nil)
	require.NoError(t, err)

	var endpoints []string
	for _, s := range be.recorded() {
		endpoints = append(endpoints, s.Endpoint)
	}
	assert.Equal(t, []string{"E0", "E1", "E0", "E0", "E1", "E0"}, endpoints)
}

func TestNoEndpointsMeansNoSubmits(t *testing.T) {
	be := newFakeBackend(0)
	m := newTestMaster(t, be, nil)

	res, err := m.Run(context.Background(), rangeInput(1, 10), function.DefaultRegistry.Get("square"), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, types.ErrNoEndpointsAvailable))
	assert.Empty(t, be.recorded())
	assert.Equal(t, StateFailed, m.State())
}

func TestListEndpointsFailure(t *testing.T) {
	be := newFakeBackend(2)
	be.listErr = errors.New("provider down")
	m := newTestMaster(t, be, nil)

	_, err := m.Run(context.Background(), rangeInput(1, 4), function.DefaultRegistry.Get("identity"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBackendUnavailable))
	assert.Empty(t, be.recorded())

	be.listErr = types.NewUnauthenticatedError("bad key", nil)
	_, err = m.Run(context.Background(), rangeInput(1, 4), function.DefaultRegistry.Get("identity"), nil)
	assert.True(t, errors.Is(err, types.ErrUnauthenticated))
}

func TestSplitErrorsAbortBeforeDispatch(t *testing.T) {
	be := newFakeBackend(2)

	t.Run("empty input", func(t *testing.T) {
		m := newTestMaster(t, be, nil)
		_, err := m.Run(context.Background(), []any{}, function.DefaultRegistry.Get("identity"), nil)
		assert.True(t, errors.Is(err, types.ErrEmptyInput))
		assert.Equal(t, StateFailed, m.State())
	})

	t.Run("invalid chunk size", func(t *testing.T) {
		m := newTestMaster(t, be, func(c *Config) { c.Strategy.ItemsPerChunk = 0 })
		_, err := m.Run(context.Background(), rangeInput(1, 4), function.DefaultRegistry.Get("identity"), nil)
		assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))
	})

	assert.Empty(t, be.recorded())
}

func TestOneFailureDoesNotBlockOthers(t *testing.T) {
	be := newFakeBackend(3)
	m := newTestMaster(t, be, nil)
	ctx := context.Background()

	res, err := m.Run(ctx, rangeInput(1, 10), failOnThree, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StateFailed, m.State())

	assert.Equal(t, []int{1}, res.Failed())
	assert.False(t, res.Complete())
	assert.True(t, types.IsRemoteExecutionError(res.Outcomes[1].Err))
	for i, o := range res.Outcomes {
		if i == 1 {
			continue
		}
		assert.NoError(t, o.Err)
		assert.NotNil(t, o.Value)
	}
	assert.Len(t, res.Values(), 4)
	assert.Equal(t, 1, res.Stats.Failed)

	_, err = m.Reduce(ctx, res, function.Flatten)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrReduceOnIncompleteResult))
	assert.Contains(t, err.Error(), "[1]")
}

func TestAggregateFailureMode(t *testing.T) {
	be := newFakeBackend(2)
	m := newTestMaster(t, be, func(c *Config) {
		c.FailureMode = FailureModeAggregate
		c.Strategy.ItemsPerChunk = 1
	})

	res, err := m.Run(context.Background(), []any{3, 1, 3, 2}, failOnThree, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, errors.Is(err, types.ErrRemoteExecution))
	assert.Contains(t, err.Error(), "2 of 4 chunks failed")
	assert.Contains(t, err.Error(), "chunk 0")
	assert.Contains(t, err.Error(), "chunk 2")
	assert.Equal(t, []int{0, 2}, res.Failed())
}

func TestAggregateModeWithoutFailures(t *testing.T) {
	be := newFakeBackend(2)
	m := newTestMaster(t, be, func(c *Config) { c.FailureMode = FailureModeAggregate })

	res, err := m.Run(context.Background(), rangeInput(1, 4), function.DefaultRegistry.Get("identity"), nil)
	require.NoError(t, err)
	assert.NoError(t, res.Err())
}

func TestSubmitFailureAborts(t *testing.T) {
	be := newFakeBackend(2)
	be.failSubmit[2] = true
	m := newTestMaster(t, be, func(c *Config) { c.Strategy.ItemsPerChunk = 1 })

	res, err := m.Run(context.Background(), rangeInput(1, 5), function.DefaultRegistry.Get("identity"), nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, types.IsSubmissionError(err))

	var te *types.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Position)
	assert.Equal(t, "E0", te.Endpoint)

	assert.Len(t, be.recorded(), 3, "dispatch stops at the failing chunk")
	statuses := m.TaskStatuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, types.TaskStateFailed, statuses[2].State)
	assert.NotEmpty(t, statuses[0].TaskID)
}

func TestSubmitFailureRecorded(t *testing.T) {
	be := newFakeBackend(2)
	be.failSubmit[2] = true
	m := newTestMaster(t, be, func(c *Config) {
		c.Strategy.ItemsPerChunk = 1
		c.SubmitFailurePolicy = SubmitRecord
	})

	res, err := m.Run(context.Background(), rangeInput(1, 5), function.DefaultRegistry.Get("identity"), nil)
	require.NoError(t, err)
	assert.Len(t, be.recorded(), 5)
	assert.Equal(t, []int{2}, res.Failed())
	assert.True(t, types.IsSubmissionError(res.Outcomes[2].Err))
	assert.Equal(t, []any{[]any{1}, []any{2}, []any{4}, []any{5}}, res.Values())
}

func TestAwaitTimeoutMarksPosition(t *testing.T) {
	be := newFakeBackend(2)
	be.hang[1] = true
	m := newTestMaster(t, be, func(c *Config) {
		c.Strategy.ItemsPerChunk = 1
		c.AwaitTimeout = 20 * time.Millisecond
	})

	res, err := m.Run(context.Background(), rangeInput(1, 3), function.DefaultRegistry.Get("identity"), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Failed())
	assert.True(t, types.IsTimedOut(res.Outcomes[1].Err))
	assert.Contains(t, res.Outcomes[1].Err.Error(), "may still be running")

	statuses := m.TaskStatuses()
	assert.Equal(t, types.TaskStateSubmitted, statuses[1].State, "the remote task is not cancelled")
	assert.Equal(t, types.TaskStateCompleted, statuses[0].State)
}

func TestRunTimeoutStopsWaiting(t *testing.T) {
	be := newFakeBackend(1)
	be.hang[0] = true
	be.hang[1] = true
	m := newTestMaster(t, be, func(c *Config) {
		c.Strategy.ItemsPerChunk = 1
		c.RunTimeout = 30 * time.Millisecond
	})

	start := time.Now()
	res, err := m.Run(context.Background(), rangeInput(1, 3), function.DefaultRegistry.Get("identity"), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []int{0, 1}, res.Failed())
	assert.True(t, types.IsTimedOut(res.Outcomes[0].Err))
	assert.NoError(t, res.Outcomes[2].Err)
}

func TestBoundedConcurrentWaits(t *testing.T) {
	be := newFakeBackend(4)
	be.delay = func(int) time.Duration { return time.Millisecond }
	m := newTestMaster(t, be, func(c *Config) {
		c.Strategy.ItemsPerChunk = 1
		c.MaxConcurrentWaits = 2
	})

	res, err := m.Run(context.Background(), rangeInput(1, 12), function.DefaultRegistry.Get("identity"), nil)
	require.NoError(t, err)
	assert.True(t, res.Complete())
	for i, v := range res.Values() {
		assert.Equal(t, []any{i + 1}, v)
	}
}

func TestMetadataReachesEveryChunk(t *testing.T) {
	be := newFakeBackend(2)
	m := newTestMaster(t, be, nil)
	echo := function.Native("echo-meta", func(_ context.Context, _ any, meta types.Metadata) (any, error) {
		return meta["tag"], nil
	})

	res, err := m.Run(context.Background(), rangeInput(1, 6), echo, types.Metadata{"tag": "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "x", "x"}, res.Values())
}

func TestReduceArguments(t *testing.T) {
	m := newTestMaster(t, newFakeBackend(1), nil)
	ctx := context.Background()

	_, err := m.Reduce(ctx, nil, function.Flatten)
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))

	res := &RunResult{Outcomes: []Outcome{{Position: 0, Value: 1}}}
	_, err = m.Reduce(ctx, res, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))

	_, err = m.Reduce(ctx, res, func(context.Context, []any) (any, error) { return nil, errors.New("nope") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reduce")

	v, err := m.Reduce(ctx, res, function.Count)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestNewValidation(t *testing.T) {
	st, err := strategy.New(strategy.NameList)
	require.NoError(t, err)
	be := newFakeBackend(1)

	_, err = New(nil, be, nil)
	assert.Error(t, err)
	_, err = New(st, nil, nil)
	assert.Error(t, err)
	_, err = New(st, be, &Config{FailureMode: "loud", SubmitFailurePolicy: SubmitAbort})
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))

	m, err := New(st, be, nil)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), rangeInput(1, 2), nil, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))
}

func TestStateAndString(t *testing.T) {
	m := newTestMaster(t, newFakeBackend(1), nil)
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.TaskStatuses())
	assert.Equal(t, "Master{backend=fake, strategy=list, state=idle}", m.String())

	_, err := m.Run(context.Background(), rangeInput(1, 4), function.DefaultRegistry.Get("identity"), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(m.String(), "state=done}"))
	assert.True(t, m.State().Terminal())
	assert.Equal(t, "unknown", State(42).String())
}

func TestOverlappingRunsReportLatestRun(t *testing.T) {
	be := newFakeBackend(2)
	m := newTestMaster(t, be, func(c *Config) { c.Strategy.ItemsPerChunk = 1 })

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := function.Native("blocking", func(context.Context, any, types.Metadata) (any, error) {
		once.Do(func() { close(started) })
		<-release
		return nil, errors.New("released")
	})

	slowDone := make(chan *RunResult, 1)
	go func() {
		res, _ := m.Run(context.Background(), rangeInput(1, 3), blocking, nil)
		slowDone <- res
	}()
	<-started

	res, err := m.Run(context.Background(), rangeInput(1, 1), function.DefaultRegistry.Get("identity"), nil)
	require.NoError(t, err)
	require.True(t, res.Complete())
	assert.Equal(t, StateDone, m.State())

	close(release)
	slow := <-slowDone
	require.NotNil(t, slow)
	assert.Len(t, slow.Failed(), 3)

	assert.Equal(t, StateDone, m.State(), "an older run must not overwrite the state of a newer one")
	statuses := m.TaskStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, types.TaskStateCompleted, statuses[0].State)
}

func TestStats(t *testing.T) {
	outcomes := []Outcome{
		{Position: 0, Latency: 10 * time.Millisecond},
		{Position: 1, Latency: 20 * time.Millisecond},
		{Position: 2, Latency: 30 * time.Millisecond},
		{Position: 3, Err: errors.New("x")},
	}
	s := newStats(outcomes)
	assert.EqualValues(t, 3, s.Count)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, float64(10*time.Millisecond), float64(s.Min), float64(50*time.Microsecond))
	assert.InDelta(t, float64(30*time.Millisecond), float64(s.Max), float64(50*time.Microsecond))
	assert.InDelta(t, float64(20*time.Millisecond), float64(s.Mean), float64(50*time.Microsecond))
	assert.InDelta(t, float64(20*time.Millisecond), float64(s.P50), float64(50*time.Microsecond))
	assert.Contains(t, s.String(), "count=3")

	empty := newStats(nil)
	assert.Zero(t, empty.Count)
}

func TestParseConfigValues(t *testing.T) {
	mode, err := ParseFailureMode("aggregate")
	require.NoError(t, err)
	assert.Equal(t, FailureModeAggregate, mode)
	_, err = ParseFailureMode("x")
	assert.Error(t, err)

	policy, err := ParseSubmitFailurePolicy("record")
	require.NoError(t, err)
	assert.Equal(t, SubmitRecord, policy)
	_, err = ParseSubmitFailurePolicy("x")
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.AwaitTimeout = -1
	assert.Error(t, cfg.Validate())
}
