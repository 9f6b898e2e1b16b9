package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniolvs/mwfaas/pkg/codec"
	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/types"
)

func newTestServer(t *testing.T, mutate func(*Config), opts ...Option) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "test-worker"
	cfg.PoolSize = 2
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewServer(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func encodeTask(t *testing.T, id string, fn function.Function, position int, data any, meta types.Metadata) []byte {
	t.Helper()
	env, err := codec.NewEnvelope(id, fn, types.Chunk{Position: position, Data: data}, meta)
	require.NoError(t, err)
	raw, err := codec.Default.MarshalTask(env)
	require.NoError(t, err)
	return raw
}

func do(t *testing.T, s *Server, method, path string, body []byte, headers map[string]string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func waitTerminal(t *testing.T, s *Server, id string, headers map[string]string) types.TaskStatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		code, body := do(t, s, http.MethodGet, types.PathTasks+"/"+id, nil, headers)
		require.Equal(t, http.StatusOK, code, string(body))

		var status types.TaskStatusResponse
		require.NoError(t, sonic.Unmarshal(body, &status))
		state, err := types.ParseTaskState(status.State)
		require.NoError(t, err)
		if state.Terminal() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return types.TaskStatusResponse{}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := do(t, s, http.MethodGet, types.PathHealth, nil, nil)
	assert.Equal(t, http.StatusOK, code)

	var health types.HealthResponse
	require.NoError(t, sonic.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test-worker", health.Worker)
	assert.Equal(t, 2, health.Capacity)
}

func TestSubmitAndFetchTask(t *testing.T) {
	s := newTestServer(t, nil)
	raw := encodeTask(t, "task-1", function.DefaultRegistry.Get("square"), 4, []int{3, 4}, nil)

	code, body := do(t, s, http.MethodPost, types.PathTasks, raw, nil)
	require.Equal(t, http.StatusAccepted, code, string(body))

	var accepted types.TaskSubmitResponse
	require.NoError(t, sonic.Unmarshal(body, &accepted))
	assert.Equal(t, "task-1", accepted.TaskID)

	status := waitTerminal(t, s, "task-1", nil)
	assert.Equal(t, "completed", status.State)
	assert.Equal(t, 4, status.Position)

	res, err := codec.Default.UnmarshalResult(status.Result)
	require.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Equal(t, []any{int64(9), int64(16)}, res.Value)

	code, _ = do(t, s, http.MethodDelete, types.PathTasks+"/task-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, s, http.MethodGet, types.PathTasks+"/task-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestScriptTask(t *testing.T) {
	s := newTestServer(t, nil)
	script, err := function.NewScript("inc", "(xs, meta) => xs.map(x => x + meta.step)")
	require.NoError(t, err)

	raw := encodeTask(t, "task-js", script, 0, []int{1, 2}, types.Metadata{"step": 10})
	code, _ := do(t, s, http.MethodPost, types.PathTasks, raw, nil)
	require.Equal(t, http.StatusAccepted, code)

	status := waitTerminal(t, s, "task-js", nil)
	res, err := codec.Default.UnmarshalResult(status.Result)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(11), int64(12)}, res.Value)
}

func TestFailingTask(t *testing.T) {
	registry := function.NewRegistry()
	registry.MustRegister(function.Native("boom", func(context.Context, any, types.Metadata) (any, error) {
		return nil, errors.New("division by zero")
	}))
	registry.MustRegister(function.Native("panic", func(context.Context, any, types.Metadata) (any, error) {
		panic("kaput")
	}))
	s := newTestServer(t, nil, WithRegistry(registry))

	for id, name := range map[string]string{"t-err": "boom", "t-panic": "panic", "t-missing": "nope"} {
		raw := encodeTask(t, id, function.Native(name, nil), 0, 1, nil)
		code, _ := do(t, s, http.MethodPost, types.PathTasks, raw, nil)
		require.Equal(t, http.StatusAccepted, code)
	}

	for id, msg := range map[string]string{"t-err": "division by zero", "t-panic": "kaput", "t-missing": "nope"} {
		status := waitTerminal(t, s, id, nil)
		assert.Equal(t, "failed", status.State, id)
		res, err := codec.Default.UnmarshalResult(status.Result)
		require.NoError(t, err)
		assert.ErrorContains(t, res.Err(), msg)
	}
}

func TestSubmitRejectsBadBodies(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := do(t, s, http.MethodPost, types.PathTasks, []byte("{"), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var errResp types.ErrorResponse
	require.NoError(t, sonic.Unmarshal(body, &errResp))
	assert.Equal(t, "error_400", errResp.Error)

	raw := encodeTask(t, "dup", function.DefaultRegistry.Get("identity"), 0, 1, nil)
	code, _ = do(t, s, http.MethodPost, types.PathTasks, raw, nil)
	require.Equal(t, http.StatusAccepted, code)
	code, _ = do(t, s, http.MethodPost, types.PathTasks, raw, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestDeleteRunningTaskConflicts(t *testing.T) {
	release := make(chan struct{})
	registry := function.NewRegistry()
	registry.MustRegister(function.Native("wait", func(context.Context, any, types.Metadata) (any, error) {
		<-release
		return nil, nil
	}))
	s := newTestServer(t, nil, WithRegistry(registry))
	defer close(release)

	raw := encodeTask(t, "slow", function.Native("wait", nil), 0, 1, nil)
	code, _ := do(t, s, http.MethodPost, types.PathTasks, raw, nil)
	require.Equal(t, http.StatusAccepted, code)

	code, _ = do(t, s, http.MethodDelete, types.PathTasks+"/slow", nil, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.APIKey = "secret" })

	code, _ := do(t, s, http.MethodGet, types.PathHealth, nil, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, http.MethodGet, types.PathAuth, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, s, http.MethodGet, types.PathAuth, nil, map[string]string{types.HeaderAPIKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, s, http.MethodGet, types.PathAuth, nil, map[string]string{types.HeaderAPIKey: "secret"})
	assert.Equal(t, http.StatusOK, code)
}

func TestFunctionsListing(t *testing.T) {
	s := newTestServer(t, nil)

	code, body := do(t, s, http.MethodGet, types.PathFunctions, nil, nil)
	require.Equal(t, http.StatusOK, code)

	var resp types.FunctionsResponse
	require.NoError(t, sonic.Unmarshal(body, &resp))
	assert.Contains(t, resp.Functions, "square")
	assert.Contains(t, resp.Reducers, "flatten")
}

func TestCleanupExpiresFinishedTasks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestServer(t, func(c *Config) { c.ResultTTL = time.Minute }, WithClock(clock))

	raw := encodeTask(t, "old", function.DefaultRegistry.Get("identity"), 0, 1, nil)
	code, _ := do(t, s, http.MethodPost, types.PathTasks, raw, nil)
	require.Equal(t, http.StatusAccepted, code)
	waitTerminal(t, s, "old", nil)

	assert.Equal(t, 0, s.Cleanup())
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, s.Cleanup())

	code, _ = do(t, s, http.MethodGet, types.PathTasks+"/old", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.PoolSize = 0
	assert.Error(t, cfg.Validate())

	_, err := NewServer(cfg)
	assert.Error(t, err)
}
