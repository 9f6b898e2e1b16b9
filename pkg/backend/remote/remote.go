// Package remote implements the Backend contract over HTTP worker endpoints.
//
// Tasks are POSTed to a worker, which answers 202 immediately; the backend
// then polls the task until it is terminal, resolves the Future and deletes
// the task on the worker.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/viniolvs/mwfaas/pkg/backend"
	"github.com/viniolvs/mwfaas/pkg/codec"
	"github.com/viniolvs/mwfaas/pkg/types"
)

// Config holds the configuration for the HTTP backend.
type Config struct {
	// Endpoints are the configured workers. Address is the worker base URL.
	Endpoints []types.Endpoint

	// APIKey is sent in the X-API-Key header when set.
	APIKey string

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration

	// PollInterval is the delay between task status polls.
	PollInterval time.Duration

	// MaxPollFailures is how many consecutive failed polls mark a task as lost.
	MaxPollFailures int

	Codec  codec.Codec
	Clock  clockwork.Clock
	Logger *zap.Logger
}

// DefaultConfig returns a default backend configuration with no endpoints.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout:  10 * time.Second,
		PollInterval:    200 * time.Millisecond,
		MaxPollFailures: 5,
	}
}

// Backend dispatches tasks to HTTP worker endpoints.
type Backend struct {
	config *Config
	agent  *fiber.Client
	codec  codec.Codec
	clock  clockwork.Clock
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates the HTTP backend.
func New(config *Config) (*Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}
	for _, ep := range config.Endpoints {
		if ep.ID == "" {
			return nil, fmt.Errorf("endpoint with address %q has no id", ep.Address)
		}
		if _, err := url.ParseRequestURI(ep.Address); err != nil {
			return nil, fmt.Errorf("endpoint %s: invalid url %q: %w", ep.ID, ep.Address, err)
		}
	}

	b := &Backend{
		config: config,
		agent:  fiber.AcquireClient(),
		codec:  config.Codec,
		clock:  config.Clock,
		log:    config.Logger,
	}
	if b.codec == nil {
		b.codec = codec.Default
	}
	if b.clock == nil {
		b.clock = clockwork.NewRealClock()
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	b.log = b.log.Named("http-backend")
	if b.config.PollInterval <= 0 {
		b.config.PollInterval = DefaultConfig().PollInterval
	}
	if b.config.RequestTimeout <= 0 {
		b.config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if b.config.MaxPollFailures <= 0 {
		b.config.MaxPollFailures = DefaultConfig().MaxPollFailures
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// Name returns "http".
func (b *Backend) Name() string {
	return "http"
}

// probe is the outcome of checking one endpoint.
type probe struct {
	ok           bool
	unauthorized bool
	err          error
}

// probe checks one endpoint. The request timeout is cut short by the
// deadline of ctx.
func (b *Backend) probe(ctx context.Context, ep types.Endpoint) probe {
	if err := ctx.Err(); err != nil {
		return probe{err: fmt.Errorf("endpoint %s: %w", ep.ID, err)}
	}
	timeout := b.config.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			if left <= 0 {
				return probe{err: fmt.Errorf("endpoint %s: %w", ep.ID, context.DeadlineExceeded)}
			}
			timeout = left
		}
	}

	req := b.agent.Get(b.url(ep, types.PathAuth))
	req.Timeout(timeout)
	b.setAuth(req)

	status, body, errs := req.Bytes()
	if len(errs) > 0 {
		return probe{err: fmt.Errorf("endpoint %s: %s", ep.ID, describeTransportError(errs[0]))}
	}
	switch status {
	case fiber.StatusOK:
		return probe{ok: true}
	case fiber.StatusUnauthorized:
		return probe{unauthorized: true, err: fmt.Errorf("endpoint %s: %s", ep.ID, errorMessage(status, body))}
	default:
		return probe{err: fmt.Errorf("endpoint %s: %s", ep.ID, errorMessage(status, body))}
	}
}

// probeAll checks every endpoint concurrently; results keep config order.
func (b *Backend) probeAll(ctx context.Context) []probe {
	results := make([]probe, len(b.config.Endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range b.config.Endpoints {
		g.Go(func() error {
			results[i] = b.probe(gctx, ep)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// EndpointStatus is the probe result for one configured endpoint.
type EndpointStatus struct {
	Endpoint     types.Endpoint
	Online       bool
	Unauthorized bool
	Err          error
}

// Status probes every configured endpoint, in configuration order.
func (b *Backend) Status(ctx context.Context) []EndpointStatus {
	probes := b.probeAll(ctx)
	out := make([]EndpointStatus, len(probes))
	for i, p := range probes {
		out[i] = EndpointStatus{
			Endpoint:     b.config.Endpoints[i],
			Online:       p.ok || p.unauthorized,
			Unauthorized: p.unauthorized,
			Err:          p.err,
		}
	}
	return out
}

// Authenticate checks the API key against every endpoint. Any rejection
// fails with Unauthenticated; if no endpoint answers it fails with
// BackendUnavailable.
func (b *Backend) Authenticate(ctx context.Context) error {
	if b.closed.Load() {
		return types.NewBackendUnavailableError("http backend is closed", nil)
	}
	if len(b.config.Endpoints) == 0 {
		return nil
	}

	var merr *multierror.Error
	reached := false
	for _, p := range b.probeAll(ctx) {
		if p.unauthorized {
			return types.NewUnauthenticatedError("worker rejected the API key", p.err)
		}
		if p.err != nil {
			merr = multierror.Append(merr, p.err)
			continue
		}
		reached = true
	}
	if !reached {
		return types.NewBackendUnavailableError("no worker endpoint reachable", merr.ErrorOrNil())
	}
	return nil
}

// ListEndpoints returns the configured endpoints that currently answer,
// in configuration order.
func (b *Backend) ListEndpoints(ctx context.Context) ([]types.Endpoint, error) {
	if b.closed.Load() {
		return nil, types.NewBackendUnavailableError("http backend is closed", nil)
	}
	if len(b.config.Endpoints) == 0 {
		return []types.Endpoint{}, nil
	}

	var (
		healthy      []types.Endpoint
		merr         *multierror.Error
		unauthorized error
	)
	for i, p := range b.probeAll(ctx) {
		ep := b.config.Endpoints[i]
		if p.ok {
			healthy = append(healthy, ep)
			continue
		}
		if p.unauthorized && unauthorized == nil {
			unauthorized = p.err
		}
		merr = multierror.Append(merr, p.err)
		b.log.Warn("endpoint unavailable", zap.String("endpoint", ep.ID), zap.Error(p.err))
	}

	if len(healthy) > 0 {
		return healthy, nil
	}
	if unauthorized != nil {
		return nil, types.NewUnauthenticatedError("worker rejected the API key", unauthorized)
	}
	return nil, types.NewBackendUnavailableError("no worker endpoint reachable", merr.ErrorOrNil())
}

// Submit implements backend.Backend. The HTTP exchange happens on a
// separate goroutine.
func (b *Backend) Submit(_ context.Context, spec backend.TaskSpec, ep types.Endpoint) (*backend.Future, error) {
	pos := spec.Chunk.Position
	if b.closed.Load() {
		return nil, types.NewSubmissionError(pos, ep.ID, "http backend is closed", nil)
	}
	if ep.Address == "" {
		return nil, types.NewSubmissionError(pos, ep.ID, "endpoint has no address", nil)
	}

	f := backend.NewFuture(pos, ep, b.clock)
	env, err := codec.NewEnvelope(f.ID(), spec.Function, spec.Chunk, spec.Metadata)
	if err != nil {
		return nil, types.NewSubmissionError(pos, ep.ID, "malformed task", err)
	}
	raw, err := b.codec.MarshalTask(env)
	if err != nil {
		return nil, types.NewSubmissionError(pos, ep.ID, "cannot serialize task", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatch(f, ep, raw)
	}()
	return f, nil
}

// dispatch posts the task and polls it to completion.
func (b *Backend) dispatch(f *backend.Future, ep types.Endpoint, raw []byte) {
	log := b.log.With(zap.String("task_id", f.ID()), zap.Int("position", f.Position()), zap.String("endpoint", ep.ID))

	req := b.agent.Post(b.url(ep, types.PathTasks))
	req.Timeout(b.config.RequestTimeout)
	req.Body(raw)
	req.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	b.setAuth(req)

	status, body, errs := req.Bytes()
	if len(errs) > 0 {
		f.Resolve(nil, types.NewRemoteExecutionError(f.Position(), ep.ID, "dispatch failed",
			errors.New(describeTransportError(errs[0]))))
		return
	}
	switch status {
	case fiber.StatusAccepted:
	case fiber.StatusUnauthorized:
		f.Resolve(nil, types.NewRemoteExecutionError(f.Position(), ep.ID, "worker rejected the API key",
			types.NewUnauthenticatedError(errorMessage(status, body), nil)))
		return
	default:
		f.Resolve(nil, types.NewRemoteExecutionError(f.Position(), ep.ID, "worker refused task",
			errors.New(errorMessage(status, body))))
		return
	}
	log.Debug("task accepted by worker")

	failures := 0
	for {
		select {
		case <-b.ctx.Done():
			f.Resolve(nil, types.NewRemoteExecutionError(f.Position(), ep.ID, "task abandoned",
				types.NewBackendUnavailableError("http backend closed while task was pending", nil)))
			return
		case <-b.clock.After(b.config.PollInterval):
		}

		st, err := b.status(ep, f.ID())
		if err != nil {
			failures++
			log.Debug("poll failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= b.config.MaxPollFailures {
				f.Resolve(nil, types.NewRemoteExecutionError(f.Position(), ep.ID, "lost contact with worker", err))
				return
			}
			continue
		}
		failures = 0

		state, err := types.ParseTaskState(st.State)
		if err != nil {
			f.Resolve(nil, types.NewRemoteExecutionError(f.Position(), ep.ID, "bad status from worker", err))
			return
		}
		if !state.Terminal() {
			if state == types.TaskStateRunning {
				f.Start()
			}
			continue
		}

		res, err := b.codec.UnmarshalResult(st.Result)
		if err != nil {
			f.Resolve(nil, types.NewRemoteExecutionError(f.Position(), ep.ID, "undecodable result", err))
		} else {
			f.Resolve(res.Value, res.Err())
		}
		b.forget(ep, f.ID())
		return
	}
}

// status fetches the state of one task.
func (b *Backend) status(ep types.Endpoint, id string) (*types.TaskStatusResponse, error) {
	req := b.agent.Get(b.url(ep, types.PathTasks+"/"+id))
	req.Timeout(b.config.RequestTimeout)
	b.setAuth(req)

	status, body, errs := req.Bytes()
	if len(errs) > 0 {
		return nil, errors.New(describeTransportError(errs[0]))
	}
	if status != fiber.StatusOK {
		return nil, errors.New(errorMessage(status, body))
	}
	var st types.TaskStatusResponse
	if err := sonic.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode task status: %w", err)
	}
	return &st, nil
}

// forget deletes a finished task on the worker. Failures only delay expiry.
func (b *Backend) forget(ep types.Endpoint, id string) {
	req := b.agent.Delete(b.url(ep, types.PathTasks+"/"+id))
	req.Timeout(b.config.RequestTimeout)
	b.setAuth(req)

	if status, body, errs := req.Bytes(); len(errs) > 0 || status != fiber.StatusNoContent {
		b.log.Debug("could not delete finished task",
			zap.String("task_id", id), zap.Int("status", status), zap.ByteString("body", body))
	}
}

// Await implements backend.Backend.
func (b *Backend) Await(ctx context.Context, f *backend.Future, timeout time.Duration) (any, error) {
	if f == nil {
		return nil, fmt.Errorf("nil future")
	}
	return f.Wait(ctx, timeout)
}

// Close stops polling. Tasks still pending resolve as RemoteExecution
// caused by BackendUnavailable; the workers keep running them.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		b.wg.Wait()
		fiber.ReleaseClient(b.agent)
	})
	return nil
}

func (b *Backend) url(ep types.Endpoint, path string) string {
	return strings.TrimRight(ep.Address, "/") + path
}

func (b *Backend) setAuth(req *fiber.Agent) {
	if b.config.APIKey != "" {
		req.Set(types.HeaderAPIKey, b.config.APIKey)
	}
}

func describeTransportError(err error) string {
	switch {
	case errors.Is(err, fasthttp.ErrTimeout), errors.Is(err, fasthttp.ErrDialTimeout):
		return "request timed out: " + err.Error()
	case errors.Is(err, fasthttp.ErrConnectionClosed):
		return "connection closed by worker: " + err.Error()
	default:
		return "unreachable: " + err.Error()
	}
}

func errorMessage(status int, body []byte) string {
	var resp types.ErrorResponse
	if err := sonic.Unmarshal(body, &resp); err == nil && resp.Message != "" {
		return fmt.Sprintf("status %d: %s", status, resp.Message)
	}
	return fmt.Sprintf("status %d", status)
}

var _ backend.Backend = (*Backend)(nil)
