package worker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/viniolvs/mwfaas/pkg/codec"
	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/types"
)

// Server is an HTTP worker endpoint.
type Server struct {
	app      *fiber.App
	config   *Config
	pool     *ants.Pool
	registry *function.Registry
	codec    codec.Codec
	clock    clockwork.Clock
	janitor  gocron.Scheduler
	log      *zap.Logger

	tasks   map[string]*task
	tasksMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
}

type task struct {
	id       string
	position int
	state    types.TaskState
	result   []byte
	finished time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry sets the registry used to resolve native functions.
func WithRegistry(r *function.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithCodec sets the task codec.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithClock sets the clock used for result expiry.
func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a worker endpoint.
func NewServer(config *Config, opts ...Option) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		registry: function.DefaultRegistry,
		codec:    codec.Default,
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
		tasks:    make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("worker")

	pool, err := ants.NewPool(config.PoolSize, ants.WithPanicHandler(func(p any) {
		s.log.Error("task pool panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create task pool: %w", err)
	}
	s.pool = pool

	janitor, err := gocron.NewScheduler(
		gocron.WithClock(s.clock),
		gocron.WithLogger(gocronLogger{s.log.Sugar()}),
	)
	if err != nil {
		pool.Release()
		return nil, fmt.Errorf("create janitor: %w", err)
	}
	if _, err := janitor.NewJob(
		gocron.DurationJob(config.CleanupInterval),
		gocron.NewTask(func() { s.Cleanup() }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		pool.Release()
		return nil, fmt.Errorf("schedule cleanup: %w", err)
	}
	s.janitor = janitor

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          errorHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		AppName:               "mwfaas worker",
		DisableStartupMessage: true,
	})
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(s.requestLogger())

	if s.config.APIKey != "" {
		s.app.Use(s.authMiddleware())
	}
}

// requestLogger logs each request at debug level.
func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		s.log.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}

// authMiddleware validates the API key on everything except health checks.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if path == types.PathHealth || path == types.PathAPIHealth {
			return c.Next()
		}

		apiKey := c.Get(types.HeaderAPIKey)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(types.ErrorResponse{
				Error:   "unauthorized",
				Message: "API key is required",
			})
		}
		if apiKey != s.config.APIKey {
			return c.Status(fiber.StatusUnauthorized).JSON(types.ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid API key",
			})
		}
		return c.Next()
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.app.Get(types.PathHealth, s.health)
	s.app.Get(types.PathAPIHealth, s.health)
	s.app.Get(types.PathAuth, s.auth)
	s.app.Get(types.PathFunctions, s.functions)

	s.app.Post(types.PathTasks, s.submitTask)
	s.app.Get(types.PathTasks+"/:id", s.getTask)
	s.app.Delete(types.PathTasks+"/:id", s.deleteTask)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the janitor and serves on the configured address. It blocks.
func (s *Server) Start() error {
	s.janitor.Start()
	s.log.Info("worker listening", zap.String("address", s.config.Address), zap.Int("pool_size", s.config.PoolSize))
	return s.app.Listen(s.config.Address)
}

// Serve starts the janitor and serves on ln. It blocks.
func (s *Server) Serve(ln net.Listener) error {
	s.janitor.Start()
	s.log.Info("worker listening", zap.String("address", ln.Addr().String()), zap.Int("pool_size", s.config.PoolSize))
	return s.app.Listener(ln)
}

// Shutdown stops the server, the janitor and the task pool.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.app.ShutdownWithContext(ctx)
		if jerr := s.janitor.Shutdown(); jerr != nil {
			s.log.Warn("janitor shutdown", zap.Error(jerr))
		}
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if perr := s.pool.ReleaseTimeout(timeout); perr != nil {
			s.log.Warn("task pool did not drain", zap.Error(perr))
		}
		s.cancel()
	})
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	s.tasksMu.RLock()
	n := len(s.tasks)
	s.tasksMu.RUnlock()

	return c.JSON(types.HealthResponse{
		Status:   "healthy",
		Worker:   s.config.Name,
		Running:  s.pool.Running(),
		Capacity: s.pool.Cap(),
		Tasks:    n,
	})
}

func (s *Server) auth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"authenticated": true, "worker": s.config.Name})
}

func (s *Server) functions(c *fiber.Ctx) error {
	return c.JSON(types.FunctionsResponse{
		Functions: s.registry.Names(),
		Reducers:  s.registry.ReducerNames(),
	})
}

func (s *Server) submitTask(c *fiber.Ctx) error {
	env, err := s.codec.UnmarshalTask(c.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if env.TaskID == "" {
		env.TaskID = uuid.NewString()
	}

	t := &task{id: env.TaskID, position: env.Position, state: types.TaskStateSubmitted}
	s.tasksMu.Lock()
	if _, exists := s.tasks[t.id]; exists {
		s.tasksMu.Unlock()
		return fiber.NewError(fiber.StatusConflict, fmt.Sprintf("task %s already exists", t.id))
	}
	s.tasks[t.id] = t
	s.tasksMu.Unlock()

	s.log.Debug("task accepted",
		zap.String("task_id", t.id),
		zap.Int("position", t.position),
		zap.String("function", env.Function.Name))

	go func() {
		if err := s.pool.Submit(func() { s.run(t.id, env) }); err != nil {
			s.finish(t.id, nil, fmt.Errorf("worker is shutting down: %w", err))
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(types.TaskSubmitResponse{
		TaskID: t.id,
		State:  types.TaskStateSubmitted.String(),
	})
}

// run executes one task on the pool.
func (s *Server) run(id string, env *codec.Envelope) {
	s.setState(id, types.TaskStateRunning)

	var (
		value any
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			value = nil
		}
		s.finish(id, value, err)
	}()

	fn, err := s.registry.Resolve(env.Function)
	if err != nil {
		return
	}

	ctx := s.ctx
	if s.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TaskTimeout)
		defer cancel()
	}
	value, err = fn.Call(ctx, env.Data, env.Metadata)
}

func (s *Server) setState(id string, state types.TaskState) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.state = state
	}
}

func (s *Server) finish(id string, value any, callErr error) {
	encoded, err := s.codec.MarshalResult(value, callErr)
	if err != nil {
		encoded, _ = s.codec.MarshalResult(nil, err)
		callErr = err
	}

	state := types.TaskStateCompleted
	if callErr != nil {
		state = types.TaskStateFailed
		s.log.Debug("task failed", zap.String("task_id", id), zap.Error(callErr))
	}

	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.state = state
		t.result = encoded
		t.finished = s.clock.Now()
	}
}

func (s *Server) getTask(c *fiber.Ctx) error {
	id := c.Params("id")

	s.tasksMu.RLock()
	t, ok := s.tasks[id]
	var resp types.TaskStatusResponse
	if ok {
		resp = types.TaskStatusResponse{
			TaskID:   t.id,
			Position: t.position,
			State:    t.state.String(),
			Result:   t.result,
		}
	}
	s.tasksMu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("task %s not found", id))
	}
	return c.JSON(resp)
}

func (s *Server) deleteTask(c *fiber.Ctx) error {
	id := c.Params("id")

	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("task %s not found", id))
	}
	if !t.state.Terminal() {
		return fiber.NewError(fiber.StatusConflict, fmt.Sprintf("task %s is still %s", id, t.state))
	}
	delete(s.tasks, id)
	return c.SendStatus(fiber.StatusNoContent)
}

// Cleanup drops finished tasks older than ResultTTL. It returns how many
// were removed.
func (s *Server) Cleanup() int {
	now := s.clock.Now()
	removed := 0

	s.tasksMu.Lock()
	for id, t := range s.tasks {
		if t.state.Terminal() && now.Sub(t.finished) >= s.config.ResultTTL {
			delete(s.tasks, id)
			removed++
		}
	}
	s.tasksMu.Unlock()

	if removed > 0 {
		s.log.Info("expired unfetched results", zap.Int("count", removed))
	}
	return removed
}

// errorHandler renders errors as ErrorResponse.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(types.ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}

// gocronLogger adapts zap to gocron.Logger.
type gocronLogger struct {
	s *zap.SugaredLogger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
