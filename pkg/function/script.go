package function

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/viniolvs/mwfaas/pkg/types"
)

// DefaultScriptTimeout bounds a single script call when the context has no deadline.
const DefaultScriptTimeout = 30 * time.Second

// Script is a JavaScript worker function. The source must evaluate to a
// function taking (data, meta), for example:
//
//	(chunk, meta) => chunk.map(x => x * x)
type Script struct {
	name    string
	source  string
	program *goja.Program
	timeout time.Duration
	log     *zap.Logger
}

// ScriptOption configures a Script.
type ScriptOption func(*Script)

// WithScriptTimeout overrides DefaultScriptTimeout.
func WithScriptTimeout(d time.Duration) ScriptOption {
	return func(s *Script) {
		s.timeout = d
	}
}

// WithScriptLogger routes console.* output to log.
func WithScriptLogger(log *zap.Logger) ScriptOption {
	return func(s *Script) {
		s.log = log
	}
}

// NewScript compiles source and checks that it evaluates to a function.
func NewScript(name, source string, opts ...ScriptOption) (*Script, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("script %q has no source", name)
	}
	program, err := goja.Compile(name, "("+source+")", false)
	if err != nil {
		return nil, fmt.Errorf("compile script %q: %w", name, err)
	}

	s := &Script{
		name:    name,
		source:  source,
		program: program,
		timeout: DefaultScriptTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Descriptor implements Function.
func (s *Script) Descriptor() Descriptor {
	return Descriptor{Kind: KindScript, Name: s.name, Source: s.source}
}

// Call implements Function. Each call runs in a fresh runtime.
func (s *Script) Call(ctx context.Context, data any, meta types.Metadata) (any, error) {
	return s.invoke(ctx, data, map[string]any(meta))
}

// AsReducer exposes the script as a Reducer over the ordered values.
func (s *Script) AsReducer() Reducer {
	return func(ctx context.Context, values []any) (any, error) {
		return s.invoke(ctx, values, nil)
	}
}

func (s *Script) load() (*goja.Runtime, goja.Callable, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	s.setupConsole(vm)

	v, err := vm.RunProgram(s.program)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate script %q: %w", s.name, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, nil, fmt.Errorf("script %q does not evaluate to a function", s.name)
	}
	return vm, fn, nil
}

func (s *Script) invoke(ctx context.Context, data any, meta map[string]any) (any, error) {
	vm, fn, err := s.load()
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	args := []goja.Value{vm.ToValue(normalize(data)), goja.Null()}
	if meta != nil {
		args[1] = vm.ToValue(meta)
	}
	val, err := fn(goja.Undefined(), args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("script %s interrupted: %w", s.name, ctx.Err())
		}
		return nil, fmt.Errorf("script %s: %w", s.name, err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

func (s *Script) setupConsole(vm *goja.Runtime) {
	console := vm.NewObject()
	logAt := func(level func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			level(strings.Join(parts, " "), zap.String("script", s.name))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logAt(s.log.Info))
	_ = console.Set("info", logAt(s.log.Info))
	_ = console.Set("warn", logAt(s.log.Warn))
	_ = console.Set("error", logAt(s.log.Error))
	_ = vm.Set("console", console)
}

// normalize turns typed Go slices into []any so scripts see plain arrays.
func normalize(data any) any {
	if items, ok := toAnySlice(data); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = normalize(item)
		}
		return out
	}
	return data
}

// NewScriptReducer compiles a JavaScript reducer taking the ordered values.
func NewScriptReducer(name, source string, opts ...ScriptOption) (Reducer, error) {
	s, err := NewScript(name, source, opts...)
	if err != nil {
		return nil, err
	}
	return s.AsReducer(), nil
}
