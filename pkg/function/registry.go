package function

import (
	"fmt"
	"sort"
	"sync"

	"github.com/duke-git/lancet/v2/maputil"
)

// Registry maps names to native functions and reducers. Workers use it to
// turn a Descriptor back into a Function.
type Registry struct {
	functions map[string]Function
	reducers  map[string]Reducer
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]Function),
		reducers:  make(map[string]Reducer),
	}
}

// Register adds a native function. It fails if the name is taken.
func (r *Registry) Register(fn Function) error {
	if fn == nil {
		return fmt.Errorf("cannot register nil function")
	}
	desc := fn.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("function name cannot be empty")
	}
	if desc.Kind != KindNative {
		return fmt.Errorf("only native functions can be registered, got %s", desc.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.functions[desc.Name]; exists {
		return fmt.Errorf("function already registered: %s", desc.Name)
	}
	r.functions[desc.Name] = fn
	return nil
}

// MustRegister registers fn and panics on error.
func (r *Registry) MustRegister(fn Function) {
	if err := r.Register(fn); err != nil {
		panic(err)
	}
}

// Get returns the function registered under name, or nil.
func (r *Registry) Get(name string) Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.functions[name]
}

// GetOrError returns the function registered under name.
func (r *Registry) GetOrError(name string) (Function, error) {
	fn := r.Get(name)
	if fn == nil {
		return nil, fmt.Errorf("no function registered with name: %s", name)
	}
	return fn, nil
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := maputil.Keys(r.functions)
	sort.Strings(names)
	return names
}

// RegisterReducer adds a named reducer. It fails if the name is taken.
func (r *Registry) RegisterReducer(name string, reducer Reducer) error {
	if name == "" || reducer == nil {
		return fmt.Errorf("reducer needs a name and a function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reducers[name]; exists {
		return fmt.Errorf("reducer already registered: %s", name)
	}
	r.reducers[name] = reducer
	return nil
}

// Reducer returns the reducer registered under name.
func (r *Registry) Reducer(name string) (Reducer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reducer, ok := r.reducers[name]
	if !ok {
		return nil, fmt.Errorf("no reducer registered with name: %s", name)
	}
	return reducer, nil
}

// ReducerNames returns the registered reducer names in sorted order.
func (r *Registry) ReducerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := maputil.Keys(r.reducers)
	sort.Strings(names)
	return names
}

// Resolve turns a descriptor into a callable function. Native functions are
// looked up by name; scripts are compiled from their source.
func (r *Registry) Resolve(desc Descriptor) (Function, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Kind == KindScript {
		return NewScript(desc.Name, desc.Source)
	}
	return r.GetOrError(desc.Name)
}

// DefaultRegistry holds the builtin functions and reducers.
var DefaultRegistry = NewRegistry()
