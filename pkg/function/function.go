// Package function defines the worker function and reducer contracts.
//
// A Function must be transportable: its Descriptor is what travels to a
// remote worker, which resolves it back into a callable through a Registry.
// Native functions travel by name and must be registered on both sides;
// script functions carry their JavaScript source.
package function

import (
	"context"
	"fmt"

	"github.com/viniolvs/mwfaas/pkg/types"
)

// Kind identifies how a function is shipped to a worker.
type Kind string

const (
	// KindNative is a Go function resolved by name on the worker.
	KindNative Kind = "native"
	// KindScript is a JavaScript function shipped as source.
	KindScript Kind = "script"
)

// Descriptor is the transportable form of a Function.
type Descriptor struct {
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
}

// Validate checks that the descriptor can be resolved.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("function name is empty")
	}
	switch d.Kind {
	case KindNative:
		return nil
	case KindScript:
		if d.Source == "" {
			return fmt.Errorf("script function %q has no source", d.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown function kind %q", d.Kind)
	}
}

// Function is a worker function applied to one chunk.
type Function interface {
	// Descriptor returns the transportable form of the function.
	Descriptor() Descriptor
	// Call applies the function to one chunk's data.
	Call(ctx context.Context, data any, meta types.Metadata) (any, error)
}

// Func is the signature of native worker functions.
type Func func(ctx context.Context, data any, meta types.Metadata) (any, error)

type native struct {
	name string
	fn   Func
}

// Native wraps a Go function under a name.
func Native(name string, fn Func) Function {
	return &native{name: name, fn: fn}
}

func (n *native) Descriptor() Descriptor {
	return Descriptor{Kind: KindNative, Name: n.name}
}

func (n *native) Call(ctx context.Context, data any, meta types.Metadata) (any, error) {
	return n.fn(ctx, data, meta)
}

// Typed wraps a Go function with a concrete input type. Input that arrives
// in a different shape (for example []any decoded from JSON) is converted
// to In before the call.
func Typed[In, Out any](name string, fn func(ctx context.Context, in In, meta types.Metadata) (Out, error)) Function {
	return Native(name, func(ctx context.Context, data any, meta types.Metadata) (any, error) {
		in, err := Convert[In](data)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", name, err)
		}
		return fn(ctx, in, meta)
	})
}

// Reducer combines the ordered results of a run into one value.
type Reducer func(ctx context.Context, values []any) (any, error)
