// Package codec ships tasks to workers and results back as opaque bytes.
package codec

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/types"
)

// Envelope is the wire form of one task.
type Envelope struct {
	TaskID   string              `json:"task_id"`
	Function function.Descriptor `json:"function"`
	Position int                 `json:"position"`
	Data     any                 `json:"data"`
	Metadata types.Metadata      `json:"metadata,omitempty"`
}

// Result is the wire form of one task outcome.
type Result struct {
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// Err returns the remote error, if any.
func (r *Result) Err() error {
	if r.Error == "" {
		return nil
	}
	return errors.New(r.Error)
}

// Codec marshals tasks and results.
type Codec interface {
	Name() string
	MarshalTask(env *Envelope) ([]byte, error)
	UnmarshalTask(data []byte) (*Envelope, error)
	MarshalResult(value any, callErr error) ([]byte, error)
	UnmarshalResult(data []byte) (*Result, error)
}

// NewEnvelope builds the envelope for one chunk. It fails when the function
// cannot be described for transport.
func NewEnvelope(taskID string, fn function.Function, chunk types.Chunk, meta types.Metadata) (*Envelope, error) {
	if fn == nil {
		return nil, fmt.Errorf("task has no function")
	}
	desc := fn.Descriptor()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &Envelope{
		TaskID:   taskID,
		Function: desc,
		Position: chunk.Position,
		Data:     chunk.Data,
		Metadata: meta,
	}, nil
}

// JSON is a Codec backed by sonic. Integers decode as int64.
type JSON struct {
	api sonic.API
}

// NewJSON creates the JSON codec.
func NewJSON() *JSON {
	return &JSON{
		api: sonic.Config{
			UseInt64:    true,
			SortMapKeys: true,
		}.Froze(),
	}
}

// Default is the codec used when none is configured.
var Default Codec = NewJSON()

// Name returns "json".
func (c *JSON) Name() string {
	return "json"
}

// MarshalTask implements Codec.
func (c *JSON) MarshalTask(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	data, err := c.api.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode task %d: %w", env.Position, err)
	}
	return data, nil
}

// UnmarshalTask implements Codec.
func (c *JSON) UnmarshalTask(data []byte) (*Envelope, error) {
	var env Envelope
	if err := c.api.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if err := env.Function.Validate(); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &env, nil
}

// MarshalResult implements Codec.
func (c *JSON) MarshalResult(value any, callErr error) ([]byte, error) {
	res := Result{Value: value}
	if callErr != nil {
		res = Result{Error: callErr.Error()}
	}
	data, err := c.api.Marshal(&res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

// UnmarshalResult implements Codec.
func (c *JSON) UnmarshalResult(data []byte) (*Result, error) {
	var res Result
	if err := c.api.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
