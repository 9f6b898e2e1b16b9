package types

import "github.com/duke-git/lancet/v2/maputil"

// Chunk is one partition of the input data produced by a strategy.
type Chunk struct {
	// Position is the 0-based index of the chunk in the split.
	Position int `json:"position"`
	// Data is the strategy-specific payload.
	Data any `json:"data"`
}

// Metadata is optional per-run information passed to every worker invocation.
type Metadata map[string]any

// Clone returns a shallow copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maputil.Merge(map[string]any{}, m)
}

// Endpoint names a remote worker resource.
type Endpoint struct {
	ID      string            `json:"id" yaml:"id"`
	Address string            `json:"address,omitempty" yaml:"address,omitempty"`
	Labels  map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// String returns the endpoint ID.
func (e Endpoint) String() string {
	return e.ID
}
