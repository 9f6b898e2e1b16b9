// Package strategy partitions input data into ordered chunks.
//
// A Strategy is a pure function of (data, Config): it never mutates the
// input and returns the same chunks for the same arguments. Every strategy
// in this package also implements Joiner, which reverses a split.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/viniolvs/mwfaas/pkg/types"
)

// Config is the partitioning configuration recognized by the strategies.
type Config struct {
	// ItemsPerChunk is the maximum chunk length for list distribution.
	ItemsPerChunk int `yaml:"items_per_chunk" json:"items_per_chunk"`
	// NumChunks is the exact chunk count for balanced distribution.
	NumChunks int `yaml:"num_chunks" json:"num_chunks"`
}

// Strategy splits input data into an ordered, non-empty sequence of chunks.
type Strategy interface {
	// Name returns the registered strategy name.
	Name() string
	// Split partitions data according to cfg.
	Split(data any, cfg Config) ([]types.Chunk, error)
}

// Joiner reconstructs the original data from chunks produced by Split.
type Joiner interface {
	Join(chunks []types.Chunk) (any, error)
}

// Strategy names.
const (
	NameList     = "list"
	NameBalanced = "balanced"
	NameSingle   = "single"
)

var constructors = map[string]func() Strategy{
	NameList:     func() Strategy { return NewListDistribution[any]() },
	NameBalanced: func() Strategy { return NewBalancedDistribution[any]() },
	NameSingle:   func() Strategy { return NewSingleDistribution() },
}

// New returns the strategy registered under name, operating on []any input.
func New(name string) (Strategy, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, types.NewInvalidConfigurationError("unknown strategy %q (available: %s)",
			name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names returns the registered strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// asSlice asserts the input is a []T.
func asSlice[T any](data any) ([]T, error) {
	items, ok := data.([]T)
	if !ok {
		var zero []T
		return nil, types.NewInvalidConfigurationError("expected %T input, got %T", zero, data)
	}
	return items, nil
}

// joinSlices concatenates chunk payloads of type []T in position order.
func joinSlices[T any](chunks []types.Chunk) ([]T, error) {
	out := make([]T, 0)
	for i, c := range chunks {
		if c.Position != i {
			return nil, fmt.Errorf("chunk at index %d has position %d", i, c.Position)
		}
		part, ok := c.Data.([]T)
		if !ok {
			return nil, fmt.Errorf("chunk %d holds %T", c.Position, c.Data)
		}
		out = append(out, part...)
	}
	return out, nil
}
