package strategy

import (
	"fmt"
	"reflect"

	"github.com/viniolvs/mwfaas/pkg/types"
)

// SingleDistribution places the whole input in one chunk.
// It accepts any data; slices, arrays, maps and strings must be non-empty.
type SingleDistribution struct{}

// NewSingleDistribution creates a single-chunk strategy.
func NewSingleDistribution() *SingleDistribution {
	return &SingleDistribution{}
}

// Name returns "single".
func (s *SingleDistribution) Name() string {
	return NameSingle
}

// Split implements Strategy. The config is ignored.
func (s *SingleDistribution) Split(data any, _ Config) ([]types.Chunk, error) {
	if data == nil {
		return nil, types.NewEmptyInputError()
	}
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		if v.Len() == 0 {
			return nil, types.NewEmptyInputError()
		}
	}
	return []types.Chunk{{Position: 0, Data: data}}, nil
}

// Join implements Joiner.
func (s *SingleDistribution) Join(chunks []types.Chunk) (any, error) {
	if len(chunks) != 1 {
		return nil, fmt.Errorf("single distribution expects 1 chunk, got %d", len(chunks))
	}
	return chunks[0].Data, nil
}
