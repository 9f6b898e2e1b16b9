package strategy

import (
	"github.com/duke-git/lancet/v2/slice"

	"github.com/viniolvs/mwfaas/pkg/types"
)

// ListDistribution splits a slice into contiguous chunks of at most
// Config.ItemsPerChunk items. The last chunk may be shorter.
type ListDistribution[T any] struct{}

// NewListDistribution creates a list distribution over []T input.
func NewListDistribution[T any]() *ListDistribution[T] {
	return &ListDistribution[T]{}
}

// Name returns "list".
func (s *ListDistribution[T]) Name() string {
	return NameList
}

// Split implements Strategy.
func (s *ListDistribution[T]) Split(data any, cfg Config) ([]types.Chunk, error) {
	items, err := asSlice[T](data)
	if err != nil {
		return nil, err
	}
	if cfg.ItemsPerChunk <= 0 {
		return nil, types.NewInvalidConfigurationError("items_per_chunk must be positive, got %d", cfg.ItemsPerChunk)
	}
	if len(items) == 0 {
		return nil, types.NewEmptyInputError()
	}

	parts := slice.Chunk(items, cfg.ItemsPerChunk)
	chunks := make([]types.Chunk, len(parts))
	for i, part := range parts {
		// copy so chunks never alias the caller's backing array
		chunks[i] = types.Chunk{Position: i, Data: append([]T(nil), part...)}
	}
	return chunks, nil
}

// Join implements Joiner.
func (s *ListDistribution[T]) Join(chunks []types.Chunk) (any, error) {
	return joinSlices[T](chunks)
}
