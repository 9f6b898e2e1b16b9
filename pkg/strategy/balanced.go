package strategy

import (
	"github.com/viniolvs/mwfaas/pkg/types"
)

// BalancedDistribution splits a slice into exactly Config.NumChunks contiguous
// chunks whose lengths differ by at most one. The first len%NumChunks chunks
// carry the extra item.
type BalancedDistribution[T any] struct{}

// NewBalancedDistribution creates a balanced distribution over []T input.
func NewBalancedDistribution[T any]() *BalancedDistribution[T] {
	return &BalancedDistribution[T]{}
}

// Name returns "balanced".
func (s *BalancedDistribution[T]) Name() string {
	return NameBalanced
}

// Split implements Strategy.
func (s *BalancedDistribution[T]) Split(data any, cfg Config) ([]types.Chunk, error) {
	items, err := asSlice[T](data)
	if err != nil {
		return nil, err
	}
	if cfg.NumChunks <= 0 {
		return nil, types.NewInvalidConfigurationError("num_chunks must be positive, got %d", cfg.NumChunks)
	}
	if len(items) == 0 {
		return nil, types.NewEmptyInputError()
	}
	if cfg.NumChunks > len(items) {
		return nil, types.NewInvalidConfigurationError("num_chunks %d exceeds input length %d", cfg.NumChunks, len(items))
	}

	sizes := BalancedSizes(len(items), cfg.NumChunks)
	chunks := make([]types.Chunk, len(sizes))
	start := 0
	for i, size := range sizes {
		chunks[i] = types.Chunk{Position: i, Data: append([]T(nil), items[start:start+size]...)}
		start += size
	}
	return chunks, nil
}

// Join implements Joiner.
func (s *BalancedDistribution[T]) Join(chunks []types.Chunk) (any, error) {
	return joinSlices[T](chunks)
}

// BalancedSizes returns the chunk lengths for n items over k chunks.
func BalancedSizes(n, k int) []int {
	if k <= 0 {
		return nil
	}
	base := n / k
	remainder := n % k
	sizes := make([]int, k)
	for i := range sizes {
		sizes[i] = base
		if i < remainder {
			sizes[i]++
		}
	}
	return sizes
}
