package strategy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniolvs/mwfaas/pkg/types"
)

func ints(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestListDistributionSplit(t *testing.T) {
	s := NewListDistribution[int]()

	chunks, err := s.Split(ints(1, 10), Config{ItemsPerChunk: 2})
	require.NoError(t, err)
	require.Len(t, chunks, 5)

	expected := [][]int{{1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 10}}
	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, expected[i], c.Data)
	}
}

func TestListDistributionShortLastChunk(t *testing.T) {
	s := NewListDistribution[int]()

	chunks, err := s.Split(ints(1, 7), Config{ItemsPerChunk: 3})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{7}, chunks[2].Data)
}

func TestListDistributionChunkLargerThanInput(t *testing.T) {
	s := NewListDistribution[string]()

	chunks, err := s.Split([]string{"a", "b"}, Config{ItemsPerChunk: 10})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"a", "b"}, chunks[0].Data)
}

func TestListDistributionErrors(t *testing.T) {
	s := NewListDistribution[int]()

	_, err := s.Split(ints(1, 3), Config{ItemsPerChunk: 0})
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))

	_, err = s.Split(ints(1, 3), Config{ItemsPerChunk: -2})
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))

	_, err = s.Split([]int{}, Config{ItemsPerChunk: 2})
	assert.True(t, errors.Is(err, types.ErrEmptyInput))

	_, err = s.Split([]string{"x"}, Config{ItemsPerChunk: 2})
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))
}

func TestListDistributionDoesNotAliasInput(t *testing.T) {
	s := NewListDistribution[int]()
	input := ints(1, 4)

	chunks, err := s.Split(input, Config{ItemsPerChunk: 2})
	require.NoError(t, err)

	chunks[0].Data.([]int)[0] = 99
	assert.Equal(t, ints(1, 4), input)
}

func TestBalancedDistributionSplit(t *testing.T) {
	s := NewBalancedDistribution[int]()

	chunks, err := s.Split(ints(1, 10), Config{NumChunks: 3})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 2, 3, 4}, chunks[0].Data)
	assert.Equal(t, []int{5, 6, 7}, chunks[1].Data)
	assert.Equal(t, []int{8, 9, 10}, chunks[2].Data)
}

func TestBalancedDistributionErrors(t *testing.T) {
	s := NewBalancedDistribution[int]()

	_, err := s.Split(ints(1, 3), Config{NumChunks: 0})
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))

	_, err = s.Split(ints(1, 3), Config{NumChunks: 4})
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))

	_, err = s.Split([]int{}, Config{NumChunks: 2})
	assert.True(t, errors.Is(err, types.ErrEmptyInput))
}

func TestBalancedSizes(t *testing.T) {
	assert.Equal(t, []int{4, 3, 3}, BalancedSizes(10, 3))
	assert.Equal(t, []int{1, 1}, BalancedSizes(2, 2))
	assert.Nil(t, BalancedSizes(5, 0))
}

func TestSingleDistribution(t *testing.T) {
	s := NewSingleDistribution()

	chunks, err := s.Split(map[string]int{"a": 1}, Config{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Position)

	joined, err := s.Join(chunks)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, joined)

	_, err = s.Split(nil, Config{})
	assert.True(t, errors.Is(err, types.ErrEmptyInput))

	_, err = s.Split("", Config{})
	assert.True(t, errors.Is(err, types.ErrEmptyInput))

	chunks, err = s.Split(42, Config{})
	require.NoError(t, err)
	assert.Equal(t, 42, chunks[0].Data)
}

func TestJoinRejectsReorderedChunks(t *testing.T) {
	s := NewListDistribution[int]()
	chunks, err := s.Split(ints(1, 4), Config{ItemsPerChunk: 2})
	require.NoError(t, err)

	chunks[0], chunks[1] = chunks[1], chunks[0]
	_, err = s.Join(chunks)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	for _, name := range []string{"list", "Balanced", " single "} {
		s, err := New(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}

	_, err := New("round-robin")
	assert.True(t, errors.Is(err, types.ErrInvalidConfiguration))
	assert.Equal(t, []string{"balanced", "list", "single"}, Names())
}

func TestNewOperatesOnAnySlices(t *testing.T) {
	s, err := New(NameList)
	require.NoError(t, err)

	chunks, err := s.Split([]any{1, "two", 3.0}, Config{ItemsPerChunk: 2})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []any{3.0}, chunks[1].Data)
}
