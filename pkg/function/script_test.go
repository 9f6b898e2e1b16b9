package function

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniolvs/mwfaas/pkg/types"
)

func TestScriptCall(t *testing.T) {
	s, err := NewScript("square", "(chunk, meta) => chunk.map(x => x * x)")
	require.NoError(t, err)

	out, err := s.Call(context.Background(), []int{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(4), int64(9)}, out)
}

func TestScriptReadsMetadata(t *testing.T) {
	s, err := NewScript("scale", "function (chunk, meta) { return chunk.map(x => x * meta.factor) }")
	require.NoError(t, err)

	out, err := s.Call(context.Background(), []any{int64(1), int64(2)}, types.Metadata{"factor": 10})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(20)}, out)
}

func TestScriptReturningNothing(t *testing.T) {
	s, err := NewScript("noop", "() => undefined")
	require.NoError(t, err)

	out, err := s.Call(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestNewScriptRejectsInvalidSource(t *testing.T) {
	_, err := NewScript("broken", "x => {")
	assert.Error(t, err)

	_, err = NewScript("value", "42")
	assert.ErrorContains(t, err, "does not evaluate to a function")

	_, err = NewScript("empty", "   ")
	assert.Error(t, err)
}

func TestScriptThrow(t *testing.T) {
	s, err := NewScript("thrower", "() => { throw new Error('bad chunk') }")
	require.NoError(t, err)

	_, err = s.Call(context.Background(), 1, nil)
	assert.ErrorContains(t, err, "bad chunk")
}

func TestScriptTimeout(t *testing.T) {
	s, err := NewScript("spin", "() => { while (true) {} }", WithScriptTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Call(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "interrupted")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScriptReducer(t *testing.T) {
	reduce, err := NewScriptReducer("total", "values => values.reduce((acc, v) => acc.concat(v), []).reduce((a, b) => a + b, 0)")
	require.NoError(t, err)

	out, err := reduce(context.Background(), []any{[]any{int64(1), int64(2)}, []any{int64(3)}})
	require.NoError(t, err)
	assert.Equal(t, int64(6), out)
}

func TestScriptDescriptor(t *testing.T) {
	s, err := NewScript("inc", "x => x + 1")
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Kind: KindScript, Name: "inc", Source: "x => x + 1"}, s.Descriptor())
}
