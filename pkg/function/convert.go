package function

import (
	"fmt"
	"reflect"

	"github.com/bytedance/sonic"
)

// Convert returns v as a T, re-decoding it through JSON when the dynamic
// type differs.
func Convert[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	raw, err := sonic.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("cannot encode %T: %w", v, err)
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("cannot convert %T to %T: %w", v, out, err)
	}
	return out, nil
}

// toAnySlice returns the elements of any slice or array as []any.
func toAnySlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
