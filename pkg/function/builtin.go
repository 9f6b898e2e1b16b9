package function

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/duke-git/lancet/v2/slice"

	"github.com/viniolvs/mwfaas/pkg/types"
)

func init() {
	for _, fn := range []Function{
		Native("identity", identity),
		Native("square", mapNumbers(func(i int64) int64 { return i * i }, func(f float64) float64 { return f * f })),
		Native("double", mapNumbers(func(i int64) int64 { return 2 * i }, func(f float64) float64 { return 2 * f })),
		Native("sum", sumChunk),
		Native("sleep", sleepThenIdentity),
	} {
		DefaultRegistry.MustRegister(fn)
	}

	for name, reducer := range map[string]Reducer{
		"flatten": Flatten,
		"sum":     Sum,
		"count":   Count,
		"collect": Collect,
	} {
		if err := DefaultRegistry.RegisterReducer(name, reducer); err != nil {
			panic(err)
		}
	}
}

func identity(_ context.Context, data any, _ types.Metadata) (any, error) {
	return data, nil
}

// sleepThenIdentity waits for meta["sleep"] (a Go duration string) first.
func sleepThenIdentity(ctx context.Context, data any, meta types.Metadata) (any, error) {
	if raw, ok := meta["sleep"].(string); ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid sleep %q: %w", raw, err)
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return data, nil
}

func mapNumbers(onInt func(int64) int64, onFloat func(float64) float64) Func {
	return func(_ context.Context, data any, _ types.Metadata) (any, error) {
		items, ok := toAnySlice(data)
		if !ok {
			return nil, fmt.Errorf("expected a list of numbers, got %T", data)
		}
		var bad error
		out := slice.Map(items, func(i int, item any) any {
			n, err := toNumber(item)
			if err != nil {
				if bad == nil {
					bad = fmt.Errorf("item %d: %w", i, err)
				}
				return nil
			}
			if iv, isInt := n.(int64); isInt {
				return onInt(iv)
			}
			return onFloat(n.(float64))
		})
		if bad != nil {
			return nil, bad
		}
		return out, nil
	}
}

func sumChunk(ctx context.Context, data any, _ types.Metadata) (any, error) {
	items, ok := toAnySlice(data)
	if !ok {
		return nil, fmt.Errorf("expected a list of numbers, got %T", data)
	}
	return Sum(ctx, items)
}

// toNumber returns v as int64 or float64.
func toNumber(v any) (any, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("%v (%T) is not a number", v, v)
}

// Flatten concatenates list results in order. Scalar results are appended as is.
func Flatten(_ context.Context, values []any) (any, error) {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if items, ok := toAnySlice(v); ok {
			out = append(out, items...)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Collect returns the values unchanged.
func Collect(_ context.Context, values []any) (any, error) {
	return values, nil
}

// Count returns the number of items across all results after flattening.
func Count(ctx context.Context, values []any) (any, error) {
	flat, _ := Flatten(ctx, values)
	return int64(len(flat.([]any))), nil
}

// Sum adds all numbers across results after flattening. The result is an
// int64 unless a float was seen.
func Sum(ctx context.Context, values []any) (any, error) {
	flat, _ := Flatten(ctx, values)
	var (
		isum    int64
		fsum    float64
		isFloat bool
	)
	for i, item := range flat.([]any) {
		n, err := toNumber(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		switch v := n.(type) {
		case int64:
			isum += v
		case float64:
			fsum += v
			isFloat = true
		}
	}
	if isFloat {
		return fsum + float64(isum), nil
	}
	return isum, nil
}
