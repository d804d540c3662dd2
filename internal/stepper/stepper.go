// Package stepper implements the ordered step container used for workflow
// children: step 0 runs first, items inside one step run side by side.
package stepper

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"stepline/internal/errs"
)

// Stepper is a dense sequence of steps. Index i holds the items of step i.
type Stepper[T any] [][]T

// Repair re-indexes raw input into a dense stepper. Mappings are ordered by
// numeric key first, then by the remaining keys lexically. Arrays of arrays
// are accepted as already ordered. Any step that is not an array fails.
func Repair(raw any) (Stepper[any], error) {
	if raw == nil {
		return Stepper[any]{}, nil
	}
	switch v := raw.(type) {
	case Stepper[any]:
		return v, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		out := make(Stepper[any], 0, len(keys))
		for _, k := range orderKeys(keys) {
			items, err := toItems(v[k])
			if err != nil {
				return nil, errs.Validation("stepper.repair", errs.InvalidStepperShape, "step %q: %v", k, err)
			}
			out = append(out, items)
		}
		return out, nil
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errs.Validation("stepper.repair", errs.InvalidStepperShape, "step keys must be strings, got %s", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		out := make(Stepper[any], 0, len(keys))
		for _, k := range orderKeys(keys) {
			items, err := toItems(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return nil, errs.Validation("stepper.repair", errs.InvalidStepperShape, "step %q: %v", k, err)
			}
			out = append(out, items)
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make(Stepper[any], 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items, err := toItems(rv.Index(i).Interface())
			if err != nil {
				return nil, errs.Validation("stepper.repair", errs.InvalidStepperShape, "step %d: %v", i, err)
			}
			out = append(out, items)
		}
		return out, nil
	default:
		return nil, errs.Validation("stepper.repair", errs.InvalidStepperShape, "expected a step mapping, got %T", raw)
	}
}

func toItems(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return items, nil
	}
	if v == nil {
		return nil, fmt.Errorf("step is null")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// orderKeys sorts non-negative integer keys numerically ahead of all other
// keys, which follow in lexical order.
func orderKeys(keys []string) []string {
	sort.SliceStable(keys, func(i, j int) bool {
		ni, iNum := stepIndex(keys[i])
		nj, jNum := stepIndex(keys[j])
		switch {
		case iNum && jNum:
			if ni != nj {
				return ni < nj
			}
			return keys[i] < keys[j]
		case iNum != jNum:
			return iNum
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

func stepIndex(k string) (int, bool) {
	n, err := strconv.Atoi(k)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Strings repairs raw and requires every item to be a string.
func Strings(raw any) (Stepper[string], error) {
	s, err := Repair(raw)
	if err != nil {
		return nil, err
	}
	out := make(Stepper[string], len(s))
	for i, step := range s {
		out[i] = make([]string, len(step))
		for j, item := range step {
			str, ok := item.(string)
			if !ok {
				return nil, errs.Validation("stepper.strings", errs.InvalidStepperShape, "step %d item %d: expected string, got %T", i, j, item)
			}
			out[i][j] = str
		}
	}
	return out, nil
}

// Value returns the document form of s: a mapping keyed "0".."n-1".
func (s Stepper[T]) Value() map[string]any {
	out := make(map[string]any, len(s))
	for i, step := range s {
		items := make([]any, len(step))
		for j, item := range step {
			items[j] = item
		}
		out[strconv.Itoa(i)] = items
	}
	return out
}

// GetStep returns the items of step i. ok is false when there is no such step.
func GetStep[T any](s Stepper[T], i int) ([]T, bool) {
	if i < 0 || i >= len(s) {
		return nil, false
	}
	return s[i], true
}

// Compress concatenates all steps in ascending order.
func Compress[T any](s Stepper[T]) []T {
	n := 0
	for _, step := range s {
		n += len(step)
	}
	out := make([]T, 0, n)
	for _, step := range s {
		out = append(out, step...)
	}
	return out
}

// ForEachInOrder calls fn for step 0, 1, ... and stops at the first error.
// Steps never overlap.
func ForEachInOrder[T any](ctx context.Context, s Stepper[T], fn func(ctx context.Context, index int, items []T) error) error {
	for i, step := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, i, step); err != nil {
			return err
		}
	}
	return nil
}

// Map transforms every item. Steps are processed in order; the items of one
// step are processed concurrently.
func Map[T, U any](ctx context.Context, s Stepper[T], fn func(ctx context.Context, item T) (U, error)) (Stepper[U], error) {
	out := make(Stepper[U], len(s))
	err := ForEachInOrder(ctx, s, func(ctx context.Context, i int, items []T) error {
		mapped, err := MapItems(ctx, items, fn)
		if err != nil {
			return err
		}
		out[i] = mapped
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MapItems transforms items concurrently, keeping their order. The first
// error cancels the remaining work.
func MapItems[T, U any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (U, error)) ([]U, error) {
	out := make([]U, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			v, err := fn(gctx, item)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s Stepper[T]) MarshalJSON() ([]byte, error) {
	out := make(map[string][]T, len(s))
	for i, step := range s {
		if step == nil {
			step = []T{}
		}
		out[strconv.Itoa(i)] = step
	}
	return json.Marshal(out)
}

func (s *Stepper[T]) UnmarshalJSON(data []byte) error {
	var raw map[string][]T
	if err := json.Unmarshal(data, &raw); err != nil {
		return errs.Validation("stepper.unmarshal", errs.InvalidStepperShape, "%v", err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	out := make(Stepper[T], 0, len(keys))
	for _, k := range orderKeys(keys) {
		out = append(out, raw[k])
	}
	*s = out
	return nil
}
