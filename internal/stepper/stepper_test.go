package stepper_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/errs"
	"stepline/internal/stepper"
)

func TestRepair(t *testing.T) {
	t.Run("Should re-index sparse numeric keys densely", func(t *testing.T) {
		s, err := stepper.Repair(map[string]any{
			"7": []any{"c"},
			"2": []any{"b1", "b2"},
			"0": []any{"a"},
		})
		require.NoError(t, err)
		assert.Equal(t, stepper.Stepper[any]{{"a"}, {"b1", "b2"}, {"c"}}, s)
	})

	t.Run("Should place non numeric keys after numeric ones", func(t *testing.T) {
		s, err := stepper.Repair(map[string]any{
			"later": []any{"z"},
			"10":    []any{"y"},
			"-1":    []any{"w"},
			"3":     []any{"x"},
		})
		require.NoError(t, err)
		assert.Equal(t, stepper.Stepper[any]{{"x"}, {"y"}, {"w"}, {"z"}}, s)
	})

	t.Run("Should accept arrays of arrays and typed slices", func(t *testing.T) {
		s, err := stepper.Repair([]any{[]string{"a"}, []any{}})
		require.NoError(t, err)
		assert.Equal(t, stepper.Stepper[any]{{"a"}, {}}, s)

		s, err = stepper.Repair(map[string][]string{"1": {"b"}, "0": {"a"}})
		require.NoError(t, err)
		assert.Equal(t, stepper.Stepper[any]{{"a"}, {"b"}}, s)
	})

	t.Run("Should treat nil as empty", func(t *testing.T) {
		s, err := stepper.Repair(nil)
		require.NoError(t, err)
		assert.Empty(t, s)
	})

	t.Run("Should reject non array steps", func(t *testing.T) {
		for _, raw := range []any{
			map[string]any{"0": "not-an-array"},
			map[string]any{"0": []any{"a"}, "1": nil},
			[]any{[]any{"a"}, 3},
			"flat",
			42,
		} {
			_, err := stepper.Repair(raw)
			require.Error(t, err, "%#v", raw)
			assert.True(t, errors.Is(err, errs.ErrValidation))
			assert.Equal(t, errs.InvalidStepperShape, errs.CodeOf(err))
		}
	})

	t.Run("Should always produce keys 0..n-1 in document form", func(t *testing.T) {
		inputs := []map[string]any{
			{"5": []any{1}, "9": []any{2}},
			{"x": []any{}, "y": []any{1}, "0": []any{0}},
			{},
		}
		for _, in := range inputs {
			s, err := stepper.Repair(in)
			require.NoError(t, err)
			v := s.Value()
			require.Len(t, v, len(in))
			for i := range s {
				_, ok := v[strconv.Itoa(i)]
				assert.True(t, ok, "missing key %d", i)
			}
		}
	})
}

func TestStrings(t *testing.T) {
	s, err := stepper.Strings(map[string]any{"0": []any{"tasks/a", "tasks/b"}})
	require.NoError(t, err)
	assert.Equal(t, stepper.Stepper[string]{{"tasks/a", "tasks/b"}}, s)

	_, err = stepper.Strings(map[string]any{"0": []any{1}})
	assert.Equal(t, errs.InvalidStepperShape, errs.CodeOf(err))
}

func TestGetStepAndCompress(t *testing.T) {
	s := stepper.Stepper[string]{{"a", "b"}, {}, {"c"}}

	items, ok := stepper.GetStep(s, 0)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, items)

	_, ok = stepper.GetStep(s, 3)
	assert.False(t, ok)
	_, ok = stepper.GetStep(s, -1)
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "c"}, stepper.Compress(s))
	assert.Empty(t, stepper.Compress(stepper.Stepper[string]{}))
}

func TestForEachInOrder(t *testing.T) {
	s := stepper.Stepper[int]{{1}, {2, 3}, {4}}
	var seen []int
	err := stepper.ForEachInOrder(context.Background(), s, func(_ context.Context, i int, items []int) error {
		seen = append(seen, i)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)

	stop := errors.New("stop")
	seen = nil
	err = stepper.ForEachInOrder(context.Background(), s, func(_ context.Context, i int, _ []int) error {
		seen = append(seen, i)
		if i == 1 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []int{0, 1}, seen)
}

func TestMap(t *testing.T) {
	t.Run("Should keep item order and step boundaries", func(t *testing.T) {
		s := stepper.Stepper[int]{{1, 2, 3}, {4}}
		var step0Done atomic.Int32
		out, err := stepper.Map(context.Background(), s, func(_ context.Context, v int) (int, error) {
			if v == 4 {
				assert.Equal(t, int32(3), step0Done.Load())
			} else {
				step0Done.Add(1)
			}
			return v * 10, nil
		})
		require.NoError(t, err)
		assert.Equal(t, stepper.Stepper[int]{{10, 20, 30}, {40}}, out)
	})

	t.Run("Should stop at the first failing step", func(t *testing.T) {
		s := stepper.Stepper[int]{{1}, {2}, {3}}
		var calls atomic.Int32
		_, err := stepper.Map(context.Background(), s, func(_ context.Context, v int) (int, error) {
			calls.Add(1)
			if v == 2 {
				return 0, errors.New("boom")
			}
			return v, nil
		})
		require.Error(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestJSON(t *testing.T) {
	s := stepper.Stepper[string]{{"a"}, {"b", "c"}}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"0":["a"],"1":["b","c"]}`, string(data))

	var back stepper.Stepper[string]
	require.NoError(t, json.Unmarshal([]byte(`{"4":["b","c"],"1":["a"]}`), &back))
	assert.Equal(t, s, back)

	err = json.Unmarshal([]byte(`{"0":"a"}`), &back)
	assert.Equal(t, errs.InvalidStepperShape, errs.CodeOf(err))
}
