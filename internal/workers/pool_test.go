package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachFillsEverySlot(t *testing.T) {
	for _, w := range []int{1, 3, 16} {
		out := make([]int, 1000)
		err := NewPool(w).ForEach(context.Background(), len(out), func(_ context.Context, i int) error {
			out[i] = i * i
			return nil
		})
		require.NoError(t, err)
		for i, v := range out {
			require.Equal(t, i*i, v)
		}
	}
}

func TestForEachStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int64
	err := NewPool(2).ForEach(context.Background(), 10000, func(_ context.Context, i int) error {
		calls.Add(1)
		if i == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Less(t, calls.Load(), int64(10000))
}

func TestForEachHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewPool(1).ForEach(ctx, 5, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPoolDefaults(t *testing.T) {
	assert.GreaterOrEqual(t, NewPool(0).Workers(), 1)
	assert.Equal(t, 4, NewPool(4).Workers())
	assert.NoError(t, NewPool(4).ForEach(context.Background(), 0, nil))
}
