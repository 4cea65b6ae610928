package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUpsertAndAvailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	qty, err := m.Available(ctx, 5, "Red", "M")
	require.NoError(t, err)
	assert.Equal(t, 0, qty, "missing row reads as zero")

	require.NoError(t, m.Upsert(ctx, 5, "Red", "M", 3))
	require.NoError(t, m.Upsert(ctx, 5, "Blue", "L", 2))

	qty, err = m.Available(ctx, 5, "Red", "M")
	require.NoError(t, err)
	assert.Equal(t, 3, qty)
	assert.Equal(t, 5, m.ProductStock(5), "cached stock is the sum across variants")

	assert.Error(t, m.Upsert(ctx, 5, "Red", "M", -1))
}

func TestMemoryDecrement(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, 1, "Black", "S", 2))

	ok, err := m.DecrementIfSufficient(ctx, 1, "Black", "S", 3)
	require.NoError(t, err)
	assert.False(t, ok, "over-decrement is refused")

	qty, _ := m.Available(ctx, 1, "Black", "S")
	assert.Equal(t, 2, qty, "refused decrement must not mutate")

	ok, err = m.DecrementIfSufficient(ctx, 1, "Black", "S", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.DecrementIfSufficient(ctx, 1, "Black", "S", 1)
	require.NoError(t, err)
	assert.False(t, ok, "row at zero refuses further decrements")

	ok, err = m.DecrementIfSufficient(ctx, 9, "None", "XL", 1)
	require.NoError(t, err)
	assert.False(t, ok, "missing row refuses decrement")
}

func TestMemoryDecrementConcurrent(t *testing.T) {
	const (
		buyers = 50
		stock  = 7
	)
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, 5, "Red", "M", stock))

	var wg sync.WaitGroup
	results := make(chan bool, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.DecrementIfSufficient(ctx, 5, "Red", "M", 1)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, stock, wins, "exactly min(N,Q) decrements may win")

	qty, _ := m.Available(ctx, 5, "Red", "M")
	assert.Equal(t, 0, qty, "quantity never goes negative")
}

func TestStockErrorUnwrap(t *testing.T) {
	zero := &StockError{ProductID: 5, Color: "Red", Size: "M", Requested: 1, Available: 0}
	assert.ErrorIs(t, zero, ErrOutOfStock)

	low := &StockError{ProductID: 5, Color: "Red", Size: "M", Requested: 2, Available: 1}
	assert.ErrorIs(t, low, ErrInsufficient)
	assert.Contains(t, low.Error(), "product 5")
}
