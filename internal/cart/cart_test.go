package cart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elit21/storefront-go/internal/inventory"
)

func newStore(t *testing.T) (*Store, *inventory.Memory) {
	t.Helper()
	ledger := inventory.NewMemory()
	require.NoError(t, ledger.Upsert(context.Background(), 5, "Red", "M", 1))
	require.NoError(t, ledger.Upsert(context.Background(), 5, "Blue", "L", 4))
	return NewStore(ledger), ledger
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key{ProductID: 5, Color: "Red", Size: "M"}
	assert.Equal(t, "5|Red|M", key.String())

	parsed, err := ParseKey("5|Red|M")
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	for _, raw := range []string{"", "5", "5|Red", "x|Red|M", "5||M", "5|Red|"} {
		_, err := ParseKey(raw)
		assert.ErrorIs(t, err, ErrBadKey, "raw=%q", raw)
	}
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	assert.ErrorIs(t, store.Add(ctx, "s1", 5, "", "M"), ErrVariantRequired)
	assert.ErrorIs(t, store.Add(ctx, "s1", 5, "Red", ""), ErrVariantRequired)

	err := store.Add(ctx, "s1", 5, "Green", "M")
	assert.ErrorIs(t, err, inventory.ErrOutOfStock, "unknown variant is out of stock")
	assert.Empty(t, store.Items("s1"))
}

func TestAddBoundedByStock(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	require.NoError(t, store.Add(ctx, "s1", 5, "Red", "M"))

	// Only 1 in the ledger: a second unit must be refused and the cart
	// kept as-is.
	err := store.Add(ctx, "s1", 5, "Red", "M")
	assert.ErrorIs(t, err, inventory.ErrInsufficient)

	items := store.Items("s1")
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestSetQuantity(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	key := Key{ProductID: 5, Color: "Blue", Size: "L"}

	require.NoError(t, store.SetQuantity(ctx, "s1", key, 3))
	assert.Equal(t, 3, store.Count("s1"))

	err := store.SetQuantity(ctx, "s1", key, 5)
	assert.ErrorIs(t, err, inventory.ErrInsufficient)
	assert.Equal(t, 3, store.Count("s1"), "failed update leaves cart unchanged")

	require.NoError(t, store.SetQuantity(ctx, "s1", key, 0))
	assert.Empty(t, store.Items("s1"), "zero removes the entry")
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	key := Key{ProductID: 5, Color: "Blue", Size: "L"}

	require.NoError(t, store.SetQuantity(ctx, "s1", key, 2))
	require.NoError(t, store.SetQuantity(ctx, "s2", key, 1))

	assert.Equal(t, 2, store.Count("s1"))
	assert.Equal(t, 1, store.Count("s2"))

	store.Clear("s1")
	assert.Zero(t, store.Count("s1"))
	assert.Equal(t, 1, store.Count("s2"))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	key := Key{ProductID: 5, Color: "Blue", Size: "L"}

	require.NoError(t, store.SetQuantity(ctx, "s1", key, 2))
	store.Remove("s1", key)
	assert.Empty(t, store.Items("s1"))

	// Removing an absent key is a no-op.
	store.Remove("s1", key)
}
