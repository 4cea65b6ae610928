package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type variantKey struct {
	productID int64
	color     string
	size      string
}

// Memory is an in-memory ledger with the same conditional-decrement
// contract as the Postgres one. It backs tests and credential-free local
// runs of the storefront.
type Memory struct {
	mu    sync.Mutex
	rows  map[variantKey]int
	stock map[int64]int
}

func NewMemory() *Memory {
	return &Memory{
		rows:  make(map[variantKey]int),
		stock: make(map[int64]int),
	}
}

func (m *Memory) Available(_ context.Context, productID int64, color, size string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[variantKey{productID, color, size}], nil
}

func (m *Memory) Upsert(_ context.Context, productID int64, color, size string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("quantity must be >= 0, got %d", quantity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[variantKey{productID, color, size}] = quantity
	m.recomputeLocked(productID)
	return nil
}

func (m *Memory) DecrementIfSufficient(_ context.Context, productID int64, color, size string, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("decrement quantity must be > 0, got %d", qty)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := variantKey{productID, color, size}
	current, ok := m.rows[key]
	if !ok || current < qty {
		return false, nil
	}
	m.rows[key] = current - qty
	return true, nil
}

func (m *Memory) RecomputeProductStock(_ context.Context, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputeLocked(productID)
	return nil
}

func (m *Memory) Variants(_ context.Context, productID int64) ([]Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Variant
	for key, qty := range m.rows {
		if key.productID == productID {
			out = append(out, Variant{Color: key.color, Size: key.size, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Color != out[j].Color {
			return out[i].Color < out[j].Color
		}
		return out[i].Size < out[j].Size
	})
	return out, nil
}

// ProductStock returns the cached aggregate for a product.
func (m *Memory) ProductStock(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[productID]
}

func (m *Memory) recomputeLocked(productID int64) {
	sum := 0
	for key, qty := range m.rows {
		if key.productID == productID {
			sum += qty
		}
	}
	m.stock[productID] = sum
}
