package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/elit21/storefront-go/internal/inventory"
)

var (
	ErrVariantRequired = errors.New("color and size are required")
	ErrBadKey          = errors.New("malformed cart key")
)

// Key identifies one purchasable variant: product, color, size.
type Key struct {
	ProductID int64
	Color     string
	Size      string
}

func (k Key) String() string {
	return fmt.Sprintf("%d|%s|%s", k.ProductID, k.Color, k.Size)
}

func ParseKey(raw string) (Key, error) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return Key{}, ErrBadKey
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Key{}, ErrBadKey
	}
	return Key{ProductID: id, Color: parts[1], Size: parts[2]}, nil
}

type Line struct {
	Key      Key
	Quantity int
}

// StockReader is the read slice of the inventory ledger the cart consults.
type StockReader interface {
	Available(ctx context.Context, productID int64, color, size string) (int, error)
}

// Store holds per-session carts. A cart only maps variant keys to
// quantities; prices stay in the catalog and are resolved by readers.
type Store struct {
	mu    sync.Mutex
	stock StockReader
	carts map[string]map[Key]int
}

func NewStore(stock StockReader) *Store {
	return &Store{stock: stock, carts: make(map[string]map[Key]int)}
}

// Add puts one more unit of a variant in the session's cart, bounded by
// the ledger quantity.
func (s *Store) Add(ctx context.Context, sessionID string, productID int64, color, size string) error {
	if strings.TrimSpace(color) == "" || strings.TrimSpace(size) == "" {
		return ErrVariantRequired
	}
	avail, err := s.stock.Available(ctx, productID, color, size)
	if err != nil {
		return err
	}
	key := Key{ProductID: productID, Color: color, Size: size}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.carts[sessionID][key]
	if avail == 0 || current+1 > avail {
		return &inventory.StockError{
			ProductID: productID,
			Color:     color,
			Size:      size,
			Requested: current + 1,
			Available: avail,
		}
	}
	s.cartLocked(sessionID)[key] = current + 1
	return nil
}

// SetQuantity sets the absolute quantity for a variant. n <= 0 removes the
// entry; more than the ledger allows fails and leaves the cart unchanged.
func (s *Store) SetQuantity(ctx context.Context, sessionID string, key Key, n int) error {
	if n <= 0 {
		s.Remove(sessionID, key)
		return nil
	}
	avail, err := s.stock.Available(ctx, key.ProductID, key.Color, key.Size)
	if err != nil {
		return err
	}
	if n > avail {
		return &inventory.StockError{
			ProductID: key.ProductID,
			Color:     key.Color,
			Size:      key.Size,
			Requested: n,
			Available: avail,
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cartLocked(sessionID)[key] = n
	return nil
}

func (s *Store) Remove(sessionID string, key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts[sessionID], key)
}

// Items returns the session's lines in a stable order.
func (s *Store) Items(sessionID string) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]Line, 0, len(s.carts[sessionID]))
	for key, qty := range s.carts[sessionID] {
		lines = append(lines, Line{Key: key, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].Key.String() < lines[j].Key.String()
	})
	return lines
}

// Count is the total unit count across the session's lines.
func (s *Store) Count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, qty := range s.carts[sessionID] {
		n += qty
	}
	return n
}

func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
}

func (s *Store) cartLocked(sessionID string) map[Key]int {
	c, ok := s.carts[sessionID]
	if !ok {
		c = make(map[Key]int)
		s.carts[sessionID] = c
	}
	return c
}
