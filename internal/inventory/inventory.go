package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/elit21/storefront-go/internal/store"
)

var (
	ErrOutOfStock   = errors.New("out of stock")
	ErrInsufficient = errors.New("insufficient stock")
)

// StockError pinpoints the variant that blocked a cart or checkout step.
type StockError struct {
	ProductID int64
	Color     string
	Size      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s/%s): requested %d, available %d",
		e.ProductID, e.Color, e.Size, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	if e.Available == 0 {
		return ErrOutOfStock
	}
	return ErrInsufficient
}

// Ledger is the per-variant stock ledger. All methods accept the bound DB,
// which may be a pool or an open transaction.
type Ledger struct {
	DB store.DB
}

// Available returns the quantity for a variant, 0 when no row exists.
func (l *Ledger) Available(ctx context.Context, productID int64, color, size string) (int, error) {
	var qty int
	err := l.DB.QueryRow(ctx,
		`SELECT quantity FROM product_inventory WHERE product_id=$1 AND color=$2 AND size=$3`,
		productID, color, size).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

// Upsert sets the absolute quantity for a variant (admin path).
func (l *Ledger) Upsert(ctx context.Context, productID int64, color, size string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("quantity must be >= 0, got %d", quantity)
	}
	_, err := l.DB.Exec(ctx, `INSERT INTO product_inventory(product_id, color, size, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, color, size) DO UPDATE SET quantity=EXCLUDED.quantity`,
		productID, color, size, quantity)
	return err
}

// DecrementIfSufficient subtracts qty in a single conditional UPDATE. It
// returns false without mutation when the row is missing or too small.
// This is the correctness boundary for concurrent captures of the same
// variant; everything else in checkout is advisory.
func (l *Ledger) DecrementIfSufficient(ctx context.Context, productID int64, color, size string, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("decrement quantity must be > 0, got %d", qty)
	}
	tag, err := l.DB.Exec(ctx, `UPDATE product_inventory SET quantity = quantity - $4
		WHERE product_id=$1 AND color=$2 AND size=$3 AND quantity >= $4`,
		productID, color, size, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Variant is one purchasable color/size row of a product.
type Variant struct {
	Color    string
	Size     string
	Quantity int
}

// Variants lists a product's rows, stocked or not, in stable order.
func (l *Ledger) Variants(ctx context.Context, productID int64) ([]Variant, error) {
	rows, err := l.DB.Query(ctx, `SELECT color, size, quantity FROM product_inventory
		WHERE product_id=$1 ORDER BY color, size`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.Color, &v.Size, &v.Quantity); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RecomputeProductStock refreshes the denormalized products.stock sum after
// any ledger write. The cached value is derived, never authoritative.
func (l *Ledger) RecomputeProductStock(ctx context.Context, productID int64) error {
	_, err := l.DB.Exec(ctx, `UPDATE products SET stock = (
		SELECT COALESCE(SUM(quantity), 0) FROM product_inventory WHERE product_id=$1
	) WHERE id=$1`, productID)
	return err
}
