package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/elit21/storefront-go/internal/store"
)

const StatusActive = "active"

var ErrNotFound = errors.New("product not found")

type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Status      string
	Stock       int
	CreatedAt   time.Time
}

func (p *Product) Active() bool {
	return p.Status == StatusActive
}

// Store is the minimal catalog read surface cart and checkout need. The
// cart never stores prices, so readers always see the live value here.
type Store struct {
	DB store.DB
}

func (s *Store) Product(ctx context.Context, id int64) (*Product, error) {
	var p Product
	var price string
	err := s.DB.QueryRow(ctx, `SELECT id, name, description, price::text, status, stock, created_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &price, &p.Status, &p.Stock, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ActiveProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, description, price::text, status, stock, created_at
		FROM products WHERE status=$1 ORDER BY created_at DESC`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var price string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Status, &p.Stock, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
