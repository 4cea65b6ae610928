package order

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/elit21/storefront-go/internal/inventory"
	"github.com/elit21/storefront-go/internal/money"
	"github.com/elit21/storefront-go/internal/store"
	"github.com/elit21/storefront-go/pkg/contracts"
	"github.com/elit21/storefront-go/pkg/outbox"
)

// Store persists orders, their frozen line items and the transaction
// ledger. Multi-step writes run inside a single database transaction so a
// failing step leaves nothing behind.
type Store struct {
	Pool  *pgxpool.Pool
	Topic string
}

func NewStore(pool *pgxpool.Pool, topic string) *Store {
	return &Store{Pool: pool, Topic: topic}
}

const orderColumns = `id, customer_name, customer_email, customer_address, status,
	payment_status, shipping_fee::text, total::text, currency, created_at, updated_at`

// Create inserts the pending order and its item snapshots after an
// advisory per-line stock check, all in one transaction. An insufficient
// line aborts without creating any row.
func (s *Store) Create(ctx context.Context, draft Draft) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ledger := &inventory.Ledger{DB: tx}
	for _, line := range draft.Lines {
		avail, err := ledger.Available(ctx, line.ProductID, line.Color, line.Size)
		if err != nil {
			return 0, err
		}
		if avail < line.Quantity {
			return 0, &inventory.StockError{
				ProductID: line.ProductID,
				Color:     line.Color,
				Size:      line.Size,
				Requested: line.Quantity,
				Available: avail,
			}
		}
	}

	var orderID int64
	err = tx.QueryRow(ctx, `INSERT INTO orders(customer_name, customer_email, customer_address,
		status, payment_status, shipping_fee, total, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		draft.CustomerName, draft.CustomerEmail, draft.CustomerAddress,
		string(StatusPending), PendingPayment().String(),
		money.Text(draft.ShippingFee), money.Text(draft.Total), draft.Currency,
	).Scan(&orderID)
	if err != nil {
		return 0, err
	}

	for _, line := range draft.Lines {
		_, err = tx.Exec(ctx, `INSERT INTO order_items(order_id, product_id, product_name, color, size, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			orderID, line.ProductID, line.ProductName, line.Color, line.Size, line.Quantity, money.Text(line.UnitPrice))
		if err != nil {
			return 0, err
		}
	}

	if draft.IdempotencyKey != "" {
		_, err = tx.Exec(ctx, `INSERT INTO order_idempotency(idempotency_key, order_id) VALUES ($1, $2)`,
			draft.IdempotencyKey, orderID)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, ErrIdempotencyConflict
			}
			return 0, err
		}
	}

	if err := s.emit(ctx, tx, contracts.EventOrderCreated, orderID, map[string]any{
		"total":    money.Text(draft.Total),
		"currency": draft.Currency,
		"lines":    len(draft.Lines),
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return orderID, nil
}

// MarkGatewayOrder records the gateway correlation id. The compare-and-swap
// on the previous encoding keeps the payment machine monotonic even with a
// concurrent writer.
func (s *Store) MarkGatewayOrder(ctx context.Context, orderID int64, gatewayOrderID string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE orders SET payment_status=$2, updated_at=now()
		WHERE id=$1 AND payment_status=$3`,
		orderID, AwaitingCapture(gatewayOrderID).String(), PendingPayment().String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentStateConflict
	}
	if err := s.emit(ctx, tx, contracts.EventGatewayOrderLinked, orderID, map[string]any{
		"gateway_order_id": gatewayOrderID,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Delete removes a pending order and its items (compensation after a
// failed gateway call). Items and idempotency rows go with the cascade.
// The rolled-back event commits in the same transaction so consumers
// that saw order.created can retire the order.
func (s *Store) Delete(ctx context.Context, orderID int64, reason string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		if err := s.emit(ctx, tx, contracts.EventOrderRolledBack, orderID, map[string]any{
			"reason": reason,
		}); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ByID(ctx context.Context, orderID int64) (*Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID)
	return scanOrder(row)
}

// ByGatewayOrder resolves the order awaiting capture for a given gateway
// order id, scoped to the acting customer.
func (s *Store) ByGatewayOrder(ctx context.Context, gatewayOrderID, customerEmail string) (*Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE payment_status=$1 AND customer_email=$2 ORDER BY id DESC LIMIT 1`,
		AwaitingCapture(gatewayOrderID).String(), customerEmail)
	return scanOrder(row)
}

func (s *Store) Items(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, order_id, product_id, product_name, color, size, quantity, price::text
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var price string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Color, &it.Size, &it.Quantity, &price); err != nil {
			return nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CompleteCapture applies the post-capture mutations in one transaction:
// per-line conditional decrements, cached stock recompute, the confirmed /
// paid compare-and-swap and the single revenue transaction row. A stock or
// state conflict rolls everything back.
func (s *Store) CompleteCapture(ctx context.Context, ord *Order, items []Item, captureID string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ledger := &inventory.Ledger{DB: tx}
	for _, it := range items {
		avail, err := ledger.Available(ctx, it.ProductID, it.Color, it.Size)
		if err != nil {
			return err
		}
		if avail < it.Quantity {
			return &inventory.StockError{
				ProductID: it.ProductID,
				Color:     it.Color,
				Size:      it.Size,
				Requested: it.Quantity,
				Available: avail,
			}
		}
	}
	for _, it := range items {
		ok, err := ledger.DecrementIfSufficient(ctx, it.ProductID, it.Color, it.Size, it.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			avail, _ := ledger.Available(ctx, it.ProductID, it.Color, it.Size)
			return &inventory.StockError{
				ProductID: it.ProductID,
				Color:     it.Color,
				Size:      it.Size,
				Requested: it.Quantity,
				Available: avail,
			}
		}
		if err := ledger.RecomputeProductStock(ctx, it.ProductID); err != nil {
			return err
		}
	}
	if err := s.emit(ctx, tx, contracts.EventInventoryDeducted, ord.ID, map[string]any{
		"lines": len(items),
	}); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `UPDATE orders SET status=$2, payment_status=$3, updated_at=now()
		WHERE id=$1 AND payment_status=$4`,
		ord.ID, string(StatusConfirmed), Paid(captureID).String(), ord.Payment.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentStateConflict
	}

	_, err = tx.Exec(ctx, `INSERT INTO transactions(order_id, completed_at, total) VALUES ($1, $2, $3)`,
		ord.ID, time.Now().UTC(), money.Text(ord.Total))
	if err != nil {
		return err
	}

	if err := s.emit(ctx, tx, contracts.EventOrderConfirmed, ord.ID, nil); err != nil {
		return err
	}
	if err := s.emit(ctx, tx, contracts.EventPaymentCaptured, ord.ID, map[string]any{
		"capture_id": captureID,
		"total":      money.Text(ord.Total),
		"currency":   ord.Currency,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AdvanceStatus performs one admin fulfillment transition. It never
// touches payment_status and rejects moves outside the fixed machine.
func (s *Store) AdvanceStatus(ctx context.Context, orderID int64, next Status) error {
	if !ValidStatus(next) {
		return ErrInvalidTransition
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if !CanAdvance(current, next) {
		return ErrInvalidTransition
	}
	_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, string(next))
	if err != nil {
		return err
	}
	if next == StatusCompleted {
		// Fulfillment acknowledgment only; the capture already recorded
		// the transaction.
		if err := s.emit(ctx, tx, contracts.EventOrderCompleted, orderID, nil); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// OrderIDByIdempotencyKey resolves a replayed checkout creation.
func (s *Store) OrderIDByIdempotencyKey(ctx context.Context, key string) (int64, error) {
	var orderID int64
	err := s.Pool.QueryRow(ctx, `SELECT order_id FROM order_idempotency WHERE idempotency_key=$1`, key).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return orderID, nil
}

func (s *Store) emit(ctx context.Context, db store.DB, eventType string, orderID int64, payload map[string]any) error {
	evt := contracts.Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		CreatedAt: time.Now().UTC(),
		Type:      eventType,
		Payload:   payload,
	}
	return outbox.Insert(ctx, db, evt.EventID, s.Topic, strconv.FormatInt(orderID, 10), evt)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var ord Order
	var status, paymentStatus, shippingFee, total string
	err := row.Scan(&ord.ID, &ord.CustomerName, &ord.CustomerEmail, &ord.CustomerAddress,
		&status, &paymentStatus, &shippingFee, &total, &ord.Currency, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ord.Status = Status(status)
	if ord.Payment, err = ParsePaymentStatus(paymentStatus); err != nil {
		return nil, err
	}
	if ord.ShippingFee, err = decimal.NewFromString(shippingFee); err != nil {
		return nil, err
	}
	if ord.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	return &ord, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
