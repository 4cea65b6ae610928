package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusAccepted   Status = "accepted"
	StatusConfirmed  Status = "confirmed"
	StatusCompleted  Status = "completed"
)

var (
	ErrNotFound             = errors.New("order not found")
	ErrPaymentStateConflict = errors.New("payment state conflict")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrIdempotencyConflict  = errors.New("idempotency key already used")
)

// adminNext is the fulfillment state machine. confirmed is reachable only
// through payment capture, never through an admin advance; completing an
// order records no new transaction.
var adminNext = map[Status]Status{
	StatusPending:    StatusProcessing,
	StatusProcessing: StatusAccepted,
	StatusConfirmed:  StatusCompleted,
}

// CanAdvance reports whether the admin collaborator may move an order from
// one status to another.
func CanAdvance(from, to Status) bool {
	return adminNext[from] == to
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusAccepted, StatusConfirmed, StatusCompleted:
		return true
	}
	return false
}

type Order struct {
	ID              int64
	CustomerName    string
	CustomerEmail   string
	CustomerAddress string
	Status          Status
	Payment         PaymentStatus
	ShippingFee     decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is a frozen snapshot: name and unit price are captured at order
// creation and never re-read from the live catalog.
type Item struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	ProductName string
	Color       string
	Size        string
	Quantity    int
	Price       decimal.Decimal
}

type Line struct {
	ProductID   int64
	ProductName string
	Color       string
	Size        string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type Draft struct {
	CustomerName    string
	CustomerEmail   string
	CustomerAddress string
	ShippingFee     decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	Lines           []Line
	IdempotencyKey  string
}

// Transaction is one append-only completed-revenue record, exactly one per
// captured order.
type Transaction struct {
	ID          int64
	OrderID     int64
	CompletedAt time.Time
	Total       decimal.Decimal
}
