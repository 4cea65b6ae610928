package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/elit21/storefront-go/internal/cart"
	"github.com/elit21/storefront-go/internal/catalog"
	"github.com/elit21/storefront-go/internal/gateway"
	"github.com/elit21/storefront-go/internal/money"
	"github.com/elit21/storefront-go/internal/order"
	"github.com/elit21/storefront-go/pkg/logging"
)

const service = "storefront"

// CatalogReader resolves live products; cart prices come from here at
// checkout time and are frozen onto the order.
type CatalogReader interface {
	Product(ctx context.Context, id int64) (*catalog.Product, error)
}

// OrderStore is the order aggregate surface the engine drives. The
// Postgres implementation guarantees each composite method runs in one
// database transaction.
type OrderStore interface {
	Create(ctx context.Context, draft order.Draft) (int64, error)
	MarkGatewayOrder(ctx context.Context, orderID int64, gatewayOrderID string) error
	Delete(ctx context.Context, orderID int64, reason string) error
	ByID(ctx context.Context, orderID int64) (*order.Order, error)
	ByGatewayOrder(ctx context.Context, gatewayOrderID, customerEmail string) (*order.Order, error)
	Items(ctx context.Context, orderID int64) ([]order.Item, error)
	CompleteCapture(ctx context.Context, ord *order.Order, items []order.Item, captureID string) error
}

type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (gateway.OrderCreated, error)
	CaptureOrder(ctx context.Context, gatewayOrderID string) (gateway.CaptureResult, error)
}

// Engine reconciles the three independently observed states of a checkout:
// the local order record, the gateway's payment state and the inventory
// ledger.
type Engine struct {
	Carts       *cart.Store
	Catalog     CatalogReader
	Orders      OrderStore
	Gateway     Gateway
	ShippingFee decimal.Decimal
	Currency    string
	ReturnURL   string
	CancelURL   string
}

type CreateInput struct {
	SessionID      string
	CustomerEmail  string
	Address        ShippingAddress
	IdempotencyKey string
}

type CreateResult struct {
	OrderID        int64
	GatewayOrderID string
	ApproveURL     string
	Total          decimal.Decimal
}

type resolvedLine struct {
	product *catalog.Product
	key     cart.Key
	qty     int
}

// CreateOrder turns the session cart into a pending order and registers it
// with the gateway. The local order and its snapshots are written in one
// transaction; a gateway failure rolls the order back entirely.
func (e *Engine) CreateOrder(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := in.Address.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.CustomerEmail) == "" {
		return nil, &ValidationError{Msg: "missing customer email"}
	}

	lines, subtotal, err := e.resolveCart(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	total := money.Round(subtotal.Add(e.ShippingFee))

	draft := order.Draft{
		CustomerName:    in.Address.CustomerName,
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		CustomerAddress: in.Address.Text(),
		ShippingFee:     money.Round(e.ShippingFee),
		Total:           total,
		Currency:        e.Currency,
		IdempotencyKey:  in.IdempotencyKey,
	}
	for _, line := range lines {
		draft.Lines = append(draft.Lines, order.Line{
			ProductID:   line.product.ID,
			ProductName: line.product.Name,
			Color:       line.key.Color,
			Size:        line.key.Size,
			Quantity:    line.qty,
			UnitPrice:   money.Round(line.product.Price),
		})
	}

	orderID, err := e.Orders.Create(ctx, draft)
	if err != nil {
		return nil, err
	}
	logging.Debug(logging.Fields{Service: service, OrderID: orderID, Step: "create_order", Status: "pending_created"})

	gwReq := gateway.OrderRequest{
		ReferenceID: strconv.FormatInt(orderID, 10),
		Currency:    e.Currency,
		Total:       total,
		ItemTotal:   subtotal,
		Shipping:    money.Round(e.ShippingFee),
		Description: fmt.Sprintf("ELIT21 order #%d", orderID),
		ReturnURL:   e.ReturnURL,
		CancelURL:   e.CancelURL,
	}
	for _, line := range lines {
		gwReq.Items = append(gwReq.Items, gateway.ItemInput{
			Name:        line.product.Name,
			Description: fmt.Sprintf("Color: %s / Size: %s", line.key.Color, line.key.Size),
			SKU:         fmt.Sprintf("%d-%s-%s", line.product.ID, line.key.Color, line.key.Size),
			UnitPrice:   money.Round(line.product.Price),
			Quantity:    line.qty,
		})
	}

	created, err := e.Gateway.CreateOrder(ctx, gwReq)
	if err != nil {
		// The gateway never saw a usable order: remove the pending local
		// one so no orphan survives the failure.
		if delErr := e.Orders.Delete(ctx, orderID, "gateway_create_failed"); delErr != nil {
			logging.Log(logging.Fields{Service: service, OrderID: orderID, Step: "create_order", Status: "rollback_failed", Message: delErr.Error()})
		} else {
			logging.Debug(logging.Fields{Service: service, OrderID: orderID, Step: "create_order", Status: "rolled_back"})
		}
		return nil, err
	}

	if err := e.Orders.MarkGatewayOrder(ctx, orderID, created.ID); err != nil {
		if delErr := e.Orders.Delete(ctx, orderID, "gateway_link_failed"); delErr != nil {
			logging.Log(logging.Fields{Service: service, OrderID: orderID, Step: "create_order", Status: "rollback_failed", Message: delErr.Error()})
		}
		return nil, err
	}

	logging.Log(logging.Fields{Service: service, OrderID: orderID, GatewayOrderID: created.ID, Step: "create_order", Status: "gateway_linked"})
	return &CreateResult{
		OrderID:        orderID,
		GatewayOrderID: created.ID,
		ApproveURL:     created.ApproveURL,
		Total:          total,
	}, nil
}

type CaptureInput struct {
	SessionID      string
	CustomerEmail  string
	GatewayOrderID string
	// OrderID narrows resolution when the redirect carries it; zero means
	// resolve through the gateway order id.
	OrderID int64
}

type CaptureOutcome struct {
	OrderID   int64
	CaptureID string
}

// CaptureOrder finalizes payment and reconciles the gateway's answer
// against the locally recorded order before any inventory or order
// mutation. Safe to invoke repeatedly: only the first matching capture
// mutates anything.
func (e *Engine) CaptureOrder(ctx context.Context, in CaptureInput) (*CaptureOutcome, error) {
	if strings.TrimSpace(in.GatewayOrderID) == "" {
		return nil, &ValidationError{Msg: "missing gateway order id"}
	}

	ord, err := e.resolveOrder(ctx, in)
	if err != nil {
		return nil, err
	}

	expected := order.AwaitingCapture(in.GatewayOrderID)
	if ord.Payment != expected {
		return nil, fmt.Errorf("%w: order %d payment is %q, expected %q",
			ErrInconsistentState, ord.ID, ord.Payment.String(), expected.String())
	}

	res, err := e.Gateway.CaptureOrder(ctx, in.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if res.Status != gateway.StatusCompleted {
		return nil, fmt.Errorf("%w: gateway reported %q", ErrPaymentNotConfirmed, res.Status)
	}
	if res.ReferenceID != "" && res.ReferenceID != strconv.FormatInt(ord.ID, 10) {
		return nil, fmt.Errorf("%w: capture reference %q does not match order %d",
			ErrInconsistentState, res.ReferenceID, ord.ID)
	}
	if res.Currency != "" && res.Currency != ord.Currency {
		return nil, fmt.Errorf("%w: capture currency %q, order currency %q",
			ErrInconsistentState, res.Currency, ord.Currency)
	}
	if res.HasAmount && !money.Equal(res.Amount, ord.Total) {
		return nil, fmt.Errorf("%w: captured %s, order total %s",
			ErrInconsistentState, money.Text(res.Amount), money.Text(ord.Total))
	}

	items, err := e.Orders.Items(ctx, ord.ID)
	if err != nil {
		return nil, err
	}

	captureID := res.CaptureID
	if captureID == "" {
		captureID = in.GatewayOrderID
	}

	if err := e.Orders.CompleteCapture(ctx, ord, items, captureID); err != nil {
		if errors.Is(err, order.ErrPaymentStateConflict) {
			return nil, fmt.Errorf("%w: concurrent capture already finalized order %d", ErrInconsistentState, ord.ID)
		}
		return nil, err
	}

	e.Carts.Clear(in.SessionID)
	logging.Log(logging.Fields{Service: service, OrderID: ord.ID, GatewayOrderID: in.GatewayOrderID, CaptureID: captureID, Step: "capture_order", Status: "confirmed"})
	return &CaptureOutcome{OrderID: ord.ID, CaptureID: captureID}, nil
}

func (e *Engine) resolveOrder(ctx context.Context, in CaptureInput) (*order.Order, error) {
	if in.OrderID != 0 {
		ord, err := e.Orders.ByID(ctx, in.OrderID)
		if err != nil {
			return nil, err
		}
		// The redirect query string is attacker-controlled: an order id
		// belonging to someone else resolves as not found.
		if ord.CustomerEmail != strings.TrimSpace(in.CustomerEmail) {
			return nil, order.ErrNotFound
		}
		return ord, nil
	}
	return e.Orders.ByGatewayOrder(ctx, in.GatewayOrderID, strings.TrimSpace(in.CustomerEmail))
}

// resolveCart loads the session cart and prices it against the live
// catalog. Entries whose product vanished or went inactive are dropped,
// matching how the cart itself reads.
func (e *Engine) resolveCart(ctx context.Context, sessionID string) ([]resolvedLine, decimal.Decimal, error) {
	subtotal := decimal.Zero
	var lines []resolvedLine
	for _, item := range e.Carts.Items(sessionID) {
		p, err := e.Catalog.Product(ctx, item.Key.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, decimal.Zero, err
		}
		if !p.Active() {
			continue
		}
		lines = append(lines, resolvedLine{product: p, key: item.Key, qty: item.Quantity})
		subtotal = subtotal.Add(money.Round(p.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return lines, money.Round(subtotal), nil
}
