package order

import (
	"fmt"
	"strings"
)

type PaymentState int

const (
	PaymentPending PaymentState = iota
	PaymentAwaitingCapture
	PaymentPaid
)

// PaymentStatus is the three-state payment machine. It moves only forward:
// pending, then awaiting capture against one gateway order, then paid with
// one capture id. Once paid it is immutable.
type PaymentStatus struct {
	State          PaymentState
	GatewayOrderID string
	CaptureID      string
}

func PendingPayment() PaymentStatus {
	return PaymentStatus{State: PaymentPending}
}

func AwaitingCapture(gatewayOrderID string) PaymentStatus {
	return PaymentStatus{State: PaymentAwaitingCapture, GatewayOrderID: gatewayOrderID}
}

func Paid(captureID string) PaymentStatus {
	return PaymentStatus{State: PaymentPaid, CaptureID: captureID}
}

const (
	paymentPendingValue = "pending"
	gatewayOrderPrefix  = "gateway_order:"
	paymentPaidPrefix   = "paid:"
)

// String renders the column encoding ("pending", "gateway_order:<id>",
// "paid:<id>").
func (s PaymentStatus) String() string {
	switch s.State {
	case PaymentAwaitingCapture:
		return gatewayOrderPrefix + s.GatewayOrderID
	case PaymentPaid:
		return paymentPaidPrefix + s.CaptureID
	default:
		return paymentPendingValue
	}
}

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch {
	case raw == paymentPendingValue:
		return PendingPayment(), nil
	case strings.HasPrefix(raw, gatewayOrderPrefix):
		id := raw[len(gatewayOrderPrefix):]
		if id == "" {
			return PaymentStatus{}, fmt.Errorf("payment status %q has empty gateway order id", raw)
		}
		return AwaitingCapture(id), nil
	case strings.HasPrefix(raw, paymentPaidPrefix):
		id := raw[len(paymentPaidPrefix):]
		if id == "" {
			return PaymentStatus{}, fmt.Errorf("payment status %q has empty capture id", raw)
		}
		return Paid(id), nil
	}
	return PaymentStatus{}, fmt.Errorf("unrecognized payment status %q", raw)
}

// CanProgress reports whether next is a legal forward move from s.
func (s PaymentStatus) CanProgress(next PaymentStatus) bool {
	switch s.State {
	case PaymentPending:
		return next.State == PaymentAwaitingCapture
	case PaymentAwaitingCapture:
		return next.State == PaymentPaid
	default:
		return false
	}
}
