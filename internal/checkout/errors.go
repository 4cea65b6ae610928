package checkout

import "errors"

var (
	ErrEmptyCart = errors.New("cart is empty")

	// ErrInconsistentState marks a reference, amount, currency or payment
	// state mismatch between the gateway and the local order. It always
	// fails closed: no mutation was applied.
	ErrInconsistentState = errors.New("inconsistent payment state")

	// ErrPaymentNotConfirmed means the gateway capture did not report the
	// canonical completed status.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
)

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}
