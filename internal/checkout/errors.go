package checkout

import (
	"errors"

	"github.com/ariefcatur/go-digital-storefront/internal/payments"
)

var (
	ErrInvalidCart         = errors.New("invalid cart")
	ErrProductNotFound     = errors.New("product not found")
	ErrPaymentProvider     = errors.New("payment provider error")
	ErrSessionLookupFailed = errors.New("checkout session lookup failed")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrStorage             = errors.New("storage error")

	// errPartialOrder never leaves the package; it only tags the log line
	// when an order without items is completed.
	errPartialOrder = errors.New("partial order detected")
)

// IsTerminal reports whether retrying err for the same input can never
// succeed. Webhook deliveries that fail terminally are acknowledged instead
// of being handed back to the provider for redelivery.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrPaymentNotCompleted) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInvalidCart) ||
		errors.Is(err, payments.ErrSessionNotFound)
}
