package orders

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateSession  = errors.New("order already exists for checkout session")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence contract shared by the Postgres repo and the
// in-memory store. Implementations must enforce uniqueness of
// Order.CheckoutSessionID themselves and report a violation as
// ErrDuplicateSession.
type Store interface {
	ProductsByID(ctx context.Context, ids []string) (map[string]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	FindBySession(ctx context.Context, sessionID string) (Order, error)
	// CreateOrder writes the order, its items and grants as one unit. An
	// order with items is treated as complete and its grants are never
	// revisited, so implementations must not commit items without grants.
	CreateOrder(ctx context.Context, o Order, items []OrderItem, grants []Grant) error
	CountItems(ctx context.Context, orderID string) (int, error)
	// CompleteOrder fills in items for an order that has none and inserts
	// any missing grants. It reports whether items were added.
	CompleteOrder(ctx context.Context, orderID string, items []OrderItem, grants []Grant) (bool, error)

	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListItems(ctx context.Context, orderID string) ([]OrderItem, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, orderID string, to Status) (Order, error)

	HasGrant(ctx context.Context, buyerID, productID string) (bool, error)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 200:
		return 200
	}
	return n
}
