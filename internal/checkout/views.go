package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-digital-storefront/internal/orders"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	ListItems(ctx context.Context, orderID string) ([]orders.OrderItem, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]orders.Order, error)
}

// Views are the read side over reconciled orders.
type Views struct {
	Store OrderReader
}

// ListOrdersForBuyer returns the buyer's orders, newest first. No orders is
// an empty slice, not an error.
func (v *Views) ListOrdersForBuyer(ctx context.Context, buyerID string) ([]orders.Order, error) {
	if buyerID == "" {
		return []orders.Order{}, nil
	}
	out, err := v.Store.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %v", ErrStorage, err)
	}
	if out == nil {
		out = []orders.Order{}
	}
	return out, nil
}

// GetOrderDetail returns orders.ErrNotFound for an unknown id.
func (v *Views) GetOrderDetail(ctx context.Context, orderID string) (orders.OrderDetail, error) {
	o, err := v.Store.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.OrderDetail{}, err
	}
	if err != nil {
		return orders.OrderDetail{}, fmt.Errorf("%w: get order: %v", ErrStorage, err)
	}
	items, err := v.Store.ListItems(ctx, orderID)
	if err != nil {
		return orders.OrderDetail{}, fmt.Errorf("%w: list items: %v", ErrStorage, err)
	}
	return orders.OrderDetail{Order: o, Items: items}, nil
}
