package checkout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-digital-storefront/internal/metrics"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
)

type CartItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
}

// Buyer identifies who is paying. A zero ID means anonymous checkout.
type Buyer struct {
	ID    string
	Email string
}

type Session struct {
	RedirectURL string `json:"redirect_url"`
	SessionID   string `json:"session_id"`
}

type ProductLookup interface {
	ProductsByID(ctx context.Context, ids []string) (map[string]orders.Product, error)
}

// Initiator turns a cart into a provider-hosted checkout session. Prices
// always come from the catalog, never from the client.
type Initiator struct {
	Products   ProductLookup
	Provider   payments.Provider
	Currency   string
	SuccessURL string
	CancelURL  string
	Log        logrus.FieldLogger
}

func (in *Initiator) log() logrus.FieldLogger {
	if in.Log == nil {
		return logrus.StandardLogger()
	}
	return in.Log
}

// mergeCart folds repeated products into one line, keeping first-seen order.
func mergeCart(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}
	idx := map[string]int{}
	out := make([]CartItem, 0, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return nil, fmt.Errorf("%w: missing product_id", ErrInvalidCart)
		}
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: invalid quantity for product %s", ErrInvalidCart, it.ProductID)
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

func (in *Initiator) CreateSession(ctx context.Context, items []CartItem, buyer Buyer) (Session, error) {
	cart, err := mergeCart(items)
	if err != nil {
		metrics.CheckoutSession("invalid")
		return Session{}, err
	}

	ids := make([]string, 0, len(cart))
	for _, it := range cart {
		ids = append(ids, it.ProductID)
	}
	products, err := in.Products.ProductsByID(ctx, ids)
	if err != nil {
		metrics.CheckoutSession("error")
		return Session{}, fmt.Errorf("%w: load products: %v", ErrStorage, err)
	}

	lines := make([]payments.LineItem, 0, len(cart))
	meta := make([]lineItem, 0, len(cart))
	for _, it := range cart {
		p, ok := products[it.ProductID]
		if !ok || !p.Active {
			metrics.CheckoutSession("invalid")
			return Session{}, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if p.PriceCents <= 0 {
			metrics.CheckoutSession("invalid")
			return Session{}, fmt.Errorf("%w: product %s has no price", ErrInvalidCart, p.ID)
		}
		lines = append(lines, payments.LineItem{ProductID: p.ID, Name: p.Name, Qty: it.Qty, UnitAmount: p.PriceCents})
		meta = append(meta, lineItem{ProductID: p.ID, Qty: it.Qty, UnitPrice: p.PriceCents})
	}

	md, err := encodeMetadata(buyer.ID, buyer.Email, meta)
	if err != nil {
		metrics.CheckoutSession("invalid")
		return Session{}, err
	}

	cs, err := in.Provider.CreateCheckoutSession(ctx, payments.CreateParams{
		Items:         lines,
		Currency:      in.Currency,
		SuccessURL:    in.SuccessURL,
		CancelURL:     in.CancelURL,
		CustomerEmail: buyer.Email,
		Metadata:      md,
	})
	if err != nil {
		metrics.CheckoutSession("provider_error")
		in.log().WithError(err).WithField("items", len(lines)).Warn("create checkout session failed")
		return Session{}, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	metrics.CheckoutSession("created")
	in.log().WithFields(logrus.Fields{
		"session_id": cs.ID,
		"items":      len(lines),
		"anonymous":  buyer.ID == "",
	}).Info("checkout session created")
	return Session{RedirectURL: cs.URL, SessionID: cs.ID}, nil
}
