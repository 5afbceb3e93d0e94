package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-digital-storefront/internal/metrics"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
)

type Result struct {
	OrderID string `json:"order_id"`
	Created bool   `json:"created"`
	Resumed bool   `json:"resumed,omitempty"`
}

// Notifier is told about orders this process wrote. Failures are logged,
// never returned: the order is already durable.
type Notifier interface {
	OrderCompleted(ctx context.Context, o orders.Order, items []orders.OrderItem) error
}

// Reconciler turns a paid checkout session into exactly one order. The
// redirect landing and the provider webhook both call Reconcile, possibly at
// the same time and from different instances. The unique constraint on
// orders.checkout_session_id decides the winner; the lookup before insert
// only saves a failed insert in the common case.
type Reconciler struct {
	Store    orders.Store
	Provider payments.Provider
	Notifier Notifier
	Log      logrus.FieldLogger
}

func (r *Reconciler) log() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

// plan is what the session says the order must look like.
type plan struct {
	sessionID  string
	buyerID    string
	buyerEmail string
	total      int64
	paymentRef string
	items      []lineItem
}

func (p plan) orderItems(orderID string) []orders.OrderItem {
	out := make([]orders.OrderItem, 0, len(p.items))
	for _, it := range p.items {
		out = append(out, orders.OrderItem{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			ProductID:  it.ProductID,
			Qty:        it.Qty,
			PriceCents: it.UnitPrice,
		})
	}
	return out
}

// grants yields one grant per distinct product, none for anonymous buyers.
func (p plan) grants(orderID string) []orders.Grant {
	if p.buyerID == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []orders.Grant
	for _, it := range p.items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		out = append(out, orders.Grant{
			ID:        uuid.NewString(),
			BuyerID:   p.buyerID,
			ProductID: it.ProductID,
			OrderID:   orderID,
		})
	}
	return out
}

func planFromSession(sess payments.Session) (plan, error) {
	items, err := decodeLineItems(sess.Metadata, sess.AmountTotal)
	if err != nil {
		return plan{}, err
	}
	email := sess.CustomerEmail
	if email == "" {
		email = sess.Metadata[metaBuyerEmail]
	}
	if email == "" {
		email = AnonymousEmail
	}
	return plan{
		sessionID:  sess.ID,
		buyerID:    buyerFromMetadata(sess.Metadata),
		buyerEmail: email,
		total:      sess.AmountTotal,
		paymentRef: sess.PaymentRef,
		items:      items,
	}, nil
}

func (r *Reconciler) Reconcile(ctx context.Context, sessionID string) (Result, error) {
	res, err := r.reconcile(ctx, sessionID)
	metrics.Reconcile(outcome(res, err))
	return res, err
}

func outcome(res Result, err error) string {
	switch {
	case errors.Is(err, ErrSessionLookupFailed):
		return "lookup_failed"
	case errors.Is(err, ErrPaymentNotCompleted):
		return "not_paid"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case err != nil:
		return "storage_error"
	case res.Created:
		return "created"
	case res.Resumed:
		return "resumed"
	}
	return "existing"
}

func (r *Reconciler) reconcile(ctx context.Context, sessionID string) (Result, error) {
	if sessionID == "" {
		return Result{}, fmt.Errorf("%w: %w", ErrSessionLookupFailed, payments.ErrSessionNotFound)
	}
	sess, err := r.Provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSessionLookupFailed, err)
	}
	if !sess.Paid() {
		return Result{}, fmt.Errorf("%w: session %s is %q", ErrPaymentNotCompleted, sessionID, sess.PaymentStatus)
	}
	p, err := planFromSession(sess)
	if err != nil {
		return Result{}, err
	}
	log := r.log().WithField("session_id", sessionID)

	existing, err := r.Store.FindBySession(ctx, sessionID)
	switch {
	case err == nil:
		return r.resume(ctx, existing, p)
	case !errors.Is(err, orders.ErrNotFound):
		return Result{}, fmt.Errorf("%w: find order: %v", ErrStorage, err)
	}

	if err := r.checkProducts(ctx, p); err != nil {
		return Result{}, err
	}

	o := orders.Order{
		ID:                uuid.NewString(),
		BuyerID:           p.buyerID,
		BuyerEmail:        p.buyerEmail,
		TotalCents:        p.total,
		Status:            orders.StatusCompleted,
		PaymentRef:        p.paymentRef,
		CheckoutSessionID: sessionID,
	}
	items := p.orderItems(o.ID)
	err = r.Store.CreateOrder(ctx, o, items, p.grants(o.ID))
	if errors.Is(err, orders.ErrDuplicateSession) {
		// Lost the race to a concurrent reconcile of the same session.
		log.Info("order created concurrently, using existing")
		existing, err := r.Store.FindBySession(ctx, sessionID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: refetch order: %v", ErrStorage, err)
		}
		return r.resume(ctx, existing, p)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: create order: %v", ErrStorage, err)
	}

	log.WithFields(logrus.Fields{
		"order_id":  o.ID,
		"items":     len(items),
		"total":     o.TotalCents,
		"anonymous": p.buyerID == "",
	}).Info("order created")
	r.notify(ctx, o, items)
	return Result{OrderID: o.ID, Created: true}, nil
}

func (r *Reconciler) checkProducts(ctx context.Context, p plan) error {
	ids := make([]string, 0, len(p.items))
	for _, it := range p.items {
		ids = append(ids, it.ProductID)
	}
	found, err := r.Store.ProductsByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("%w: load products: %v", ErrStorage, err)
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
	}
	return nil
}

// resume handles a session that already has an order. An order with no
// items was left behind by an interrupted writer; its items and grants are
// filled in from the session instead of treating the order as done.
func (r *Reconciler) resume(ctx context.Context, o orders.Order, p plan) (Result, error) {
	n, err := r.Store.CountItems(ctx, o.ID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: count items: %v", ErrStorage, err)
	}
	if n > 0 {
		return Result{OrderID: o.ID}, nil
	}

	log := r.log().WithFields(logrus.Fields{"session_id": o.CheckoutSessionID, "order_id": o.ID})
	log.WithError(errPartialOrder).Warn("order has no items, completing it")

	if err := r.checkProducts(ctx, p); err != nil {
		return Result{}, err
	}
	items := p.orderItems(o.ID)
	added, err := r.Store.CompleteOrder(ctx, o.ID, items, p.grants(o.ID))
	if err != nil {
		return Result{}, fmt.Errorf("%w: complete order: %v", ErrStorage, err)
	}
	if !added {
		// Another resumer got there first.
		return Result{OrderID: o.ID}, nil
	}
	log.WithField("items", len(items)).Info("partial order completed")
	r.notify(ctx, o, items)
	return Result{OrderID: o.ID, Resumed: true}, nil
}

func (r *Reconciler) notify(ctx context.Context, o orders.Order, items []orders.OrderItem) {
	if r.Notifier == nil {
		return
	}
	if err := r.Notifier.OrderCompleted(ctx, o, items); err != nil {
		r.log().WithError(err).WithField("order_id", o.ID).Warn("publish order completed failed")
	}
}
