package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-digital-storefront/internal/access"
	"github.com/ariefcatur/go-digital-storefront/internal/checkout"
	"github.com/ariefcatur/go-digital-storefront/internal/metrics"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
	"github.com/ariefcatur/go-digital-storefront/internal/redisx"
)

// StatusNotifier is told about admin status changes.
type StatusNotifier interface {
	OrderStatusChanged(ctx context.Context, o orders.Order) error
}

// Deps wires the handlers. Sandbox is set only in sandbox payments mode and
// enables the fake hosted payment page.
type Deps struct {
	Log        logrus.FieldLogger
	Initiator  *checkout.Initiator
	Reconciler *checkout.Reconciler
	Views      *checkout.Views
	Store      orders.Store
	Access     *access.Service
	Cache      redisx.Cache
	Events     StatusNotifier
	Webhooks   payments.WebhookVerifier
	Auth       *Authenticator
	Limiter    *RateLimiter
	Sandbox    *payments.Sandbox
	SuccessURL string
	// Timeout bounds store reads; reconcile runs under ReconcileTimeout.
	Timeout          time.Duration
	ReconcileTimeout time.Duration
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	ch := &CheckoutHandler{
		Initiator:  d.Initiator,
		Reconciler: d.Reconciler,
		Webhooks:   d.Webhooks,
		Sandbox:    d.Sandbox,
		SuccessURL: d.SuccessURL,
		Timeout:    d.ReconcileTimeout,
		Log:        d.Log,
	}
	oh := &OrdersHandler{
		Views:   d.Views,
		Store:   d.Store,
		Access:  d.Access,
		Cache:   d.Cache,
		Events:  d.Events,
		Timeout: d.Timeout,
		Log:     d.Log,
	}

	// Webhooks authenticate by signature, not bearer token.
	r.Post("/webhooks/stripe", ch.webhook)
	if d.Sandbox != nil {
		r.Get("/sandbox/pay/{id}", ch.sandboxPay)
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		ch.Register(r, d.Limiter)
		oh.Register(r)
	})
	return r
}
