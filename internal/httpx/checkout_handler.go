package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-digital-storefront/internal/checkout"
	"github.com/ariefcatur/go-digital-storefront/internal/metrics"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
)

const maxWebhookBody = 1 << 20

type CheckoutHandler struct {
	Initiator  *checkout.Initiator
	Reconciler *checkout.Reconciler
	Webhooks   payments.WebhookVerifier
	Sandbox    *payments.Sandbox
	SuccessURL string
	Timeout    time.Duration
	Log        logrus.FieldLogger
}

type CheckoutReq struct {
	Items []checkout.CartItem `json:"items"`
	// Email is used for anonymous buyers; signed-in buyers use the token's.
	Email string `json:"email,omitempty"`
}

func (h *CheckoutHandler) Register(r chi.Router, limiter *RateLimiter) {
	r.With(limiter.Handler).Post("/checkout", h.createCheckout)
	r.Get("/checkout/success", h.success)
	r.Get("/checkout/cancel", h.cancel)
}

func (h *CheckoutHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.Timeout)
}

func (h *CheckoutHandler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	buyer := checkout.Buyer{Email: strings.TrimSpace(req.Email)}
	if u, ok := UserFrom(r.Context()); ok {
		buyer = checkout.Buyer{ID: u.ID, Email: u.Email}
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	sess, err := h.Initiator.CreateSession(ctx, req.Items, buyer)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, sess)
	case errors.Is(err, checkout.ErrInvalidCart):
		writeError(w, http.StatusBadRequest, "invalid_cart", err.Error())
	case errors.Is(err, checkout.ErrProductNotFound):
		writeError(w, http.StatusUnprocessableEntity, "product_not_found", err.Error())
	case errors.Is(err, checkout.ErrPaymentProvider):
		writeError(w, http.StatusBadGateway, "payment_provider_error", "could not start checkout, please try again")
	default:
		h.Log.WithError(err).Error("create checkout failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not start checkout, please try again")
	}
}

// success is the provider's redirect landing. Failures become an "order
// issue" body the storefront renders with support guidance.
func (h *CheckoutHandler) success(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, orderIssue("missing_session", "no checkout session was provided", ""))
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	res, err := h.Reconciler.Reconcile(ctx, sessionID)
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}

	log := h.Log.WithError(err).WithField("session_id", sessionID)
	switch {
	case errors.Is(err, checkout.ErrPaymentNotCompleted):
		log.Info("redirect for unpaid session")
		writeJSON(w, http.StatusPaymentRequired, orderIssue("payment_not_completed",
			"your payment has not been confirmed yet", sessionID))
	case checkout.IsTerminal(err):
		log.Warn("order issue on redirect")
		writeJSON(w, http.StatusUnprocessableEntity, orderIssue("order_issue",
			"we could not create your order", sessionID))
	case errors.Is(err, checkout.ErrSessionLookupFailed):
		log.Error("session lookup failed on redirect")
		writeJSON(w, http.StatusBadGateway, orderIssue("order_issue",
			"we could not confirm your payment right now", sessionID))
	default:
		log.Error("reconcile failed on redirect")
		writeJSON(w, http.StatusInternalServerError, orderIssue("order_issue",
			"we could not create your order right now", sessionID))
	}
}

func orderIssue(code, msg, sessionID string) errorBody {
	b := errorBody{Error: code, Message: msg}
	if sessionID != "" {
		b.Support = "If you were charged, contact support and quote checkout session " + sessionID + "."
	}
	return b
}

func (h *CheckoutHandler) cancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// webhook acknowledges terminal failures with 200 so the provider stops
// redelivering, and answers 500 for anything worth retrying.
func (h *CheckoutHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "could not read body")
		return
	}
	ev, err := h.Webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		metrics.Webhook("unknown", "bad_signature")
		h.Log.WithError(err).Warn("rejected webhook")
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
		return
	}

	log := h.Log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type, "session_id": ev.SessionID})
	switch ev.Type {
	case payments.EventSessionCompleted, payments.EventSessionAsyncPaymentOK:
	case payments.EventSessionAsyncPaymentFailed:
		metrics.Webhook(ev.Type, "ignored")
		log.Warn("async payment failed, no order")
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	default:
		metrics.Webhook(ev.Type, "ignored")
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	res, err := h.Reconciler.Reconcile(ctx, ev.SessionID)
	switch {
	case err == nil:
		metrics.Webhook(ev.Type, "ok")
		log.WithFields(logrus.Fields{"order_id": res.OrderID, "created": res.Created}).Info("webhook reconciled")
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "order_id": res.OrderID, "created": res.Created})
	case checkout.IsTerminal(err):
		metrics.Webhook(ev.Type, "terminal")
		log.WithError(err).Warn("webhook acknowledged without order")
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "error": err.Error()})
	default:
		metrics.Webhook(ev.Type, "retry")
		log.WithError(err).Error("webhook reconcile failed, provider will retry")
		writeError(w, http.StatusInternalServerError, "reconcile_failed", "temporary failure")
	}
}

// sandboxPay plays the hosted payment page: it marks the session paid and
// sends the browser to the success landing.
func (h *CheckoutHandler) sandboxPay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Sandbox.MarkPaid(id); err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "unknown checkout session")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	go h.deliverSandboxWebhook(id)
	http.Redirect(w, r, strings.ReplaceAll(h.SuccessURL, "{CHECKOUT_SESSION_ID}", id), http.StatusSeeOther)
}

// deliverSandboxWebhook sends a signed checkout.session.completed for id
// through the webhook handler while the browser follows the redirect.
func (h *CheckoutHandler) deliverSandboxWebhook(id string) {
	payload := payments.SessionEvent("evt_sandbox_"+id, payments.EventSessionCompleted, id)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		h.Log.WithError(err).Error("build sandbox webhook")
		return
	}
	req.Header.Set("Stripe-Signature", h.Sandbox.SignWebhook(payload, time.Now()))
	rw := &statusWriter{header: http.Header{}}
	h.webhook(rw, req)
	h.Log.WithFields(logrus.Fields{"session_id": id, "status": rw.status}).Debug("sandbox webhook delivered")
}

// statusWriter keeps only the status of an in-process webhook delivery.
type statusWriter struct {
	header http.Header
	status int
}

func (w *statusWriter) Header() http.Header { return w.header }

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return len(b), nil
}
