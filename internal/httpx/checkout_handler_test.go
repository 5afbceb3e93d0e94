package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-digital-storefront/internal/checkout"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
)

func TestAnonymousCheckoutThroughSandboxPage(t *testing.T) {
	h := newHarness(t, 10)
	id := h.checkout(t, "", checkout.CartItem{ProductID: "P", Qty: 1})

	rec := h.do(t, http.MethodGet, "/sandbox/pay/"+id, nil, "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "http://shop.test/checkout/success?session_id="+id, rec.Header().Get("Location"))

	// The sandbox webhook and the landing race; either may create the order.
	first := h.do(t, http.MethodGet, "/checkout/success?session_id="+id, nil, "")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	res := decode[checkout.Result](t, first)
	require.NotEmpty(t, res.OrderID)
	require.Eventually(t, func() bool { return h.store.OrderCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	second := decode[checkout.Result](t, h.do(t, http.MethodGet, "/checkout/success?session_id="+id, nil, ""))
	assert.False(t, second.Created)
	assert.Equal(t, res.OrderID, second.OrderID)

	assert.Equal(t, 1, h.store.OrderCount())
	assert.Empty(t, h.store.Grants())
}

func TestRedirectAndWebhookRace(t *testing.T) {
	h := newHarness(t, 10)
	id := h.checkout(t, buyerToken(t, "u1"),
		checkout.CartItem{ProductID: "A", Qty: 1},
		checkout.CartItem{ProductID: "B", Qty: 2},
	)
	require.NoError(t, h.sandbox.MarkPaid(id))

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var rec *httptest.ResponseRecorder
			if i%2 == 0 {
				rec = h.webhook(t, payments.EventSessionCompleted, id)
			} else {
				rec = h.do(t, http.MethodGet, "/checkout/success?session_id="+id, nil, "")
			}
			if rec.Code != http.StatusOK {
				t.Errorf("request %d: status %d: %s", i, rec.Code, rec.Body.String())
				return
			}
			var body struct {
				OrderID string `json:"order_id"`
				Created bool   `json:"created"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[body.OrderID] = true
			if body.Created {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, h.store.OrderCount())
	assert.Len(t, h.store.Grants(), 2)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t, 10)
	payload := payments.SessionEvent("evt_1", payments.EventSessionCompleted, "cs_x")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookOutcomes(t *testing.T) {
	h := newHarness(t, 10)
	unpaid := h.checkout(t, "", checkout.CartItem{ProductID: "A", Qty: 1})

	t.Run("unpaid session is acknowledged", func(t *testing.T) {
		rec := h.webhook(t, payments.EventSessionCompleted, unpaid)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, h.store.OrderCount())
	})
	t.Run("unknown session is acknowledged", func(t *testing.T) {
		rec := h.webhook(t, payments.EventSessionCompleted, "cs_missing")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("other events are ignored", func(t *testing.T) {
		require.NoError(t, h.sandbox.MarkPaid(unpaid))
		rec := h.webhook(t, "payment_intent.created", unpaid)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = h.webhook(t, payments.EventSessionAsyncPaymentFailed, unpaid)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, h.store.OrderCount())
	})
	t.Run("lookup failure asks for redelivery", func(t *testing.T) {
		h.sandbox.RetrieveErr = errors.New("provider timeout")
		defer func() { h.sandbox.RetrieveErr = nil }()
		rec := h.webhook(t, payments.EventSessionCompleted, unpaid)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
	t.Run("async success creates the order", func(t *testing.T) {
		rec := h.webhook(t, payments.EventSessionAsyncPaymentOK, unpaid)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, h.store.OrderCount())
	})
}

func TestSuccessLandingIssues(t *testing.T) {
	h := newHarness(t, 10)

	rec := h.do(t, http.MethodGet, "/checkout/success", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := h.checkout(t, "", checkout.CartItem{ProductID: "A", Qty: 1})
	rec = h.do(t, http.MethodGet, "/checkout/success?session_id="+id, nil, "")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "payment_not_completed", body.Error)
	assert.Contains(t, body.Support, id)

	rec = h.do(t, http.MethodGet, "/checkout/success?session_id=cs_missing", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "order_issue", decode[errorBody](t, rec).Error)

	h.sandbox.RetrieveErr = errors.New("provider timeout")
	rec = h.do(t, http.MethodGet, "/checkout/success?session_id="+id, nil, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCreateCheckoutValidation(t *testing.T) {
	h := newHarness(t, 20)

	rec := h.do(t, http.MethodPost, "/checkout", CheckoutReq{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/checkout", CheckoutReq{Items: []checkout.CartItem{{ProductID: "A", Qty: 0}}}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/checkout", CheckoutReq{Items: []checkout.CartItem{{ProductID: "nope", Qty: 1}}}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(t, http.MethodPost, "/checkout", CheckoutReq{Items: []checkout.CartItem{{ProductID: "OLD", Qty: 1}}}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	h.sandbox.CreateErr = errors.New("stripe down")
	rec = h.do(t, http.MethodPost, "/checkout", CheckoutReq{Items: []checkout.CartItem{{ProductID: "A", Qty: 1}}}, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckoutIsRateLimited(t *testing.T) {
	h := newHarness(t, 2)
	items := CheckoutReq{Items: []checkout.CartItem{{ProductID: "A", Qty: 1}}}

	assert.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/checkout", items, "").Code)
	assert.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/checkout", items, "").Code)
	rec := h.do(t, http.MethodPost, "/checkout", items, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// A signed-in buyer has their own bucket.
	assert.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/checkout", items, buyerToken(t, "u9")).Code)
}

func TestSandboxPayUnknownSession(t *testing.T) {
	h := newHarness(t, 10)
	rec := h.do(t, http.MethodGet, "/sandbox/pay/cs_nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSandboxPayCreatesOrderWithoutRedirect(t *testing.T) {
	h := newHarness(t, 10)
	id := h.checkout(t, buyerToken(t, "u5"),
		checkout.CartItem{ProductID: "A", Qty: 1},
		checkout.CartItem{ProductID: "B", Qty: 1},
	)

	rec := h.do(t, http.MethodGet, "/sandbox/pay/"+id, nil, "")
	require.Equal(t, http.StatusSeeOther, rec.Code)

	// The browser never lands on the success page.
	require.Eventually(t, func() bool {
		return h.store.OrderCount() == 1 && len(h.store.Grants()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	o, err := h.store.FindBySession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "u5", o.BuyerID)
	assert.Equal(t, int64(6200), o.TotalCents)
}
