package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-digital-storefront/internal/access"
	"github.com/ariefcatur/go-digital-storefront/internal/checkout"
	"github.com/ariefcatur/go-digital-storefront/internal/logging"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
	"github.com/ariefcatur/go-digital-storefront/internal/redisx"
)

const (
	testJWTSecret     = "super-secret-jwt-token-with-at-least-32-characters"
	testWebhookSecret = "whsec_test"
	testSuccessURL    = "http://shop.test/checkout/success?session_id={CHECKOUT_SESSION_ID}"
)

type recordingEvents struct {
	mu      sync.Mutex
	changed []orders.Order
}

func (e *recordingEvents) OrderStatusChanged(_ context.Context, o orders.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changed = append(e.changed, o)
	return nil
}

type harness struct {
	store   *orders.MemStore
	sandbox *payments.Sandbox
	cache   *redisx.Memory
	events  *recordingEvents
	router  http.Handler
}

func newHarness(t *testing.T, burst int) *harness {
	t.Helper()
	log := logging.Discard()
	store := orders.NewMemStore()
	for _, p := range []orders.Product{
		{ID: "A", Name: "Alpha course", PriceCents: 4700, Active: true},
		{ID: "B", Name: "Beta pack", PriceCents: 1500, Active: true},
		{ID: "P", Name: "Pro bundle", PriceCents: 34700, Active: true},
		{ID: "OLD", Name: "Retired", PriceCents: 900, Active: false},
	} {
		store.AddProduct(p)
	}
	sandbox := payments.NewSandbox("http://shop.test/sandbox/pay", testWebhookSecret)
	cache := redisx.NewMemory()
	events := &recordingEvents{}

	d := Deps{
		Log: log,
		Initiator: &checkout.Initiator{
			Products: store, Provider: sandbox, Currency: "usd",
			SuccessURL: testSuccessURL, CancelURL: "http://shop.test/checkout/cancel", Log: log,
		},
		Reconciler:       &checkout.Reconciler{Store: store, Provider: sandbox, Log: log},
		Views:            &checkout.Views{Store: store},
		Store:            store,
		Access:           &access.Service{Grants: store, Cache: cache, Name: "test-access", Log: log},
		Cache:            cache,
		Events:           events,
		Webhooks:         sandbox,
		Auth:             &Authenticator{Secret: []byte(testJWTSecret)},
		Limiter:          NewRateLimiter(0.001, burst, log),
		Sandbox:          sandbox,
		SuccessURL:       testSuccessURL,
		Timeout:          2 * time.Second,
		ReconcileTimeout: 5 * time.Second,
	}
	return &harness{store: store, sandbox: sandbox, cache: cache, events: events, router: NewRouter(d)}
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return s
}

func buyerToken(t *testing.T, id string) string {
	return token(t, jwt.MapClaims{"sub": id, "email": id + "@example.com", "role": "authenticated"})
}

func adminToken(t *testing.T) string {
	return token(t, jwt.MapClaims{"sub": "admin-1", "role": "authenticated",
		"app_metadata": map[string]any{"role": "admin"}})
}

func (h *harness) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:41000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) webhook(t *testing.T, eventType, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	payload := payments.SessionEvent("evt_"+sessionID, eventType, sessionID)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", h.sandbox.SignWebhook(payload, time.Now()))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

// checkout starts a session and returns its id.
func (h *harness) checkout(t *testing.T, bearer string, items ...checkout.CartItem) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/checkout", CheckoutReq{Items: items}, bearer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess checkout.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.SessionID)
	return sess.SessionID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
