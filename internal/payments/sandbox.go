package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Sandbox is an in-process provider for local runs (PAYMENTS_MODE=sandbox)
// and tests. Sessions start unpaid; MarkPaid flips them the way a buyer
// completing the hosted page would. Webhooks use the same signature scheme
// as Stripe so the verification path is shared.
type Sandbox struct {
	mu       sync.Mutex
	sessions map[string]Session
	payURL   string
	secret   string

	// Injected failures for tests.
	CreateErr   error
	RetrieveErr error
}

var (
	_ Provider        = (*Sandbox)(nil)
	_ WebhookVerifier = (*Sandbox)(nil)
)

func NewSandbox(payURL, webhookSecret string) *Sandbox {
	return &Sandbox{
		sessions: map[string]Session{},
		payURL:   strings.TrimSuffix(payURL, "/"),
		secret:   webhookSecret,
	}
}

func (s *Sandbox) CreateCheckoutSession(_ context.Context, p CreateParams) (CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return CheckoutSession{}, s.CreateErr
	}

	var total int64
	for _, it := range p.Items {
		total += it.UnitAmount * int64(it.Qty)
	}
	id := "cs_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.sessions[id] = Session{
		ID:            id,
		PaymentStatus: PaymentStatusUnpaid,
		AmountTotal:   total,
		CustomerEmail: p.CustomerEmail,
		Metadata:      maps.Clone(p.Metadata),
	}
	return CheckoutSession{ID: id, URL: s.payURL + "/" + id}, nil
}

func (s *Sandbox) RetrieveSession(_ context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RetrieveErr != nil {
		return Session{}, s.RetrieveErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Metadata = maps.Clone(sess.Metadata)
	return sess, nil
}

// Put stores a session as-is.
func (s *Sandbox) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Sandbox) MarkPaid(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.PaymentStatus = PaymentStatusPaid
	if sess.PaymentRef == "" {
		sess.PaymentRef = "pi_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	s.sessions[id] = sess
	return nil
}

type sandboxEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		} `json:"object"`
	} `json:"data"`
}

func (s *Sandbox) ParseWebhook(payload []byte, sigHeader string) (WebhookEvent, error) {
	if err := webhook.ValidatePayload(payload, sigHeader, s.secret); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var ev sandboxEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode event: %w", err)
	}
	out := WebhookEvent{ID: ev.ID, Type: ev.Type}
	if strings.HasPrefix(ev.Type, "checkout.session.") {
		out.SessionID = ev.Data.Object.ID
	}
	return out, nil
}

// SignWebhook builds a Stripe-Signature header value for payload.
func (s *Sandbox) SignWebhook(payload []byte, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    s.secret,
		Timestamp: at,
	}).Header
}

// SessionEvent renders a checkout.session.* event body for id.
func SessionEvent(eventID, eventType, sessionID string) []byte {
	var ev sandboxEvent
	ev.ID = eventID
	ev.Type = eventType
	ev.Data.Object.ID = sessionID
	ev.Data.Object.Object = "checkout.session"
	b, _ := json.Marshal(ev)
	return b
}
