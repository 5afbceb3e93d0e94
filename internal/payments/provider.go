// Package payments adapts the hosted payment provider: minting checkout
// sessions, reading them back, and verifying webhook deliveries.
package payments

import (
	"context"
	"errors"
)

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

const (
	EventSessionCompleted          = "checkout.session.completed"
	EventSessionAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	EventSessionAsyncPaymentFailed = "checkout.session.async_payment_failed"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrSessionNotFound  = errors.New("checkout session not found")
)

type LineItem struct {
	ProductID  string
	Name       string
	Qty        int
	UnitAmount int64
}

type CreateParams struct {
	Items         []LineItem
	Currency      string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Session is the provider's authoritative view of a checkout session.
type Session struct {
	ID            string
	PaymentStatus string
	AmountTotal   int64
	CustomerEmail string
	PaymentRef    string
	Metadata      map[string]string
}

func (s Session) Paid() bool { return s.PaymentStatus == PaymentStatusPaid }

type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string // set for checkout.session.* events
}

type Provider interface {
	CreateCheckoutSession(ctx context.Context, p CreateParams) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, id string) (Session, error)
}

// WebhookVerifier authenticates a raw webhook body against its signature
// header before anything in it is trusted.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, sigHeader string) (WebhookEvent, error)
}
