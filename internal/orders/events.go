package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCompleted     = "OrderCompleted"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "storefront-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemPrice struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"quantity"`
	PriceCents int64  `json:"unit_price"`
}

// OrderCompletedPayload is published once, by whichever reconcile call
// actually created the order.
type OrderCompletedPayload struct {
	OrderID           string      `json:"order_id"`
	CheckoutSessionID string      `json:"checkout_session_id"`
	BuyerID           string      `json:"buyer_id,omitempty"`
	Items             []ItemPrice `json:"items"`
	TotalCents        int64       `json:"total_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id,omitempty"`
	Status  Status `json:"status"`
}

func ItemPrices(items []OrderItem) []ItemPrice {
	out := make([]ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, ItemPrice{ProductID: it.ProductID, Qty: it.Qty, PriceCents: it.PriceCents})
	}
	return out
}
