// Package events publishes order domain events as versioned JSON envelopes.
package events

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-digital-storefront/internal/kafka"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
)

const envelopeVersion = 1

// Sink accepts encoded events; *kafka.Producer and Local both satisfy it.
type Sink interface {
	Publish(key, value []byte, headers ...kafkago.Header) error
}

// Publisher is one sink per topic, like the producers in cmd/api.
type Publisher struct {
	Completed     Sink
	StatusChanged Sink
	Service       string
	now           func() time.Time
}

func (p *Publisher) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now().UTC()
}

func (p *Publisher) envelope(ctx context.Context, eventType, orderID string, payload any) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    p.clock(),
		Producer:      p.Service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
}

func send(s Sink, ev orders.Envelope) error {
	if s == nil {
		return errors.New("no sink configured for " + ev.EventType)
	}
	return s.Publish(orders.PartitionKey(ev.CorrelationID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: kafkax.HeaderEventType, Value: []byte(ev.EventType)},
		kafkago.Header{Key: kafkax.HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}

// OrderCompleted is called by the reconciler for orders it wrote.
func (p *Publisher) OrderCompleted(ctx context.Context, o orders.Order, items []orders.OrderItem) error {
	return send(p.Completed, p.envelope(ctx, orders.EventOrderCompleted, o.ID, orders.OrderCompletedPayload{
		OrderID:           o.ID,
		CheckoutSessionID: o.CheckoutSessionID,
		BuyerID:           o.BuyerID,
		Items:             orders.ItemPrices(items),
		TotalCents:        o.TotalCents,
	}))
}

func (p *Publisher) OrderStatusChanged(ctx context.Context, o orders.Order) error {
	return send(p.StatusChanged, p.envelope(ctx, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID: o.ID,
		BuyerID: o.BuyerID,
		Status:  o.Status,
	}))
}
