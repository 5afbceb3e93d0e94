package events

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-digital-storefront/internal/kafka"
)

// Local delivers events straight to a consumer handler in the same process.
// It stands in for Kafka when no brokers are configured.
type Local struct {
	Topic   string
	Handler kafkax.Handler
}

func (l Local) Publish(key, value []byte, headers ...kafkago.Header) error {
	if l.Handler == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.Handler(ctx, kafkago.Message{
		Topic:   l.Topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	})
}
