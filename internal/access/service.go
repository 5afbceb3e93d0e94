// Package access answers "has this buyer purchased this product" from the
// Redis access cache, falling back to the user_products grants.
package access

import (
	"context"
	"encoding/json"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/ariefcatur/go-digital-storefront/internal/kafka"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/redisx"
)

const granted = "1"

type GrantChecker interface {
	HasGrant(ctx context.Context, buyerID, productID string) (bool, error)
}

type Service struct {
	Grants GrantChecker
	Cache  redisx.Cache
	// Name scopes dedup keys, e.g. "storefront-access".
	Name string
	Log  logrus.FieldLogger
}

// HasAccess reports whether buyerID holds a grant for productID. Only
// positive answers are cached: a grant can appear at any moment.
func (s *Service) HasAccess(ctx context.Context, buyerID, productID string) (bool, error) {
	if buyerID == "" || productID == "" {
		return false, nil
	}
	key := redisx.AccessKey(buyerID, productID)
	if v, err := s.Cache.Get(ctx, key); err == nil && v == granted {
		return true, nil
	}
	ok, err := s.Grants.HasGrant(ctx, buyerID, productID)
	if err != nil || !ok {
		return false, err
	}
	if err := s.Cache.Set(ctx, key, granted, redisx.TTLAccess); err != nil {
		s.Log.WithError(err).Debug("access cache set failed")
	}
	return true, nil
}

// HandleOrderCompleted consumes order.completed and warms the access cache.
// Redeliveries are dropped by event id.
func (s *Service) HandleOrderCompleted(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.WithError(err).WithField("offset", m.Offset).Warn("skipping undecodable event")
		return nil
	}
	if env.EventType != orders.EventOrderCompleted {
		return nil
	}

	dkey := redisx.DedupKey(s.Name, env.EventID)
	claimed, err := s.Cache.SetNX(ctx, dkey, granted, redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCompletedPayload](env.Payload)
	if err != nil {
		s.Log.WithError(err).WithField("event_id", env.EventID).Warn("skipping malformed payload")
		return nil
	}
	if err := s.warm(ctx, p); err != nil {
		// Release the claim so the redelivery is processed.
		_ = s.Cache.Del(ctx, dkey)
		return err
	}
	s.Log.WithFields(logrus.Fields{
		"order_id": p.OrderID,
		"event_id": env.EventID,
		"items":    len(p.Items),
	}).Debug("access cache warmed")
	return nil
}

func (s *Service) warm(ctx context.Context, p orders.OrderCompletedPayload) error {
	if p.BuyerID == "" {
		return nil
	}
	var errs []error
	seen := map[string]bool{}
	for _, it := range p.Items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		if err := s.Cache.Set(ctx, redisx.AccessKey(p.BuyerID, it.ProductID), granted, redisx.TTLAccess); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
