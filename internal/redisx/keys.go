package redisx

import (
	"fmt"
	"time"
)

const (
	// order_status:{order_id} -> order detail JSON
	KeyOrderStatus = "order_status:%s"

	// access:{buyer_id}:{product_id} -> "1", only ever set for granted pairs
	KeyAccess = "access:%s:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLAccess      = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)

func OrderStatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func AccessKey(buyerID, productID string) string {
	return fmt.Sprintf(KeyAccess, buyerID, productID)
}

func DedupKey(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }
