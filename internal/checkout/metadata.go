package checkout

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-digital-storefront/internal/orders"
)

const (
	metaBuyerID    = "buyer_id"
	metaBuyerEmail = "buyer_email"
	metaLineItems  = "line_items"
	// Written by the old single-product checkout. Read-only now.
	metaLegacyProductID = "product_id"
	metaLegacyQuantity  = "quantity"

	// Stripe caps metadata values at 500 characters.
	metaValueLimit = 500
	metaMaxChunks  = 40
)

// AnonymousEmail stands in for a buyer email the provider did not collect.
const AnonymousEmail = "anonymous@checkout.invalid"

type lineItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func chunkKey(i int) string {
	if i == 0 {
		return metaLineItems
	}
	return metaLineItems + "_" + strconv.Itoa(i)
}

func encodeMetadata(buyerID, buyerEmail string, items []lineItem) (map[string]string, error) {
	if buyerID == "" {
		buyerID = orders.AnonymousBuyer
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	s := string(raw)
	if len(s) > metaValueLimit*metaMaxChunks {
		return nil, fmt.Errorf("%w: too many line items", ErrInvalidCart)
	}

	meta := map[string]string{metaBuyerID: buyerID}
	if buyerEmail != "" {
		meta[metaBuyerEmail] = buyerEmail
	}
	for i := 0; len(s) > 0; i++ {
		n := min(len(s), metaValueLimit)
		meta[chunkKey(i)] = s[:n]
		s = s[n:]
	}
	return meta, nil
}

// decodeLineItems rebuilds the cart from session metadata. Sessions from the
// legacy single-product flow carry product_id and an optional quantity
// (default 1); the session total is spread over that quantity.
func decodeLineItems(meta map[string]string, amountTotal int64) ([]lineItem, error) {
	var raw string
	for i := 0; i < metaMaxChunks; i++ {
		part, ok := meta[chunkKey(i)]
		if !ok {
			break
		}
		raw += part
	}

	if raw == "" {
		pid := meta[metaLegacyProductID]
		if pid == "" {
			return nil, fmt.Errorf("%w: session metadata has no line items", ErrProductNotFound)
		}
		qty := 1
		if q, ok := meta[metaLegacyQuantity]; ok {
			n, err := strconv.Atoi(q)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("%w: malformed legacy quantity %q", ErrProductNotFound, q)
			}
			qty = n
		}
		return []lineItem{{ProductID: pid, Qty: qty, UnitPrice: amountTotal / int64(qty)}}, nil
	}

	var items []lineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: undecodable line items: %v", ErrProductNotFound, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: session metadata has no line items", ErrProductNotFound)
	}
	for _, it := range items {
		if it.ProductID == "" || it.Qty < 1 {
			return nil, fmt.Errorf("%w: malformed line item %+v", ErrProductNotFound, it)
		}
	}
	return items, nil
}

func buyerFromMetadata(meta map[string]string) string {
	id := meta[metaBuyerID]
	if id == orders.AnonymousBuyer {
		return ""
	}
	return id
}
