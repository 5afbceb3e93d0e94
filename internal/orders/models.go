package orders

import "time"

// AnonymousBuyer marks a checkout started without a signed-in buyer.
const AnonymousBuyer = "anonymous"

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Order struct {
	ID                string    `json:"id"`
	BuyerID           string    `json:"buyer_id,omitempty"` // "" = anonymous, NULL in the db
	BuyerEmail        string    `json:"buyer_email"`
	TotalCents        int64     `json:"total_amount"`
	Status            Status    `json:"status"` // see status.go
	PaymentRef        string    `json:"payment_reference,omitempty"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type OrderItem struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	ProductID  string    `json:"product_id"`
	Qty        int       `json:"quantity"`
	PriceCents int64     `json:"unit_price"`
	CreatedAt  time.Time `json:"created_at"`
}

// Grant says the buyer may access the product. Access checks only care
// whether at least one row exists.
type Grant struct {
	ID          string    `json:"id"`
	BuyerID     string    `json:"buyer_id"`
	ProductID   string    `json:"product_id"`
	OrderID     string    `json:"order_id"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type OrderDetail struct {
	Order
	Items []OrderItem `json:"items"`
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
