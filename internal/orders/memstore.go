package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used when no Postgres DSN is configured
// and in tests. It enforces the same one-order-per-session constraint as the
// orders table.
type MemStore struct {
	mu        sync.Mutex
	products  map[string]Product
	orders    map[string]Order
	bySession map[string]string
	items     map[string][]OrderItem
	grants    []Grant
	now       func() time.Time
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		products:  map[string]Product{},
		orders:    map[string]Order{},
		bySession: map[string]string{},
		items:     map[string][]OrderItem{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemStore) AddProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
		p.UpdatedAt = p.CreatedAt
	}
	m.products[p.ID] = p
}

// PutOrder stores a bare order row without items or grants, the state a
// crashed non-transactional writer would leave behind.
func (m *MemStore) PutOrder(o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putOrderLocked(o)
}

func (m *MemStore) putOrderLocked(o Order) error {
	if _, ok := m.bySession[o.CheckoutSessionID]; ok {
		return ErrDuplicateSession
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	m.orders[o.ID] = o
	m.bySession[o.CheckoutSessionID] = o.ID
	return nil
}

func (m *MemStore) Grants() []Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Grant(nil), m.grants...)
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MemStore) ProductsByID(_ context.Context, ids []string) (map[string]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *MemStore) ListProducts(_ context.Context) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Product{}
	for _, p := range m.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) FindBySession(_ context.Context, sessionID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return m.orders[id], nil
}

func (m *MemStore) CreateOrder(_ context.Context, o Order, items []OrderItem, grants []Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putOrderLocked(o); err != nil {
		return err
	}
	m.addItemsLocked(items)
	m.addGrantsLocked(grants)
	return nil
}

func (m *MemStore) addItemsLocked(items []OrderItem) {
	for _, it := range items {
		if it.CreatedAt.IsZero() {
			it.CreatedAt = m.now()
		}
		m.items[it.OrderID] = append(m.items[it.OrderID], it)
	}
}

func (m *MemStore) addGrantsLocked(grants []Grant) {
	for _, g := range grants {
		dup := false
		for _, have := range m.grants {
			if have.BuyerID == g.BuyerID && have.ProductID == g.ProductID && have.OrderID == g.OrderID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if g.PurchasedAt.IsZero() {
			g.PurchasedAt = m.now()
		}
		m.grants = append(m.grants, g)
	}
}

func (m *MemStore) CountItems(_ context.Context, orderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[orderID]), nil
}

func (m *MemStore) CompleteOrder(_ context.Context, orderID string, items []OrderItem, grants []Grant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return false, ErrNotFound
	}
	added := false
	if len(m.items[orderID]) == 0 && len(items) > 0 {
		m.addItemsLocked(items)
		added = true
	}
	m.addGrantsLocked(grants)
	return added, nil
}

func (m *MemStore) GetOrder(_ context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemStore) ListItems(_ context.Context, orderID string) ([]OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderItem{}, m.items[orderID]...), nil
}

func newestFirst(out []Order) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}

func (m *MemStore) ListByBuyer(_ context.Context, buyerID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Order{}
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	newestFirst(out)
	return out, nil
}

func (m *MemStore) ListOrders(_ context.Context, f ListFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []Order{}
	for _, o := range m.orders {
		if f.Status == "" || o.Status == f.Status {
			all = append(all, o)
		}
	}
	newestFirst(all)

	off := max(f.Offset, 0)
	if off >= len(all) {
		return []Order{}, nil
	}
	end := min(off+clampLimit(f.Limit), len(all))
	return all[off:end], nil
}

func (m *MemStore) UpdateStatus(_ context.Context, orderID string, to Status) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !CanTransition(o.Status, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = m.now()
	m.orders[orderID] = o
	return o, nil
}

func (m *MemStore) HasGrant(_ context.Context, buyerID, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.BuyerID == buyerID && g.ProductID == productID {
			return true, nil
		}
	}
	return false, nil
}
