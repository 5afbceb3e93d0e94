package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-digital-storefront/internal/logging"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
)

type fixture struct {
	store    *orders.MemStore
	provider *payments.Sandbox
	notified *recordingNotifier
	rec      *Reconciler
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (n *recordingNotifier) OrderCompleted(_ context.Context, o orders.Order, _ []orders.OrderItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o.ID)
	return n.err
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := orders.NewMemStore()
	for _, p := range []orders.Product{
		{ID: "A", Name: "A", PriceCents: 4700, Active: true},
		{ID: "B", Name: "B", PriceCents: 1500, Active: true},
		{ID: "P", Name: "P", PriceCents: 34700, Active: true},
	} {
		store.AddProduct(p)
	}
	sb := payments.NewSandbox("http://pay.test", "whsec_test")
	n := &recordingNotifier{}
	return &fixture{
		store:    store,
		provider: sb,
		notified: n,
		rec:      &Reconciler{Store: store, Provider: sb, Notifier: n, Log: logging.Discard()},
	}
}

// paid registers a paid session the way the initiator would have described it.
func (f *fixture) paid(t *testing.T, id, buyerID string, total int64, items ...lineItem) {
	t.Helper()
	meta, err := encodeMetadata(buyerID, "", items)
	require.NoError(t, err)
	f.provider.Put(payments.Session{
		ID:            id,
		PaymentStatus: payments.PaymentStatusPaid,
		AmountTotal:   total,
		PaymentRef:    "pi_" + id,
		Metadata:      meta,
	})
}

func TestReconcileTwoItemOrder(t *testing.T) {
	f := newFixture(t)
	f.paid(t, "cs_ab", "u1", 7700,
		lineItem{ProductID: "A", Qty: 1, UnitPrice: 4700},
		lineItem{ProductID: "B", Qty: 2, UnitPrice: 1500},
	)
	ctx := context.Background()

	res, err := f.rec.Reconcile(ctx, "cs_ab")
	require.NoError(t, err)
	assert.True(t, res.Created)

	o, err := f.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(7700), o.TotalCents)
	assert.Equal(t, "u1", o.BuyerID)
	assert.Equal(t, AnonymousEmail, o.BuyerEmail)
	assert.Equal(t, "pi_cs_ab", o.PaymentRef)
	assert.Equal(t, orders.StatusCompleted, o.Status)

	items, err := f.store.ListItems(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	got := map[string][2]int64{}
	for _, it := range items {
		got[it.ProductID] = [2]int64{int64(it.Qty), it.PriceCents}
	}
	assert.Equal(t, map[string][2]int64{"A": {1, 4700}, "B": {2, 1500}}, got)

	grants := f.store.Grants()
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.Equal(t, "u1", g.BuyerID)
		assert.Equal(t, res.OrderID, g.OrderID)
	}
	assert.Equal(t, []string{res.OrderID}, f.notified.orders)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.paid(t, "cs_1", "u1", 4700, lineItem{ProductID: "A", Qty: 1, UnitPrice: 4700})
	ctx := context.Background()

	first, err := f.rec.Reconcile(ctx, "cs_1")
	require.NoError(t, err)
	assert.True(t, first.Created)

	for i := 0; i < 3; i++ {
		again, err := f.rec.Reconcile(ctx, "cs_1")
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.False(t, again.Resumed)
		assert.Equal(t, first.OrderID, again.OrderID)
	}
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Len(t, f.store.Grants(), 1)
	assert.Len(t, f.notified.orders, 1, "only the creating call publishes")
}

func TestConcurrentReconcileAnonymousRace(t *testing.T) {
	f := newFixture(t)
	f.paid(t, "sess_123", "", 34700, lineItem{ProductID: "P", Qty: 1, UnitPrice: 34700})

	const n = 16
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		mu      sync.Mutex
		ids     = map[string]bool{}
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.rec.Reconcile(context.Background(), "sess_123")
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			if res.Created {
				created.Add(1)
			}
			mu.Lock()
			ids[res.OrderID] = true
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, f.store.OrderCount())
	for id := range ids {
		items, err := f.store.ListItems(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	}
	assert.Empty(t, f.store.Grants(), "anonymous buyers get no grants")
}

// blindStore hides existing orders from the first lookup, as if the
// read-before-write did not exist.
type blindStore struct {
	*orders.MemStore
	lookups atomic.Int32
}

func (b *blindStore) FindBySession(ctx context.Context, id string) (orders.Order, error) {
	if b.lookups.Add(1) == 1 {
		return orders.Order{}, orders.ErrNotFound
	}
	return b.MemStore.FindBySession(ctx, id)
}

func TestUniqueConstraintDecidesWithoutLookup(t *testing.T) {
	f := newFixture(t)
	f.paid(t, "cs_1", "u1", 4700, lineItem{ProductID: "A", Qty: 1, UnitPrice: 4700})
	ctx := context.Background()

	first, err := f.rec.Reconcile(ctx, "cs_1")
	require.NoError(t, err)

	blind := &Reconciler{Store: &blindStore{MemStore: f.store}, Provider: f.provider, Log: logging.Discard()}
	res, err := blind.Reconcile(ctx, "cs_1")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, first.OrderID, res.OrderID)
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestReconcileResumesOrderWithoutItems(t *testing.T) {
	f := newFixture(t)
	f.paid(t, "cs_partial", "u1", 7700,
		lineItem{ProductID: "A", Qty: 1, UnitPrice: 4700},
		lineItem{ProductID: "B", Qty: 2, UnitPrice: 1500},
	)
	ctx := context.Background()
	require.NoError(t, f.store.PutOrder(orders.Order{
		ID: "00000000-0000-0000-0000-00000000000a", BuyerID: "u1", BuyerEmail: "u1@example.com",
		TotalCents: 7700, Status: orders.StatusCompleted, CheckoutSessionID: "cs_partial",
	}))

	res, err := f.rec.Reconcile(ctx, "cs_partial")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Resumed)
	assert.Equal(t, "00000000-0000-0000-0000-00000000000a", res.OrderID)

	n, err := f.store.CountItems(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.store.Grants(), 2)
	assert.Equal(t, []string{res.OrderID}, f.notified.orders)

	again, err := f.rec.Reconcile(ctx, "cs_partial")
	require.NoError(t, err)
	assert.False(t, again.Resumed)
	n, _ = f.store.CountItems(ctx, res.OrderID)
	assert.Equal(t, 2, n)
}

func TestReconcileRejectsUnpaid(t *testing.T) {
	f := newFixture(t)
	meta, err := encodeMetadata("u1", "", []lineItem{{ProductID: "A", Qty: 1, UnitPrice: 4700}})
	require.NoError(t, err)
	f.provider.Put(payments.Session{ID: "cs_open", PaymentStatus: payments.PaymentStatusUnpaid, AmountTotal: 4700, Metadata: meta})

	_, err = f.rec.Reconcile(context.Background(), "cs_open")
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.True(t, IsTerminal(err))
	assert.Zero(t, f.store.OrderCount())
}

func TestReconcileErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty session id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.rec.Reconcile(ctx, "")
		assert.ErrorIs(t, err, ErrSessionLookupFailed)
		assert.True(t, IsTerminal(err))
	})
	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.rec.Reconcile(ctx, "cs_nope")
		assert.ErrorIs(t, err, ErrSessionLookupFailed)
		assert.ErrorIs(t, err, payments.ErrSessionNotFound)
		assert.True(t, IsTerminal(err))
	})
	t.Run("provider unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.provider.RetrieveErr = errors.New("timeout")
		_, err := f.rec.Reconcile(ctx, "cs_1")
		assert.ErrorIs(t, err, ErrSessionLookupFailed)
		assert.False(t, IsTerminal(err))
	})
	t.Run("product removed after checkout", func(t *testing.T) {
		f := newFixture(t)
		f.paid(t, "cs_gone", "u1", 100, lineItem{ProductID: "GONE", Qty: 1, UnitPrice: 100})
		_, err := f.rec.Reconcile(ctx, "cs_gone")
		assert.ErrorIs(t, err, ErrProductNotFound)
		assert.True(t, IsTerminal(err))
		assert.Zero(t, f.store.OrderCount())
	})
	t.Run("metadata without items", func(t *testing.T) {
		f := newFixture(t)
		f.provider.Put(payments.Session{ID: "cs_empty", PaymentStatus: payments.PaymentStatusPaid,
			Metadata: map[string]string{metaBuyerID: "u1"}})
		_, err := f.rec.Reconcile(ctx, "cs_empty")
		assert.ErrorIs(t, err, ErrProductNotFound)
	})
	t.Run("storage failure is retryable", func(t *testing.T) {
		f := newFixture(t)
		f.paid(t, "cs_1", "u1", 4700, lineItem{ProductID: "A", Qty: 1, UnitPrice: 4700})
		f.rec.Store = &failingStore{MemStore: f.store}
		_, err := f.rec.Reconcile(ctx, "cs_1")
		assert.ErrorIs(t, err, ErrStorage)
		assert.False(t, IsTerminal(err))
	})
}

type failingStore struct{ *orders.MemStore }

func (failingStore) CreateOrder(context.Context, orders.Order, []orders.OrderItem, []orders.Grant) error {
	return errors.New("connection reset")
}

func TestReconcileLegacySingleProduct(t *testing.T) {
	f := newFixture(t)
	f.provider.Put(payments.Session{
		ID:            "cs_legacy",
		PaymentStatus: payments.PaymentStatusPaid,
		AmountTotal:   4200,
		CustomerEmail: "buyer@example.com",
		Metadata:      map[string]string{metaBuyerID: "u5", metaLegacyProductID: "A"},
	})
	ctx := context.Background()

	res, err := f.rec.Reconcile(ctx, "cs_legacy")
	require.NoError(t, err)
	items, err := f.store.ListItems(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Qty)
	assert.Equal(t, int64(4200), items[0].PriceCents)

	o, err := f.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", o.BuyerEmail)
}

func TestNotifierFailureDoesNotFailReconcile(t *testing.T) {
	f := newFixture(t)
	f.notified.err = errors.New("kafka down")
	f.paid(t, "cs_1", "u1", 4700, lineItem{ProductID: "A", Qty: 1, UnitPrice: 4700})

	res, err := f.rec.Reconcile(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.True(t, res.Created)
}
