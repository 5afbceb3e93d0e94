package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionConstraint is the unique constraint that keeps one order per
// checkout session. See internal/postgres/schema.go.
const SessionConstraint = "orders_checkout_session_id_key"

const pgUniqueViolation = "23505"

const orderColumns = `id, buyer_id, buyer_email, total_amount, status, payment_reference,
	checkout_session_id, created_at, updated_at`

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o          Order
		buyerID    *string
		paymentRef *string
		status     string
	)
	err := row.Scan(&o.ID, &buyerID, &o.BuyerEmail, &o.TotalCents, &status, &paymentRef,
		&o.CheckoutSessionID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if buyerID != nil {
		o.BuyerID = *buyerID
	}
	if paymentRef != nil {
		o.PaymentRef = *paymentRef
	}
	o.Status = Status(status)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, price_cents, active, created_at, updated_at
	                              FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, price_cents, active, created_at, updated_at
	                              FROM products WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) FindBySession(ctx context.Context, sessionID string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE checkout_session_id=$1`, sessionID))
}

// CreateOrder inserts the order with its items and grants in one transaction.
// A concurrent writer for the same session surfaces as ErrDuplicateSession.
func (r *Repo) CreateOrder(ctx context.Context, o Order, items []OrderItem, grants []Grant) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, buyer_id, buyer_email, total_amount, status, payment_reference, checkout_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, nullable(o.BuyerID), o.BuyerEmail, o.TotalCents, string(o.Status), nullable(o.PaymentRef), o.CheckoutSessionID)
	if err != nil {
		if isUniqueViolation(err, SessionConstraint) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("insert order: %w", err)
	}
	if err := insertItems(ctx, tx, items); err != nil {
		return err
	}
	if err := insertGrants(ctx, tx, grants); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertItems(ctx context.Context, tx pgx.Tx, items []OrderItem) error {
	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5)`,
			it.ID, it.OrderID, it.ProductID, it.Qty, it.PriceCents,
		); err != nil {
			return fmt.Errorf("insert order item %s: %w", it.ProductID, err)
		}
	}
	return nil
}

func (r *Repo) CountItems(ctx context.Context, orderID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id=$1`, orderID).Scan(&n)
	return n, err
}

// CompleteOrder locks the order row so two resumers cannot both add items.
func (r *Repo) CompleteOrder(ctx context.Context, orderID string, items []OrderItem, grants []Grant) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id=$1`, orderID).Scan(&n); err != nil {
		return false, err
	}
	added := false
	if n == 0 {
		if err := insertItems(ctx, tx, items); err != nil {
			return false, err
		}
		added = len(items) > 0
	}
	if err := insertGrants(ctx, tx, grants); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return added, nil
}

// validID keeps malformed ids from reaching the uuid column as a query error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if !validID(orderID) {
		return Order{}, ErrNotFound
	}
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
}

func (r *Repo) ListItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	if !validID(orderID) {
		return []OrderItem{}, nil
	}
	rows, err := r.DB.Query(ctx, `SELECT id, order_id, product_id, quantity, price, created_at
	                              FROM order_items WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) ListByBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
	                              WHERE buyer_id=$1 ORDER BY created_at DESC, id`, buyerID)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *Repo) ListOrders(ctx context.Context, f ListFilter) ([]Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders`
	args := []any{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		q += fmt.Sprintf(` WHERE status=$%d`, len(args))
	}
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))
	q += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *Repo) UpdateStatus(ctx context.Context, orderID string, to Status) (Order, error) {
	if !validID(orderID) {
		return Order{}, ErrNotFound
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(Status(from), to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1
		RETURNING `+orderColumns, orderID, string(to)))
	if err != nil {
		return Order{}, err
	}
	return o, tx.Commit(ctx)
}
