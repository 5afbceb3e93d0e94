package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// insertGrants is safe to repeat: a grant that already exists for the same
// (buyer, product, order) is left untouched.
func insertGrants(ctx context.Context, tx pgx.Tx, grants []Grant) error {
	for _, g := range grants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_products(id, buyer_id, product_id, order_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (buyer_id, product_id, order_id) DO NOTHING
		`, g.ID, g.BuyerID, g.ProductID, g.OrderID); err != nil {
			return fmt.Errorf("insert grant %s/%s: %w", g.BuyerID, g.ProductID, err)
		}
	}
	return nil
}

func (r *Repo) HasGrant(ctx context.Context, buyerID, productID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_products WHERE buyer_id=$1 AND product_id=$2)`,
		buyerID, productID).Scan(&ok)
	return ok, err
}
