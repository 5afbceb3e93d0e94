package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-digital-storefront/internal/checkout"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
)

type Reconciler interface {
	Reconcile(ctx context.Context, sessionID string) (checkout.Result, error)
}

type OrderViews interface {
	GetOrderDetail(ctx context.Context, orderID string) (orders.OrderDetail, error)
}

func migrateCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				if app.Migrate == nil {
					return errors.New("no database configured")
				}
				if err := app.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func reconcileCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <session-id>",
		Short: "Create the order for a paid checkout session if it is missing",
		Long: `reconcile runs the same step as the success redirect and the payment
webhook. It is safe to run any number of times: an existing order is reported,
and an order left without line items is completed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				res, err := app.Reconciler.Reconcile(ctx, args[0])
				if err != nil {
					if checkout.IsTerminal(err) {
						return fmt.Errorf("session %s cannot produce an order: %w", args[0], err)
					}
					return fmt.Errorf("reconcile failed, safe to retry: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func orderCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "order <order-id>",
		Short: "Print an order with its line items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(ctx context.Context, app *App) error {
				d, err := app.Views.GetOrderDetail(ctx, args[0])
				if errors.Is(err, orders.ErrNotFound) {
					return fmt.Errorf("order %s not found", args[0])
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
}
