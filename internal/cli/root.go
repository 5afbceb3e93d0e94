// Package cli implements storectl, the operator tool for the storefront.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// App is what the commands run against. Close releases whatever Open built.
type App struct {
	Migrate    func(ctx context.Context) error
	Reconciler Reconciler
	Views      OrderViews
	Close      func()
}

// Opener builds the App lazily so `storectl --help` needs no database.
type Opener func(ctx context.Context) (*App, error)

func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "storectl",
		Short: "Operate the digital storefront",
		Long: `storectl applies the database schema and lets support staff re-run
checkout reconciliation for a session or inspect an order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Duration("timeout", 30*time.Second, "Deadline for the whole command")

	root.AddCommand(migrateCmd(open))
	root.AddCommand(reconcileCmd(open))
	root.AddCommand(orderCmd(open))
	return root
}

// withApp opens the App under the command deadline and runs fn.
func withApp(cmd *cobra.Command, open Opener, fn func(ctx context.Context, app *App) error) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := open(ctx)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if app.Close != nil {
		defer app.Close()
	}
	return fn(ctx, app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
