package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-digital-storefront/internal/checkout"
	"github.com/ariefcatur/go-digital-storefront/internal/cli"
	"github.com/ariefcatur/go-digital-storefront/internal/config"
	"github.com/ariefcatur/go-digital-storefront/internal/logging"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
	"github.com/ariefcatur/go-digital-storefront/internal/postgres"
)

func main() {
	_ = godotenv.Load()
	if err := cli.NewRootCmd(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// open connects to Postgres and the configured payment provider. Reconcile
// from the CLI publishes no events; the access cache falls back to the
// grants table for orders it creates.
func open(ctx context.Context) (*cli.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.MemoryMode() {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	log := logging.New("storectl", cfg.LogLevel, "text")
	repo := &orders.Repo{DB: pool}
	db := postgres.SQL(pool)

	var provider payments.Provider = payments.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.ProviderTimeout)
	if cfg.PaymentsMode == config.PaymentsSandbox {
		// Sandbox sessions live in the API process; none are visible here.
		provider = payments.NewSandbox(cfg.PublicBaseURL+"/sandbox/pay", cfg.SandboxWebhookSecret())
	}

	return &cli.App{
		Migrate:    func(ctx context.Context) error { return postgres.Apply(ctx, db) },
		Reconciler: &checkout.Reconciler{Store: repo, Provider: provider, Log: log},
		Views:      &checkout.Views{Store: repo},
		Close: func() {
			_ = db.Close()
			pool.Close()
		},
	}, nil
}
