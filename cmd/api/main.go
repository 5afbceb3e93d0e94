package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-digital-storefront/internal/access"
	"github.com/ariefcatur/go-digital-storefront/internal/checkout"
	"github.com/ariefcatur/go-digital-storefront/internal/config"
	"github.com/ariefcatur/go-digital-storefront/internal/events"
	"github.com/ariefcatur/go-digital-storefront/internal/httpx"
	kafkax "github.com/ariefcatur/go-digital-storefront/internal/kafka"
	"github.com/ariefcatur/go-digital-storefront/internal/logging"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/payments"
	"github.com/ariefcatur/go-digital-storefront/internal/postgres"
	"github.com/ariefcatur/go-digital-storefront/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var store orders.Store
	if cfg.MemoryMode() {
		log.Warn("POSTGRES_DSN not set, orders are kept in memory")
		mem := orders.NewMemStore()
		seedCatalog(mem)
		store = mem
	} else {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.WithError(err).Fatal("db connect")
		}
		defer pool.Close()
		if err := postgres.Apply(ctx, postgres.SQL(pool)); err != nil {
			log.WithError(err).Fatal("db schema")
		}
		store = &orders.Repo{DB: pool}
	}

	// Redis
	var cache redisx.Cache
	if cfg.RedisAddr == "" {
		cache = redisx.NewMemory()
	} else {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis not reachable, cache reads will miss")
		}
		cache = rdb
	}

	accessSvc := &access.Service{Grants: store, Cache: cache, Name: cfg.AccessGroup, Log: log.WithField("component", "access")}

	// Events: Kafka producers, or straight into the access cache without brokers.
	pub := &events.Publisher{Service: cfg.ServiceName}
	var producers []*kafkax.Producer
	if len(cfg.KafkaBrokers) == 0 {
		pub.Completed = events.Local{Topic: orders.TopicOrderCompleted, Handler: accessSvc.HandleOrderCompleted}
		pub.StatusChanged = events.Local{Topic: orders.TopicOrderStatusChanged}
	} else {
		pc := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCompleted, 1024, log)
		ps := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024, log)
		producers = append(producers, pc, ps)
		for _, p := range producers {
			p.Start()
		}
		pub.Completed, pub.StatusChanged = pc, ps
	}

	// Payments
	var (
		provider payments.Provider
		verifier payments.WebhookVerifier
		sandbox  *payments.Sandbox
	)
	switch cfg.PaymentsMode {
	case config.PaymentsSandbox:
		log.Warn("PAYMENTS_MODE=sandbox, no real payments are taken")
		sandbox = payments.NewSandbox(cfg.PublicBaseURL+"/sandbox/pay", cfg.SandboxWebhookSecret())
		provider, verifier = sandbox, sandbox
	default:
		st := payments.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.ProviderTimeout)
		provider, verifier = st, st
	}

	reconcileTimeout := cfg.ProviderTimeout + 2*cfg.StoreTimeout
	reconciler := &checkout.Reconciler{Store: store, Provider: provider, Notifier: pub, Log: log.WithField("component", "reconcile")}
	limiter := httpx.NewRateLimiter(cfg.CheckoutRate, cfg.CheckoutBurst, log)
	limiter.StartSweeper(ctx, time.Minute)

	router := httpx.NewRouter(httpx.Deps{
		Log: log,
		Initiator: &checkout.Initiator{
			Products:   store,
			Provider:   provider,
			Currency:   cfg.Currency,
			SuccessURL: cfg.SuccessURL,
			CancelURL:  cfg.CancelURL,
			Log:        log.WithField("component", "checkout"),
		},
		Reconciler:       reconciler,
		Views:            &checkout.Views{Store: store},
		Store:            store,
		Access:           accessSvc,
		Cache:            cache,
		Events:           pub,
		Webhooks:         verifier,
		Auth:             &httpx.Authenticator{Secret: []byte(cfg.SupabaseJWTSecret)},
		Limiter:          limiter,
		Sandbox:          sandbox,
		SuccessURL:       cfg.SuccessURL,
		Timeout:          cfg.StoreTimeout,
		ReconcileTimeout: reconcileTimeout,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "payments": cfg.PaymentsMode}).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	// In-flight reconciles may still publish; let them finish first.
	ctx2, cancel2 := context.WithTimeout(context.Background(), reconcileTimeout+5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	for _, p := range producers {
		p.Close()
	}
	for _, p := range producers {
		p.WaitClosed()
	}
}

// seedCatalog gives memory mode something to sell.
func seedCatalog(m *orders.MemStore) {
	for _, p := range []orders.Product{
		{ID: "ebook-go-patterns", Name: "Go Patterns (ebook)", PriceCents: 2900, Active: true},
		{ID: "course-postgres", Name: "Postgres for App Developers (video course)", PriceCents: 4700, Active: true},
		{ID: "template-saas", Name: "SaaS Starter Template", PriceCents: 1500, Active: true},
	} {
		m.AddProduct(p)
	}
}
