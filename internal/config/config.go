package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

const (
	PaymentsStripe  = "stripe"
	PaymentsSandbox = "sandbox"
)

type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR,default=:8081"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8081"`
	// Empty DSN runs on the in-memory store.
	PostgresDSN string `env:"POSTGRES_DSN"`
	// Empty Redis or Kafka settings keep caches and events in process.
	RedisAddr    string `env:"REDIS_ADDR"`
	KafkaCSV     string `env:"KAFKA_BROKERS"`
	KafkaBrokers []string
	ServiceName  string `env:"SERVICE_NAME,default=storefront-api"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	PaymentsMode        string        `env:"PAYMENTS_MODE,default=stripe"`
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT,default=10s"`
	StoreTimeout        time.Duration `env:"STORE_TIMEOUT,default=5s"`

	SuccessURL string `env:"CHECKOUT_SUCCESS_URL,default=http://localhost:8081/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL  string `env:"CHECKOUT_CANCEL_URL,default=http://localhost:8081/checkout/cancel"`
	Currency   string `env:"CHECKOUT_CURRENCY,default=usd"`

	SupabaseJWTSecret string  `env:"SUPABASE_JWT_SECRET"`
	CheckoutRate      float64 `env:"CHECKOUT_RATE_PER_SEC,default=2"`
	CheckoutBurst     int     `env:"CHECKOUT_RATE_BURST,default=5"`

	AccessGroup   string `env:"ACCESS_GROUP,default=storefront-access"`
	AccessWorkers int    `env:"ACCESS_WORKERS,default=8"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}
	cfg.KafkaBrokers = splitCSV(cfg.KafkaCSV)
	cfg.PaymentsMode = strings.ToLower(cfg.PaymentsMode)
	cfg.PublicBaseURL = strings.TrimSuffix(cfg.PublicBaseURL, "/")
	return cfg, nil
}

// MemoryMode reports whether orders live in process memory only.
func (c Config) MemoryMode() bool { return c.PostgresDSN == "" }

// SandboxWebhookSecret is the signing secret sandbox webhooks use.
func (c Config) SandboxWebhookSecret() string {
	if c.StripeWebhookSecret != "" {
		return c.StripeWebhookSecret
	}
	return "whsec_sandbox"
}

// Validate checks what the checkout endpoints need before serving.
func (c Config) Validate() error {
	var errs []error
	switch c.PaymentsMode {
	case PaymentsStripe:
		if c.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required in stripe mode"))
		}
		if c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required in stripe mode"))
		}
	case PaymentsSandbox:
	default:
		errs = append(errs, fmt.Errorf("PAYMENTS_MODE must be %q or %q, got %q", PaymentsStripe, PaymentsSandbox, c.PaymentsMode))
	}
	if !strings.Contains(c.SuccessURL, "{CHECKOUT_SESSION_ID}") {
		errs = append(errs, errors.New("CHECKOUT_SUCCESS_URL must contain {CHECKOUT_SESSION_ID}"))
	}
	if c.CheckoutRate <= 0 || c.CheckoutBurst <= 0 {
		errs = append(errs, errors.New("CHECKOUT_RATE_PER_SEC and CHECKOUT_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
