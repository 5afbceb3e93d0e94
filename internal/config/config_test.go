package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HTTP_ADDR", "POSTGRES_DSN", "REDIS_ADDR", "KAFKA_BROKERS", "PAYMENTS_MODE",
		"PROVIDER_TIMEOUT", "CHECKOUT_SUCCESS_URL", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, PaymentsStripe, cfg.PaymentsMode)
	assert.Contains(t, cfg.SuccessURL, "{CHECKOUT_SESSION_ID}")
	assert.True(t, cfg.MemoryMode())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("POSTGRES_DSN", "postgres://app@db/store")
	t.Setenv("PAYMENTS_MODE", "Sandbox")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.MemoryMode())
	assert.Equal(t, PaymentsSandbox, cfg.PaymentsMode)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, "https://shop.example", cfg.PublicBaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")

	cfg.StripeSecretKey = "sk_test_x"
	cfg.StripeWebhookSecret = "whsec_x"
	assert.NoError(t, cfg.Validate())

	cfg.SuccessURL = "https://shop.example/thanks"
	assert.ErrorContains(t, cfg.Validate(), "CHECKOUT_SESSION_ID")

	cfg.PaymentsMode = "paypal"
	assert.ErrorContains(t, cfg.Validate(), "PAYMENTS_MODE")
}

func TestSandboxWebhookSecret(t *testing.T) {
	assert.Equal(t, "whsec_sandbox", Config{}.SandboxWebhookSecret())
	assert.Equal(t, "whsec_x", Config{StripeWebhookSecret: "whsec_x"}.SandboxWebhookSecret())
}
