package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-digital-storefront/internal/access"
	"github.com/ariefcatur/go-digital-storefront/internal/config"
	kafkax "github.com/ariefcatur/go-digital-storefront/internal/kafka"
	"github.com/ariefcatur/go-digital-storefront/internal/logging"
	"github.com/ariefcatur/go-digital-storefront/internal/orders"
	"github.com/ariefcatur/go-digital-storefront/internal/redisx"
)

// access consumes order.completed and warms the purchase-access cache the
// API reads before falling back to user_products.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.ServiceName+"-access", cfg.LogLevel, cfg.LogFormat)
	if cfg.RedisAddr == "" || len(cfg.KafkaBrokers) == 0 {
		log.Fatal("REDIS_ADDR and KAFKA_BROKERS are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		log.WithError(err).Fatal("redis")
	}

	svc := &access.Service{Cache: rdb, Name: cfg.AccessGroup, Log: log}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.AccessGroup, orders.TopicOrderCompleted, cfg.AccessWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.WithFields(logrus.Fields{
			"group":   cfg.AccessGroup,
			"topic":   orders.TopicOrderCompleted,
			"workers": cfg.AccessWorkers,
		}).Info("access consumer started")
		if err := cons.Start(ctx, svc.HandleOrderCompleted); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer...")
	cancel()
	<-done
}
