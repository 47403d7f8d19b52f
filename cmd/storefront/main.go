package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/config"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/db"
	storefrontHttp "github.com/vasiliy-maslov/ecommerce-storefront/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/lock"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/notify"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/reconcile"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	envPath := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg)

	log.Info().Msg("Starting storefront...")

	ctx := context.Background()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	locker, closeLocker := newLocker(ctx, cfg.Redis)
	notifier := newNotifier(cfg.Kafka)

	rates, err := newRateTable(cfg.Payment)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build exchange rate table")
	}

	m := metrics.New()

	inventorySvc := inventory.NewService(inventory.NewRepository(pg.Pool))
	orderSvc := order.NewService(order.NewRepository(pg.Pool), locker)
	cartSvc := cart.NewService(cart.NewRepository(pg.Pool), inventorySvc, locker)
	paymentSvc := payment.NewService(newProvider(cfg.Payment), orderSvc, rates)

	checkoutSvc := checkout.NewService(checkout.Deps{
		Carts:     cartSvc,
		Catalog:   inventorySvc,
		Inventory: inventorySvc,
		Orders:    orderSvc,
		Payments:  paymentSvc,
		Notifier:  notifier,
		Currency:  cfg.Payment.LedgerCurrency,
	})
	dispatcher := reconcile.NewDispatcher(reconcile.Deps{
		Orders:    orderSvc,
		Inventory: inventorySvc,
		Carts:     cartSvc,
		Payments:  paymentSvc,
		Notifier:  notifier,
		Events:    reconcile.NewEventLog(pg.Pool),
		Recorder:  m,
	})

	router := transport.NewRouter(transport.RouterDeps{
		Auth:           storefrontHttp.NewAuthenticator(cfg.Auth.JWTSecret),
		Metrics:        m,
		Carts:          storefrontHttp.NewCartHandler(cartSvc),
		Orders:         storefrontHttp.NewOrderHandler(orderSvc, checkoutSvc),
		Payments:       storefrontHttp.NewPaymentHandler(checkoutSvc, paymentSvc, dispatcher),
		Admin:          storefrontHttp.NewAdminHandler(orderSvc, checkoutSvc, dispatcher),
		RequestTimeout: cfg.App.RequestTimeout,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.App.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("port", cfg.App.Port).Msg("Could not listen")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// дождаться фоновых подтверждений до закрытия Kafka writer
	checkoutSvc.Wait()
	if c, ok := notifier.(*notify.KafkaNotifier); ok {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close kafka writer")
		}
	}
	closeLocker()
	pg.Close()

	log.Info().Msg("Storefront stopped gracefully")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(os.Stdout)
	if cfg.Log.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	log.Logger = logger.With().Timestamp().Str("service", cfg.App.Name).Logger()
}

func newLocker(ctx context.Context, cfg config.RedisConfig) (lock.Locker, func()) {
	if cfg.Addr == "" {
		log.Info().Msg("Redis is not configured, using in-process order locks")
		return lock.NewLocalLocker(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("Failed to connect to redis")
	}
	log.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")

	return lock.NewRedisLocker(client, cfg.LockTTL, cfg.LockWait), func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis client")
		}
	}
}

func newNotifier(cfg config.KafkaConfig) notify.Notifier {
	if len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka is not configured, order confirmations are only logged")
		return notify.LogNotifier{}
	}
	return notify.NewKafkaNotifier(cfg.Brokers, cfg.ConfirmationTopic)
}

func newProvider(cfg config.PaymentConfig) payment.Provider {
	if cfg.Provider == "stripe" {
		return payment.NewStripeProvider(cfg.SecretKey, cfg.WebhookSecret, cfg.Timeout)
	}
	log.Warn().Msg("Using the sandbox payment provider")
	return payment.NewSandboxProvider(cfg.WebhookSecret)
}

func newRateTable(cfg config.PaymentConfig) (*payment.RateTable, error) {
	rates := make([]payment.Rate, 0, len(cfg.Rates))
	for _, rc := range cfg.Rates {
		value, err := decimal.NewFromString(rc.Rate)
		if err != nil {
			return nil, fmt.Errorf("rate %s: %w", rc.Version, err)
		}
		rates = append(rates, payment.Rate{Version: rc.Version, Rate: value, EffectiveFrom: rc.EffectiveFrom})
	}
	return payment.NewRateTable(cfg.LedgerCurrency, cfg.SettlementCurrency, rates)
}
