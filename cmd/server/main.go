package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/GabriellaKhayutin1/smartstorage/pkg/billing"
	"github.com/GabriellaKhayutin1/smartstorage/pkg/config"
	"github.com/GabriellaKhayutin1/smartstorage/pkg/httpserver"
	"github.com/GabriellaKhayutin1/smartstorage/pkg/logger"
	"github.com/GabriellaKhayutin1/smartstorage/pkg/mongo"
	"github.com/GabriellaKhayutin1/smartstorage/pkg/pg"
	svcbilling "github.com/GabriellaKhayutin1/smartstorage/svc/billing"
)

type appConfig struct {
	// StoreDriver selects the record store: postgres, mongo, or memory.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	// Provider selects the payment provider: paddle or mollie.
	Provider string `env:"BILLING_PROVIDER" envDefault:"mollie"`

	// Provider price refs for the plan catalog (Paddle only).
	WeeklyPriceRef  string `env:"PADDLE_PRICE_REF_WEEKLY"`
	MonthlyPriceRef string `env:"PADDLE_PRICE_REF_MONTHLY"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	var appCfg appConfig
	var httpCfg httpserver.Config
	var billingCfg svcbilling.Config
	config.MustLoad(&appCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&billingCfg)

	store, readiness, err := newStore(ctx, appCfg, log)
	if err != nil {
		return err
	}

	provider, err := newProvider(appCfg)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "billing provider configured", slog.String("provider", provider.Name()))

	catalog := billing.DefaultCatalog()
	if appCfg.Provider == "paddle" {
		for i := range catalog {
			switch catalog[i].ID {
			case "weekly":
				catalog[i].PriceRef = appCfg.WeeklyPriceRef
			case "monthly":
				catalog[i].PriceRef = appCfg.MonthlyPriceRef
			}
		}
	}

	service := svcbilling.NewService(
		billingCfg,
		billing.NewEventIngestor(provider, store, log),
		billing.NewVerificationService(provider, store, log),
		billing.NewCheckoutService(provider, store, catalog, log),
		billing.NewAccessGate(store),
		store,
		svcbilling.WebhookSignatureHeader(provider.Name()),
		log,
	)

	sweeper := billing.NewTrialSweeper(store, log)
	go func() {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			log.ErrorContext(ctx, "trial sweeper stopped", logger.Error(err))
		}
	}()

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	router.Get("/healthz", httpserver.HealthCheckHandler(log))
	router.Get("/readyz", httpserver.HealthCheckHandler(log, readiness...))
	router.Mount("/", service.Routes())

	return httpserver.New(httpCfg, log).Run(ctx, router)
}

// newStore builds the configured record store plus its readiness checks.
func newStore(ctx context.Context, cfg appConfig, log *slog.Logger) (billing.RecordStore, []func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case "postgres":
		var pgCfg pg.Config
		config.MustLoad(&pgCfg)

		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
			return nil, nil, err
		}
		return billing.NewPostgresStore(pool), []func(context.Context) error{pg.Healthcheck(pool)}, nil

	case "mongo":
		var mongoCfg mongo.Config
		config.MustLoad(&mongoCfg)

		client, err := mongo.Connect(ctx, mongoCfg)
		if err != nil {
			return nil, nil, err
		}
		store := billing.NewMongoStore(client.Database(mongoCfg.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		return store, []func(context.Context) error{mongo.Healthcheck(client)}, nil

	case "memory":
		// Dev-only: state does not survive a restart.
		return billing.NewMemoryStore(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newProvider(cfg appConfig) (billing.PaymentProvider, error) {
	switch cfg.Provider {
	case "paddle":
		var paddleCfg billing.PaddleConfig
		config.MustLoad(&paddleCfg)
		return billing.NewPaddleProvider(paddleCfg)
	case "mollie":
		var mollieCfg billing.MollieConfig
		config.MustLoad(&mollieCfg)
		return billing.NewMollieProvider(mollieCfg)
	default:
		return nil, fmt.Errorf("%w: %s", billing.ErrUnknownProvider, cfg.Provider)
	}
}
