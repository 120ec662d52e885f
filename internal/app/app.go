package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sheikh-saqib/credit-ledger/internal/config"
	"github.com/sheikh-saqib/credit-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/credit-ledger/internal/events/nop"
	"github.com/sheikh-saqib/credit-ledger/internal/gateway/stripegw"
	"github.com/sheikh-saqib/credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/credit-ledger/internal/ledger"
	"github.com/sheikh-saqib/credit-ledger/internal/models"
	"github.com/sheikh-saqib/credit-ledger/internal/reconcile"
	"github.com/sheikh-saqib/credit-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/credit-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/credit-ledger/internal/storage/sqlite"
	"github.com/sheikh-saqib/credit-ledger/pkg/logger"
)

// Store is everything the service needs from a storage backend.
type Store interface {
	interfaces.CreditStore
	interfaces.TenantDirectory
	interfaces.UnresolvedStore
	AddTenant(ctx context.Context, t models.Tenant) error
}

type publisher interface {
	interfaces.EventPublisher
	io.Closer
}

type App struct {
	Config     *config.Config
	Store      Store
	Ledger     *ledger.Ledger
	Reconciler *reconcile.Reconciler
	Gateway    interfaces.PaymentGateway

	db        io.Closer
	publisher publisher
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, db, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	for _, id := range cfg.SeedTenants {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := store.AddTenant(ctx, models.Tenant{ID: id, Name: id}); err != nil {
			closeQuietly(db)
			return nil, fmt.Errorf("error seeding tenant: %w", err)
		}
	}

	var pub publisher = nop.Publisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = kafka.NewPublisher(cfg.KafkaBrokers)
		logger.Log.Info("publishing ledger events to kafka", logger.String("brokers", strings.Join(cfg.KafkaBrokers, ",")))
	}

	gateway := stripegw.New(stripegw.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Tolerance:     cfg.WebhookTolerance,
		Currency:      cfg.CheckoutCurrency,
		ProductName:   cfg.CheckoutProductName,
	})

	l := ledger.NewLedger(store, store, pub, ledger.RetryPolicy{
		MaxRetries: cfg.StorageRetries,
		Interval:   cfg.StorageRetryInterval,
	})

	return &App{
		Config:     cfg,
		Store:      store,
		Ledger:     l,
		Reconciler: reconcile.NewReconciler(gateway, store, l, store, pub),
		Gateway:    gateway,
		db:         db,
		publisher:  pub,
	}, nil
}

func initStore(ctx context.Context, cfg *config.Config) (Store, io.Closer, error) {
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		logger.Log.Warn("using in-memory storage, data is lost on restart")
		if cfg.JWTSecret == config.DefaultJWTSecret {
			logger.Log.Warn("JWT_SECRET is the built-in default, anyone can mint admin tokens")
		}
		if cfg.StripeWebhookSecret == "" {
			logger.Log.Warn("STRIPE_WEBHOOK_SECRET is not set, webhooks will be refused")
		}
		return memory.NewMemoryLedgerStore(), nil, nil

	case config.DriverSQLite:
		db, err := sqlite.NewDB(cfg.DatabaseURI)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening database: %w", err)
		}
		if err := sqlite.RunMigrations(db.Writer); err != nil {
			closeQuietly(db)
			return nil, nil, fmt.Errorf("error running migrations: %w", err)
		}
		return sqlite.NewStore(db), db, nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening database: %w", err)
		}
		if err := postgres.RunMigrations(db); err != nil {
			closeQuietly(db)
			return nil, nil, fmt.Errorf("error running migrations: %w", err)
		}
		return postgres.NewPostgresLedgerStore(db), db, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

// Close flushes the event publisher and closes the database.
func (app *App) Close() error {
	logger.Log.Info("closing event publisher")
	if err := app.publisher.Close(); err != nil {
		logger.Log.Error("error closing event publisher", logger.Error(err))
	}

	if app.db == nil {
		return nil
	}
	logger.Log.Info("closing database connection")
	if err := app.db.Close(); err != nil {
		return fmt.Errorf("error closing database connection: %w", err)
	}
	logger.Log.Info("database connection closed")
	return nil
}

func closeQuietly(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Log.Error("error closing database after startup failure", logger.Error(err))
	}
}
