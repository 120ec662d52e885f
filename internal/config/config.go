package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// DefaultJWTSecret is only acceptable with the memory driver.
	DefaultJWTSecret = "privatekey"
)

type Config struct {
	Addr             string   `env:"RUN_ADDRESS" env-default:"localhost:8080"`
	DatabaseDriver   string   `env:"DATABASE_DRIVER" env-default:"memory"`
	DatabaseURI      string   `env:"DATABASE_URI"`
	JWTSecret        string   `env:"JWT_SECRET" env-default:"privatekey"`
	AuthDisabledURLs []string `env:"AUTH_DISABLED_URLS" env-default:"/health,/api/stripe/webhook,/api/stripe/success,/api/stripe/cancel" env-separator:","`
	LogLevel         string   `env:"LOG_LEVEL" env-default:"info"`

	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance    time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" env-default:"5m"`
	CheckoutCurrency    string        `env:"CHECKOUT_CURRENCY" env-default:"brl"`
	CheckoutProductName string        `env:"CHECKOUT_PRODUCT_NAME" env-default:"Credits"`
	PublicBaseURL       string        `env:"PUBLIC_BASE_URL" env-default:"http://localhost:8080"`

	// Decimal settings are read as text and parsed in Load.
	MinCheckoutAmountText string `env:"MIN_CHECKOUT_AMOUNT" env-default:"50.00"`
	CourtesyDefaultText   string `env:"COURTESY_DEFAULT_AMOUNT" env-default:"10.00"`

	StorageRetries       uint64        `env:"STORAGE_RETRIES" env-default:"3"`
	StorageRetryInterval time.Duration `env:"STORAGE_RETRY_INTERVAL" env-default:"50ms"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:","`
	SeedTenants  []string `env:"SEED_TENANTS" env-separator:","`

	minCheckoutAmount decimal.Decimal
	courtesyDefault   decimal.Decimal
}

func (c *Config) MinCheckoutAmount() decimal.Decimal { return c.minCheckoutAmount }

func (c *Config) CourtesyDefault() decimal.Decimal { return c.courtesyDefault }

// Load reads an optional .env file, then the environment, then flags. Flags win.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("couldn't read .env file: %w", err)
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}

	flags := flag.NewFlagSet("credits", flag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "a", cfg.Addr, "HTTP server address")
	flags.StringVar(&cfg.DatabaseURI, "d", cfg.DatabaseURI, "database URI")
	flags.StringVar(&cfg.DatabaseDriver, "driver", cfg.DatabaseDriver, "storage driver: memory, sqlite or postgres")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("couldn't parse flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var err error
	if c.minCheckoutAmount, err = decimal.NewFromString(c.MinCheckoutAmountText); err != nil {
		return fmt.Errorf("MIN_CHECKOUT_AMOUNT: %w", err)
	}
	if c.courtesyDefault, err = decimal.NewFromString(c.CourtesyDefaultText); err != nil {
		return fmt.Errorf("COURTESY_DEFAULT_AMOUNT: %w", err)
	}
	if !c.courtesyDefault.IsPositive() {
		return fmt.Errorf("COURTESY_DEFAULT_AMOUNT must be positive, got %s", c.CourtesyDefaultText)
	}

	switch c.DatabaseDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.DatabaseURI == "" {
			return fmt.Errorf("database URI is required for driver %q", c.DatabaseDriver)
		}
		if c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set for driver %q", c.DatabaseDriver)
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET must be set for driver %q", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.DatabaseDriver)
	}
	return nil
}
