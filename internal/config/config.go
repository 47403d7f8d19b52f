package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name            string        `yaml:"name"`
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// RedisConfig configures the distributed order lock. An empty Addr selects
// the in-process lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	LockWait time.Duration `yaml:"lock_wait"`
}

// KafkaConfig configures confirmation notifications. No brokers means
// notifications are only logged.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	ConfirmationTopic string   `yaml:"confirmation_topic"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type RateConfig struct {
	Version       string    `yaml:"version"`
	Rate          string    `yaml:"rate"`
	EffectiveFrom time.Time `yaml:"effective_from"`
}

type PaymentConfig struct {
	Provider           string        `yaml:"provider"`
	SecretKey          string        `yaml:"secret_key"`
	WebhookSecret      string        `yaml:"webhook_secret"`
	Timeout            time.Duration `yaml:"timeout"`
	LedgerCurrency     string        `yaml:"ledger_currency"`
	SettlementCurrency string        `yaml:"settlement_currency"`
	Rates              []RateConfig  `yaml:"rates"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Log      LogConfig      `yaml:"log"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Auth     AuthConfig     `yaml:"auth"`
	Payment  PaymentConfig  `yaml:"payment"`
}

// Load reads the optional .env file, expands ${VAR} references in the YAML
// file at path and applies defaults.
func Load(envPath, path string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: failed to load %s: %w", envPath, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	return Parse([]byte(os.ExpandEnv(string(raw))))
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: invalid yaml: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "storefront"
	}
	if c.App.Port == "" {
		c.App.Port = "8080"
	}
	if c.App.ShutdownTimeout == 0 {
		c.App.ShutdownTimeout = 15 * time.Second
	}
	if c.App.RequestTimeout == 0 {
		c.App.RequestTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 10
	}
	if c.Postgres.MinConns == 0 {
		c.Postgres.MinConns = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 30 * time.Minute
	}
	if c.Postgres.MigrationsPath == "" {
		c.Postgres.MigrationsPath = "migrations"
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 30 * time.Second
	}
	if c.Redis.LockWait == 0 {
		c.Redis.LockWait = 5 * time.Second
	}
	if c.Kafka.ConfirmationTopic == "" {
		c.Kafka.ConfirmationTopic = "order.confirmed"
	}
	if c.Payment.Provider == "" {
		c.Payment.Provider = "sandbox"
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 10 * time.Second
	}
	if c.Payment.SettlementCurrency == "" {
		c.Payment.SettlementCurrency = "usd"
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.Postgres.Host == "" {
		errs = append(errs, errors.New("postgres.host is required"))
	}
	if c.Postgres.DBName == "" {
		errs = append(errs, errors.New("postgres.dbname is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Payment.LedgerCurrency == "" {
		errs = append(errs, errors.New("payment.ledger_currency is required"))
	}
	if len(c.Payment.Rates) == 0 {
		errs = append(errs, errors.New("payment.rates must contain at least one rate"))
	}
	switch c.Payment.Provider {
	case "stripe":
		if c.Payment.SecretKey == "" {
			errs = append(errs, errors.New("payment.secret_key is required for the stripe provider"))
		}
		if c.Payment.WebhookSecret == "" {
			errs = append(errs, errors.New("payment.webhook_secret is required for the stripe provider"))
		}
	case "sandbox":
		if c.Payment.WebhookSecret == "" {
			errs = append(errs, errors.New("payment.webhook_secret is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("payment.provider %q is not supported", c.Payment.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
