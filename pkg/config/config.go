package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Storage      StorageConfig
	DB           DBConfig
	Redis        RedisConfig
	Remote       RemoteConfig
	Pricing      PricingConfig
	CORS         CORSConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	if cfg.Storage.UsesSQL() {
		if err := cfg.DB.ensureDSN(cfg.Storage.Backend); err != nil {
			return nil, err
		}
	}
	if err := cfg.Remote.validate(); err != nil {
		return nil, err
	}
	if cfg.Pricing.Shipping.IsNegative() {
		return nil, fmt.Errorf("%s must not be negative", EnvPricingShipping)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// StorageConfig selects where the local basket copy lives.
type StorageConfig struct {
	Backend   string `envconfig:"STOREFRONT_STORAGE_BACKEND" default:"memory"`
	Namespace string `envconfig:"STOREFRONT_STORAGE_NAMESPACE" default:"storefront"`
}

// UsesSQL reports whether the backend goes through the gorm client.
func (s StorageConfig) UsesSQL() bool {
	return s.Backend == StorageSQLite || s.Backend == StoragePostgres
}

func (s *StorageConfig) validate() error {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	switch s.Backend {
	case StorageMemory, StorageRedis, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("%s must be one of memory, redis, sqlite, postgres (got %q)", EnvStorageBackend, s.Backend)
	}
	if strings.TrimSpace(s.Namespace) == "" {
		return fmt.Errorf("%s is required", EnvStorageNamespace)
	}
	return nil
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER"`

	SQLitePath string `envconfig:"STOREFRONT_SQLITE_PATH" default:"storefront.db"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// RemoteConfig points at the basket API.
type RemoteConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_REMOTE_BASE_URL" default:"http://localhost:8082/api"`
	Timeout        time.Duration `envconfig:"STOREFRONT_REMOTE_TIMEOUT" default:"10s"`
	MaxRetries     uint64        `envconfig:"STOREFRONT_REMOTE_MAX_RETRIES" default:"2"`
	RetryBaseDelay time.Duration `envconfig:"STOREFRONT_REMOTE_RETRY_BASE_DELAY" default:"200ms"`
}

func (r RemoteConfig) validate() error {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvRemoteBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url", EnvRemoteBaseURL)
	}
	return nil
}

type PricingConfig struct {
	Shipping decimal.Decimal `envconfig:"STOREFRONT_PRICING_SHIPPING" default:"0"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"STOREFRONT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN(backend string) error {
	if db.Driver == "" {
		db.Driver = backend
	}
	if db.DSN != "" {
		return nil
	}
	switch db.Driver {
	case StorageSQLite:
		if db.SQLitePath == "" {
			return fmt.Errorf("either %s or %s is required", EnvDBDSN, EnvSQLitePath)
		}
		db.DSN = fmt.Sprintf("file:%s?_busy_timeout=5000", db.SQLitePath)
		return nil
	default:
		return fmt.Errorf("%s is required for the %s driver", EnvDBDSN, db.Driver)
	}
}
