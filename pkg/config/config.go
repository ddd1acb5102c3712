package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Wallet       WalletConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GROCERLANE_APP_ENV" required:"true"`
	Port         string `envconfig:"GROCERLANE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GROCERLANE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GROCERLANE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"GROCERLANE_DB_DSN"`
	Driver string `envconfig:"GROCERLANE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GROCERLANE_DB_HOST"`
	LegacyPort     int    `envconfig:"GROCERLANE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GROCERLANE_DB_USER"`
	LegacyPassword string `envconfig:"GROCERLANE_DB_PASSWORD"`
	LegacyName     string `envconfig:"GROCERLANE_DB_NAME"`
	LegacySSLMode  string `envconfig:"GROCERLANE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GROCERLANE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GROCERLANE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GROCERLANE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GROCERLANE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// ensureDSN builds a Postgres DSN from the legacy discrete variables when a
// full DSN is not supplied.
func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("either GROCERLANE_DB_DSN or host/user/name variables are required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.LegacyUser, d.LegacyPassword),
		Host:   fmt.Sprintf("%s:%d", d.LegacyHost, d.LegacyPort),
		Path:   d.LegacyName,
	}
	q := u.Query()
	q.Set("sslmode", d.LegacySSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"GROCERLANE_REDIS_URL"`
	Address      string        `envconfig:"GROCERLANE_REDIS_ADDR"`
	Password     string        `envconfig:"GROCERLANE_REDIS_PASSWORD"`
	DB           int           `envconfig:"GROCERLANE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GROCERLANE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GROCERLANE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GROCERLANE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GROCERLANE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GROCERLANE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// WalletConfig tunes the ledger's conditional balance-update retry loop.
type WalletConfig struct {
	BalanceConflictRetries int           `envconfig:"GROCERLANE_WALLET_BALANCE_CONFLICT_RETRIES" default:"3"`
	OperationTimeout       time.Duration `envconfig:"GROCERLANE_WALLET_OPERATION_TIMEOUT" default:"10s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"GROCERLANE_AUTO_MIGRATE" default:"false"`
}
