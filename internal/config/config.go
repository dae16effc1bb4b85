package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Log      LogConfig
	Signer   SignerConfig
	Fraud    FraudConfig
	Refund   RefundConfig
	Generate GenerateConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"fuel_coupon_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// MigrateURL returns the connection string for golang-migrate, which does not
// understand pgxpool parameters.
func (c DBConfig) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// SignerConfig holds the QR signing secret and freshness policy.
// WARNING: Default secret is for local development only. Rotating the secret
// invalidates every outstanding QR code; coupons must be regenerated.
type SignerConfig struct {
	Secret   string        `envconfig:"QR_SIGNING_SECRET" default:"local-dev-secret-do-not-use"` // CHANGE IN PRODUCTION
	QRMaxAge time.Duration `envconfig:"QR_MAX_AGE" default:"24h"`
}

// FraudConfig holds the fraud detector window and thresholds.
type FraudConfig struct {
	Window             time.Duration `envconfig:"FRAUD_WINDOW" default:"15m"`
	SameCodeAttempts   int           `envconfig:"FRAUD_SAME_CODE_ATTEMPTS" default:"5"`
	DistinctCodesPerIP int           `envconfig:"FRAUD_DISTINCT_CODES_PER_IP" default:"10"`
	Timeout            time.Duration `envconfig:"FRAUD_TIMEOUT" default:"500ms"`
}

// RefundConfig holds the tiered cancellation refund policy. A cancellation
// within FullWindow of issuance refunds FullPercent; within PartialWindow it
// refunds PartialPercent; later cancellations refund nothing.
type RefundConfig struct {
	FullWindow     time.Duration `envconfig:"REFUND_FULL_WINDOW" default:"2h"`
	FullPercent    int64         `envconfig:"REFUND_FULL_PERCENT" default:"100"`
	PartialWindow  time.Duration `envconfig:"REFUND_PARTIAL_WINDOW" default:"24h"`
	PartialPercent int64         `envconfig:"REFUND_PARTIAL_PERCENT" default:"90"`
}

// GenerateConfig bounds bulk coupon generation.
type GenerateConfig struct {
	Workers      int `envconfig:"GENERATE_WORKERS" default:"8"`
	CodeRetries  int `envconfig:"GENERATE_CODE_RETRIES" default:"3"`
	MaxBatchSize int `envconfig:"GENERATE_MAX_BATCH" default:"10000"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
