// Package config holds the runtime settings of forwarderd.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	BackendGorm = "gorm"
	BackendPgx  = "pgx"

	defaultDatabaseURL    = "sqlite:///tmp/forwarder.db"
	defaultListenAddr     = ":8080"
	defaultCurrency       = "USD"
	defaultBaseFee        = "10"
	defaultPerKgRate      = "5"
	defaultInsuranceRate  = "0.05"
	defaultAllowedOrigin  = "http://localhost:8000"
	defaultSessionIssuer  = "tauth"
	defaultSessionCookie  = "app_session"
	defaultIdempotencyTTL = 24 * time.Hour
	defaultClaimTTL       = 30 * time.Second
	defaultFailureTTL     = time.Minute
	defaultIdempotentWait = 5 * time.Second
	defaultProviderWait   = 5 * time.Second
	defaultAuditInterval  = 15 * time.Minute
	defaultEventRetention = 720 * time.Hour
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for the service.
type Config struct {
	DatabaseURL           string
	LedgerBackend         string
	ListenAddr            string
	RedisAddr             string
	RedisPassword         string
	Currency              string
	BaseFee               string
	PerKgRate             string
	InsuranceRate         string
	IdempotencyTTL        time.Duration
	IdempotencyClaimTTL   time.Duration
	IdempotencyFailureTTL time.Duration
	IdempotencyWait       time.Duration
	ProviderBaseURL       string
	ProviderAPIKey        string
	WebhookSecret         string
	ProviderTimeout       time.Duration
	AllowedOrigins        []string
	SessionSigningKey     string
	SessionIssuer         string
	SessionCookieName     string
	AuditInterval         time.Duration
	EventRetention        time.Duration
}

// Tariff is the parsed pricing configuration.
type Tariff struct {
	BaseFee       decimal.Decimal
	PerKgRate     decimal.Decimal
	InsuranceRate decimal.Decimal
}

// Validate applies defaults and rejects settings the service cannot run with.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.LedgerBackend = strings.ToLower(defaultIfEmpty(cfg.LedgerBackend, BackendGorm))
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.Currency = strings.ToUpper(defaultIfEmpty(cfg.Currency, defaultCurrency))
	cfg.BaseFee = defaultIfEmpty(cfg.BaseFee, defaultBaseFee)
	cfg.PerKgRate = defaultIfEmpty(cfg.PerKgRate, defaultPerKgRate)
	cfg.InsuranceRate = defaultIfEmpty(cfg.InsuranceRate, defaultInsuranceRate)
	cfg.IdempotencyTTL = defaultIfZero(cfg.IdempotencyTTL, defaultIdempotencyTTL)
	cfg.IdempotencyClaimTTL = defaultIfZero(cfg.IdempotencyClaimTTL, defaultClaimTTL)
	cfg.IdempotencyFailureTTL = defaultIfZero(cfg.IdempotencyFailureTTL, defaultFailureTTL)
	cfg.IdempotencyWait = defaultIfZero(cfg.IdempotencyWait, defaultIdempotentWait)
	cfg.ProviderTimeout = defaultIfZero(cfg.ProviderTimeout, defaultProviderWait)
	cfg.AuditInterval = defaultIfZero(cfg.AuditInterval, defaultAuditInterval)
	cfg.EventRetention = defaultIfZero(cfg.EventRetention, defaultEventRetention)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)

	if cfg.LedgerBackend != BackendGorm && cfg.LedgerBackend != BackendPgx {
		return fmt.Errorf("%w: ledger backend %q is not %s or %s", ErrInvalidConfig, cfg.LedgerBackend, BackendGorm, BackendPgx)
	}
	if cfg.LedgerBackend == BackendPgx && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("%w: the pgx ledger backend needs a postgres database url", ErrInvalidConfig)
	}
	if len(cfg.Currency) != 3 {
		return fmt.Errorf("%w: currency %q is not a three letter code", ErrInvalidConfig, cfg.Currency)
	}
	if _, err := cfg.Tariff(); err != nil {
		return err
	}
	durations := map[string]time.Duration{
		"idempotency-ttl":         cfg.IdempotencyTTL,
		"idempotency-claim-ttl":   cfg.IdempotencyClaimTTL,
		"idempotency-failure-ttl": cfg.IdempotencyFailureTTL,
		"idempotency-wait":        cfg.IdempotencyWait,
		"provider-timeout":        cfg.ProviderTimeout,
		"audit-interval":          cfg.AuditInterval,
		"event-retention":         cfg.EventRetention,
	}
	for name, value := range durations {
		if value < 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if strings.TrimSpace(cfg.ProviderBaseURL) == "" {
		return fmt.Errorf("%w: provider base url is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return fmt.Errorf("%w: webhook secret is required", ErrInvalidConfig)
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("%w: jwt signing key is required", ErrInvalidConfig)
	}
	return nil
}

// Tariff parses the pricing settings.
func (cfg *Config) Tariff() (Tariff, error) {
	baseFee, err := parseRate("base-fee", cfg.BaseFee)
	if err != nil {
		return Tariff{}, err
	}
	perKgRate, err := parseRate("per-kg-rate", cfg.PerKgRate)
	if err != nil {
		return Tariff{}, err
	}
	insuranceRate, err := parseRate("insurance-rate", cfg.InsuranceRate)
	if err != nil {
		return Tariff{}, err
	}
	if insuranceRate.GreaterThan(decimal.NewFromInt(1)) {
		return Tariff{}, fmt.Errorf("%w: insurance-rate must not exceed 1", ErrInvalidConfig)
	}
	return Tariff{BaseFee: baseFee, PerKgRate: perKgRate, InsuranceRate: insuranceRate}, nil
}

func parseRate(name string, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s %q is not a decimal", ErrInvalidConfig, name, raw)
	}
	if value.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
	}
	return value, nil
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func defaultIfZero(value time.Duration, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}
