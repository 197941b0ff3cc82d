package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/internal/config"
	"github.com/MarkoPoloResearchLab/forwarder/internal/httpapi"
	"github.com/MarkoPoloResearchLab/forwarder/internal/jobs"
	"github.com/MarkoPoloResearchLab/forwarder/internal/oplog"
	"github.com/MarkoPoloResearchLab/forwarder/internal/payments"
	"github.com/MarkoPoloResearchLab/forwarder/internal/provider/hmacpay"
	"github.com/MarkoPoloResearchLab/forwarder/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/forwarder/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/forwarder/internal/store/redisstore"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/idempotency"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	envPrefix = "FORWARDER"

	flagDatabaseURL           = "database-url"
	flagLedgerBackend         = "ledger-backend"
	flagListenAddr            = "listen-addr"
	flagRedisAddr             = "redis-addr"
	flagRedisPassword         = "redis-password"
	flagCurrency              = "currency"
	flagBaseFee               = "base-fee"
	flagPerKgRate             = "per-kg-rate"
	flagInsuranceRate         = "insurance-rate"
	flagIdempotencyTTL        = "idempotency-ttl"
	flagIdempotencyClaimTTL   = "idempotency-claim-ttl"
	flagIdempotencyFailureTTL = "idempotency-failure-ttl"
	flagIdempotencyWait       = "idempotency-wait"
	flagProviderBaseURL       = "provider-base-url"
	flagProviderAPIKey        = "provider-api-key"
	flagWebhookSecret         = "webhook-secret"
	flagProviderTimeout       = "provider-timeout"
	flagAllowedOrigins        = "allowed-origins"
	flagSigningKey            = "jwt-signing-key"
	flagIssuer                = "jwt-issuer"
	flagCookieName            = "jwt-cookie-name"
	flagAuditInterval         = "audit-interval"
	flagEventRetention        = "event-retention"

	retentionSweepInterval = time.Hour
	memoryStoreCleanup     = time.Minute
	shutdownTimeout        = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "forwarderd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	settings := viper.New()
	cmd := &cobra.Command{
		Use:           "forwarderd",
		Short:         "Package forwarding wallet, shipment and webhook API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, settings, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagDatabaseURL, "", "PostgreSQL connection string or SQLite path")
	flags.String(flagLedgerBackend, config.BackendGorm, "ledger store implementation (gorm or pgx)")
	flags.String(flagListenAddr, "", "HTTP listen address")
	flags.String(flagRedisAddr, "", "Redis address for idempotency records (empty keeps them in process)")
	flags.String(flagRedisPassword, "", "Redis password")
	flags.String(flagCurrency, "", "wallet currency")
	flags.String(flagBaseFee, "", "flat fee per shipment")
	flags.String(flagPerKgRate, "", "rate per chargeable kilogram")
	flags.String(flagInsuranceRate, "", "insurance as a fraction of the shipping cost")
	flags.Duration(flagIdempotencyTTL, 0, "how long successful responses are replayed")
	flags.Duration(flagIdempotencyClaimTTL, 0, "how long an in-flight request holds its key")
	flags.Duration(flagIdempotencyFailureTTL, 0, "how long client errors are replayed")
	flags.Duration(flagIdempotencyWait, 0, "how long a duplicate waits for the first request")
	flags.String(flagProviderBaseURL, "", "payment provider API base URL")
	flags.String(flagProviderAPIKey, "", "payment provider API key")
	flags.String(flagWebhookSecret, "", "payment provider webhook signing secret")
	flags.Duration(flagProviderTimeout, 0, "payment provider request timeout")
	flags.String(flagAllowedOrigins, "", "comma separated CORS origins")
	flags.String(flagSigningKey, "", "session JWT signing key")
	flags.String(flagIssuer, "", "session JWT issuer")
	flags.String(flagCookieName, "", "session cookie name")
	flags.Duration(flagAuditInterval, 0, "ledger audit interval")
	flags.Duration(flagEventRetention, 0, "how long processed webhook events are kept")

	return cmd
}

func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *config.Config) error {
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	*cfg = config.Config{
		DatabaseURL:           settings.GetString(flagDatabaseURL),
		LedgerBackend:         settings.GetString(flagLedgerBackend),
		ListenAddr:            settings.GetString(flagListenAddr),
		RedisAddr:             settings.GetString(flagRedisAddr),
		RedisPassword:         settings.GetString(flagRedisPassword),
		Currency:              settings.GetString(flagCurrency),
		BaseFee:               settings.GetString(flagBaseFee),
		PerKgRate:             settings.GetString(flagPerKgRate),
		InsuranceRate:         settings.GetString(flagInsuranceRate),
		IdempotencyTTL:        settings.GetDuration(flagIdempotencyTTL),
		IdempotencyClaimTTL:   settings.GetDuration(flagIdempotencyClaimTTL),
		IdempotencyFailureTTL: settings.GetDuration(flagIdempotencyFailureTTL),
		IdempotencyWait:       settings.GetDuration(flagIdempotencyWait),
		ProviderBaseURL:       settings.GetString(flagProviderBaseURL),
		ProviderAPIKey:        settings.GetString(flagProviderAPIKey),
		WebhookSecret:         settings.GetString(flagWebhookSecret),
		ProviderTimeout:       settings.GetDuration(flagProviderTimeout),
		AllowedOrigins:        config.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins)),
		SessionSigningKey:     settings.GetString(flagSigningKey),
		SessionIssuer:         settings.GetString(flagIssuer),
		SessionCookieName:     settings.GetString(flagCookieName),
		AuditInterval:         settings.GetDuration(flagAuditInterval),
		EventRetention:        settings.GetDuration(flagEventRetention),
	}
	return cfg.Validate()
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(ctx, gormDB); err != nil {
		return err
	}
	logger.Info("database ready", zap.String("driver", driver), zap.String("ledger_backend", cfg.LedgerBackend))

	ledgerStore, closeLedgerStore, err := openLedgerStore(ctx, cfg, gormDB)
	if err != nil {
		return fmt.Errorf("ledger store: %w", err)
	}
	defer closeLedgerStore()
	currency, err := ledger.NewCurrency(cfg.Currency)
	if err != nil {
		return err
	}
	ledgerService, err := ledger.NewService(ledgerStore, time.Now, currency, ledger.WithOperationLogger(oplog.NewLedger(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	tariff, err := cfg.Tariff()
	if err != nil {
		return err
	}
	pricing, err := shipping.NewPricing(tariff.BaseFee, tariff.PerKgRate, tariff.InsuranceRate)
	if err != nil {
		return fmt.Errorf("pricing init: %w", err)
	}
	engine, err := shipping.NewEngine(gormstore.NewShippingStore(gormDB), pricing, time.Now, shipping.WithOperationLogger(oplog.NewShipping(logger)))
	if err != nil {
		return fmt.Errorf("shipping engine init: %w", err)
	}

	idempotencyStore, closeIdempotencyStore, err := openIdempotencyStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	defer closeIdempotencyStore()
	guard, err := idempotency.NewGuard(idempotencyStore, time.Now,
		idempotency.WithRecordTTL(cfg.IdempotencyTTL),
		idempotency.WithClaimTTL(cfg.IdempotencyClaimTTL),
		idempotency.WithFailureTTL(cfg.IdempotencyFailureTTL),
		idempotency.WithWaitTimeout(cfg.IdempotencyWait))
	if err != nil {
		return fmt.Errorf("idempotency guard init: %w", err)
	}

	adapter, err := hmacpay.New(hmacpay.Config{
		BaseURL:       cfg.ProviderBaseURL,
		APIKey:        cfg.ProviderAPIKey,
		WebhookSecret: cfg.WebhookSecret,
		Timeout:       cfg.ProviderTimeout,
		Logger:        logger.Named(hmacpay.ProviderName),
	})
	if err != nil {
		return err
	}
	events := gormstore.NewEventStore(gormDB)
	ingestor, err := payments.NewIngestor(payments.IngestorConfig{
		Provider:      hmacpay.ProviderName,
		Adapter:       adapter,
		Events:        events,
		Ledger:        ledgerService,
		Logger:        logger.Named("webhooks"),
		VerifyTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return err
	}
	checkout, err := payments.NewCheckout(payments.CheckoutConfig{
		Ledger:          ledgerService,
		Engine:          engine,
		Adapter:         adapter,
		Logger:          logger.Named("checkout"),
		ProviderTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	router, err := httpapi.NewRouter(httpapi.Config{
		Logger:         logger.Named("http"),
		Ledger:         ledgerService,
		Engine:         engine,
		Checkout:       checkout,
		Guard:          guard,
		Sessions:       sessionValidator,
		Webhooks:       []httpapi.Webhook{{Ingestor: ingestor, SignatureHeader: hmacpay.SignatureHeader}},
		AllowedOrigins: cfg.AllowedOrigins,
		RetryAfter:     cfg.IdempotencyWait,
	})
	if err != nil {
		return err
	}

	scheduler, err := jobs.NewScheduler(logger,
		jobs.AuditJob(ledgerService, cfg.AuditInterval, logger),
		jobs.RetentionJob(events, retentionSweepInterval, cfg.EventRetention, time.Now, logger))
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("http server starting", zap.String("listen_addr", cfg.ListenAddr))
		if serveErr := server.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	})
	return group.Wait()
}

func openLedgerStore(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (ledger.Store, func(), error) {
	if cfg.LedgerBackend != config.BackendPgx {
		return gormstore.NewLedgerStore(gormDB), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pgstore.New(pool), pool.Close, nil
}

func openIdempotencyStore(ctx context.Context, cfg *config.Config) (idempotency.Store, func(), error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return idempotency.NewMemoryStore(memoryStoreCleanup), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	store := redisstore.New(client)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}
