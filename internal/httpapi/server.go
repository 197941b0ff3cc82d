// Package httpapi exposes the wallet, shipment and webhook endpoints over gin.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/internal/payments"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/idempotency"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey     = "auth_claims"
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
	walletHistoryLimit   = 20
	maxWebhookBodyBytes  = 1 << 20
	maxRequestBodyBytes  = 64 << 10
)

var errInvalidServerConfig = errors.New("invalid http server config")

// Webhook binds a provider name in the URL to its ingestor.
type Webhook struct {
	Ingestor        *payments.Ingestor
	SignatureHeader string
}

// Config wires the HTTP surface.
type Config struct {
	Logger         *zap.Logger
	Ledger         *ledger.Service
	Engine         *shipping.Engine
	Checkout       *payments.Checkout
	Guard          *idempotency.Guard
	Sessions       *sessionvalidator.Validator
	Webhooks       []Webhook
	AllowedOrigins []string
	// RetryAfter is advertised to clients that hit an in-flight duplicate.
	RetryAfter time.Duration
}

type httpHandler struct {
	logger     *zap.Logger
	ledger     *ledger.Service
	engine     *shipping.Engine
	checkout   *payments.Checkout
	guard      *idempotency.Guard
	webhooks   map[string]Webhook
	retryAfter time.Duration
}

// NewRouter validates cfg and builds the gin engine.
func NewRouter(cfg Config) (*gin.Engine, error) {
	if cfg.Ledger == nil || cfg.Engine == nil || cfg.Checkout == nil || cfg.Guard == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("%w: ledger, engine, checkout, guard and sessions are required", errInvalidServerConfig)
	}
	handler := &httpHandler{
		logger:     cfg.Logger,
		ledger:     cfg.Ledger,
		engine:     cfg.Engine,
		checkout:   cfg.Checkout,
		guard:      cfg.Guard,
		webhooks:   make(map[string]Webhook, len(cfg.Webhooks)),
		retryAfter: cfg.RetryAfter,
	}
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}
	if handler.retryAfter <= 0 {
		handler.retryAfter = time.Second
	}
	for _, webhook := range cfg.Webhooks {
		if webhook.Ingestor == nil || strings.TrimSpace(webhook.SignatureHeader) == "" {
			return nil, fmt.Errorf("%w: webhook needs an ingestor and a signature header", errInvalidServerConfig)
		}
		handler.webhooks[webhook.Ingestor.Provider()] = webhook
	}
	return setupRouter(cfg, handler, cfg.Sessions), nil
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", IdempotencyKeyHeader},
		ExposeHeaders:    []string{ReplayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhooks/:provider", handler.handleWebhook)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/wallet", handler.handleWallet)
	api.POST("/wallet/add-funds", handler.idempotent("wallet.add_funds"), handler.handleAddFunds)
	api.POST("/wallet/pay-shipment", handler.idempotent("wallet.pay_shipment"), handler.handlePayShipment)
	api.POST("/shipments", handler.idempotent("shipments.create"), handler.handleCreateShipment)
	api.GET("/shipments/:id", handler.handleGetShipment)
	api.POST("/shipments/:id/quote", handler.idempotent("shipments.quote"), handler.handleQuote)
	api.POST("/shipments/:id/cancel", handler.idempotent("shipments.cancel"), handler.handleCancel)

	return router
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

// sessionUser returns the authenticated user id, writing a 401 when absent.
func sessionUser(ctx *gin.Context) (string, bool) {
	claims := getClaims(ctx)
	if claims == nil || strings.TrimSpace(claims.GetUserID()) == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return "", false
	}
	return claims.GetUserID(), true
}
