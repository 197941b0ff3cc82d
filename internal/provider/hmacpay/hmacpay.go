// Package hmacpay is a payment provider adapter for webhooks signed with
// HMAC-SHA256 and a JSON payment-intent API.
package hmacpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/internal/payments"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"go.uber.org/zap"
)

const (
	// ProviderName is the path segment webhooks for this adapter arrive on.
	ProviderName = "hmacpay"
	// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>".
	SignatureHeader = "Hmacpay-Signature"

	defaultTolerance  = 5 * time.Minute
	defaultTimeout    = 5 * time.Second
	intentPath        = "/v1/payment_intents"
	timestampField    = "t"
	signatureField    = "v1"
	maxResponseBytes  = 1 << 20
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
	headerAuth        = "Authorization"
)

// ErrInvalidConfig reports a missing secret or endpoint.
var ErrInvalidConfig = errors.New("hmacpay: invalid config")

// Config wires an Adapter.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	Tolerance     time.Duration
	HTTPClient    *http.Client
	Logger        *zap.Logger
	Clock         func() time.Time
}

// Adapter implements payments.Adapter.
type Adapter struct {
	baseURL    string
	apiKey     string
	secret     []byte
	timeout    time.Duration
	tolerance  time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	nowFn      func() time.Time
}

// New validates config and returns an Adapter.
func New(config Config) (*Adapter, error) {
	if strings.TrimSpace(config.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: webhook secret is empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrInvalidConfig)
	}
	adapter := &Adapter{
		baseURL:    strings.TrimRight(strings.TrimSpace(config.BaseURL), "/"),
		apiKey:     config.APIKey,
		secret:     []byte(config.WebhookSecret),
		timeout:    config.Timeout,
		tolerance:  config.Tolerance,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
		nowFn:      config.Clock,
	}
	if adapter.timeout <= 0 {
		adapter.timeout = defaultTimeout
	}
	if adapter.tolerance <= 0 {
		adapter.tolerance = defaultTolerance
	}
	if adapter.httpClient == nil {
		adapter.httpClient = &http.Client{}
	}
	if adapter.logger == nil {
		adapter.logger = zap.NewNop()
	}
	if adapter.nowFn == nil {
		adapter.nowFn = time.Now
	}
	return adapter, nil
}

// Sign returns the signature header value for payload at timestamp.
func Sign(secret string, payload []byte, timestamp time.Time) string {
	unix := strconv.FormatInt(timestamp.Unix(), 10)
	return timestampField + "=" + unix + "," + signatureField + "=" + digest([]byte(secret), unix, payload)
}

// VerifyWebhook checks the signature and that its timestamp is within the
// tolerance. Any v1 entry may match, which allows secret rotation.
func (adapter *Adapter) VerifyWebhook(_ context.Context, payload []byte, signature string) (bool, error) {
	timestamp, candidates := parseSignature(signature)
	if timestamp == "" || len(candidates) == 0 {
		return false, nil
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false, nil
	}
	age := adapter.nowFn().Sub(time.Unix(unix, 0))
	if age > adapter.tolerance || age < -adapter.tolerance {
		return false, nil
	}
	expected := digest(adapter.secret, timestamp, payload)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return true, nil
		}
	}
	return false, nil
}

type intentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// CreatePaymentIntent asks the provider to collect amount. Every failure,
// including the request timeout, is reported as payments.ErrProviderUnavailable.
func (adapter *Adapter) CreatePaymentIntent(ctx context.Context, amount ledger.PositiveAmountCents, currency ledger.Currency, metadata map[string]string) (payments.PaymentIntent, error) {
	requestCtx, cancel := context.WithTimeout(ctx, adapter.timeout)
	defer cancel()

	body, err := json.Marshal(intentRequest{
		Amount:   amount.Int64(),
		Currency: strings.ToLower(currency.String()),
		Metadata: metadata,
	})
	if err != nil {
		return payments.PaymentIntent{}, err
	}
	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, adapter.baseURL+intentPath, bytes.NewReader(body))
	if err != nil {
		return payments.PaymentIntent{}, fmt.Errorf("%w: %v", payments.ErrProviderUnavailable, err)
	}
	request.Header.Set(headerContentType, contentTypeJSON)
	if adapter.apiKey != "" {
		request.Header.Set(headerAuth, "Bearer "+adapter.apiKey)
	}

	response, err := adapter.httpClient.Do(request)
	if err != nil {
		adapter.logger.Error("payment intent request failed", zap.Int64("amount_cents", amount.Int64()), zap.Error(err))
		return payments.PaymentIntent{}, fmt.Errorf("%w: %v", payments.ErrProviderUnavailable, err)
	}
	defer response.Body.Close()
	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return payments.PaymentIntent{}, fmt.Errorf("%w: read response: %v", payments.ErrProviderUnavailable, err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		adapter.logger.Error("payment intent rejected",
			zap.Int("status_code", response.StatusCode),
			zap.String("response", string(responseBody)))
		return payments.PaymentIntent{}, fmt.Errorf("%w: provider returned status %d", payments.ErrProviderUnavailable, response.StatusCode)
	}

	var decoded intentResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return payments.PaymentIntent{}, fmt.Errorf("%w: decode response: %v", payments.ErrProviderUnavailable, err)
	}
	if decoded.ID == "" {
		return payments.PaymentIntent{}, fmt.Errorf("%w: response has no intent id", payments.ErrProviderUnavailable)
	}
	return payments.PaymentIntent{
		ID:           decoded.ID,
		ClientSecret: decoded.ClientSecret,
		Amount:       amount,
		Currency:     currency,
	}, nil
}

func digest(secret []byte, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string) {
	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch name {
		case timestampField:
			timestamp = value
		case signatureField:
			signatures = append(signatures, value)
		}
	}
	return timestamp, signatures
}
