package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const defaultVerifyTimeout = 5 * time.Second

// IngestResult describes what a webhook delivery did.
type IngestResult struct {
	EventID         string
	ProviderEventID string
	Status          EventStatus
	Wallet          *ledger.Wallet
}

// Ingestor verifies, records and applies payment-provider webhooks.
type Ingestor struct {
	provider      string
	adapter       Adapter
	events        EventStore
	ledger        *ledger.Service
	logger        *zap.Logger
	validate      *validator.Validate
	nowFn         func() time.Time
	verifyTimeout time.Duration
}

// IngestorConfig wires an Ingestor.
type IngestorConfig struct {
	Provider      string
	Adapter       Adapter
	Events        EventStore
	Ledger        *ledger.Service
	Logger        *zap.Logger
	Clock         func() time.Time
	VerifyTimeout time.Duration
}

// NewIngestor validates config and returns an Ingestor.
func NewIngestor(config IngestorConfig) (*Ingestor, error) {
	if strings.TrimSpace(config.Provider) == "" {
		return nil, fmt.Errorf("%w: provider name is empty", ErrInvalidConfig)
	}
	if config.Adapter == nil || config.Events == nil || config.Ledger == nil {
		return nil, fmt.Errorf("%w: adapter, event store and ledger are required", ErrInvalidConfig)
	}
	ingestor := &Ingestor{
		provider:      strings.TrimSpace(config.Provider),
		adapter:       config.Adapter,
		events:        config.Events,
		ledger:        config.Ledger,
		logger:        config.Logger,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		nowFn:         config.Clock,
		verifyTimeout: config.VerifyTimeout,
	}
	if ingestor.logger == nil {
		ingestor.logger = zap.NewNop()
	}
	if ingestor.nowFn == nil {
		ingestor.nowFn = time.Now
	}
	if ingestor.verifyTimeout <= 0 {
		ingestor.verifyTimeout = defaultVerifyTimeout
	}
	return ingestor, nil
}

// Provider returns the provider name this ingestor accepts.
func (ingestor *Ingestor) Provider() string {
	return ingestor.provider
}

// Handle processes one delivery. The raw payload is recorded before anything
// else. Redelivered payment events credit the wallet at most once because the
// provider event id is the ledger reference.
func (ingestor *Ingestor) Handle(ctx context.Context, payload []byte, signature string) (IngestResult, error) {
	recorded, err := ingestor.events.RecordEvent(ctx, Event{
		Provider:   ingestor.provider,
		Payload:    payload,
		Status:     EventReceived,
		ReceivedAt: ingestor.nowFn().UTC(),
	})
	if err != nil {
		return IngestResult{}, err
	}
	result := IngestResult{EventID: recorded.ID, Status: EventReceived}

	verified, err := ingestor.verify(ctx, payload, signature)
	if err != nil {
		return ingestor.finish(ctx, result, EventFailed, "", "", err)
	}
	if !verified {
		return ingestor.finish(ctx, result, EventInvalid, "", "", ErrInvalidSignature)
	}

	var event envelope
	if err := json.Unmarshal(payload, &event); err != nil {
		return ingestor.finish(ctx, result, EventInvalid, "", "", fmt.Errorf("%w: %v", ErrMalformedEvent, err))
	}
	if err := ingestor.validate.Var(event.ID, "required,max=128"); err != nil {
		return ingestor.finish(ctx, result, EventInvalid, "", event.Type, fmt.Errorf("%w: event id", ErrMalformedEvent))
	}
	result.ProviderEventID = event.ID
	if event.Type != EventTypePaymentSucceeded {
		return ingestor.finish(ctx, result, EventIgnored, event.ID, event.Type, nil)
	}
	if err := ingestor.validate.Struct(event); err != nil {
		return ingestor.finish(ctx, result, EventInvalid, event.ID, event.Type, fmt.Errorf("%w: %v", ErrMalformedEvent, err))
	}

	receipt, err := ingestor.credit(ctx, event)
	if err != nil {
		status := EventFailed
		if faults.Is(err, faults.KindValidation) {
			status = EventInvalid
		}
		return ingestor.finish(ctx, result, status, event.ID, event.Type, err)
	}
	result.Wallet = &receipt.Wallet
	status := EventCredited
	if receipt.Duplicate {
		status = EventDuplicate
	}
	return ingestor.finish(ctx, result, status, event.ID, event.Type, nil)
}

func (ingestor *Ingestor) credit(ctx context.Context, event envelope) (ledger.Receipt, error) {
	object := event.Data.Object
	currency, err := ledger.NewCurrency(object.Currency)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if currency != ingestor.ledger.Currency() {
		return ledger.Receipt{}, fmt.Errorf("%w: got %s, want %s", ErrCurrencyMismatch, currency.String(), ingestor.ledger.Currency().String())
	}
	userID, err := ledger.NewUserID(object.Metadata.UserID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	amount, err := ledger.NewPositiveAmountCents(object.Amount)
	if err != nil {
		return ledger.Receipt{}, err
	}
	referenceID, err := ledger.NewReferenceID(event.ID)
	if err != nil {
		return ledger.Receipt{}, err
	}
	description, err := ledger.NewDescription(fmt.Sprintf("Wallet top-up via %s (%s)", ingestor.provider, object.ID))
	if err != nil {
		return ledger.Receipt{}, err
	}
	return ingestor.ledger.CreditWithReceipt(ctx, userID, amount, referenceID, description)
}

// verify bounds the adapter call even when the adapter ignores ctx.
func (ingestor *Ingestor) verify(ctx context.Context, payload []byte, signature string) (bool, error) {
	verifyCtx, cancel := context.WithTimeout(ctx, ingestor.verifyTimeout)
	defer cancel()
	type verification struct {
		ok  bool
		err error
	}
	done := make(chan verification, 1)
	go func() {
		ok, err := ingestor.adapter.VerifyWebhook(verifyCtx, payload, signature)
		done <- verification{ok: ok, err: err}
	}()
	select {
	case <-verifyCtx.Done():
		return false, fmt.Errorf("%w: signature check: %v", ErrProviderUnavailable, verifyCtx.Err())
	case outcome := <-done:
		if outcome.err != nil {
			if faults.Is(outcome.err, faults.KindExternalProvider) {
				return false, outcome.err
			}
			return false, fmt.Errorf("%w: signature check: %v", ErrProviderUnavailable, outcome.err)
		}
		return outcome.ok, nil
	}
}

func (ingestor *Ingestor) finish(ctx context.Context, result IngestResult, status EventStatus, providerEventID string, eventType string, cause error) (IngestResult, error) {
	result.Status = status
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	markErr := ingestor.events.MarkEvent(context.WithoutCancel(ctx), EventUpdate{
		ID:              result.EventID,
		ProviderEventID: providerEventID,
		Type:            eventType,
		Status:          status,
		Detail:          detail,
		ProcessedAt:     ingestor.nowFn().UTC(),
	})
	fields := []zap.Field{
		zap.String("provider", ingestor.provider),
		zap.String("event_id", result.EventID),
		zap.String("provider_event_id", providerEventID),
		zap.String("event_type", eventType),
		zap.String("status", string(status)),
	}
	if markErr != nil {
		ingestor.logger.Error("webhook event status not saved", append(fields, zap.Error(markErr))...)
	}
	if cause != nil {
		ingestor.logger.Error("webhook event rejected", append(fields, zap.Error(cause))...)
		return result, cause
	}
	ingestor.logger.Info("webhook event processed", fields...)
	return result, nil
}
