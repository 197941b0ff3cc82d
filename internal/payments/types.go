package payments

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
)

// EventTypePaymentSucceeded is the only event type that moves money.
const EventTypePaymentSucceeded = "payment_intent.succeeded"

// EventStatus records how far an inbound webhook event was processed.
type EventStatus string

const (
	EventReceived  EventStatus = "received"
	EventCredited  EventStatus = "credited"
	EventDuplicate EventStatus = "duplicate"
	EventIgnored   EventStatus = "ignored"
	EventInvalid   EventStatus = "invalid"
	EventFailed    EventStatus = "failed"
)

// Error values returned by the payments package.
var (
	ErrInvalidSignature    = faults.New(faults.KindUnauthorized, "webhook signature could not be verified")
	ErrMalformedEvent      = faults.New(faults.KindValidation, "malformed webhook event")
	ErrCurrencyMismatch    = faults.New(faults.KindValidation, "payment currency does not match the wallet currency")
	ErrProviderUnavailable = faults.New(faults.KindExternalProvider, "payment provider is unavailable, retry later")
	ErrShipmentNotPayable  = faults.New(faults.KindConflict, "shipment must be quoted before it can be paid")
	ErrShipmentCancelled   = faults.New(faults.KindConflict, "shipment was cancelled during payment and the charge was refunded")
	ErrInvalidConfig       = faults.New(faults.KindInternal, "invalid payments config")
)

// PaymentIntent is a provider-side request to collect funds.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Amount       ledger.PositiveAmountCents
	Currency     ledger.Currency
}

// Adapter is the payment provider's API.
type Adapter interface {
	VerifyWebhook(ctx context.Context, payload []byte, signature string) (bool, error)
	CreatePaymentIntent(ctx context.Context, amount ledger.PositiveAmountCents, currency ledger.Currency, metadata map[string]string) (PaymentIntent, error)
}

// Event is a recorded inbound webhook delivery.
type Event struct {
	ID              string
	Provider        string
	ProviderEventID string
	Type            string
	Payload         []byte
	Status          EventStatus
	Detail          string
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

// EventStore persists raw webhook deliveries.
type EventStore interface {
	RecordEvent(ctx context.Context, event Event) (Event, error)
	MarkEvent(ctx context.Context, update EventUpdate) error
	PurgeEvents(ctx context.Context, before time.Time) (int64, error)
}

// EventUpdate is the processing outcome written back to a recorded event.
type EventUpdate struct {
	ID              string
	ProviderEventID string
	Type            string
	Status          EventStatus
	Detail          string
	ProcessedAt     time.Time
}

// envelope is the signed webhook body.
type envelope struct {
	ID   string `json:"id" validate:"required,max=128"`
	Type string `json:"type" validate:"required,max=128"`
	Data struct {
		Object paymentObject `json:"object"`
	} `json:"data"`
}

type paymentObject struct {
	ID       string `json:"id" validate:"required,max=128"`
	Amount   int64  `json:"amount" validate:"gt=0"`
	Currency string `json:"currency" validate:"required,len=3"`
	Metadata struct {
		UserID string `json:"user_id" validate:"required,max=128"`
	} `json:"metadata"`
}
