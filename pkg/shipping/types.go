package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserID identifies the owner of locker items and shipments.
type UserID struct {
	value string
}

// ShipmentID identifies a consolidated shipment.
type ShipmentID struct {
	value string
}

// LockerItemID identifies a physical item held at the warehouse.
type LockerItemID struct {
	value string
}

// Status enumerates shipment lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusQuoted    Status = "QUOTED"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Dimensions are an item's outer measurements in centimetres.
type Dimensions struct {
	LengthCm decimal.Decimal
	WidthCm  decimal.Decimal
	HeightCm decimal.Decimal
}

// LockerItem is a warehouse-held item. ActiveShipmentID is set while the item
// belongs to a shipment that has not been cancelled.
type LockerItem struct {
	ID               LockerItemID
	OwnerUserID      UserID
	Description      string
	WeightKg         decimal.Decimal
	Dimensions       *Dimensions
	ActiveShipmentID *ShipmentID
}

// Destination is the delivery address of a shipment.
type Destination struct {
	Name        string `json:"name,omitempty" validate:"max=120"`
	Line1       string `json:"line1" validate:"required,max=200"`
	Line2       string `json:"line2,omitempty" validate:"max=200"`
	City        string `json:"city" validate:"required,max=120"`
	Region      string `json:"region,omitempty" validate:"max=120"`
	PostalCode  string `json:"postal_code,omitempty" validate:"max=20"`
	CountryCode string `json:"country_code" validate:"required,iso3166_1_alpha2"`
	Phone       string `json:"phone,omitempty" validate:"max=32"`
}

// Weights is the outcome of measuring a set of items, in kilograms.
type Weights struct {
	Total      decimal.Decimal
	Volumetric decimal.Decimal
	Chargeable decimal.Decimal
}

// Quote is the priced cost of a shipment.
type Quote struct {
	ShippingCost  decimal.Decimal
	InsuranceCost decimal.Decimal
	TotalCost     decimal.Decimal
}

// Shipment is a consolidated billable unit.
type Shipment struct {
	ID          ShipmentID
	UserID      UserID
	Status      Status
	Destination Destination
	Weights     Weights
	Quote       Quote
	ItemIDs     []LockerItemID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the persistence contract used by Engine.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// LoadLockerItems returns the items that exist among ids. Missing ids are omitted.
	LoadLockerItems(ctx context.Context, ids []LockerItemID) ([]LockerItem, error)
	CreateShipment(ctx context.Context, shipment Shipment) (Shipment, error)
	// AttachItems marks items as belonging to shipmentID. It fails with
	// ErrItemUnavailable unless every item was free.
	AttachItems(ctx context.Context, shipmentID ShipmentID, ids []LockerItemID) error
	DetachItems(ctx context.Context, shipmentID ShipmentID) error
	GetShipment(ctx context.Context, id ShipmentID) (Shipment, error)
	LockShipment(ctx context.Context, id ShipmentID) (Shipment, error)
	// UpdateShipment persists status and pricing fields when the stored status
	// still equals expected, otherwise ErrStatusChanged.
	UpdateShipment(ctx context.Context, shipment Shipment, expected Status) (Shipment, error)
}

// NewUserID validates a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

func (id UserID) String() string {
	return id.value
}

// NewShipmentID validates a shipment id. Ids are UUIDs in canonical form.
func NewShipmentID(raw string) (ShipmentID, error) {
	value, err := canonicalUUID(raw)
	if err != nil {
		return ShipmentID{}, fmt.Errorf("%w: %v", ErrInvalidShipmentID, err)
	}
	return ShipmentID{value: value}, nil
}

func (id ShipmentID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id ShipmentID) IsZero() bool {
	return id.value == ""
}

// NewLockerItemID validates a locker item id. Ids are UUIDs in canonical form.
func NewLockerItemID(raw string) (LockerItemID, error) {
	value, err := canonicalUUID(raw)
	if err != nil {
		return LockerItemID{}, fmt.Errorf("%w: %v", ErrInvalidLockerItemID, err)
	}
	return LockerItemID{value: value}, nil
}

func canonicalUUID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("empty value")
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

func (id LockerItemID) String() string {
	return id.value
}

// ParseLockerItemIDs validates a list of raw ids, rejecting empty lists and repeats.
func ParseLockerItemIDs(raw []string) ([]LockerItemID, error) {
	if len(raw) == 0 {
		return nil, ErrNoItems
	}
	ids := make([]LockerItemID, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, value := range raw {
		id, err := NewLockerItemID(value)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id.value]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, id.value)
		}
		seen[id.value] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// NewDimensions validates positive measurements.
func NewDimensions(lengthCm, widthCm, heightCm decimal.Decimal) (Dimensions, error) {
	for _, value := range []decimal.Decimal{lengthCm, widthCm, heightCm} {
		if !value.IsPositive() {
			return Dimensions{}, fmt.Errorf("%w: dimensions must be positive", ErrInvalidMeasurement)
		}
	}
	return Dimensions{LengthCm: lengthCm, WidthCm: widthCm, HeightCm: heightCm}, nil
}

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case StatusDraft, StatusQuoted, StatusPaid, StatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

func (status Status) String() string {
	return string(status)
}

// CanTransition reports whether the lifecycle allows moving from status to next.
func (status Status) CanTransition(next Status) bool {
	switch status {
	case StatusDraft:
		return next == StatusQuoted || next == StatusCancelled
	case StatusQuoted:
		return next == StatusQuoted || next == StatusPaid || next == StatusCancelled
	default:
		return false
	}
}

// Terminal reports whether no transition leaves status.
func (status Status) Terminal() bool {
	return status == StatusPaid || status == StatusCancelled
}

// Normalized trims every field and upper-cases the country code.
func (destination Destination) Normalized() Destination {
	return Destination{
		Name:        strings.TrimSpace(destination.Name),
		Line1:       strings.TrimSpace(destination.Line1),
		Line2:       strings.TrimSpace(destination.Line2),
		City:        strings.TrimSpace(destination.City),
		Region:      strings.TrimSpace(destination.Region),
		PostalCode:  strings.TrimSpace(destination.PostalCode),
		CountryCode: strings.ToUpper(strings.TrimSpace(destination.CountryCode)),
		Phone:       strings.TrimSpace(destination.Phone),
	}
}
