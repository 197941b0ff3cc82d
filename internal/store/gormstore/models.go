package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet mirrors the wallets table.
type Wallet struct {
	WalletID     string    `gorm:"type:uuid;primaryKey"`
	UserID       string    `gorm:"not null;uniqueIndex:uniq_wallets_user"`
	BalanceCents int64     `gorm:"not null;default:0;check:chk_wallets_balance_non_negative,balance_cents >= 0"`
	Currency     string    `gorm:"type:char(3);not null"`
	Version      int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

func (wallet *Wallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.WalletID == "" {
		wallet.WalletID = uuid.NewString()
	}
	return nil
}

// WalletTransaction mirrors the wallet_transactions table. Rows are never updated.
type WalletTransaction struct {
	TransactionID string    `gorm:"type:uuid;primaryKey"`
	WalletID      string    `gorm:"type:uuid;not null;index:uniq_wallet_kind_reference,unique,priority:1;index:idx_wallet_transactions_created,priority:1"`
	Kind          string    `gorm:"not null;index:uniq_wallet_kind_reference,unique,priority:2"`
	ReferenceID   string    `gorm:"not null;index:uniq_wallet_kind_reference,unique,priority:3"`
	AmountCents   int64     `gorm:"not null"`
	Description   string    `gorm:"not null;default:''"`
	Status        string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index:idx_wallet_transactions_created,priority:2"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// VirtualAddress is a warehouse mailing identity owned by a user.
type VirtualAddress struct {
	AddressID string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Code      string    `gorm:"not null;uniqueIndex:uniq_virtual_addresses_code"`
	CreatedAt time.Time `gorm:"not null"`
}

func (VirtualAddress) TableName() string { return "virtual_addresses" }

func (address *VirtualAddress) BeforeCreate(tx *gorm.DB) error {
	if address.AddressID == "" {
		address.AddressID = uuid.NewString()
	}
	return nil
}

// Package is an inbound parcel received for a virtual address.
type Package struct {
	PackageID      string    `gorm:"type:uuid;primaryKey"`
	AddressID      string    `gorm:"type:uuid;not null;index"`
	TrackingNumber string    `gorm:"not null;default:''"`
	ReceivedAt     time.Time `gorm:"not null"`
}

func (Package) TableName() string { return "packages" }

func (pkg *Package) BeforeCreate(tx *gorm.DB) error {
	if pkg.PackageID == "" {
		pkg.PackageID = uuid.NewString()
	}
	return nil
}

// LockerItem is a physical item held at the warehouse. ActiveShipmentID is
// cleared when its shipment is cancelled.
type LockerItem struct {
	ItemID           string              `gorm:"type:uuid;primaryKey"`
	PackageID        string              `gorm:"type:uuid;not null;index"`
	Description      string              `gorm:"not null;default:''"`
	WeightKg         decimal.Decimal     `gorm:"type:numeric(10,3);not null"`
	LengthCm         decimal.NullDecimal `gorm:"type:numeric(10,2)"`
	WidthCm          decimal.NullDecimal `gorm:"type:numeric(10,2)"`
	HeightCm         decimal.NullDecimal `gorm:"type:numeric(10,2)"`
	ActiveShipmentID *string             `gorm:"type:uuid;index"`
	CreatedAt        time.Time           `gorm:"not null"`
}

func (LockerItem) TableName() string { return "locker_items" }

func (item *LockerItem) BeforeCreate(tx *gorm.DB) error {
	if item.ItemID == "" {
		item.ItemID = uuid.NewString()
	}
	return nil
}

// Shipment mirrors the shipments table.
type Shipment struct {
	ShipmentID       string          `gorm:"type:uuid;primaryKey"`
	UserID           string          `gorm:"not null;index"`
	Status           string          `gorm:"not null;index"`
	Destination      datatypes.JSON  `gorm:"not null"`
	TotalWeight      decimal.Decimal `gorm:"type:numeric(12,3);not null"`
	VolumetricWeight decimal.Decimal `gorm:"type:numeric(12,3);not null"`
	ChargeableWeight decimal.Decimal `gorm:"type:numeric(12,3);not null"`
	ShippingCost     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	InsuranceCost    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	TotalCost        decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

func (Shipment) TableName() string { return "shipments" }

func (shipment *Shipment) BeforeCreate(tx *gorm.DB) error {
	if shipment.ShipmentID == "" {
		shipment.ShipmentID = uuid.NewString()
	}
	return nil
}

// ShipmentItem records permanent shipment membership, including cancelled shipments.
type ShipmentItem struct {
	ShipmentID string `gorm:"type:uuid;primaryKey"`
	ItemID     string `gorm:"type:uuid;primaryKey;index"`
	Position   int    `gorm:"not null"`
}

func (ShipmentItem) TableName() string { return "shipment_items" }

// WebhookEvent is a raw provider delivery kept for audit.
type WebhookEvent struct {
	EventID         string     `gorm:"type:uuid;primaryKey"`
	Provider        string     `gorm:"not null;index:idx_webhook_events_provider_event,priority:1"`
	ProviderEventID string     `gorm:"not null;default:'';index:idx_webhook_events_provider_event,priority:2"`
	Type            string     `gorm:"not null;default:''"`
	Payload         []byte     `gorm:"not null"`
	Status          string     `gorm:"not null"`
	Detail          string     `gorm:"not null;default:''"`
	ReceivedAt      time.Time  `gorm:"not null;index"`
	ProcessedAt     *time.Time
}

func (WebhookEvent) TableName() string { return "webhook_events" }

func (event *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}

// Models lists every table managed by Migrate.
func Models() []any {
	return []any{
		&Wallet{},
		&WalletTransaction{},
		&VirtualAddress{},
		&Package{},
		&LockerItem{},
		&Shipment{},
		&ShipmentItem{},
		&WebhookEvent{},
	}
}
