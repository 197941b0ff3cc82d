package gormstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	addressCodePrefix   = "FWD-"
	addressCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	addressCodeLength   = 8
	addressCodeAttempts = 5
)

// ErrAddressNotFound reports an intake for an unknown virtual address.
var ErrAddressNotFound = faults.New(faults.KindNotFound, "virtual address not found")

// IncomingItem describes one item found in a received package.
type IncomingItem struct {
	Description string
	WeightKg    decimal.Decimal
	Dimensions  *shipping.Dimensions
}

// IntakeStore records warehouse intake: virtual addresses and the packages and
// items that arrive for them.
type IntakeStore struct {
	db *gorm.DB
}

// NewIntakeStore returns an IntakeStore backed by db.
func NewIntakeStore(db *gorm.DB) *IntakeStore {
	return &IntakeStore{db: db}
}

// RegisterVirtualAddress allocates a unique warehouse mailing code for userID.
func (store *IntakeStore) RegisterVirtualAddress(ctx context.Context, userID shipping.UserID) (VirtualAddress, error) {
	for attempt := 0; attempt < addressCodeAttempts; attempt++ {
		code, err := newAddressCode()
		if err != nil {
			return VirtualAddress{}, wrapStoreError(errorSubjectIntake, errorCodeCreate, err)
		}
		address := VirtualAddress{UserID: userID.String(), Code: code, CreatedAt: time.Now().UTC()}
		err = store.db.WithContext(ctx).Create(&address).Error
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return VirtualAddress{}, wrapStoreError(errorSubjectIntake, errorCodeCreate, err)
		}
		return address, nil
	}
	return VirtualAddress{}, wrapStoreError(errorSubjectIntake, errorCodeDuplicate, fmt.Errorf("no free address code after %d attempts", addressCodeAttempts))
}

// ReceivePackage stores a package and its items, which become available locker items.
func (store *IntakeStore) ReceivePackage(ctx context.Context, addressID string, trackingNumber string, items []IncomingItem) ([]shipping.LockerItemID, error) {
	if len(items) == 0 {
		return nil, shipping.ErrNoItems
	}
	if _, err := uuid.Parse(strings.TrimSpace(addressID)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, addressID)
	}
	for _, item := range items {
		if !item.WeightKg.IsPositive() {
			return nil, fmt.Errorf("%w: weight must be positive", shipping.ErrInvalidMeasurement)
		}
	}
	var ids []shipping.LockerItemID
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var address VirtualAddress
		err := transaction.Where("address_id = ?", strings.TrimSpace(addressID)).Take(&address).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrAddressNotFound, addressID)
		}
		if err != nil {
			return wrapStoreError(errorSubjectIntake, errorCodeLookup, err)
		}
		now := time.Now().UTC()
		pkg := Package{AddressID: address.AddressID, TrackingNumber: strings.TrimSpace(trackingNumber), ReceivedAt: now}
		if err := transaction.Create(&pkg).Error; err != nil {
			return wrapStoreError(errorSubjectIntake, errorCodeCreate, err)
		}
		for _, incoming := range items {
			row := LockerItem{
				PackageID:   pkg.PackageID,
				Description: strings.TrimSpace(incoming.Description),
				WeightKg:    incoming.WeightKg,
				CreatedAt:   now,
			}
			if incoming.Dimensions != nil {
				row.LengthCm = nullDecimal(&incoming.Dimensions.LengthCm)
				row.WidthCm = nullDecimal(&incoming.Dimensions.WidthCm)
				row.HeightCm = nullDecimal(&incoming.Dimensions.HeightCm)
			}
			if err := transaction.Create(&row).Error; err != nil {
				return wrapStoreError(errorSubjectIntake, errorCodeCreate, err)
			}
			itemID, err := shipping.NewLockerItemID(row.ItemID)
			if err != nil {
				return err
			}
			ids = append(ids, itemID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func newAddressCode() (string, error) {
	var builder strings.Builder
	builder.WriteString(addressCodePrefix)
	limit := big.NewInt(int64(len(addressCodeAlphabet)))
	for index := 0; index < addressCodeLength; index++ {
		position, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		builder.WriteByte(addressCodeAlphabet[position.Int64()])
	}
	return builder.String(), nil
}
