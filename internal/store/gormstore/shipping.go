package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShippingStore implements shipping.Store using GORM.
type ShippingStore struct {
	db *gorm.DB
}

// NewShippingStore returns a ShippingStore backed by db.
func NewShippingStore(db *gorm.DB) *ShippingStore {
	return &ShippingStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *ShippingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore shipping.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &ShippingStore{db: transaction})
	})
}

type lockerItemRow struct {
	LockerItem
	OwnerUserID string
}

func (store *ShippingStore) LoadLockerItems(ctx context.Context, ids []shipping.LockerItemID) ([]shipping.LockerItem, error) {
	if len(ids) == 0 {
		return []shipping.LockerItem{}, nil
	}
	var rows []lockerItemRow
	err := store.db.WithContext(ctx).
		Table("locker_items").
		Select("locker_items.*, virtual_addresses.user_id AS owner_user_id").
		Joins("JOIN packages ON packages.package_id = locker_items.package_id").
		Joins("JOIN virtual_addresses ON virtual_addresses.address_id = packages.address_id").
		Where("locker_items.item_id IN ?", itemIDStrings(ids)).
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectItem, errorCodeList, err)
	}
	items := make([]shipping.LockerItem, 0, len(rows))
	for _, row := range rows {
		item, err := mapLockerItem(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectItem, errorCodeInvalid, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (store *ShippingStore) CreateShipment(ctx context.Context, shipment shipping.Shipment) (shipping.Shipment, error) {
	destination, err := json.Marshal(shipment.Destination)
	if err != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeInvalid, err)
	}
	row := Shipment{
		UserID:           shipment.UserID.String(),
		Status:           shipment.Status.String(),
		Destination:      datatypes.JSON(destination),
		TotalWeight:      shipment.Weights.Total,
		VolumetricWeight: shipment.Weights.Volumetric,
		ChargeableWeight: shipment.Weights.Chargeable,
		ShippingCost:     shipment.Quote.ShippingCost,
		InsuranceCost:    shipment.Quote.InsuranceCost,
		TotalCost:        shipment.Quote.TotalCost,
		CreatedAt:        shipment.CreatedAt,
		UpdatedAt:        shipment.UpdatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeCreate, err)
	}
	members := make([]ShipmentItem, 0, len(shipment.ItemIDs))
	for position, itemID := range shipment.ItemIDs {
		members = append(members, ShipmentItem{ShipmentID: row.ShipmentID, ItemID: itemID.String(), Position: position})
	}
	if len(members) > 0 {
		if err := store.db.WithContext(ctx).Create(&members).Error; err != nil {
			return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeCreate, err)
		}
	}
	return mapShipment(row, shipment.ItemIDs)
}

func (store *ShippingStore) AttachItems(ctx context.Context, shipmentID shipping.ShipmentID, ids []shipping.LockerItemID) error {
	result := store.db.WithContext(ctx).
		Model(&LockerItem{}).
		Where("item_id IN ? AND active_shipment_id IS NULL", itemIDStrings(ids)).
		Update("active_shipment_id", shipmentID.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectItem, errorCodeAttach, result.Error)
	}
	if result.RowsAffected != int64(len(ids)) {
		return wrapStoreError(errorSubjectItem, errorCodeAttach, shipping.ErrItemUnavailable)
	}
	return nil
}

func (store *ShippingStore) DetachItems(ctx context.Context, shipmentID shipping.ShipmentID) error {
	err := store.db.WithContext(ctx).
		Model(&LockerItem{}).
		Where("active_shipment_id = ?", shipmentID.String()).
		Update("active_shipment_id", nil).Error
	if err != nil {
		return wrapStoreError(errorSubjectItem, errorCodeDetach, err)
	}
	return nil
}

func (store *ShippingStore) GetShipment(ctx context.Context, id shipping.ShipmentID) (shipping.Shipment, error) {
	return store.loadShipment(ctx, store.db.WithContext(ctx), id, errorCodeGet)
}

func (store *ShippingStore) LockShipment(ctx context.Context, id shipping.ShipmentID) (shipping.Shipment, error) {
	return store.loadShipment(ctx, store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id, errorCodeLock)
}

func (store *ShippingStore) UpdateShipment(ctx context.Context, shipment shipping.Shipment, expected shipping.Status) (shipping.Shipment, error) {
	updatedAt := shipment.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	result := store.db.WithContext(ctx).
		Model(&Shipment{}).
		Where("shipment_id = ? AND status = ?", shipment.ID.String(), expected.String()).
		Updates(map[string]interface{}{
			"status":         shipment.Status.String(),
			"shipping_cost":  shipment.Quote.ShippingCost,
			"insurance_cost": shipment.Quote.InsuranceCost,
			"total_cost":     shipment.Quote.TotalCost,
			"updated_at":     updatedAt,
		})
	if result.Error != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeUpdate, shipping.ErrStatusChanged)
	}
	return store.GetShipment(ctx, shipment.ID)
}

func (store *ShippingStore) loadShipment(ctx context.Context, query *gorm.DB, id shipping.ShipmentID, code string) (shipping.Shipment, error) {
	if id.IsZero() {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, code, shipping.ErrShipmentNotFound)
	}
	var row Shipment
	err := query.Where("shipment_id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, code, shipping.ErrShipmentNotFound)
	}
	if err != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, code, err)
	}
	var members []ShipmentItem
	err = store.db.WithContext(ctx).
		Where("shipment_id = ?", row.ShipmentID).
		Order("position ASC").
		Find(&members).Error
	if err != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, code, err)
	}
	itemIDs := make([]shipping.LockerItemID, 0, len(members))
	for _, member := range members {
		itemID, err := shipping.NewLockerItemID(member.ItemID)
		if err != nil {
			return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeInvalid, err)
		}
		itemIDs = append(itemIDs, itemID)
	}
	return mapShipment(row, itemIDs)
}

func mapShipment(row Shipment, itemIDs []shipping.LockerItemID) (shipping.Shipment, error) {
	shipmentID, err := shipping.NewShipmentID(row.ShipmentID)
	if err != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeInvalid, err)
	}
	userID, err := shipping.NewUserID(row.UserID)
	if err != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeInvalid, err)
	}
	status, err := shipping.ParseStatus(row.Status)
	if err != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeInvalid, err)
	}
	var destination shipping.Destination
	if err := json.Unmarshal(row.Destination, &destination); err != nil {
		return shipping.Shipment{}, wrapStoreError(errorSubjectShipment, errorCodeInvalid, err)
	}
	return shipping.Shipment{
		ID:          shipmentID,
		UserID:      userID,
		Status:      status,
		Destination: destination,
		Weights: shipping.Weights{
			Total:      row.TotalWeight,
			Volumetric: row.VolumetricWeight,
			Chargeable: row.ChargeableWeight,
		},
		Quote: shipping.Quote{
			ShippingCost:  row.ShippingCost,
			InsuranceCost: row.InsuranceCost,
			TotalCost:     row.TotalCost,
		},
		ItemIDs:   itemIDs,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func mapLockerItem(row lockerItemRow) (shipping.LockerItem, error) {
	itemID, err := shipping.NewLockerItemID(row.ItemID)
	if err != nil {
		return shipping.LockerItem{}, err
	}
	ownerID, err := shipping.NewUserID(row.OwnerUserID)
	if err != nil {
		return shipping.LockerItem{}, err
	}
	item := shipping.LockerItem{
		ID:          itemID,
		OwnerUserID: ownerID,
		Description: row.Description,
		WeightKg:    row.WeightKg,
	}
	if row.LengthCm.Valid && row.WidthCm.Valid && row.HeightCm.Valid {
		dimensions, err := shipping.NewDimensions(row.LengthCm.Decimal, row.WidthCm.Decimal, row.HeightCm.Decimal)
		if err != nil {
			return shipping.LockerItem{}, err
		}
		item.Dimensions = &dimensions
	}
	if row.ActiveShipmentID != nil && *row.ActiveShipmentID != "" {
		shipmentID, err := shipping.NewShipmentID(*row.ActiveShipmentID)
		if err != nil {
			return shipping.LockerItem{}, err
		}
		item.ActiveShipmentID = &shipmentID
	}
	return item, nil
}

func itemIDStrings(ids []shipping.LockerItemID) []string {
	values := make([]string, 0, len(ids))
	for _, id := range ids {
		values = append(values, id.String())
	}
	return values
}

func nullDecimal(value *decimal.Decimal) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *value, Valid: true}
}
