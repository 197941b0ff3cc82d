package shipping

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type stubStore struct {
	txMutex   sync.Mutex
	dataMutex sync.Mutex

	items     map[LockerItemID]LockerItem
	shipments map[ShipmentID]Shipment
	sequence  int

	attachError error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{items: map[LockerItemID]LockerItem{}, shipments: map[ShipmentID]Shipment{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()

	store.dataMutex.Lock()
	itemSnapshot := make(map[LockerItemID]LockerItem, len(store.items))
	for key, item := range store.items {
		itemSnapshot[key] = item
	}
	shipmentSnapshot := make(map[ShipmentID]Shipment, len(store.shipments))
	for key, shipment := range store.shipments {
		shipmentSnapshot[key] = shipment
	}
	store.dataMutex.Unlock()

	if err := fn(ctx, store); err != nil {
		store.dataMutex.Lock()
		store.items = itemSnapshot
		store.shipments = shipmentSnapshot
		store.dataMutex.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) LoadLockerItems(_ context.Context, ids []LockerItemID) ([]LockerItem, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	items := []LockerItem{}
	for _, id := range ids {
		if item, ok := store.items[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (store *stubStore) CreateShipment(_ context.Context, shipment Shipment) (Shipment, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	store.sequence++
	shipment.ID = ShipmentID{value: labelUUID(fmt.Sprintf("ship-%03d", store.sequence))}
	store.shipments[shipment.ID] = shipment
	return shipment, nil
}

func (store *stubStore) AttachItems(_ context.Context, shipmentID ShipmentID, ids []LockerItemID) error {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.attachError != nil {
		return store.attachError
	}
	for _, id := range ids {
		item := store.items[id]
		if item.ActiveShipmentID != nil {
			return ErrItemUnavailable
		}
		attached := shipmentID
		item.ActiveShipmentID = &attached
		store.items[id] = item
	}
	return nil
}

func (store *stubStore) DetachItems(_ context.Context, shipmentID ShipmentID) error {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	for id, item := range store.items {
		if item.ActiveShipmentID != nil && *item.ActiveShipmentID == shipmentID {
			item.ActiveShipmentID = nil
			store.items[id] = item
		}
	}
	return nil
}

func (store *stubStore) GetShipment(_ context.Context, id ShipmentID) (Shipment, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	shipment, ok := store.shipments[id]
	if !ok {
		return Shipment{}, ErrShipmentNotFound
	}
	return shipment, nil
}

func (store *stubStore) LockShipment(ctx context.Context, id ShipmentID) (Shipment, error) {
	return store.GetShipment(ctx, id)
}

func (store *stubStore) UpdateShipment(_ context.Context, shipment Shipment, expected Status) (Shipment, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	current, ok := store.shipments[shipment.ID]
	if !ok {
		return Shipment{}, ErrShipmentNotFound
	}
	if current.Status != expected {
		return Shipment{}, ErrStatusChanged
	}
	store.shipments[shipment.ID] = shipment
	return shipment, nil
}

func (store *stubStore) addItem(test *testing.T, id string, owner string, weight string, dimensions *Dimensions) LockerItemID {
	test.Helper()
	item := LockerItem{
		ID:          mustLockerItemID(test, id),
		OwnerUserID: mustUserID(test, owner),
		WeightKg:    decimal.RequireFromString(weight),
		Dimensions:  dimensions,
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	store.items[item.ID] = item
	return item.ID
}

func (store *stubStore) item(test *testing.T, id LockerItemID) LockerItem {
	test.Helper()
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	item, ok := store.items[id]
	if !ok {
		test.Fatalf("item %s not found", id.String())
	}
	return item
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

// labelUUID maps a readable test label to a stable UUID.
func labelUUID(label string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(label)).String()
}

func mustLockerItemID(test *testing.T, label string) LockerItemID {
	test.Helper()
	value, err := NewLockerItemID(labelUUID(label))
	if err != nil {
		test.Fatalf("locker item id: %v", err)
	}
	return value
}

func mustDimensions(test *testing.T, length, width, height string) *Dimensions {
	test.Helper()
	dimensions, err := NewDimensions(decimal.RequireFromString(length), decimal.RequireFromString(width), decimal.RequireFromString(height))
	if err != nil {
		test.Fatalf("dimensions: %v", err)
	}
	return &dimensions
}

func mustPricing(test *testing.T) Pricing {
	test.Helper()
	pricing, err := NewPricing(decimal.NewFromInt(10), decimal.NewFromInt(5), decimal.RequireFromString("0.05"))
	if err != nil {
		test.Fatalf("pricing: %v", err)
	}
	return pricing
}

func mustNewEngine(test *testing.T, store Store, options ...EngineOption) *Engine {
	test.Helper()
	engine, err := NewEngine(store, mustPricing(test), func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("new engine: %v", err)
	}
	return engine
}

func validDestination() Destination {
	return Destination{Name: "Ada Lovelace", Line1: "12 Harbour Road", City: "Kingston", CountryCode: "jm"}
}

func assertDecimal(test *testing.T, label string, got decimal.Decimal, want string) {
	test.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		test.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}
