package shipping

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
)

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func TestCreateShipmentMeasuresAndAttaches(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	engine := mustNewEngine(test, store, WithOperationLogger(logger))
	itemA := store.addItem(test, "A", "user-1", "1.2", mustDimensions(test, "25", "10", "5"))
	itemB := store.addItem(test, "B", "user-1", "0.8", mustDimensions(test, "25", "10", "5"))

	shipment, err := engine.CreateShipment(context.Background(), mustUserID(test, "user-1"), []LockerItemID{itemA, itemB}, validDestination())
	if err != nil {
		test.Fatalf("create shipment: %v", err)
	}
	if shipment.Status != StatusDraft || shipment.ID.IsZero() || len(shipment.ItemIDs) != 2 {
		test.Fatalf("unexpected shipment %+v", shipment)
	}
	if shipment.Destination.CountryCode != "JM" {
		test.Fatalf("expected normalized country code, got %q", shipment.Destination.CountryCode)
	}
	assertDecimal(test, "total", shipment.Weights.Total, "2.0")
	assertDecimal(test, "volumetric", shipment.Weights.Volumetric, "0.5")
	assertDecimal(test, "chargeable", shipment.Weights.Chargeable, "2.0")
	for _, id := range []LockerItemID{itemA, itemB} {
		item := store.item(test, id)
		if item.ActiveShipmentID == nil || *item.ActiveShipmentID != shipment.ID {
			test.Fatalf("expected %s attached to %s", id.String(), shipment.ID.String())
		}
	}
	if len(logger.entries) != 1 || logger.entries[0].Operation != operationCreate || logger.entries[0].Status != operationStatusOK {
		test.Fatalf("unexpected log entries %+v", logger.entries)
	}
}

func TestCreateShipmentRejectsInvalidInput(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	engine := mustNewEngine(test, store)
	own := store.addItem(test, "A", "user-1", "1", nil)
	foreign := store.addItem(test, "F", "user-2", "1", nil)
	user := mustUserID(test, "user-1")

	cases := []struct {
		name        string
		items       []LockerItemID
		destination Destination
		wantErr     error
	}{
		{name: "empty", items: nil, destination: validDestination(), wantErr: ErrNoItems},
		{name: "duplicate", items: []LockerItemID{own, own}, destination: validDestination(), wantErr: ErrDuplicateItem},
		{name: "unknown item", items: []LockerItemID{mustLockerItemID(test, "missing")}, destination: validDestination(), wantErr: ErrItemNotOwned},
		{name: "foreign item", items: []LockerItemID{own, foreign}, destination: validDestination(), wantErr: ErrItemNotOwned},
		{name: "missing city", items: []LockerItemID{own}, destination: Destination{Line1: "1 Main", CountryCode: "US"}, wantErr: ErrInvalidDestination},
		{name: "bad country", items: []LockerItemID{own}, destination: Destination{Line1: "1 Main", City: "Austin", CountryCode: "XX"}, wantErr: ErrInvalidDestination},
	}
	for _, tc := range cases {
		_, err := engine.CreateShipment(context.Background(), user, tc.items, tc.destination)
		if !errors.Is(err, tc.wantErr) {
			test.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
		if !faults.Is(err, faults.KindValidation) {
			test.Fatalf("%s: expected validation kind, got %s", tc.name, faults.KindOf(err))
		}
	}
	if item := store.item(test, own); item.ActiveShipmentID != nil {
		test.Fatalf("expected item to stay available after failures")
	}
}

func TestCreateShipmentItemExclusivity(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	engine := mustNewEngine(test, store)
	user := mustUserID(test, "user-1")
	itemA := store.addItem(test, "A", "user-1", "1", nil)
	itemB := store.addItem(test, "B", "user-1", "1", nil)
	itemC := store.addItem(test, "C", "user-1", "1", nil)

	first, err := engine.CreateShipment(context.Background(), user, []LockerItemID{itemA, itemB}, validDestination())
	if err != nil {
		test.Fatalf("create S1: %v", err)
	}
	_, err = engine.CreateShipment(context.Background(), user, []LockerItemID{itemB, itemC}, validDestination())
	if !errors.Is(err, ErrItemUnavailable) || !faults.Is(err, faults.KindConflict) {
		test.Fatalf("expected conflict, got %v", err)
	}
	if item := store.item(test, itemC); item.ActiveShipmentID != nil {
		test.Fatalf("expected C to remain available")
	}

	if _, err := engine.Cancel(context.Background(), first.ID); err != nil {
		test.Fatalf("cancel S1: %v", err)
	}
	second, err := engine.CreateShipment(context.Background(), user, []LockerItemID{itemB, itemC}, validDestination())
	if err != nil {
		test.Fatalf("expected B to be free after cancellation: %v", err)
	}
	if item := store.item(test, itemB); item.ActiveShipmentID == nil || *item.ActiveShipmentID != second.ID {
		test.Fatalf("expected B attached to second shipment")
	}
}

func TestCreateShipmentConcurrentClaimsOneWinner(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	engine := mustNewEngine(test, store)
	user := mustUserID(test, "user-1")
	shared := store.addItem(test, "A", "user-1", "1", nil)

	var (
		group     sync.WaitGroup
		mutex     sync.Mutex
		successes int
		conflicts int
	)
	for index := 0; index < 8; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			_, err := engine.CreateShipment(context.Background(), user, []LockerItemID{shared}, validDestination())
			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrItemUnavailable):
				conflicts++
			default:
				test.Errorf("unexpected error: %v", err)
			}
		}()
	}
	group.Wait()
	if successes != 1 || conflicts != 7 {
		test.Fatalf("expected 1 success and 7 conflicts, got %d/%d", successes, conflicts)
	}
}

func TestAttachFailureRollsBackShipment(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	engine := mustNewEngine(test, store)
	item := store.addItem(test, "A", "user-1", "1", nil)
	store.attachError = ErrItemUnavailable

	_, err := engine.CreateShipment(context.Background(), mustUserID(test, "user-1"), []LockerItemID{item}, validDestination())
	if !errors.Is(err, ErrItemUnavailable) {
		test.Fatalf("expected ErrItemUnavailable, got %v", err)
	}
	if len(store.shipments) != 0 {
		test.Fatalf("expected no persisted shipment, got %d", len(store.shipments))
	}
}

func TestGetQuoteLifecycle(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	engine := mustNewEngine(test, store)
	itemA := store.addItem(test, "A", "user-1", "1.2", mustDimensions(test, "25", "10", "5"))
	itemB := store.addItem(test, "B", "user-1", "0.8", nil)
	created, err := engine.CreateShipment(context.Background(), mustUserID(test, "user-1"), []LockerItemID{itemA, itemB}, validDestination())
	if err != nil {
		test.Fatalf("create: %v", err)
	}

	quoted, err := engine.GetQuote(context.Background(), created.ID)
	if err != nil {
		test.Fatalf("quote: %v", err)
	}
	if quoted.Status != StatusQuoted {
		test.Fatalf("expected QUOTED, got %s", quoted.Status)
	}
	assertDecimal(test, "shipping", quoted.Quote.ShippingCost, "20")
	assertDecimal(test, "insurance", quoted.Quote.InsuranceCost, "1")
	assertDecimal(test, "total", quoted.Quote.TotalCost, "21")

	requoted, err := engine.GetQuote(context.Background(), created.ID)
	if err != nil {
		test.Fatalf("requote: %v", err)
	}
	if !requoted.Quote.TotalCost.Equal(quoted.Quote.TotalCost) {
		test.Fatalf("expected identical requote, got %s", requoted.Quote.TotalCost.String())
	}

	paid, err := engine.MarkPaid(context.Background(), created.ID)
	if err != nil || paid.Status != StatusPaid {
		test.Fatalf("mark paid: %+v (%v)", paid, err)
	}
	again, err := engine.MarkPaid(context.Background(), created.ID)
	if err != nil || again.Status != StatusPaid {
		test.Fatalf("expected repeated mark paid to be a no-op, got %+v (%v)", again, err)
	}
	if _, err := engine.GetQuote(context.Background(), created.ID); !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition quoting a paid shipment, got %v", err)
	}
	if _, err := engine.Cancel(context.Background(), created.ID); !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition cancelling a paid shipment, got %v", err)
	}
}

func TestMarkPaidRequiresQuote(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	engine := mustNewEngine(test, store)
	item := store.addItem(test, "A", "user-1", "1", nil)
	created, err := engine.CreateShipment(context.Background(), mustUserID(test, "user-1"), []LockerItemID{item}, validDestination())
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	if _, err := engine.MarkPaid(context.Background(), created.ID); !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition for draft, got %v", err)
	}
}

func TestQuoteUnknownShipmentIsNotFound(test *testing.T) {
	test.Parallel()
	engine := mustNewEngine(test, newStubStore(test))
	_, err := engine.GetQuote(context.Background(), ShipmentID{value: labelUUID("missing")})
	if !errors.Is(err, ErrShipmentNotFound) || !faults.Is(err, faults.KindNotFound) {
		test.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelIsRepeatable(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	engine := mustNewEngine(test, store)
	item := store.addItem(test, "A", "user-1", "1", nil)
	created, err := engine.CreateShipment(context.Background(), mustUserID(test, "user-1"), []LockerItemID{item}, validDestination())
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		cancelled, err := engine.Cancel(context.Background(), created.ID)
		if err != nil || cancelled.Status != StatusCancelled {
			test.Fatalf("cancel attempt %d: %+v (%v)", attempt, cancelled, err)
		}
	}
	if _, err := engine.GetQuote(context.Background(), created.ID); !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition quoting a cancelled shipment, got %v", err)
	}
}

func TestParseLockerItemIDs(test *testing.T) {
	test.Parallel()
	if _, err := ParseLockerItemIDs(nil); !errors.Is(err, ErrNoItems) {
		test.Fatalf("expected ErrNoItems, got %v", err)
	}
	first := labelUUID("a")
	if _, err := ParseLockerItemIDs([]string{first, " " + strings.ToUpper(first) + " "}); !errors.Is(err, ErrDuplicateItem) {
		test.Fatalf("expected ErrDuplicateItem, got %v", err)
	}
	ids, err := ParseLockerItemIDs([]string{first, labelUUID("b")})
	if err != nil || len(ids) != 2 {
		test.Fatalf("unexpected result %v (%v)", ids, err)
	}
}

func TestIDsMustBeUUIDs(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name    string
		raw     string
		wantErr error
		parse   func(string) error
	}{
		{name: "empty shipment", raw: " ", wantErr: ErrInvalidShipmentID, parse: parseShipmentID},
		{name: "short shipment", raw: "abc", wantErr: ErrInvalidShipmentID, parse: parseShipmentID},
		{name: "truncated shipment", raw: labelUUID("s")[:30], wantErr: ErrInvalidShipmentID, parse: parseShipmentID},
		{name: "empty item", raw: "", wantErr: ErrInvalidLockerItemID, parse: parseLockerItemID},
		{name: "short item", raw: "abc", wantErr: ErrInvalidLockerItemID, parse: parseLockerItemID},
		{name: "item in list", raw: "item-1", wantErr: ErrInvalidLockerItemID, parse: func(raw string) error {
			_, err := ParseLockerItemIDs([]string{labelUUID("a"), raw})
			return err
		}},
	}
	for _, tc := range cases {
		err := tc.parse(tc.raw)
		if !errors.Is(err, tc.wantErr) || !faults.Is(err, faults.KindValidation) {
			test.Fatalf("%s: expected %v with validation kind, got %v", tc.name, tc.wantErr, err)
		}
	}

	id, err := NewShipmentID(" " + strings.ToUpper(labelUUID("s")) + " ")
	if err != nil || id.String() != labelUUID("s") {
		test.Fatalf("expected canonical id, got %q (%v)", id.String(), err)
	}
}

func parseShipmentID(raw string) error {
	_, err := NewShipmentID(raw)
	return err
}

func parseLockerItemID(raw string) error {
	_, err := NewLockerItemID(raw)
	return err
}
