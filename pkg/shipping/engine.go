package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	operationCreate = "create_shipment"
	operationQuote  = "quote_shipment"
	operationPaid   = "mark_paid"
	operationCancel = "cancel_shipment"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)

// Engine turns a user's locker items into priced shipments and drives the
// shipment state machine.
type Engine struct {
	store    Store
	pricing  Pricing
	nowFn    func() time.Time
	validate *validator.Validate
	logger   OperationLogger
}

// NewEngine wires an Engine.
func NewEngine(store Store, pricing Pricing, now func() time.Time, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidEngineConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngineConfig)
	}
	engine := &Engine{
		store:    store,
		pricing:  pricing,
		nowFn:    now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// Pricing returns the configured tariff.
func (engine *Engine) Pricing() Pricing {
	return engine.pricing
}

// ValidateDestination normalizes and validates a destination address.
func (engine *Engine) ValidateDestination(destination Destination) (Destination, error) {
	normalized := destination.Normalized()
	if err := engine.validate.Struct(normalized); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			fields := make([]string, 0, len(fieldErrors))
			for _, fieldError := range fieldErrors {
				fields = append(fields, fmt.Sprintf("%s (%s)", fieldError.Field(), fieldError.Tag()))
			}
			return Destination{}, fmt.Errorf("%w: %s", ErrInvalidDestination, strings.Join(fields, ", "))
		}
		return Destination{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	return normalized, nil
}

// CreateShipment creates a DRAFT shipment from the user's available items and
// attaches them in the same transaction.
func (engine *Engine) CreateShipment(ctx context.Context, userID UserID, itemIDs []LockerItemID, destination Destination) (Shipment, error) {
	shipment, err := engine.createShipment(ctx, userID, itemIDs, destination)
	engine.logOperation(ctx, operationCreate, shipment, len(itemIDs), userID, err)
	if err != nil {
		return Shipment{}, err
	}
	return shipment, nil
}

func (engine *Engine) createShipment(ctx context.Context, userID UserID, itemIDs []LockerItemID, destination Destination) (Shipment, error) {
	if userID.String() == "" {
		return Shipment{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if len(itemIDs) == 0 {
		return Shipment{}, ErrNoItems
	}
	seen := make(map[LockerItemID]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if id.String() == "" {
			return Shipment{}, fmt.Errorf("%w: empty value", ErrInvalidLockerItemID)
		}
		if _, ok := seen[id]; ok {
			return Shipment{}, fmt.Errorf("%w: %s", ErrDuplicateItem, id.String())
		}
		seen[id] = struct{}{}
	}
	normalized, err := engine.ValidateDestination(destination)
	if err != nil {
		return Shipment{}, err
	}

	var created Shipment
	err = engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		items, err := transactionStore.LoadLockerItems(ctx, itemIDs)
		if err != nil {
			return err
		}
		if err := checkItems(userID, itemIDs, items); err != nil {
			return err
		}
		now := engine.nowFn().UTC()
		shipment, err := transactionStore.CreateShipment(ctx, Shipment{
			UserID:      userID,
			Status:      StatusDraft,
			Destination: normalized,
			Weights:     Measure(items),
			ItemIDs:     append([]LockerItemID(nil), itemIDs...),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if err := transactionStore.AttachItems(ctx, shipment.ID, itemIDs); err != nil {
			return err
		}
		created = shipment
		return nil
	})
	if err != nil {
		return Shipment{}, err
	}
	return created, nil
}

func checkItems(userID UserID, requested []LockerItemID, items []LockerItem) error {
	byID := make(map[LockerItemID]LockerItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, id := range requested {
		item, ok := byID[id]
		if !ok || item.OwnerUserID != userID {
			return fmt.Errorf("%w: %s", ErrItemNotOwned, id.String())
		}
		if item.ActiveShipmentID != nil && !item.ActiveShipmentID.IsZero() {
			return fmt.Errorf("%w: %s", ErrItemUnavailable, id.String())
		}
	}
	return nil
}

// GetShipment returns a stored shipment.
func (engine *Engine) GetShipment(ctx context.Context, shipmentID ShipmentID) (Shipment, error) {
	return engine.store.GetShipment(ctx, shipmentID)
}

// GetQuote prices a DRAFT or QUOTED shipment and moves it to QUOTED. Quoting an
// already quoted shipment recomputes identical figures.
func (engine *Engine) GetQuote(ctx context.Context, shipmentID ShipmentID) (Shipment, error) {
	shipment, err := engine.transition(ctx, shipmentID, StatusQuoted, func(shipment *Shipment) {
		shipment.Quote = engine.pricing.Quote(shipment.Weights.Chargeable)
	})
	engine.logOperation(ctx, operationQuote, shipment, len(shipment.ItemIDs), shipment.UserID, err)
	if err != nil {
		return Shipment{}, err
	}
	return shipment, nil
}

// MarkPaid moves a QUOTED shipment to PAID. Marking a PAID shipment again returns it unchanged.
func (engine *Engine) MarkPaid(ctx context.Context, shipmentID ShipmentID) (Shipment, error) {
	shipment, err := engine.transition(ctx, shipmentID, StatusPaid, nil)
	engine.logOperation(ctx, operationPaid, shipment, len(shipment.ItemIDs), shipment.UserID, err)
	if err != nil {
		return Shipment{}, err
	}
	return shipment, nil
}

// Cancel moves a DRAFT or QUOTED shipment to CANCELLED and frees its items.
// Cancelling a CANCELLED shipment returns it unchanged.
func (engine *Engine) Cancel(ctx context.Context, shipmentID ShipmentID) (Shipment, error) {
	shipment, err := engine.transition(ctx, shipmentID, StatusCancelled, nil)
	engine.logOperation(ctx, operationCancel, shipment, len(shipment.ItemIDs), shipment.UserID, err)
	if err != nil {
		return Shipment{}, err
	}
	return shipment, nil
}

func (engine *Engine) transition(ctx context.Context, shipmentID ShipmentID, next Status, apply func(*Shipment)) (Shipment, error) {
	var result Shipment
	err := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.LockShipment(ctx, shipmentID)
		if err != nil {
			return err
		}
		if current.Status == next && next.Terminal() {
			result = current
			return nil
		}
		if !current.Status.CanTransition(next) {
			result = current
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}
		updated := current
		updated.Status = next
		updated.UpdatedAt = engine.nowFn().UTC()
		if apply != nil {
			apply(&updated)
		}
		saved, err := transactionStore.UpdateShipment(ctx, updated, current.Status)
		if err != nil {
			return err
		}
		if next == StatusCancelled {
			if err := transactionStore.DetachItems(ctx, shipmentID); err != nil {
				return err
			}
		}
		result = saved
		return nil
	})
	return result, err
}

func (engine *Engine) logOperation(ctx context.Context, operation string, shipment Shipment, itemCount int, userID UserID, err error) {
	if engine.logger == nil {
		return
	}
	entry := OperationLog{
		Operation:        operation,
		ShipmentID:       shipment.ID,
		UserID:           userID,
		ShipmentStatus:   shipment.Status,
		ItemCount:        itemCount,
		ChargeableWeight: shipment.Weights.Chargeable.String(),
		TotalCost:        shipment.Quote.TotalCost.StringFixed(moneyPlaces),
		Status:           operationStatusOK,
		Error:            err,
	}
	if err != nil {
		entry.Status = operationStatusError
	}
	engine.logger.LogOperation(ctx, entry)
}
