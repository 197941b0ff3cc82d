package shipping

import "github.com/MarkoPoloResearchLab/forwarder/pkg/faults"

// Error values returned by the consolidation engine.
var (
	ErrNoItems             = faults.New(faults.KindValidation, "at least one locker item is required")
	ErrDuplicateItem       = faults.New(faults.KindValidation, "locker item listed more than once")
	ErrItemNotOwned        = faults.New(faults.KindValidation, "locker item does not exist or belongs to another user")
	ErrItemUnavailable     = faults.New(faults.KindConflict, "locker item is already attached to an active shipment")
	ErrShipmentNotFound    = faults.New(faults.KindNotFound, "shipment not found")
	ErrInvalidTransition   = faults.New(faults.KindConflict, "shipment status does not allow this operation")
	ErrStatusChanged       = faults.New(faults.KindConflict, "shipment status changed concurrently")
	ErrInvalidDestination  = faults.New(faults.KindValidation, "invalid destination")
	ErrInvalidUserID       = faults.New(faults.KindValidation, "invalid user id")
	ErrInvalidShipmentID   = faults.New(faults.KindValidation, "invalid shipment id")
	ErrInvalidLockerItemID = faults.New(faults.KindValidation, "invalid locker item id")
	ErrInvalidMeasurement  = faults.New(faults.KindValidation, "invalid measurement")
	ErrInvalidStatus       = faults.New(faults.KindValidation, "invalid shipment status")
	ErrInvalidPricing      = faults.New(faults.KindInternal, "invalid pricing")
	ErrInvalidEngineConfig = faults.New(faults.KindInternal, "invalid engine config")
)
