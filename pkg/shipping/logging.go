package shipping

import "context"

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// OperationLogger receives one entry per engine operation.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a shipment operation outcome.
type OperationLog struct {
	Operation        string
	ShipmentID       ShipmentID
	UserID           UserID
	ShipmentStatus   Status
	ItemCount        int
	ChargeableWeight string
	TotalCost        string
	Status           string
	Error            error
}

// WithOperationLogger wires a logger for engine operations.
func WithOperationLogger(logger OperationLogger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}
