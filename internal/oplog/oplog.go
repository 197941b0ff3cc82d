// Package oplog writes domain operation logs through zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const statusOK = "ok"

// Ledger implements ledger.OperationLogger.
type Ledger struct {
	logger *zap.Logger
}

// NewLedger returns a ledger operation logger. A nil logger discards entries.
func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{logger: logger.Named("ledger")}
}

func (sink *Ledger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("kind", entry.Kind.String()),
		zap.String("reference_id", entry.ReferenceID.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.Int64("balance_cents", entry.Balance.Int64()),
		zap.Bool("duplicate", entry.Duplicate),
		zap.Int("attempts", entry.Attempts),
		zap.String("status", entry.Status),
	}
	write(sink.logger, "ledger operation", entry.Status, entry.Error, fields)
}

// Shipping implements shipping.OperationLogger.
type Shipping struct {
	logger *zap.Logger
}

// NewShipping returns a shipping operation logger. A nil logger discards entries.
func NewShipping(logger *zap.Logger) *Shipping {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shipping{logger: logger.Named("shipping")}
}

func (sink *Shipping) LogOperation(_ context.Context, entry shipping.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("shipment_id", entry.ShipmentID.String()),
		zap.String("user_id", entry.UserID.String()),
		zap.String("shipment_status", string(entry.ShipmentStatus)),
		zap.Int("item_count", entry.ItemCount),
		zap.String("chargeable_weight_kg", entry.ChargeableWeight),
		zap.String("total_cost", entry.TotalCost),
		zap.String("status", entry.Status),
	}
	write(sink.logger, "shipment operation", entry.Status, entry.Error, fields)
}

func write(logger *zap.Logger, message string, status string, err error, fields []zap.Field) {
	level := zapcore.InfoLevel
	if status != statusOK || err != nil {
		level = zapcore.WarnLevel
		fields = append(fields, zap.Error(err))
	}
	if checked := logger.Check(level, message); checked != nil {
		checked.Write(fields...)
	}
}
