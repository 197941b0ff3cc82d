package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLedgerLogsStructuredFields(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.DebugLevel)
	sink := NewLedger(zap.New(core))
	userID, _ := ledger.NewUserID("user-1")
	referenceID, _ := ledger.NewReferenceID("evt_1")
	amount, _ := ledger.NewEntryAmountCents(5_000)

	sink.LogOperation(context.Background(), ledger.OperationLog{
		Operation:   "credit",
		UserID:      userID,
		Kind:        ledger.KindDeposit,
		Amount:      amount,
		ReferenceID: referenceID,
		Attempts:    1,
		Status:      statusOK,
	})

	entries := recorded.All()
	if len(entries) != 1 || entries[0].Level != zapcore.InfoLevel || entries[0].LoggerName != "ledger" {
		test.Fatalf("unexpected entries %+v", entries)
	}
	fields := entries[0].ContextMap()
	if fields["reference_id"] != "evt_1" || fields["amount_cents"] != int64(5_000) || fields["kind"] != "DEPOSIT" {
		test.Fatalf("unexpected fields %+v", fields)
	}
}

func TestShippingLogsFailuresAtWarn(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.DebugLevel)
	sink := NewShipping(zap.New(core))

	sink.LogOperation(context.Background(), shipping.OperationLog{
		Operation: "cancel",
		Status:    "error",
		Error:     errors.New("boom"),
	})

	entries := recorded.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		test.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].ContextMap()["error"] != "boom" {
		test.Fatalf("expected the error field, got %+v", entries[0].ContextMap())
	}
}

func TestNilLoggerDiscards(test *testing.T) {
	test.Parallel()
	NewLedger(nil).LogOperation(context.Background(), ledger.OperationLog{Status: statusOK})
	NewShipping(nil).LogOperation(context.Background(), shipping.OperationLog{Status: statusOK})
}
