package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
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

func (logger *recorderLogger) snapshot() []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

func TestServiceLogsCreditOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	user := mustUserID(test, "user-1")
	mustCredit(test, service, user, 100, "evt_1")

	entries := logger.snapshot()
	if len(entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Operation != operationCredit || entry.UserID != user || entry.Amount != 100 || entry.ReferenceID.String() != "evt_1" {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK || entry.Balance != 100 || entry.Attempts != 1 {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsDuplicateFlag(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	user := mustUserID(test, "user-1")
	mustCredit(test, service, user, 100, "evt_1")
	mustCredit(test, service, user, 100, "evt_1")

	entries := logger.snapshot()
	if len(entries) != 2 || entries[0].Duplicate || !entries[1].Duplicate {
		test.Fatalf("expected second entry to be a duplicate, got %+v", entries)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.insertError = errors.New("boom")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	user := mustUserID(test, "user-1")
	_, err := service.Credit(context.Background(), user, mustPositiveAmount(test, 100), mustReferenceID(test, "evt_1"), Description{})
	if err == nil {
		test.Fatalf("expected error")
	}
	entries := logger.snapshot()
	if len(entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].Status != operationStatusError || entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", entries[0])
	}
}
