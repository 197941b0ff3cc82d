package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
)

func TestNewServiceValidatesDependencies(test *testing.T) {
	test.Parallel()
	currency := mustCurrency(test, "USD")
	if _, err := NewService(nil, time.Now, currency); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil, currency); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
	if _, err := NewService(newStubStore(test), time.Now, Currency{}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for empty currency, got %v", err)
	}
}

func TestCreditCreatesWalletAndRow(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")

	wallet := mustCredit(test, service, user, 5000, "evt_1")
	if wallet.Balance != 5000 || wallet.Currency.String() != "USD" || wallet.Version != 1 {
		test.Fatalf("unexpected wallet %+v", wallet)
	}
	rows := store.transactionsFor(wallet.ID, mustReferenceID(test, "evt_1"))
	if len(rows) != 1 || rows[0].Kind != KindDeposit || rows[0].Amount != 5000 || rows[0].Status != StatusCompleted {
		test.Fatalf("unexpected rows %+v", rows)
	}
}

func TestCreditDuplicateReferenceIsNoOp(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")

	mustCredit(test, service, user, 5000, "evt_1")
	wallet := mustCredit(test, service, user, 5000, "evt_1")
	if wallet.Balance != 5000 {
		test.Fatalf("expected balance 5000 after duplicate credit, got %d", wallet.Balance)
	}
	if store.transactionCount() != 1 {
		test.Fatalf("expected one row, got %d", store.transactionCount())
	}
}

func TestCreditInsertRaceIsTreatedAsDuplicate(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")
	mustCredit(test, service, user, 100, "seed")

	store.insertConflictOnce = true
	wallet := mustCredit(test, service, user, 50, "evt_1")
	if wallet.Balance != 100 {
		test.Fatalf("expected balance unchanged at 100, got %d", wallet.Balance)
	}
	if store.transactionCount() != 1 {
		test.Fatalf("expected only the seed row, got %d", store.transactionCount())
	}
}

func TestDebitReducesBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")
	mustCredit(test, service, user, 5000, "evt_1")

	wallet, err := service.Debit(context.Background(), user, mustPositiveAmount(test, 2100), mustReferenceID(test, "ship_1"), mustDescription(test, "shipment"))
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if wallet.Balance != 2900 {
		test.Fatalf("expected 2900, got %d", wallet.Balance)
	}
	rows := store.transactionsFor(wallet.ID, mustReferenceID(test, "ship_1"))
	if len(rows) != 1 || rows[0].Kind != KindPayment || rows[0].Amount != -2100 {
		test.Fatalf("unexpected payment rows %+v", rows)
	}
}

func TestDebitOverdraftLeavesStateUntouched(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")
	seeded := mustCredit(test, service, user, 100, "evt_1")

	_, err := service.Debit(context.Background(), user, mustPositiveAmount(test, 150), mustReferenceID(test, "ship_9"), Description{})
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !faults.Is(err, faults.KindInsufficientFunds) {
		test.Fatalf("expected insufficient_funds kind, got %s", faults.KindOf(err))
	}
	wallet := store.walletFor(test, user)
	if wallet.Balance != 100 || wallet.Version != seeded.Version {
		test.Fatalf("expected untouched wallet, got %+v", wallet)
	}
	if rows := store.transactionsFor(wallet.ID, mustReferenceID(test, "ship_9")); len(rows) != 0 {
		test.Fatalf("expected no payment row, got %+v", rows)
	}
}

func TestDebitExactBalanceReachesZero(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")
	mustCredit(test, service, user, 100, "evt_1")

	wallet, err := service.Debit(context.Background(), user, mustPositiveAmount(test, 100), mustReferenceID(test, "ship_1"), Description{})
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if wallet.Balance != 0 {
		test.Fatalf("expected zero balance, got %d", wallet.Balance)
	}
}

func TestDebitWithoutWalletIsNotFound(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	_, err := service.Debit(context.Background(), mustUserID(test, "ghost"), mustPositiveAmount(test, 1), mustReferenceID(test, "ship_1"), Description{})
	if !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestDebitDuplicateReferenceChargesOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")
	mustCredit(test, service, user, 5000, "evt_1")
	for attempt := 0; attempt < 3; attempt++ {
		if _, err := service.Debit(context.Background(), user, mustPositiveAmount(test, 2100), mustReferenceID(test, "ship_1"), Description{}); err != nil {
			test.Fatalf("debit attempt %d: %v", attempt, err)
		}
	}
	if wallet := store.walletFor(test, user); wallet.Balance != 2900 {
		test.Fatalf("expected one charge, balance %d", wallet.Balance)
	}
}

func TestRefundAndAdjust(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")
	mustCredit(test, service, user, 1000, "evt_1")

	wallet, err := service.Refund(context.Background(), user, mustPositiveAmount(test, 250), mustReferenceID(test, "ship_1"), Description{})
	if err != nil {
		test.Fatalf("refund: %v", err)
	}
	if wallet.Balance != 1250 {
		test.Fatalf("expected 1250 after refund, got %d", wallet.Balance)
	}
	wallet, err = service.Adjust(context.Background(), user, mustEntryAmount(test, -1250), mustReferenceID(test, "adj_1"), mustDescription(test, "chargeback"))
	if err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if wallet.Balance != 0 {
		test.Fatalf("expected 0 after adjust, got %d", wallet.Balance)
	}
	if _, err := service.Adjust(context.Background(), user, mustEntryAmount(test, -1), mustReferenceID(test, "adj_2"), Description{}); !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds for negative adjust, got %v", err)
	}
}

func TestRefundWithoutWalletIsNotFound(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	_, err := service.Refund(context.Background(), mustUserID(test, "ghost"), mustPositiveAmount(test, 1), mustReferenceID(test, "ship_1"), Description{})
	if !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestGetOrCreateWalletStartsEmpty(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	user := mustUserID(test, "user-1")
	wallet, err := service.GetOrCreateWallet(context.Background(), user)
	if err != nil {
		test.Fatalf("get or create: %v", err)
	}
	if wallet.Balance != 0 || wallet.UserID != user {
		test.Fatalf("unexpected wallet %+v", wallet)
	}
	again, err := service.GetOrCreateWallet(context.Background(), user)
	if err != nil || again.ID != wallet.ID {
		test.Fatalf("expected same wallet, got %+v (%v)", again, err)
	}
}

func TestHistoryNewestFirstWithLimit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")
	mustCredit(test, service, user, 100, "evt_1")
	mustCredit(test, service, user, 200, "evt_2")
	mustCredit(test, service, user, 300, "evt_3")

	history, err := service.History(context.Background(), user, HistoryCursor{}, 2)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].ReferenceID.String() != "evt_3" || history[1].ReferenceID.String() != "evt_2" {
		test.Fatalf("unexpected history %+v", history)
	}

	next, err := service.History(context.Background(), user, history[1].Cursor(), 2)
	if err != nil {
		test.Fatalf("next page: %v", err)
	}
	if len(next) != 1 || next[0].ReferenceID.String() != "evt_1" {
		test.Fatalf("expected the remaining row on the next page, got %+v", next)
	}
}

func TestHistoryLimitsAndMissingWallet(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newStubStore(test))
	user := mustUserID(test, "user-1")
	for _, limit := range []int{-1, maxHistoryLimit + 1} {
		if _, err := service.History(context.Background(), user, HistoryCursor{}, limit); !errors.Is(err, ErrInvalidHistoryLimit) {
			test.Fatalf("limit %d: expected ErrInvalidHistoryLimit, got %v", limit, err)
		}
	}
	halfCursors := []HistoryCursor{{CreatedAt: fixedNow}, {TransactionID: TransactionID{value: "txn-001"}}}
	for _, cursor := range halfCursors {
		if _, err := service.History(context.Background(), user, cursor, 0); !errors.Is(err, ErrInvalidHistoryCursor) {
			test.Fatalf("cursor %+v: expected ErrInvalidHistoryCursor, got %v", cursor, err)
		}
	}
	history, err := service.History(context.Background(), user, HistoryCursor{}, 0)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		test.Fatalf("expected empty history, got %+v", history)
	}
}

func TestAuditReportsDriftedWallets(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	healthy := mustUserID(test, "user-1")
	drifted := mustUserID(test, "user-2")
	mustCredit(test, service, healthy, 100, "evt_1")
	mustCredit(test, service, drifted, 100, "evt_2")
	store.corruptBalance(test, drifted, 40)

	discrepancies, err := service.Audit(context.Background(), 1)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if len(discrepancies) != 1 {
		test.Fatalf("expected one discrepancy, got %+v", discrepancies)
	}
	if discrepancies[0].UserID != drifted || discrepancies[0].StoredBalance != 40 || discrepancies[0].LedgerSum != 100 {
		test.Fatalf("unexpected discrepancy %+v", discrepancies[0])
	}
}

func TestStoreErrorsPropagate(test *testing.T) {
	test.Parallel()
	storeFailure := errors.New("store failure")
	cases := []struct {
		name      string
		configure func(*stubStore)
	}{
		{name: "lock", configure: func(store *stubStore) { store.lockWalletError = storeFailure }},
		{name: "find", configure: func(store *stubStore) { store.findError = storeFailure }},
		{name: "insert", configure: func(store *stubStore) { store.insertError = storeFailure }},
		{name: "update", configure: func(store *stubStore) { store.updateError = storeFailure }},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			service := mustNewService(test, store)
			user := mustUserID(test, "user-1")
			mustCredit(test, service, user, 100, "seed")
			tc.configure(store)
			_, err := service.Debit(context.Background(), user, mustPositiveAmount(test, 10), mustReferenceID(test, "ship_1"), Description{})
			if !errors.Is(err, storeFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
			if wallet := store.walletFor(test, user); wallet.Balance != 100 {
				test.Fatalf("expected rollback to keep balance 100, got %d", wallet.Balance)
			}
		})
	}
}

func TestReceiptsReportDuplicates(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	user := mustUserID(test, "user-1")

	first, err := service.CreditWithReceipt(context.Background(), user, mustPositiveAmount(test, 500), mustReferenceID(test, "evt_1"), Description{})
	if err != nil || first.Duplicate || first.Wallet.Balance != 500 {
		test.Fatalf("unexpected first receipt %+v (%v)", first, err)
	}
	second, err := service.CreditWithReceipt(context.Background(), user, mustPositiveAmount(test, 500), mustReferenceID(test, "evt_1"), Description{})
	if err != nil || !second.Duplicate || second.Wallet.Balance != 500 {
		test.Fatalf("unexpected duplicate receipt %+v (%v)", second, err)
	}
	debit, err := service.DebitWithReceipt(context.Background(), user, mustPositiveAmount(test, 200), mustReferenceID(test, "evt_1"), Description{})
	if err != nil || debit.Duplicate || debit.Wallet.Balance != 300 {
		test.Fatalf("expected reference scoped by kind, got %+v (%v)", debit, err)
	}
}
