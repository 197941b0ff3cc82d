package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

// stubStore is an in-memory Store. Transactions are serialized and rolled back
// by restoring a snapshot when fn fails.
type stubStore struct {
	txMutex   sync.Mutex
	dataMutex sync.Mutex

	wallets      map[string]Wallet
	transactions []Transaction
	sequence     int

	versionConflicts   int
	insertConflictOnce bool

	getWalletError  error
	lockWalletError error
	findError       error
	insertError     error
	updateError     error
	listError       error
	sumError        error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{wallets: map[string]Wallet{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()

	store.dataMutex.Lock()
	walletSnapshot := make(map[string]Wallet, len(store.wallets))
	for key, wallet := range store.wallets {
		walletSnapshot[key] = wallet
	}
	transactionSnapshot := append([]Transaction(nil), store.transactions...)
	store.dataMutex.Unlock()

	if err := fn(ctx, store); err != nil {
		store.dataMutex.Lock()
		store.wallets = walletSnapshot
		store.transactions = transactionSnapshot
		store.dataMutex.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateWallet(_ context.Context, userID UserID, currency Currency) (Wallet, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.getWalletError != nil {
		return Wallet{}, store.getWalletError
	}
	if wallet, ok := store.wallets[userID.String()]; ok {
		return wallet, nil
	}
	store.sequence++
	wallet := Wallet{
		ID:        WalletID{value: fmt.Sprintf("wallet-%03d", store.sequence)},
		UserID:    userID,
		Currency:  currency,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	store.wallets[userID.String()] = wallet
	return wallet, nil
}

func (store *stubStore) GetWallet(_ context.Context, userID UserID) (Wallet, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.getWalletError != nil {
		return Wallet{}, store.getWalletError
	}
	wallet, ok := store.wallets[userID.String()]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (store *stubStore) LockWallet(_ context.Context, walletID WalletID) (Wallet, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.lockWalletError != nil {
		return Wallet{}, store.lockWalletError
	}
	for _, wallet := range store.wallets {
		if wallet.ID == walletID {
			return wallet, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *stubStore) FindTransaction(_ context.Context, walletID WalletID, kind TransactionKind, referenceID ReferenceID) (Transaction, bool, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.findError != nil {
		return Transaction{}, false, store.findError
	}
	for _, transaction := range store.transactions {
		if transaction.WalletID == walletID && transaction.Kind == kind && transaction.ReferenceID == referenceID {
			return transaction, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (store *stubStore) InsertTransaction(_ context.Context, input TransactionInput) (Transaction, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.insertError != nil {
		return Transaction{}, store.insertError
	}
	if store.insertConflictOnce {
		store.insertConflictOnce = false
		return Transaction{}, WrapError("store", "transaction", "duplicate", ErrDuplicateReference)
	}
	for _, transaction := range store.transactions {
		if transaction.WalletID == input.WalletID() && transaction.Kind == input.Kind() && transaction.ReferenceID == input.ReferenceID() {
			return Transaction{}, WrapError("store", "transaction", "duplicate", ErrDuplicateReference)
		}
	}
	store.sequence++
	transaction := Transaction{
		ID:          TransactionID{value: fmt.Sprintf("txn-%03d", store.sequence)},
		WalletID:    input.WalletID(),
		Kind:        input.Kind(),
		Amount:      input.Amount(),
		ReferenceID: input.ReferenceID(),
		Description: input.Description(),
		Status:      StatusCompleted,
		CreatedAt:   input.CreatedAt(),
	}
	store.transactions = append(store.transactions, transaction)
	return transaction, nil
}

func (store *stubStore) UpdateBalance(_ context.Context, walletID WalletID, expectedVersion int64, balance AmountCents) (Wallet, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.updateError != nil {
		return Wallet{}, store.updateError
	}
	if store.versionConflicts > 0 {
		store.versionConflicts--
		return Wallet{}, WrapError("store", "wallet", "update_balance", ErrVersionConflict)
	}
	for key, wallet := range store.wallets {
		if wallet.ID != walletID {
			continue
		}
		if wallet.Version != expectedVersion {
			return Wallet{}, WrapError("store", "wallet", "update_balance", ErrVersionConflict)
		}
		wallet.Balance = balance
		wallet.Version++
		store.wallets[key] = wallet
		return wallet, nil
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *stubStore) ListTransactions(_ context.Context, walletID WalletID, cursor HistoryCursor, limit int) ([]Transaction, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.listError != nil {
		return nil, store.listError
	}
	matched := []Transaction{}
	for _, transaction := range store.transactions {
		if transaction.WalletID == walletID && (cursor.IsZero() || historyBefore(transaction, cursor)) {
			matched = append(matched, transaction)
		}
	}
	sort.Slice(matched, func(left, right int) bool {
		return historyBefore(matched[right], matched[left].Cursor())
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// historyBefore reports whether transaction sorts after cursor in newest-first order.
func historyBefore(transaction Transaction, cursor HistoryCursor) bool {
	if !transaction.CreatedAt.Equal(cursor.CreatedAt) {
		return transaction.CreatedAt.Before(cursor.CreatedAt)
	}
	return transaction.ID.String() < cursor.TransactionID.String()
}

func (store *stubStore) ListWallets(_ context.Context, after WalletID, limit int) ([]Wallet, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.listError != nil {
		return nil, store.listError
	}
	wallets := []Wallet{}
	for _, wallet := range store.wallets {
		if wallet.ID.String() > after.String() {
			wallets = append(wallets, wallet)
		}
	}
	sort.Slice(wallets, func(left, right int) bool { return wallets[left].ID.String() < wallets[right].ID.String() })
	if len(wallets) > limit {
		wallets = wallets[:limit]
	}
	return wallets, nil
}

func (store *stubStore) SumTransactions(_ context.Context, walletID WalletID) (int64, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.sumError != nil {
		return 0, store.sumError
	}
	var sum int64
	for _, transaction := range store.transactions {
		if transaction.WalletID == walletID {
			sum += transaction.Amount.Int64()
		}
	}
	return sum, nil
}

func (store *stubStore) walletFor(test *testing.T, userID UserID) Wallet {
	test.Helper()
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	wallet, ok := store.wallets[userID.String()]
	if !ok {
		test.Fatalf("wallet for %s not found", userID.String())
	}
	return wallet
}

func (store *stubStore) transactionsFor(walletID WalletID, referenceID ReferenceID) []Transaction {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	matched := []Transaction{}
	for _, transaction := range store.transactions {
		if transaction.WalletID == walletID && transaction.ReferenceID == referenceID {
			matched = append(matched, transaction)
		}
	}
	return matched
}

func (store *stubStore) transactionCount() int {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	return len(store.transactions)
}

func (store *stubStore) corruptBalance(test *testing.T, userID UserID, balance AmountCents) {
	test.Helper()
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	wallet, ok := store.wallets[userID.String()]
	if !ok {
		test.Fatalf("wallet for %s not found", userID.String())
	}
	wallet.Balance = balance
	store.wallets[userID.String()] = wallet
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return fixedNow }, mustCurrency(test, "USD"), options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustReferenceID(test *testing.T, raw string) ReferenceID {
	test.Helper()
	value, err := NewReferenceID(raw)
	if err != nil {
		test.Fatalf("reference id: %v", err)
	}
	return value
}

func mustDescription(test *testing.T, raw string) Description {
	test.Helper()
	value, err := NewDescription(raw)
	if err != nil {
		test.Fatalf("description: %v", err)
	}
	return value
}

func mustCurrency(test *testing.T, raw string) Currency {
	test.Helper()
	value, err := NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return value
}

func mustPositiveAmount(test *testing.T, raw int64) PositiveAmountCents {
	test.Helper()
	value, err := NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustEntryAmount(test *testing.T, raw int64) EntryAmountCents {
	test.Helper()
	value, err := NewEntryAmountCents(raw)
	if err != nil {
		test.Fatalf("entry amount: %v", err)
	}
	return value
}

func mustCredit(test *testing.T, service *Service, userID UserID, cents int64, reference string) Wallet {
	test.Helper()
	wallet, err := service.Credit(context.Background(), userID, mustPositiveAmount(test, cents), mustReferenceID(test, reference), mustDescription(test, "seed"))
	if err != nil {
		test.Fatalf("credit %s: %v", reference, err)
	}
	return wallet
}
