package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore returns a LedgerStore backed by db.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx executes fn within a transaction. Serialization failures and lock
// timeouts are reported as ledger.ErrSerializationFailure so the service retries.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
	if isRetryable(err) && !errors.Is(err, ledger.ErrSerializationFailure) {
		return wrapStoreError(errorSubjectTransaction, errorCodeSerialization, fmt.Errorf("%w: %w", ledger.ErrSerializationFailure, err))
	}
	return err
}

func (store *LedgerStore) GetOrCreateWallet(ctx context.Context, userID ledger.UserID, currency ledger.Currency) (ledger.Wallet, error) {
	now := time.Now().UTC()
	candidate := Wallet{UserID: userID.String(), Currency: currency.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&candidate).Error
	if err != nil {
		if isRetryable(err) {
			return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, fmt.Errorf("%w: %w", ledger.ErrSerializationFailure, err))
		}
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return store.GetWallet(ctx, userID)
}

func (store *LedgerStore) GetWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	var row Wallet
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, ledger.ErrWalletNotFound)
	}
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	return mapWallet(row)
}

func (store *LedgerStore) LockWallet(ctx context.Context, walletID ledger.WalletID) (ledger.Wallet, error) {
	var row Wallet
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("wallet_id = ?", walletID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLock, ledger.ErrWalletNotFound)
	}
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLock, err)
	}
	return mapWallet(row)
}

func (store *LedgerStore) FindTransaction(ctx context.Context, walletID ledger.WalletID, kind ledger.TransactionKind, referenceID ledger.ReferenceID) (ledger.Transaction, bool, error) {
	var row WalletTransaction
	err := store.db.WithContext(ctx).
		Where("wallet_id = ? AND kind = ? AND reference_id = ?", walletID.String(), kind.String(), referenceID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, true, nil
}

func (store *LedgerStore) InsertTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	row := WalletTransaction{
		WalletID:    input.WalletID().String(),
		Kind:        input.Kind().String(),
		ReferenceID: input.ReferenceID().String(),
		AmountCents: input.Amount().Int64(),
		Description: input.Description().String(),
		Status:      ledger.StatusCompleted.String(),
		CreatedAt:   input.CreatedAt().UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	// Stored at microsecond precision so history cursors compare equal on every backend.
	row.CreatedAt = row.CreatedAt.Truncate(time.Microsecond)
	err := store.db.WithContext(ctx).Create(&row).Error
	if isReferenceConflict(err) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *LedgerStore) UpdateBalance(ctx context.Context, walletID ledger.WalletID, expectedVersion int64, balance ledger.AmountCents) (ledger.Wallet, error) {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("wallet_id = ? AND version = ?", walletID.String(), expectedVersion).
		Updates(map[string]interface{}{
			"balance_cents": balance.Int64(),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, ledger.ErrVersionConflict)
	}
	var row Wallet
	if err := store.db.WithContext(ctx).Where("wallet_id = ?", walletID.String()).Take(&row).Error; err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	return mapWallet(row)
}

func (store *LedgerStore) ListTransactions(ctx context.Context, walletID ledger.WalletID, cursor ledger.HistoryCursor, limit int) ([]ledger.Transaction, error) {
	query := store.db.WithContext(ctx).Where("wallet_id = ?", walletID.String())
	if !cursor.IsZero() {
		createdAt := cursor.CreatedAt.UTC()
		query = query.Where("created_at < ? OR (created_at = ? AND transaction_id < ?)", createdAt, createdAt, cursor.TransactionID.String())
	}
	var rows []WalletTransaction
	err := query.
		Order("created_at DESC").
		Order("transaction_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *LedgerStore) ListWallets(ctx context.Context, after ledger.WalletID, limit int) ([]ledger.Wallet, error) {
	query := store.db.WithContext(ctx).Order("wallet_id ASC").Limit(limit)
	if !after.IsZero() {
		query = query.Where("wallet_id > ?", after.String())
	}
	var rows []Wallet
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectWallet, errorCodeList, err)
	}
	wallets := make([]ledger.Wallet, 0, len(rows))
	for _, row := range rows {
		wallet, err := mapWallet(row)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, wallet)
	}
	return wallets, nil
}

func (store *LedgerStore) SumTransactions(ctx context.Context, walletID ledger.WalletID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("wallet_id = ?", walletID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeSum, err)
	}
	return sum.Total, nil
}

type sqlSum struct {
	Total int64
}

func mapWallet(row Wallet) (ledger.Wallet, error) {
	walletID, err := ledger.NewWalletID(row.WalletID)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	balance, err := ledger.NewAmountCents(row.BalanceCents)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	currency, err := ledger.NewCurrency(row.Currency)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return ledger.Wallet{
		ID:        walletID,
		UserID:    userID,
		Balance:   balance,
		Currency:  currency,
		Version:   row.Version,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func mapTransaction(row WalletTransaction) (ledger.Transaction, error) {
	transactionID, err := ledger.NewTransactionID(row.TransactionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	walletID, err := ledger.NewWalletID(row.WalletID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	kind, err := ledger.ParseTransactionKind(row.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := ledger.NewEntryAmountCents(row.AmountCents)
	if err != nil {
		return ledger.Transaction{}, err
	}
	referenceID, err := ledger.NewReferenceID(row.ReferenceID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	description, err := ledger.NewDescription(row.Description)
	if err != nil {
		return ledger.Transaction{}, err
	}
	status, err := ledger.ParseTransactionStatus(row.Status)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:          transactionID,
		WalletID:    walletID,
		Kind:        kind,
		Amount:      amount,
		ReferenceID: referenceID,
		Description: description,
		Status:      status,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}
