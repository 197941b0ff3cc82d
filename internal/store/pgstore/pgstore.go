package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintWalletReference = "uniq_wallet_kind_reference"
	pgUniqueViolationCode     = "23505"
	pgSerializationFailure    = "40001"
	pgDeadlockDetected        = "40P01"
	nilWalletID               = "00000000-0000-0000-0000-000000000000"
	errorOperationStore       = "store"
	errorSubjectWallet        = "wallet"
	errorSubjectTransaction   = "transaction"
	errorCodeBegin            = "begin"
	errorCodeCommit           = "commit"
	errorCodeCreate           = "create"
	errorCodeDuplicate        = "duplicate"
	errorCodeInsert           = "insert"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeLock             = "lock"
	errorCodeLookup           = "lookup"
	errorCodeSerialization    = "serialization"
	errorCodeSum              = "sum"
	errorCodeUpdateBalance    = "update_balance"

	walletColumns      = `wallet_id::text, user_id, balance_cents, currency, version, created_at, updated_at`
	transactionColumns = `transaction_id::text, wallet_id::text, kind, amount_cents, reference_id, description, status, created_at`

	sqlInsertWallet = `
		insert into wallets(wallet_id, user_id, balance_cents, currency, version, created_at, updated_at)
		values ($1, $2, 0, $3, 0, now(), now())
		on conflict (user_id) do nothing
	`

	sqlSelectWalletByUser = `select ` + walletColumns + ` from wallets where user_id = $1`

	sqlLockWallet = `select ` + walletColumns + ` from wallets where wallet_id = $1 for update`

	sqlSelectTransaction = `
		select ` + transactionColumns + `
		from wallet_transactions
		where wallet_id = $1 and kind = $2 and reference_id = $3
	`

	sqlInsertTransaction = `
		insert into wallet_transactions(transaction_id, wallet_id, kind, amount_cents, reference_id, description, status, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning ` + transactionColumns

	sqlUpdateBalance = `
		update wallets
		set balance_cents = $3, version = version + 1, updated_at = now()
		where wallet_id = $1 and version = $2
		returning ` + walletColumns

	sqlListTransactions = `
		select ` + transactionColumns + `
		from wallet_transactions
		where wallet_id = $1
		order by created_at desc, transaction_id desc
		limit $2
	`

	sqlListTransactionsAfterCursor = `
		select ` + transactionColumns + `
		from wallet_transactions
		where wallet_id = $1 and (created_at, transaction_id) < ($2, $3::uuid)
		order by created_at desc, transaction_id desc
		limit $4
	`

	sqlListWalletsAfter = `
		select ` + walletColumns + `
		from wallets
		where wallet_id > $1::uuid
		order by wallet_id
		limit $2
	`

	sqlSumTransactions = `select coalesce(sum(amount_cents),0)::bigint from wallet_transactions where wallet_id = $1`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

type queries struct {
	db querier
}

// New returns a Store backed by a pgx pool. The schema is the one created by
// gormstore.Migrate.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		if isRetryable(err) {
			return wrapStoreError(errorSubjectTransaction, errorCodeSerialization, fmt.Errorf("%w: %w", ledger.ErrSerializationFailure, err))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isRetryable(err) {
			return wrapStoreError(errorSubjectTransaction, errorCodeSerialization, fmt.Errorf("%w: %w", ledger.ErrSerializationFailure, err))
		}
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (queries queries) GetOrCreateWallet(ctx context.Context, userID ledger.UserID, currency ledger.Currency) (ledger.Wallet, error) {
	if _, err := queries.db.Exec(ctx, sqlInsertWallet, uuid.NewString(), userID.String(), currency.String()); err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return queries.GetWallet(ctx, userID)
}

func (queries queries) GetWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	wallet, err := scanWallet(queries.db.QueryRow(ctx, sqlSelectWalletByUser, userID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, ledger.ErrWalletNotFound)
	}
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	return wallet, nil
}

func (queries queries) LockWallet(ctx context.Context, walletID ledger.WalletID) (ledger.Wallet, error) {
	wallet, err := scanWallet(queries.db.QueryRow(ctx, sqlLockWallet, walletID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLock, ledger.ErrWalletNotFound)
	}
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLock, err)
	}
	return wallet, nil
}

func (queries queries) FindTransaction(ctx context.Context, walletID ledger.WalletID, kind ledger.TransactionKind, referenceID ledger.ReferenceID) (ledger.Transaction, bool, error) {
	transaction, err := scanTransaction(queries.db.QueryRow(ctx, sqlSelectTransaction, walletID.String(), kind.String(), referenceID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return transaction, true, nil
}

func (queries queries) InsertTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	createdAt := input.CreatedAt().UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	createdAt = createdAt.Truncate(time.Microsecond)
	transaction, err := scanTransaction(queries.db.QueryRow(ctx, sqlInsertTransaction,
		uuid.NewString(),
		input.WalletID().String(),
		input.Kind().String(),
		input.Amount().Int64(),
		input.ReferenceID().String(),
		input.Description().String(),
		ledger.StatusCompleted.String(),
		createdAt,
	))
	if isReferenceConflict(err) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return transaction, nil
}

func (queries queries) UpdateBalance(ctx context.Context, walletID ledger.WalletID, expectedVersion int64, balance ledger.AmountCents) (ledger.Wallet, error) {
	wallet, err := scanWallet(queries.db.QueryRow(ctx, sqlUpdateBalance, walletID.String(), expectedVersion, balance.Int64()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, ledger.ErrVersionConflict)
	}
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeUpdateBalance, err)
	}
	return wallet, nil
}

func (queries queries) ListTransactions(ctx context.Context, walletID ledger.WalletID, cursor ledger.HistoryCursor, limit int) ([]ledger.Transaction, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cursor.IsZero() {
		rows, err = queries.db.Query(ctx, sqlListTransactions, walletID.String(), limit)
	} else {
		rows, err = queries.db.Query(ctx, sqlListTransactionsAfterCursor, walletID.String(), cursor.CreatedAt.UTC(), cursor.TransactionID.String(), limit)
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions := make([]ledger.Transaction, 0, limit)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (queries queries) ListWallets(ctx context.Context, after ledger.WalletID, limit int) ([]ledger.Wallet, error) {
	cursor := nilWalletID
	if !after.IsZero() {
		cursor = after.String()
	}
	rows, err := queries.db.Query(ctx, sqlListWalletsAfter, cursor, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectWallet, errorCodeList, err)
	}
	defer rows.Close()
	wallets := make([]ledger.Wallet, 0, limit)
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectWallet, errorCodeList, err)
	}
	return wallets, nil
}

func (queries queries) SumTransactions(ctx context.Context, walletID ledger.WalletID) (int64, error) {
	var sum int64
	if err := queries.db.QueryRow(ctx, sqlSumTransactions, walletID.String()).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeSum, err)
	}
	return sum, nil
}

func scanWallet(row pgx.Row) (ledger.Wallet, error) {
	var (
		walletIDValue string
		userIDValue   string
		balanceValue  int64
		currencyValue string
		version       int64
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(&walletIDValue, &userIDValue, &balanceValue, &currencyValue, &version, &createdAt, &updatedAt); err != nil {
		return ledger.Wallet{}, err
	}
	walletID, err := ledger.NewWalletID(walletIDValue)
	if err != nil {
		return ledger.Wallet{}, err
	}
	userID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.Wallet{}, err
	}
	balance, err := ledger.NewAmountCents(balanceValue)
	if err != nil {
		return ledger.Wallet{}, err
	}
	currency, err := ledger.NewCurrency(currencyValue)
	if err != nil {
		return ledger.Wallet{}, err
	}
	return ledger.Wallet{
		ID:        walletID,
		UserID:    userID,
		Balance:   balance,
		Currency:  currency,
		Version:   version,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		transactionIDValue string
		walletIDValue      string
		kindValue          string
		amountValue        int64
		referenceValue     string
		descriptionValue   string
		statusValue        string
		createdAt          time.Time
	)
	if err := row.Scan(&transactionIDValue, &walletIDValue, &kindValue, &amountValue, &referenceValue, &descriptionValue, &statusValue, &createdAt); err != nil {
		return ledger.Transaction{}, err
	}
	transactionID, err := ledger.NewTransactionID(transactionIDValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	walletID, err := ledger.NewWalletID(walletIDValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	kind, err := ledger.ParseTransactionKind(kindValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := ledger.NewEntryAmountCents(amountValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	referenceID, err := ledger.NewReferenceID(referenceValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	description, err := ledger.NewDescription(descriptionValue)
	if err != nil {
		return ledger.Transaction{}, err
	}
	status, err := ledger.ParseTransactionStatus(statusValue)
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
		CreatedAt:   createdAt.UTC(),
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isReferenceConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintWalletReference
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}
