package ledger

import (
	"context"
	"errors"
	"fmt"
)

// History lists a user's transactions newest first, strictly after cursor.
// Pass the Cursor of the last row to fetch the next page. A zero limit uses
// the default page size.
func (service *Service) History(ctx context.Context, userID UserID, cursor HistoryCursor, limit int) ([]Transaction, error) {
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit < 0 || limit > maxHistoryLimit {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidHistoryLimit, maxHistoryLimit)
	}
	if !cursor.IsZero() && (cursor.CreatedAt.IsZero() || cursor.TransactionID.IsZero()) {
		return nil, fmt.Errorf("%w: needs both a timestamp and a transaction id", ErrInvalidHistoryCursor)
	}
	wallet, err := service.store.GetWallet(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return []Transaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, wallet.ID, cursor, limit)
}

// Audit recomputes every wallet's ledger sum under the wallet lock and reports
// wallets whose stored balance disagrees.
func (service *Service) Audit(ctx context.Context, batchSize int) ([]Discrepancy, error) {
	if batchSize <= 0 {
		batchSize = defaultAuditBatch
	}
	discrepancies := []Discrepancy{}
	after := WalletID{}
	for {
		wallets, err := service.store.ListWallets(ctx, after, batchSize)
		if err != nil {
			return nil, err
		}
		for _, wallet := range wallets {
			discrepancy, mismatched, err := service.auditWallet(ctx, wallet.ID)
			if err != nil {
				return nil, err
			}
			if mismatched {
				discrepancies = append(discrepancies, discrepancy)
			}
		}
		if len(wallets) < batchSize {
			return discrepancies, nil
		}
		after = wallets[len(wallets)-1].ID
	}
}

func (service *Service) auditWallet(ctx context.Context, walletID WalletID) (Discrepancy, bool, error) {
	var (
		discrepancy Discrepancy
		mismatched  bool
	)
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := transactionStore.LockWallet(ctx, walletID)
		if err != nil {
			return err
		}
		sum, err := transactionStore.SumTransactions(ctx, walletID)
		if err != nil {
			return err
		}
		if sum != locked.Balance.Int64() {
			mismatched = true
			discrepancy = Discrepancy{
				WalletID:      locked.ID,
				UserID:        locked.UserID,
				StoredBalance: locked.Balance,
				LedgerSum:     sum,
			}
		}
		return nil
	})
	return discrepancy, mismatched, err
}

// FindTransaction returns the user's row for kind and referenceID, if any.
func (service *Service) FindTransaction(ctx context.Context, userID UserID, kind TransactionKind, referenceID ReferenceID) (Transaction, bool, error) {
	wallet, err := service.store.GetWallet(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return service.store.FindTransaction(ctx, wallet.ID, kind, referenceID)
}
