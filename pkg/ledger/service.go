package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Service contains the wallet domain logic over a Store. It is the only
// component that changes a wallet balance.
type Service struct {
	store       Store
	nowFn       func() time.Time
	currency    Currency
	maxAttempts int
	logger      OperationLogger
}

type mutation struct {
	operation    string
	userID       UserID
	kind         TransactionKind
	delta        EntryAmountCents
	referenceID  ReferenceID
	description  Description
	createWallet bool
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, currency Currency, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if currency.String() == "" {
		return nil, fmt.Errorf("%w: currency is empty", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, currency: currency, maxAttempts: defaultMaxAttempts}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Currency returns the deployment currency.
func (service *Service) Currency() Currency {
	return service.currency
}

// GetOrCreateWallet returns the user's wallet, creating an empty one on first access.
func (service *Service) GetOrCreateWallet(ctx context.Context, userID UserID) (Wallet, error) {
	return service.store.GetOrCreateWallet(ctx, userID, service.currency)
}

// GetWallet returns an existing wallet or ErrWalletNotFound.
func (service *Service) GetWallet(ctx context.Context, userID UserID) (Wallet, error) {
	return service.store.GetWallet(ctx, userID)
}

// Receipt is the outcome of a referenced mutation. Duplicate is set when the
// reference was already applied and the wallet was left unchanged.
type Receipt struct {
	Wallet    Wallet
	Duplicate bool
}

// Credit deposits funds. A repeated referenceID is a no-op returning the current wallet.
func (service *Service) Credit(ctx context.Context, userID UserID, amount PositiveAmountCents, referenceID ReferenceID, description Description) (Wallet, error) {
	receipt, err := service.CreditWithReceipt(ctx, userID, amount, referenceID, description)
	return receipt.Wallet, err
}

// CreditWithReceipt is Credit reporting whether the reference was a duplicate.
func (service *Service) CreditWithReceipt(ctx context.Context, userID UserID, amount PositiveAmountCents, referenceID ReferenceID, description Description) (Receipt, error) {
	return service.mutate(ctx, mutation{
		operation:    operationCredit,
		userID:       userID,
		kind:         KindDeposit,
		delta:        amount.ToEntryAmountCents(),
		referenceID:  referenceID,
		description:  description,
		createWallet: true,
	})
}

// Debit withdraws funds from an existing wallet, failing with ErrInsufficientFunds
// when the locked balance does not cover the amount.
func (service *Service) Debit(ctx context.Context, userID UserID, amount PositiveAmountCents, referenceID ReferenceID, description Description) (Wallet, error) {
	receipt, err := service.DebitWithReceipt(ctx, userID, amount, referenceID, description)
	return receipt.Wallet, err
}

// DebitWithReceipt is Debit reporting whether the reference was a duplicate.
func (service *Service) DebitWithReceipt(ctx context.Context, userID UserID, amount PositiveAmountCents, referenceID ReferenceID, description Description) (Receipt, error) {
	return service.mutate(ctx, mutation{
		operation:   operationDebit,
		userID:      userID,
		kind:        KindPayment,
		delta:       amount.ToEntryAmountCents().Negated(),
		referenceID: referenceID,
		description: description,
	})
}

// Refund returns funds to an existing wallet.
func (service *Service) Refund(ctx context.Context, userID UserID, amount PositiveAmountCents, referenceID ReferenceID, description Description) (Wallet, error) {
	receipt, err := service.RefundWithReceipt(ctx, userID, amount, referenceID, description)
	return receipt.Wallet, err
}

// RefundWithReceipt is Refund reporting whether the reference was a duplicate.
func (service *Service) RefundWithReceipt(ctx context.Context, userID UserID, amount PositiveAmountCents, referenceID ReferenceID, description Description) (Receipt, error) {
	return service.mutate(ctx, mutation{
		operation:   operationRefund,
		userID:      userID,
		kind:        KindRefund,
		delta:       amount.ToEntryAmountCents(),
		referenceID: referenceID,
		description: description,
	})
}

// Adjust applies a signed correction. Negative adjustments obey the same
// non-negative balance rule as debits.
func (service *Service) Adjust(ctx context.Context, userID UserID, amount EntryAmountCents, referenceID ReferenceID, description Description) (Wallet, error) {
	receipt, err := service.mutate(ctx, mutation{
		operation:    operationAdjust,
		userID:       userID,
		kind:         KindAdjustment,
		delta:        amount,
		referenceID:  referenceID,
		description:  description,
		createWallet: amount > 0,
	})
	return receipt.Wallet, err
}

func (service *Service) mutate(ctx context.Context, request mutation) (Receipt, error) {
	var (
		wallet    Wallet
		duplicate bool
		attempts  int
		err       error
	)
	for attempts = 1; ; attempts++ {
		wallet, duplicate, err = service.mutateOnce(ctx, request)
		if err == nil || !isRetryableStoreError(err) {
			break
		}
		if attempts >= service.maxAttempts || ctx.Err() != nil {
			err = WrapError(errorOperationService, errorSubjectWallet, errorCodeRetries, fmt.Errorf("%w: %w", ErrConcurrentModification, err))
			break
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:   request.operation,
		UserID:      request.userID,
		Kind:        request.kind,
		Amount:      request.delta,
		ReferenceID: request.referenceID,
		Balance:     wallet.Balance,
		Duplicate:   duplicate,
		Attempts:    attempts,
		Error:       err,
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Wallet: wallet, Duplicate: duplicate}, nil
}

func (service *Service) mutateOnce(ctx context.Context, request mutation) (Wallet, bool, error) {
	var (
		result    Wallet
		duplicate bool
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		wallet, err := service.resolveWallet(ctx, transactionStore, request)
		if err != nil {
			return err
		}
		locked, err := transactionStore.LockWallet(ctx, wallet.ID)
		if err != nil {
			return err
		}
		_, found, err := transactionStore.FindTransaction(ctx, locked.ID, request.kind, request.referenceID)
		if err != nil {
			return err
		}
		if found {
			duplicate = true
			result = locked
			return nil
		}
		updatedBalance, err := applyDelta(locked.Balance, request.delta)
		if err != nil {
			return err
		}
		input, err := NewTransactionInput(locked.ID, request.kind, request.delta, request.referenceID, request.description, service.nowFn())
		if err != nil {
			return err
		}
		if _, err := transactionStore.InsertTransaction(ctx, input); err != nil {
			return err
		}
		updated, err := transactionStore.UpdateBalance(ctx, locked.ID, locked.Version, updatedBalance)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if errors.Is(operationError, ErrDuplicateReference) {
		// Another writer committed the same reference between our check and insert.
		wallet, err := service.store.GetWallet(ctx, request.userID)
		if err != nil {
			return Wallet{}, false, err
		}
		return wallet, true, nil
	}
	if operationError != nil {
		return Wallet{}, false, operationError
	}
	return result, duplicate, nil
}

func (service *Service) resolveWallet(ctx context.Context, transactionStore Store, request mutation) (Wallet, error) {
	if request.createWallet {
		return transactionStore.GetOrCreateWallet(ctx, request.userID, service.currency)
	}
	return transactionStore.GetWallet(ctx, request.userID)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func applyDelta(balance AmountCents, delta EntryAmountCents) (AmountCents, error) {
	if delta > 0 && balance.Int64() > math.MaxInt64-delta.Int64() {
		return 0, fmt.Errorf("%w: balance %s cannot absorb %s", ErrInvalidBalance, balance.String(), delta.Magnitude().String())
	}
	updated := balance.Int64() + delta.Int64()
	if updated < 0 {
		return 0, fmt.Errorf("%w: balance %s does not cover %s", ErrInsufficientFunds, balance.String(), delta.Magnitude().String())
	}
	return NewAmountCents(updated)
}

func isRetryableStoreError(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSerializationFailure)
}
