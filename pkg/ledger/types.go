package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	minorUnitExponent    = -2
	maxReferenceIDLength = 128
	maxDescriptionLength = 255
)

// AmountCents is a non-negative amount in minor currency units.
type AmountCents int64

// PositiveAmountCents is a strictly positive amount used for mutations.
type PositiveAmountCents int64

// EntryAmountCents is a signed, non-zero ledger delta.
type EntryAmountCents int64

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// WalletID identifies a wallet row.
type WalletID struct {
	value string
}

// TransactionID identifies a ledger row.
type TransactionID struct {
	value string
}

// ReferenceID is the external correlation key used for duplicate detection.
type ReferenceID struct {
	value string
}

// Description is a short human readable note stored with a transaction.
type Description struct {
	value string
}

// Currency is an upper-case ISO 4217 code.
type Currency struct {
	value string
}

// TransactionKind enumerates ledger row kinds.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "DEPOSIT"
	KindPayment    TransactionKind = "PAYMENT"
	KindRefund     TransactionKind = "REFUND"
	KindAdjustment TransactionKind = "ADJUSTMENT"
)

// TransactionStatus enumerates ledger row states. Only settled rows exist.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "COMPLETED"
)

// Wallet is the stored balance projection for a user.
type Wallet struct {
	ID        WalletID
	UserID    UserID
	Balance   AmountCents
	Currency  Currency
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is a single immutable ledger row.
type Transaction struct {
	ID          TransactionID
	WalletID    WalletID
	Kind        TransactionKind
	Amount      EntryAmountCents
	ReferenceID ReferenceID
	Description Description
	Status      TransactionStatus
	CreatedAt   time.Time
}

// HistoryCursor is a position in a wallet's newest-first history, ordered by
// creation time and then transaction id. The zero cursor starts at the newest row.
type HistoryCursor struct {
	CreatedAt     time.Time
	TransactionID TransactionID
}

// IsZero reports whether the cursor starts at the newest row.
func (cursor HistoryCursor) IsZero() bool {
	return cursor.CreatedAt.IsZero() && cursor.TransactionID.IsZero()
}

// Cursor returns the position immediately after transaction.
func (transaction Transaction) Cursor() HistoryCursor {
	return HistoryCursor{CreatedAt: transaction.CreatedAt, TransactionID: transaction.ID}
}

// TransactionInput is a validated row waiting to be inserted.
type TransactionInput struct {
	walletID    WalletID
	kind        TransactionKind
	amount      EntryAmountCents
	referenceID ReferenceID
	description Description
	createdAt   time.Time
}

// Discrepancy reports a wallet whose balance disagrees with its ledger rows.
type Discrepancy struct {
	WalletID      WalletID
	UserID        UserID
	StoredBalance AmountCents
	LedgerSum     int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateWallet(ctx context.Context, userID UserID, currency Currency) (Wallet, error)
	GetWallet(ctx context.Context, userID UserID) (Wallet, error)
	LockWallet(ctx context.Context, walletID WalletID) (Wallet, error)
	FindTransaction(ctx context.Context, walletID WalletID, kind TransactionKind, referenceID ReferenceID) (Transaction, bool, error)
	InsertTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	UpdateBalance(ctx context.Context, walletID WalletID, expectedVersion int64, balance AmountCents) (Wallet, error)
	// ListTransactions returns rows strictly after cursor in newest-first order.
	ListTransactions(ctx context.Context, walletID WalletID, cursor HistoryCursor, limit int) ([]Transaction, error)
	ListWallets(ctx context.Context, after WalletID, limit int) ([]Wallet, error)
	SumTransactions(ctx context.Context, walletID WalletID) (int64, error)
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewWalletID validates a wallet id.
func NewWalletID(raw string) (WalletID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WalletID{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return WalletID{value: trimmed}, nil
}

// String returns the identifier.
func (id WalletID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id WalletID) IsZero() bool {
	return id.value == ""
}

// NewTransactionID validates a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the identifier.
func (id TransactionID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id TransactionID) IsZero() bool {
	return id.value == ""
}

// NewReferenceID validates an external correlation key.
func NewReferenceID(raw string) (ReferenceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReferenceID{}, fmt.Errorf("%w: empty value", ErrInvalidReferenceID)
	}
	if len(trimmed) > maxReferenceIDLength {
		return ReferenceID{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidReferenceID, maxReferenceIDLength)
	}
	return ReferenceID{value: trimmed}, nil
}

// String returns the key.
func (id ReferenceID) String() string {
	return id.value
}

// NewDescription trims and bounds a description. Empty descriptions are allowed.
func NewDescription(raw string) (Description, error) {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
		return Description{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidDescription, maxDescriptionLength)
	}
	return Description{value: trimmed}, nil
}

// String returns the description.
func (description Description) String() string {
	return description.value
}

// NewCurrency validates a three letter currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	for _, letter := range normalized {
		if letter < 'A' || letter > 'Z' {
			return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
		}
	}
	return Currency{value: normalized}, nil
}

// String returns the code.
func (currency Currency) String() string {
	return currency.value
}

// NewAmountCents validates a balance value.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidBalance)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw minor units.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Decimal renders the amount in major units.
func (amount AmountCents) Decimal() decimal.Decimal {
	return decimal.New(int64(amount), minorUnitExponent)
}

// String renders the amount with two decimals.
func (amount AmountCents) String() string {
	return amount.Decimal().StringFixed(-minorUnitExponent)
}

// NewPositiveAmountCents validates a mutation amount.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	if raw > maxAmountCents {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmountCents)
	}
	return PositiveAmountCents(raw), nil
}

// PositiveAmountFromDecimal converts a major-unit amount into minor units.
// Amounts with sub-cent precision are rejected rather than rounded.
func PositiveAmountFromDecimal(amount decimal.Decimal) (PositiveAmountCents, error) {
	scaled := amount.Shift(-minorUnitExponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than two decimal places", ErrInvalidAmountCents)
	}
	if scaled.Cmp(decimal.NewFromInt(maxAmountCents)) > 0 {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmountCents)
	}
	return NewPositiveAmountCents(scaled.IntPart())
}

// Int64 returns the raw minor units.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// ToAmountCents widens the amount.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// ToEntryAmountCents converts the amount into a credit delta.
func (amount PositiveAmountCents) ToEntryAmountCents() EntryAmountCents {
	return EntryAmountCents(amount)
}

// NewEntryAmountCents validates a signed delta.
func NewEntryAmountCents(raw int64) (EntryAmountCents, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must not be zero", ErrInvalidEntryAmountCents)
	}
	if raw > maxAmountCents || raw < -maxAmountCents {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidEntryAmountCents)
	}
	return EntryAmountCents(raw), nil
}

// Int64 returns the raw delta.
func (amount EntryAmountCents) Int64() int64 {
	return int64(amount)
}

// Negated flips the sign of the delta.
func (amount EntryAmountCents) Negated() EntryAmountCents {
	return -amount
}

// Magnitude returns the absolute value as an AmountCents.
func (amount EntryAmountCents) Magnitude() AmountCents {
	if amount < 0 {
		return AmountCents(-amount)
	}
	return AmountCents(amount)
}

// ParseTransactionKind validates a stored kind.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	kind := TransactionKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case KindDeposit, KindPayment, KindRefund, KindAdjustment:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
	}
}

// String returns the stored representation.
func (kind TransactionKind) String() string {
	return string(kind)
}

// ParseTransactionStatus validates a stored status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	status := TransactionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if status != StatusCompleted {
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
	}
	return status, nil
}

// String returns the stored representation.
func (status TransactionStatus) String() string {
	return string(status)
}

// NewTransactionInput validates a row before insertion. The sign of amount
// must agree with kind: deposits and refunds credit, payments debit,
// adjustments may go either way.
func NewTransactionInput(walletID WalletID, kind TransactionKind, amount EntryAmountCents, referenceID ReferenceID, description Description, createdAt time.Time) (TransactionInput, error) {
	if walletID.IsZero() {
		return TransactionInput{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	if _, err := ParseTransactionKind(kind.String()); err != nil {
		return TransactionInput{}, err
	}
	if amount == 0 {
		return TransactionInput{}, fmt.Errorf("%w: must not be zero", ErrInvalidEntryAmountCents)
	}
	switch kind {
	case KindDeposit, KindRefund:
		if amount < 0 {
			return TransactionInput{}, fmt.Errorf("%w: %s must be positive", ErrInvalidEntryAmountCents, kind)
		}
	case KindPayment:
		if amount > 0 {
			return TransactionInput{}, fmt.Errorf("%w: %s must be negative", ErrInvalidEntryAmountCents, kind)
		}
	}
	if referenceID.String() == "" {
		return TransactionInput{}, fmt.Errorf("%w: empty value", ErrInvalidReferenceID)
	}
	return TransactionInput{
		walletID:    walletID,
		kind:        kind,
		amount:      amount,
		referenceID: referenceID,
		description: description,
		createdAt:   createdAt.UTC(),
	}, nil
}

// WalletID returns the owning wallet.
func (input TransactionInput) WalletID() WalletID {
	return input.walletID
}

// Kind returns the row kind.
func (input TransactionInput) Kind() TransactionKind {
	return input.kind
}

// Amount returns the signed delta.
func (input TransactionInput) Amount() EntryAmountCents {
	return input.amount
}

// ReferenceID returns the correlation key.
func (input TransactionInput) ReferenceID() ReferenceID {
	return input.referenceID
}

// Description returns the note.
func (input TransactionInput) Description() Description {
	return input.description
}

// CreatedAt returns the insertion timestamp.
func (input TransactionInput) CreatedAt() time.Time {
	return input.createdAt
}
