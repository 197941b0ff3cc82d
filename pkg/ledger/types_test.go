package ledger

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewUserID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewUserID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestNewReferenceID(t *testing.T) {
	t.Parallel()
	if _, err := NewReferenceID(""); !errors.Is(err, ErrInvalidReferenceID) {
		t.Fatalf("expected ErrInvalidReferenceID, got %v", err)
	}
	if _, err := NewReferenceID(strings.Repeat("r", maxReferenceIDLength+1)); !errors.Is(err, ErrInvalidReferenceID) {
		t.Fatalf("expected ErrInvalidReferenceID for long value, got %v", err)
	}
	value, err := NewReferenceID(" evt_1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.String() != "evt_1" {
		t.Fatalf("expected trimmed reference, got %q", value.String())
	}
}

func TestNewCurrency(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input   string
		wantVal string
		wantErr bool
	}{
		{input: "usd", wantVal: "USD"},
		{input: " EUR ", wantVal: "EUR"},
		{input: "US", wantErr: true},
		{input: "U5D", wantErr: true},
	}
	for _, tc := range cases {
		value, err := NewCurrency(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidCurrency) {
				t.Fatalf("%q: expected ErrInvalidCurrency, got %v", tc.input, err)
			}
			continue
		}
		if err != nil || value.String() != tc.wantVal {
			t.Fatalf("%q: expected %q, got %q (%v)", tc.input, tc.wantVal, value.String(), err)
		}
	}
}

func TestNewDescriptionBounds(t *testing.T) {
	t.Parallel()
	if _, err := NewDescription(""); err != nil {
		t.Fatalf("empty description should be accepted: %v", err)
	}
	if _, err := NewDescription(strings.Repeat("é", maxDescriptionLength+1)); !errors.Is(err, ErrInvalidDescription) {
		t.Fatalf("expected ErrInvalidDescription, got %v", err)
	}
}

func TestAmountConstructors(t *testing.T) {
	t.Parallel()
	if _, err := NewAmountCents(-1); !errors.Is(err, ErrInvalidBalance) {
		t.Fatalf("expected ErrInvalidBalance, got %v", err)
	}
	if _, err := NewPositiveAmountCents(0); !errors.Is(err, ErrInvalidAmountCents) {
		t.Fatalf("expected ErrInvalidAmountCents, got %v", err)
	}
	if _, err := NewEntryAmountCents(0); !errors.Is(err, ErrInvalidEntryAmountCents) {
		t.Fatalf("expected ErrInvalidEntryAmountCents, got %v", err)
	}
	for _, raw := range []int64{maxAmountCents + 1, math.MaxInt64} {
		if _, err := NewPositiveAmountCents(raw); !errors.Is(err, ErrInvalidAmountCents) {
			t.Fatalf("expected ErrInvalidAmountCents for %d, got %v", raw, err)
		}
		if _, err := NewEntryAmountCents(-raw); !errors.Is(err, ErrInvalidEntryAmountCents) {
			t.Fatalf("expected ErrInvalidEntryAmountCents for %d, got %v", -raw, err)
		}
	}
	if largest, err := NewPositiveAmountCents(maxAmountCents); err != nil || largest.Int64() != maxAmountCents {
		t.Fatalf("expected the bound itself to be accepted, got %d (%v)", largest, err)
	}
	if _, err := applyDelta(AmountCents(math.MaxInt64-10), EntryAmountCents(11)); !errors.Is(err, ErrInvalidBalance) {
		t.Fatalf("expected overflow to be rejected, got %v", err)
	}
	entry, err := NewEntryAmountCents(-250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Magnitude() != 250 || entry.Negated() != 250 {
		t.Fatalf("unexpected magnitude/negation for %d", entry)
	}
	if AmountCents(2100).String() != "21.00" {
		t.Fatalf("expected 21.00, got %s", AmountCents(2100).String())
	}
}

func TestPositiveAmountFromDecimal(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "whole", input: "21", want: 2100},
		{name: "cents", input: "10.55", want: 1055},
		{name: "trailing zeros", input: "1.500", want: 150},
		{name: "sub cent", input: "0.001", wantErr: true},
		{name: "zero", input: "0", wantErr: true},
		{name: "negative", input: "-5", wantErr: true},
		{name: "too large", input: "1000000000.01", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			value, err := PositiveAmountFromDecimal(decimal.RequireFromString(tc.input))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidAmountCents) {
					t.Fatalf("expected ErrInvalidAmountCents, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if value.Int64() != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, value.Int64())
			}
		})
	}
}

func TestNewTransactionInputEnforcesSign(t *testing.T) {
	t.Parallel()
	walletID, err := NewWalletID("wallet-1")
	if err != nil {
		t.Fatalf("wallet id: %v", err)
	}
	reference, err := NewReferenceID("ref-1")
	if err != nil {
		t.Fatalf("reference: %v", err)
	}
	cases := []struct {
		kind    TransactionKind
		amount  EntryAmountCents
		wantErr bool
	}{
		{kind: KindDeposit, amount: 100},
		{kind: KindDeposit, amount: -100, wantErr: true},
		{kind: KindRefund, amount: -1, wantErr: true},
		{kind: KindPayment, amount: -100},
		{kind: KindPayment, amount: 100, wantErr: true},
		{kind: KindAdjustment, amount: -100},
		{kind: KindAdjustment, amount: 100},
		{kind: TransactionKind("BONUS"), amount: 100, wantErr: true},
	}
	for _, tc := range cases {
		input, err := NewTransactionInput(walletID, tc.kind, tc.amount, reference, Description{}, time.Unix(10, 0))
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s %d: expected error", tc.kind, tc.amount)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s %d: unexpected error %v", tc.kind, tc.amount, err)
		}
		if input.Amount() != tc.amount || input.Kind() != tc.kind || input.CreatedAt().Location() != time.UTC {
			t.Fatalf("unexpected input %+v", input)
		}
	}
	if _, err := NewTransactionInput(WalletID{}, KindDeposit, 100, reference, Description{}, time.Unix(10, 0)); !errors.Is(err, ErrInvalidWalletID) {
		t.Fatalf("expected ErrInvalidWalletID, got %v", err)
	}
}

func TestParseTransactionKindAndStatus(t *testing.T) {
	t.Parallel()
	kind, err := ParseTransactionKind("payment")
	if err != nil || kind != KindPayment {
		t.Fatalf("expected PAYMENT, got %q (%v)", kind, err)
	}
	if _, err := ParseTransactionStatus("PENDING"); !errors.Is(err, ErrInvalidTransactionStatus) {
		t.Fatalf("expected ErrInvalidTransactionStatus, got %v", err)
	}
}
