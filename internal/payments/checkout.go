package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"go.uber.org/zap"
)

const (
	defaultProviderTimeout = 5 * time.Second
	metadataUserID         = "user_id"
)

// Payment is the outcome of paying for a shipment.
type Payment struct {
	Shipment    shipping.Shipment
	Wallet      ledger.Wallet
	AlreadyPaid bool
}

// Checkout moves money for user-initiated actions: topping up through the
// provider and paying a quoted shipment from the wallet.
type Checkout struct {
	ledger          *ledger.Service
	engine          *shipping.Engine
	adapter         Adapter
	logger          *zap.Logger
	providerTimeout time.Duration
}

// CheckoutConfig wires a Checkout.
type CheckoutConfig struct {
	Ledger          *ledger.Service
	Engine          *shipping.Engine
	Adapter         Adapter
	Logger          *zap.Logger
	ProviderTimeout time.Duration
}

// NewCheckout validates config and returns a Checkout.
func NewCheckout(config CheckoutConfig) (*Checkout, error) {
	if config.Ledger == nil || config.Engine == nil || config.Adapter == nil {
		return nil, fmt.Errorf("%w: ledger, engine and adapter are required", ErrInvalidConfig)
	}
	checkout := &Checkout{
		ledger:          config.Ledger,
		engine:          config.Engine,
		adapter:         config.Adapter,
		logger:          config.Logger,
		providerTimeout: config.ProviderTimeout,
	}
	if checkout.logger == nil {
		checkout.logger = zap.NewNop()
	}
	if checkout.providerTimeout <= 0 {
		checkout.providerTimeout = defaultProviderTimeout
	}
	return checkout, nil
}

// AddFunds asks the provider for a payment intent. The wallet is credited
// later, when the provider's webhook confirms the payment.
func (checkout *Checkout) AddFunds(ctx context.Context, userID ledger.UserID, amount ledger.PositiveAmountCents) (PaymentIntent, error) {
	providerCtx, cancel := context.WithTimeout(ctx, checkout.providerTimeout)
	defer cancel()
	intent, err := checkout.adapter.CreatePaymentIntent(providerCtx, amount, checkout.ledger.Currency(), map[string]string{
		metadataUserID: userID.String(),
	})
	if err != nil {
		checkout.logger.Error("payment intent failed",
			zap.String("user_id", userID.String()),
			zap.Int64("amount_cents", amount.Int64()),
			zap.Error(err))
		if faults.Is(err, faults.KindExternalProvider) {
			return PaymentIntent{}, err
		}
		return PaymentIntent{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	checkout.logger.Info("payment intent created",
		zap.String("user_id", userID.String()),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount_cents", amount.Int64()))
	return intent, nil
}

// PayShipment debits the shipment's total with the shipment id as reference
// and then marks it PAID. A failed debit leaves the shipment QUOTED. A retry
// after a partial failure finds the debit already applied and only finishes
// the transition. A shipment cancelled between the debit and the transition
// is refunded.
func (checkout *Checkout) PayShipment(ctx context.Context, userID ledger.UserID, shipmentID shipping.ShipmentID) (Payment, error) {
	shipment, err := checkout.engine.GetShipment(ctx, shipmentID)
	if err != nil {
		return Payment{}, err
	}
	if shipment.UserID.String() != userID.String() {
		return Payment{}, shipping.ErrShipmentNotFound
	}
	if shipment.Status == shipping.StatusPaid {
		wallet, err := checkout.ledger.GetWallet(ctx, userID)
		if err != nil {
			return Payment{}, err
		}
		return Payment{Shipment: shipment, Wallet: wallet, AlreadyPaid: true}, nil
	}
	if shipment.Status == shipping.StatusCancelled {
		if _, err := checkout.refundCharge(ctx, userID, shipmentID); err != nil {
			return Payment{}, err
		}
	}
	if shipment.Status != shipping.StatusQuoted {
		return Payment{}, fmt.Errorf("%w: status is %s", ErrShipmentNotPayable, shipment.Status)
	}

	amount, err := ledger.PositiveAmountFromDecimal(shipment.Quote.TotalCost)
	if err != nil {
		return Payment{}, err
	}
	referenceID, err := ledger.NewReferenceID(shipmentID.String())
	if err != nil {
		return Payment{}, err
	}
	description, err := ledger.NewDescription("Shipment " + shipmentID.String())
	if err != nil {
		return Payment{}, err
	}
	receipt, err := checkout.ledger.DebitWithReceipt(ctx, userID, amount, referenceID, description)
	if err != nil {
		return Payment{}, err
	}

	paid, err := checkout.engine.MarkPaid(ctx, shipmentID)
	if err == nil {
		return Payment{Shipment: paid, Wallet: receipt.Wallet}, nil
	}
	if !errors.Is(err, shipping.ErrInvalidTransition) && !errors.Is(err, shipping.ErrStatusChanged) {
		checkout.logger.Error("shipment debited but not marked paid",
			zap.String("shipment_id", shipmentID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return Payment{}, err
	}
	return checkout.refundCancelled(ctx, userID, shipmentID, err)
}

func (checkout *Checkout) refundCancelled(ctx context.Context, userID ledger.UserID, shipmentID shipping.ShipmentID, cause error) (Payment, error) {
	current, err := checkout.engine.GetShipment(ctx, shipmentID)
	if err != nil {
		return Payment{}, err
	}
	if current.Status != shipping.StatusCancelled {
		return Payment{}, cause
	}
	if _, err := checkout.refundCharge(context.WithoutCancel(ctx), userID, shipmentID); err != nil {
		return Payment{}, err
	}
	return Payment{}, ErrShipmentCancelled
}

// CancelShipment cancels the user's shipment and refunds any charge already
// taken for it.
func (checkout *Checkout) CancelShipment(ctx context.Context, userID ledger.UserID, shipmentID shipping.ShipmentID) (shipping.Shipment, error) {
	shipment, err := checkout.engine.GetShipment(ctx, shipmentID)
	if err != nil {
		return shipping.Shipment{}, err
	}
	if shipment.UserID.String() != userID.String() {
		return shipping.Shipment{}, shipping.ErrShipmentNotFound
	}
	cancelled, err := checkout.engine.Cancel(ctx, shipmentID)
	if err != nil {
		return shipping.Shipment{}, err
	}
	if _, err := checkout.refundCharge(ctx, userID, shipmentID); err != nil {
		return shipping.Shipment{}, err
	}
	return cancelled, nil
}

// refundCharge credits back the PAYMENT row referencing shipmentID. The refund
// uses the same reference, so repeating it has no effect.
func (checkout *Checkout) refundCharge(ctx context.Context, userID ledger.UserID, shipmentID shipping.ShipmentID) (bool, error) {
	referenceID, err := ledger.NewReferenceID(shipmentID.String())
	if err != nil {
		return false, err
	}
	payment, found, err := checkout.ledger.FindTransaction(ctx, userID, ledger.KindPayment, referenceID)
	if err != nil || !found {
		return false, err
	}
	amount, err := ledger.NewPositiveAmountCents(payment.Amount.Magnitude().Int64())
	if err != nil {
		return false, err
	}
	description, err := ledger.NewDescription("Refund for cancelled shipment " + shipmentID.String())
	if err != nil {
		return false, err
	}
	receipt, err := checkout.ledger.RefundWithReceipt(ctx, userID, amount, referenceID, description)
	if err != nil {
		checkout.logger.Error("refund for cancelled shipment failed",
			zap.String("shipment_id", shipmentID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return false, err
	}
	if !receipt.Duplicate {
		checkout.logger.Warn("charge refunded for cancelled shipment",
			zap.String("shipment_id", shipmentID.String()),
			zap.String("user_id", userID.String()),
			zap.Int64("amount_cents", amount.Int64()),
			zap.Int64("balance_cents", receipt.Wallet.Balance.Int64()))
	}
	return !receipt.Duplicate, nil
}
