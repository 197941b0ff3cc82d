package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/internal/payments"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"github.com/shopspring/decimal"
)

const (
	moneyPlaces  = 2
	weightPlaces = 3
)

type addFundsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type payShipmentRequest struct {
	ShipmentID string `json:"shipment_id" binding:"required"`
}

type createShipmentRequest struct {
	LockerItemIDs []string             `json:"locker_item_ids" binding:"required"`
	Destination   shipping.Destination `json:"destination"`
}

type walletPayload struct {
	WalletID     string `json:"wallet_id"`
	Balance      string `json:"balance"`
	BalanceCents int64  `json:"balance_cents"`
	Currency     string `json:"currency"`
	Version      int64  `json:"version"`
}

type transactionPayload struct {
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	AmountCents   int64     `json:"amount_cents"`
	ReferenceID   string    `json:"reference_id"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type intentPayload struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
}

type weightsPayload struct {
	TotalKg      string `json:"total_kg"`
	VolumetricKg string `json:"volumetric_kg"`
	ChargeableKg string `json:"chargeable_kg"`
}

type quotePayload struct {
	ShippingCost  string `json:"shipping_cost"`
	InsuranceCost string `json:"insurance_cost"`
	TotalCost     string `json:"total_cost"`
}

type shipmentPayload struct {
	ShipmentID    string               `json:"shipment_id"`
	Status        string               `json:"status"`
	Destination   shipping.Destination `json:"destination"`
	LockerItemIDs []string             `json:"locker_item_ids"`
	Weights       *weightsPayload      `json:"weights,omitempty"`
	Quote         *quotePayload        `json:"quote,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type paymentPayload struct {
	Shipment    shipmentPayload `json:"shipment"`
	Wallet      walletPayload   `json:"wallet"`
	AlreadyPaid bool            `json:"already_paid"`
}

func formatCents(cents int64) string {
	return decimal.New(cents, -moneyPlaces).StringFixed(moneyPlaces)
}

func newWalletPayload(wallet ledger.Wallet) walletPayload {
	return walletPayload{
		WalletID:     wallet.ID.String(),
		Balance:      formatCents(wallet.Balance.Int64()),
		BalanceCents: wallet.Balance.Int64(),
		Currency:     wallet.Currency.String(),
		Version:      wallet.Version,
	}
}

func newTransactionPayloads(transactions []ledger.Transaction) []transactionPayload {
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, transactionPayload{
			TransactionID: transaction.ID.String(),
			Kind:          transaction.Kind.String(),
			Amount:        formatCents(transaction.Amount.Int64()),
			AmountCents:   transaction.Amount.Int64(),
			ReferenceID:   transaction.ReferenceID.String(),
			Description:   transaction.Description.String(),
			Status:        transaction.Status.String(),
			CreatedAt:     transaction.CreatedAt.UTC(),
		})
	}
	return payloads
}

func newIntentPayload(intent payments.PaymentIntent) intentPayload {
	return intentPayload{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       formatCents(intent.Amount.Int64()),
		Currency:     intent.Currency.String(),
	}
}

func newShipmentPayload(shipment shipping.Shipment) shipmentPayload {
	itemIDs := make([]string, 0, len(shipment.ItemIDs))
	for _, itemID := range shipment.ItemIDs {
		itemIDs = append(itemIDs, itemID.String())
	}
	payload := shipmentPayload{
		ShipmentID:    shipment.ID.String(),
		Status:        shipment.Status.String(),
		Destination:   shipment.Destination,
		LockerItemIDs: itemIDs,
		CreatedAt:     shipment.CreatedAt.UTC(),
		UpdatedAt:     shipment.UpdatedAt.UTC(),
	}
	// DRAFT shipments have not been measured or priced yet.
	if shipment.Status != shipping.StatusDraft && shipment.Quote.TotalCost.IsPositive() {
		payload.Weights = &weightsPayload{
			TotalKg:      shipment.Weights.Total.StringFixed(weightPlaces),
			VolumetricKg: shipment.Weights.Volumetric.StringFixed(weightPlaces),
			ChargeableKg: shipment.Weights.Chargeable.StringFixed(weightPlaces),
		}
		payload.Quote = &quotePayload{
			ShippingCost:  shipment.Quote.ShippingCost.StringFixed(moneyPlaces),
			InsuranceCost: shipment.Quote.InsuranceCost.StringFixed(moneyPlaces),
			TotalCost:     shipment.Quote.TotalCost.StringFixed(moneyPlaces),
		}
	}
	return payload
}

func newPaymentPayload(payment payments.Payment) paymentPayload {
	return paymentPayload{
		Shipment:    newShipmentPayload(payment.Shipment),
		Wallet:      newWalletPayload(payment.Wallet),
		AlreadyPaid: payment.AlreadyPaid,
	}
}
