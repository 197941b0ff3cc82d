package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/MarkoPoloResearchLab/forwarder/internal/payments"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/shipping"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.ledgerUser(ctx)
	if !ok {
		return
	}
	wallet, err := handler.ledger.GetOrCreateWallet(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	transactions, err := handler.ledger.History(ctx.Request.Context(), userID, ledger.HistoryCursor{}, walletHistoryLimit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"wallet":       newWalletPayload(wallet),
		"transactions": newTransactionPayloads(transactions),
	})
}

func (handler *httpHandler) handleAddFunds(ctx *gin.Context) {
	userID, ok := handler.ledgerUser(ctx)
	if !ok {
		return
	}
	var request addFundsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with an amount"))
		return
	}
	amount, err := ledger.PositiveAmountFromDecimal(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	intent, err := handler.checkout.AddFunds(ctx.Request.Context(), userID, amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newIntentPayload(intent))
}

func (handler *httpHandler) handlePayShipment(ctx *gin.Context) {
	userID, ok := handler.ledgerUser(ctx)
	if !ok {
		return
	}
	var request payShipmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with a shipment_id"))
		return
	}
	shipmentID, err := shipping.NewShipmentID(request.ShipmentID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payment, err := handler.checkout.PayShipment(ctx.Request.Context(), userID, shipmentID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newPaymentPayload(payment))
}

func (handler *httpHandler) handleCreateShipment(ctx *gin.Context) {
	userID, ok := handler.shippingUser(ctx)
	if !ok {
		return
	}
	var request createShipmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with locker_item_ids and destination"))
		return
	}
	itemIDs, err := shipping.ParseLockerItemIDs(request.LockerItemIDs)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	shipment, err := handler.engine.CreateShipment(ctx.Request.Context(), userID, itemIDs, request.Destination)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newShipmentPayload(shipment))
}

func (handler *httpHandler) handleGetShipment(ctx *gin.Context) {
	shipment, ok := handler.ownedShipment(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, newShipmentPayload(shipment))
}

func (handler *httpHandler) handleQuote(ctx *gin.Context) {
	shipment, ok := handler.ownedShipment(ctx)
	if !ok {
		return
	}
	quoted, err := handler.engine.GetQuote(ctx.Request.Context(), shipment.ID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newShipmentPayload(quoted))
}

func (handler *httpHandler) handleCancel(ctx *gin.Context) {
	userID, ok := handler.ledgerUser(ctx)
	if !ok {
		return
	}
	shipmentID, err := shipping.NewShipmentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	cancelled, err := handler.checkout.CancelShipment(ctx.Request.Context(), userID, shipmentID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newShipmentPayload(cancelled))
}

func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	provider := ctx.Param("provider")
	webhook, ok := handler.webhooks[provider]
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusNotFound, errorResponse("unknown_provider", "no webhook is registered for this provider"))
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse("invalid_payload", "webhook body could not be read"))
		return
	}
	result, err := webhook.Ingestor.Handle(ctx.Request.Context(), payload, ctx.GetHeader(webhook.SignatureHeader))
	if err != nil {
		handler.logger.Error("webhook processing failed",
			zap.String("provider", provider),
			zap.String("event_id", result.EventID),
			zap.String("provider_event_id", result.ProviderEventID),
			zap.String("status", string(result.Status)),
			zap.Error(err))
		handler.respondError(ctx, err)
		return
	}
	response := gin.H{"status": string(result.Status), "event_id": result.EventID}
	if result.Status == payments.EventDuplicate {
		response = gin.H{"status": string(payments.EventDuplicate)}
	}
	ctx.JSON(http.StatusOK, response)
}

// ownedShipment loads the :id shipment and hides shipments of other users.
func (handler *httpHandler) ownedShipment(ctx *gin.Context) (shipping.Shipment, bool) {
	userID, ok := handler.shippingUser(ctx)
	if !ok {
		return shipping.Shipment{}, false
	}
	shipmentID, err := shipping.NewShipmentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return shipping.Shipment{}, false
	}
	shipment, err := handler.engine.GetShipment(ctx.Request.Context(), shipmentID)
	if err == nil && shipment.UserID.String() != userID.String() {
		err = shipping.ErrShipmentNotFound
	}
	if err != nil {
		handler.respondError(ctx, err)
		return shipping.Shipment{}, false
	}
	return shipment, true
}

func (handler *httpHandler) ledgerUser(ctx *gin.Context) (ledger.UserID, bool) {
	raw, ok := sessionUser(ctx)
	if !ok {
		return ledger.UserID{}, false
	}
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		handler.respondError(ctx, fmt.Errorf("%w: %v", errInvalidSessionUser, err))
		return ledger.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) shippingUser(ctx *gin.Context) (shipping.UserID, bool) {
	raw, ok := sessionUser(ctx)
	if !ok {
		return shipping.UserID{}, false
	}
	userID, err := shipping.NewUserID(raw)
	if err != nil {
		handler.respondError(ctx, fmt.Errorf("%w: %v", errInvalidSessionUser, err))
		return shipping.UserID{}, false
	}
	return userID, true
}
