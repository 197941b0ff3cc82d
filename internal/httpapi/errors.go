package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
	"github.com/MarkoPoloResearchLab/forwarder/pkg/idempotency"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const insufficientFundsMessage = "wallet balance is too low for this payment, add funds and try again"

var errInvalidSessionUser = faults.New(faults.KindUnauthorized, "session carries an invalid user id")

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// respondError maps a classified error onto a status and error body.
func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code, message := classify(err)
	if errors.Is(err, idempotency.ErrInProgress) || status == http.StatusServiceUnavailable {
		ctx.Header("Retry-After", strconv.Itoa(int(math.Ceil(handler.retryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	ctx.AbortWithStatusJSON(status, errorResponse(code, message))
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusUnprocessableEntity, "idempotency_key_reused", err.Error()
	case errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict, "request_in_progress", err.Error()
	}
	switch faults.KindOf(err) {
	case faults.KindValidation:
		return http.StatusBadRequest, "invalid_request", err.Error()
	case faults.KindUnauthorized:
		return http.StatusUnauthorized, "unauthorized", err.Error()
	case faults.KindNotFound:
		return http.StatusNotFound, "not_found", err.Error()
	case faults.KindConflict:
		return http.StatusConflict, "conflict", err.Error()
	case faults.KindInsufficientFunds:
		return http.StatusPaymentRequired, "insufficient_funds", insufficientFundsMessage
	case faults.KindExternalProvider:
		return http.StatusBadGateway, "provider_unavailable", "payment provider is unavailable, retry later"
	case faults.KindTransient:
		return http.StatusServiceUnavailable, "temporarily_unavailable", "the request could not be completed, retry later"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}
