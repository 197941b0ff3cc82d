package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/idempotency"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// responseBodyWriter copies everything the handler writes so it can be recorded.
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (writer responseBodyWriter) Write(payload []byte) (int, error) {
	writer.body.Write(payload)
	return writer.ResponseWriter.Write(payload)
}

func (writer responseBodyWriter) WriteString(payload string) (int, error) {
	writer.body.WriteString(payload)
	return writer.ResponseWriter.WriteString(payload)
}

// idempotent runs the rest of the chain at most once per Idempotency-Key,
// scoped by route and user. Requests without the header always run.
func (handler *httpHandler) idempotent(route string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		userID, ok := sessionUser(ctx)
		if !ok {
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxRequestBodyBytes))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse("invalid_payload", "request body could not be read"))
			return
		}
		ctx.Request.Body = io.NopCloser(bytes.NewReader(body))

		var key *idempotency.Key
		if raw := ctx.GetHeader(IdempotencyKeyHeader); strings.TrimSpace(raw) != "" {
			scoped, err := idempotency.NewKey(route+":"+userID, raw)
			if err != nil {
				handler.respondError(ctx, err)
				return
			}
			key = &scoped
		}
		fingerprint := idempotency.Fingerprint([]byte(ctx.Request.Method), []byte(ctx.Request.URL.Path), body)

		outcome, err := handler.guard.Do(ctx.Request.Context(), key, fingerprint, func(context.Context) (idempotency.Record, error) {
			original := ctx.Writer
			recorder := &responseBodyWriter{ResponseWriter: original, body: &bytes.Buffer{}}
			ctx.Writer = recorder
			ctx.Next()
			ctx.Writer = original
			return idempotency.Record{
				StatusCode:  original.Status(),
				Body:        recorder.body.Bytes(),
				ContentType: original.Header().Get("Content-Type"),
			}, nil
		})
		if outcome.StoreError != nil {
			handler.logger.Warn("idempotency store update failed",
				zap.String("route", route),
				zap.String("user_id", userID),
				zap.Error(outcome.StoreError))
		}
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		if outcome.Replayed {
			ctx.Header(ReplayedHeader, "true")
			ctx.Data(outcome.Record.StatusCode, outcome.Record.ContentType, outcome.Record.Body)
			ctx.Abort()
		}
	}
}
