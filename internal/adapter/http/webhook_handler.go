package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/http/middleware"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// WebhookReconciler is satisfied by *usecase.ReconcileWebhook.
type WebhookReconciler interface {
	Execute(ctx context.Context, in usecase.WebhookInput) (usecase.WebhookOutput, error)
}

type WebhookHandler struct {
	uc WebhookReconciler
}

func NewWebhookHandler(uc WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{uc: uc}
}

// Receive answers 200 for anything durably accepted, duplicates and orphans
// included. Providers stop retrying on 2xx and 4xx other than 409.
func (h *WebhookHandler) Receive(c *gin.Context) {
	out, err := h.uc.Execute(c.Request.Context(), usecase.WebhookInput{
		Provider: c.Param("provider"),
		Body:     middleware.RawBodyFrom(c),
		Headers:  c.Request.Header.Clone(),
	})
	if err != nil {
		status, code := webhookStatus(err)
		if status == http.StatusOK {
			c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true})
			return
		}
		_ = c.Error(err)
		body := gin.H{"ok": false, "error": code}
		if usecase.Retryable(err) {
			body["retryable"] = true
		}
		c.JSON(status, body)
		return
	}

	resp := gin.H{"ok": true, "disposition": out.Disposition}
	if out.OrderID != "" {
		resp["orderId"] = out.OrderID
	}
	c.JSON(http.StatusOK, resp)
}

func webhookStatus(err error) (int, string) {
	switch {
	case errors.Is(err, usecase.ErrUnsupportedEvent):
		return http.StatusOK, ""
	case errors.Is(err, usecase.ErrUnknownProvider):
		return http.StatusNotFound, "unknown_provider"
	case errors.Is(err, usecase.ErrMalformedPayload):
		return http.StatusBadRequest, "malformed_payload"
	case errors.Is(err, usecase.ErrUnauthenticatedPayload):
		return http.StatusUnauthorized, "unauthenticated_payload"
	case errors.Is(err, usecase.ErrOutOfOrder):
		return http.StatusConflict, "out_of_order"
	case errors.Is(err, usecase.ErrInFlight):
		return http.StatusConflict, "in_flight"
	case errors.Is(err, usecase.ErrStaleState), errors.Is(err, usecase.ErrWriteConflict):
		return http.StatusConflict, "conflict"
	case usecase.Retryable(err):
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
