package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// statusFor maps the error taxonomy onto HTTP for the buyer-facing routes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_order"
	case errors.Is(err, usecase.ErrUnknownProvider):
		return http.StatusBadRequest, "unknown_provider"
	case errors.Is(err, usecase.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, usecase.ErrGatewayRejected):
		return http.StatusPaymentRequired, "payment_rejected"
	case errors.Is(err, usecase.ErrGatewayUnavailable), errors.Is(err, usecase.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	case errors.Is(err, usecase.ErrDuplicate),
		errors.Is(err, usecase.ErrWriteConflict),
		errors.Is(err, usecase.ErrStaleState),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *gin.Context, err error, extra gin.H) {
	status, code := statusFor(err)
	body := gin.H{"error": code}
	for k, v := range extra {
		body[k] = v
	}
	switch {
	case errors.Is(err, usecase.ErrGatewayRejected):
		body["reason"] = usecase.RejectionReason(err)
	case status == http.StatusBadRequest:
		body["detail"] = err.Error()
	}
	if usecase.Retryable(err) {
		body["retryable"] = true
	}
	if status >= http.StatusInternalServerError {
		logging.From(c).Error("request failed", "err", err)
	}
	_ = c.Error(err)
	c.JSON(status, body)
}
