package kafka

import (
	"context"
	"errors"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// WebhookReconciler is satisfied by *usecase.ReconcileWebhook.
type WebhookReconciler interface {
	Execute(ctx context.Context, in usecase.WebhookInput) (usecase.WebhookOutput, error)
}

// WebhookReplayHandler feeds replayed callbacks through the same reconciler
// the HTTP endpoint uses. Signatures are verified again and dedupe applies.
type WebhookReplayHandler struct {
	Reconciler WebhookReconciler
}

func NewWebhookReplayHandler(r WebhookReconciler) *WebhookReplayHandler {
	return &WebhookReplayHandler{Reconciler: r}
}

// Handle returns an error only for failures worth retrying; everything else
// is logged and committed.
func (h *WebhookReplayHandler) Handle(ctx context.Context, env WebhookEnvelope) error {
	out, err := h.Reconciler.Execute(ctx, usecase.WebhookInput{
		Provider:   env.Provider,
		Body:       env.Body,
		Headers:    env.Headers,
		ReceivedAt: env.ReceivedAt,
	})
	log := logging.FromCtx(ctx)
	switch {
	case err == nil:
		log.Info("replayed webhook", "disposition", out.Disposition, "order_id", out.OrderID)
		return nil
	case usecase.Retryable(err):
		return err
	case errors.Is(err, usecase.ErrUnsupportedEvent):
		return nil
	default:
		log.Warn("replayed webhook dropped", "err", err)
		return nil
	}
}
