package queue

import (
	"context"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// StatusCacheHandler keeps the order status cache warm from status events.
type StatusCacheHandler struct {
	Cache usecase.OrderCache
}

func NewStatusCacheHandler(c usecase.OrderCache) *StatusCacheHandler {
	return &StatusCacheHandler{Cache: c}
}

// HandleStatusChanged is intended to be used with the JSON adapter (queue.JSONHandler[StatusChangedMsg]).
func (h *StatusCacheHandler) HandleStatusChanged(ctx context.Context, msg usecase.StatusChangedMsg) error {
	if msg.OrderID == "" || msg.To == "" {
		return ErrPoison
	}
	return h.Cache.SetStatus(ctx, msg.OrderID, msg.To)
}
