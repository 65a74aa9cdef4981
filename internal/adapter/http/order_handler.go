package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/http/middleware"
	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// CheckoutService is satisfied by *usecase.Checkout.
type CheckoutService interface {
	Execute(ctx context.Context, in usecase.CheckoutInput) (usecase.CheckoutOutput, error)
}

// PaymentInitiator is satisfied by *usecase.Orchestrator.
type PaymentInitiator interface {
	Initiate(ctx context.Context, orderID string) (usecase.InitiateOutput, error)
}

type OrderReader interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

type OrderHandler struct {
	checkout CheckoutService
	initiate PaymentInitiator
	query    OrderReader
	cache    usecase.OrderCache // optional
	timeout  time.Duration
}

func NewOrderHandler(checkout CheckoutService, initiate PaymentInitiator, query OrderReader, cache usecase.OrderCache, timeout time.Duration) *OrderHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OrderHandler{checkout: checkout, initiate: initiate, query: query, cache: cache, timeout: timeout}
}

type itemReq struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
	UnitPrice int64  `json:"unitPrice" binding:"required,gt=0"`
}

type checkoutReq struct {
	PaymentMethod string `json:"paymentMethod" binding:"required"`

	OrderDraft struct {
		BuyerID    string    `json:"buyerId"`
		BuyerEmail string    `json:"buyerEmail" binding:"required"`
		Currency   string    `json:"currency" binding:"required,len=3"`
		Items      []itemReq `json:"items" binding:"required,min=1,dive"`
	} `json:"orderDraft" binding:"required"`
}

type checkoutResp struct {
	OrderID          string `json:"orderId"`
	Status           string `json:"status"`
	Provider         string `json:"provider"`
	PaymentReference string `json:"paymentReference,omitempty"`
	RedirectURL      string `json:"redirectUrl,omitempty"`
	TotalAmount      int64  `json:"totalAmount"`
	Currency         string `json:"currency"`
}

func toCheckoutResp(out usecase.CheckoutOutput) checkoutResp {
	return checkoutResp{
		OrderID:          out.OrderID,
		Status:           string(out.Status),
		Provider:         out.Provider,
		PaymentReference: out.PaymentReference,
		RedirectURL:      out.RedirectURL,
		TotalAmount:      out.TotalAmount,
		Currency:         out.Currency,
	}
}

// Checkout handler: translate to use case input
func (h *OrderHandler) Checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": err.Error()})
		return
	}

	buyerID := req.OrderDraft.BuyerID
	if sub := c.GetString(middleware.SubjectKey); sub != "" {
		if buyerID != "" && buyerID != sub {
			c.JSON(http.StatusForbidden, gin.H{"error": "buyer_mismatch"})
			return
		}
		buyerID = sub
	}

	items := make([]domain.Item, 0, len(req.OrderDraft.Items))
	for _, it := range req.OrderDraft.Items {
		items = append(items, domain.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	idemKey := c.GetHeader("X-Idempotency-Key") // prevent duplicated checkouts

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	out, err := h.checkout.Execute(ctx, usecase.CheckoutInput{
		BuyerID:        buyerID,
		BuyerEmail:     req.OrderDraft.BuyerEmail,
		PaymentMethod:  req.PaymentMethod,
		Currency:       req.OrderDraft.Currency,
		IdempotencyKey: idemKey,
		Items:          items,
	})
	if err != nil {
		var extra gin.H
		if out.OrderID != "" {
			extra = gin.H{"orderId": out.OrderID, "status": out.Status}
		}
		writeError(c, err, extra)
		return
	}

	c.JSON(http.StatusAccepted, toCheckoutResp(out))
}

// owned loads the order for an authenticated caller and answers 404 unless
// the caller is its buyer. Without a subject it does nothing and returns nil.
func (h *OrderHandler) owned(ctx context.Context, c *gin.Context, id string) (*domain.Order, bool) {
	sub := c.GetString(middleware.SubjectKey)
	if sub == "" {
		return nil, true
	}
	rec, err := h.query.GetByID(ctx, id)
	switch {
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, false
	case err != nil:
		writeError(c, err, nil)
		return nil, false
	case rec.BuyerID != sub:
		logging.From(c).Warn("order access denied", "order_id", id, "subject", sub)
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, false
	}
	return rec, true
}

// RetryPayment re-runs initiation for an order still in created.
func (h *OrderHandler) RetryPayment(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if _, ok := h.owned(ctx, c, id); !ok {
		return
	}

	out, err := h.initiate.Initiate(ctx, id)
	if err != nil {
		var extra gin.H
		if out.Order != nil {
			extra = gin.H{"orderId": out.Order.ID, "status": out.Order.Status}
		}
		writeError(c, err, extra)
		return
	}
	o := out.Order
	c.JSON(http.StatusAccepted, checkoutResp{
		OrderID:          o.ID,
		Status:           string(o.Status),
		Provider:         o.Provider,
		PaymentReference: o.PaymentReference,
		RedirectURL:      out.RedirectURL,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
	})
}

// GetOrderByID serves the order to its buyer; a warm status cache entry
// answers ?view=status without a second store read.
func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	rec, ok := h.owned(ctx, c, id)
	if !ok {
		return
	}

	if h.cache != nil && c.Query("view") == "status" {
		if st, ok, err := h.cache.GetStatus(ctx, id); err == nil && ok {
			c.JSON(http.StatusOK, gin.H{"id": id, "status": st, "cached": true})
			return
		} else if err != nil {
			logging.From(c).Warn("status cache read failed", "err", err)
		}
	}

	if rec == nil {
		var err error
		if rec, err = h.query.GetByID(ctx, id); err != nil {
			if errors.Is(err, usecase.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
				return
			}
			writeError(c, err, nil)
			return
		}
	}
	if h.cache != nil {
		if err := h.cache.SetStatus(ctx, rec.ID, string(rec.Status)); err != nil {
			logging.From(c).Warn("status cache write failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"id":               rec.ID,
		"buyerId":          rec.BuyerID,
		"status":           rec.Status,
		"provider":         rec.Provider,
		"paymentReference": rec.PaymentReference,
		"payment": gin.H{
			"status":        rec.Payment.Status,
			"actionUrl":     rec.Payment.ActionURL,
			"failureReason": rec.Payment.FailureReason,
		},
		"items":       rec.Items,
		"totalAmount": rec.TotalAmount,
		"currency":    rec.Currency,
		"createdAt":   rec.CreatedAt,
		"updatedAt":   rec.UpdatedAt,
	})
}
