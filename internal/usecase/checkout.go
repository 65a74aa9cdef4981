package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
)

type CheckoutInput struct {
	BuyerID, BuyerEmail, PaymentMethod, Currency, IdempotencyKey string
	Items                                                        []domain.Item
}

type CheckoutOutput struct {
	OrderID          string
	Status           domain.Status
	Provider         string
	PaymentReference string
	RedirectURL      string
	TotalAmount      int64
	Currency         string
}

// Checkout creates an order from a draft and initiates its payment.
type Checkout struct {
	store    OrderStore
	registry ProviderRegistry
	orch     *Orchestrator
	idem     IdempotencyStore // optional
	now      func() time.Time
}

func NewCheckout(store OrderStore, registry ProviderRegistry, orch *Orchestrator, idem IdempotencyStore) *Checkout {
	return &Checkout{
		store: store, registry: registry, orch: orch, idem: idem,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (uc *Checkout) Execute(ctx context.Context, in CheckoutInput) (CheckoutOutput, error) {
	if in.BuyerID == "" || in.BuyerEmail == "" || !strings.Contains(in.BuyerEmail, "@") {
		return CheckoutOutput{}, fmt.Errorf("%w: buyer id and email are required", domain.ErrInvalidOrder)
	}
	currency := strings.ToUpper(in.Currency)
	if !domain.ValidCurrency(currency) {
		return CheckoutOutput{}, fmt.Errorf("%w: currency %q", domain.ErrInvalidOrder, in.Currency)
	}
	// Unknown providers fail fast, before anything is written.
	if _, err := uc.registry.Resolve(in.PaymentMethod); err != nil {
		return CheckoutOutput{}, err
	}
	total, err := domain.Total(in.Items)
	if err != nil {
		return CheckoutOutput{}, err
	}

	scope := "checkout:" + in.BuyerID
	if uc.idem != nil && in.IdempotencyKey != "" {
		// Fast path: idempotency recall
		if id, ok, _ := uc.idem.Recall(ctx, scope, in.IdempotencyKey); ok {
			return uc.resume(ctx, id, in.PaymentMethod, currency, in.Items)
		}
		ok, err := uc.idem.TryLock(ctx, scope, in.IdempotencyKey)
		if err != nil {
			return CheckoutOutput{}, storeErr(err)
		}
		if !ok {
			return CheckoutOutput{}, ErrDuplicate
		}
	}

	now := uc.now()
	order := &domain.Order{
		ID:          uuid.NewString(),
		BuyerID:     in.BuyerID,
		BuyerEmail:  in.BuyerEmail,
		Items:       append([]domain.Item(nil), in.Items...),
		Currency:    currency,
		TotalAmount: total,
		Provider:    in.PaymentMethod,
		Status:      domain.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := order.Validate(); err != nil {
		return CheckoutOutput{}, err
	}
	if _, err := uc.store.Create(ctx, order); err != nil {
		if uc.idem != nil && in.IdempotencyKey != "" {
			_ = uc.idem.Release(ctx, scope, in.IdempotencyKey)
		}
		return CheckoutOutput{}, storeErr(err)
	}
	if uc.idem != nil && in.IdempotencyKey != "" {
		_ = uc.idem.Remember(ctx, scope, in.IdempotencyKey, order.ID)
	}

	return uc.initiate(ctx, order)
}

// resume returns the state of a previously created order, re-initiating its
// payment if the earlier attempt never reached the gateway. A key reused for a
// different draft is ErrDuplicate.
func (uc *Checkout) resume(ctx context.Context, orderID, method, currency string, items []domain.Item) (CheckoutOutput, error) {
	order, err := uc.store.GetByID(ctx, orderID)
	if err != nil {
		return CheckoutOutput{}, storeErr(err)
	}
	if order.Provider != method || order.Currency != currency || !slices.Equal(order.Items, items) {
		return CheckoutOutput{}, fmt.Errorf("%w: key already used for order %s with a different draft", ErrDuplicate, order.ID)
	}
	if order.Status == domain.StatusCreated {
		return uc.initiate(ctx, order)
	}
	return outputOf(order, order.Payment.ActionURL), nil
}

func (uc *Checkout) initiate(ctx context.Context, order *domain.Order) (CheckoutOutput, error) {
	out, err := uc.orch.Initiate(ctx, order.ID)
	cur := order
	if out.Order != nil {
		cur = out.Order
	}
	if err != nil {
		// Still report the order so the buyer can retry against it.
		res := outputOf(cur, "")
		if errors.Is(err, domain.ErrInvalidTransition) {
			return outputOf(cur, cur.Payment.ActionURL), nil
		}
		return res, err
	}
	return outputOf(cur, out.RedirectURL), nil
}

func outputOf(o *domain.Order, redirect string) CheckoutOutput {
	return CheckoutOutput{
		OrderID:          o.ID,
		Status:           o.Status,
		Provider:         o.Provider,
		PaymentReference: o.PaymentReference,
		RedirectURL:      redirect,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
	}
}
