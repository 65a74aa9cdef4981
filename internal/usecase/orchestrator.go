package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/entity"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
)

// Disposition is what Apply did with an event.
type Disposition string

const (
	DispositionTransitioned Disposition = "transitioned"
	DispositionDuplicate    Disposition = "duplicate_ignored"
	DispositionOrphaned     Disposition = "orphaned"
	DispositionPending      Disposition = "pending_observed"
)

type ApplyResult struct {
	Disposition    Disposition
	Order          *domain.Order
	AmountMismatch bool
}

type InitiateOutput struct {
	Order       *domain.Order
	RedirectURL string
}

// Orchestrator drives an order through the payment state machine. It keeps
// no state of its own; every write goes through OrderStore.CompareAndTransition.
type Orchestrator struct {
	store     OrderStore
	registry  ProviderRegistry
	audit     AuditSink
	publisher StatusPublisher
	metrics   Metrics

	tolerance       decimal.Decimal
	initiateTimeout time.Duration
	storeTimeout    time.Duration
	refPrefix       string
	newRef          func(prefix string) string
	now             func() time.Time
}

type OrchestratorOption func(*Orchestrator)

func WithPublisher(p StatusPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = p }
}
func WithMetrics(m Metrics) OrchestratorOption { return func(o *Orchestrator) { o.metrics = m } }
func WithTolerance(f decimal.Decimal) OrchestratorOption {
	return func(o *Orchestrator) { o.tolerance = f }
}
func WithInitiateTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.initiateTimeout = d }
}
func WithStoreTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.storeTimeout = d }
}
func WithReferencePrefix(p string) OrchestratorOption {
	return func(o *Orchestrator) { o.refPrefix = p }
}
func WithReferenceFunc(f func(prefix string) string) OrchestratorOption {
	return func(o *Orchestrator) { o.newRef = f }
}
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator constructs an Orchestrator. Defaults: tolerance 0.001,
// initiate timeout 10s, store timeout 5s, reference prefix "AM".
func NewOrchestrator(store OrderStore, registry ProviderRegistry, audit AuditSink, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:           store,
		registry:        registry,
		audit:           audit,
		metrics:         nopMetrics{},
		tolerance:       decimal.RequireFromString("0.001"),
		initiateTimeout: 10 * time.Second,
		storeTimeout:    5 * time.Second,
		refPrefix:       "AM",
		newRef:          NewPaymentReference,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewPaymentReference mints a globally unique correlation token.
func NewPaymentReference(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Initiate asks the order's provider to open a payment. The reference is
// committed only after the gateway accepts, so GatewayUnavailable leaves the
// order in created and the caller can simply call Initiate again.
func (o *Orchestrator) Initiate(ctx context.Context, orderID string) (InitiateOutput, error) {
	log := logging.FromCtx(ctx).With("order_id", orderID)

	order, err := o.getByID(ctx, orderID)
	if err != nil {
		return InitiateOutput{}, err
	}
	if order.Status != domain.StatusCreated {
		return InitiateOutput{Order: order}, fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, order.Status)
	}

	gw, err := o.registry.Resolve(order.Provider)
	if err != nil {
		rerr := o.record(ctx, AuditEntry{
			Kind: AuditInitiationFailed, OrderID: order.ID, Provider: order.Provider,
			FromStatus: order.Status, Reason: err.Error(),
		})
		return InitiateOutput{Order: order}, errors.Join(err, rerr)
	}

	ref := o.newRef(o.refPrefix)
	start := time.Now()
	gctx, cancel := context.WithTimeout(ctx, o.initiateTimeout)
	res, err := gw.Initiate(gctx, InitiateRequest{
		OrderID:    order.ID,
		Reference:  ref,
		Amount:     order.TotalAmount,
		Currency:   order.Currency,
		BuyerEmail: order.BuyerEmail,
	})
	cancel()

	switch {
	case err == nil:
		o.metrics.ObserveInitiate(order.Provider, "accepted", time.Since(start))
	case errors.Is(err, ErrGatewayRejected):
		o.metrics.ObserveInitiate(order.Provider, "rejected", time.Since(start))
		reason := RejectionReason(err)
		log.Warn("gateway rejected initiation", "provider", order.Provider, "reason", reason)
		failed, terr := o.transition(ctx, order, domain.StatusPaymentFailed, AuditEntry{Reason: reason}, func(n *domain.Order) error {
			n.Payment.FailureReason = reason
			return nil
		})
		if terr != nil {
			return InitiateOutput{Order: order}, errors.Join(err, terr)
		}
		return InitiateOutput{Order: failed}, err
	default:
		o.metrics.ObserveInitiate(order.Provider, "unavailable", time.Since(start))
		err = Unavailable(order.Provider, err)
		log.Warn("gateway unavailable", "provider", order.Provider, "err", err)
		rerr := o.record(ctx, AuditEntry{
			Kind: AuditInitiationFailed, OrderID: order.ID, Provider: order.Provider,
			FromStatus: order.Status, Reason: err.Error(),
		})
		return InitiateOutput{Order: order}, errors.Join(err, rerr)
	}

	if res.ProviderReference == "" {
		res.ProviderReference = ref
	}
	pending, err := o.transition(ctx, order, domain.StatusPaymentPending, AuditEntry{PaymentReference: res.ProviderReference},
		func(n *domain.Order) error {
			n.PaymentReference = res.ProviderReference
			n.Payment.ActionURL = res.ActionURL
			return nil
		})
	if err != nil {
		return InitiateOutput{Order: order}, err
	}
	log.Info("payment initiated", "provider", order.Provider, "payment_reference", pending.PaymentReference)
	return InitiateOutput{Order: pending, RedirectURL: res.ActionURL}, nil
}

// Apply reconciles one normalized provider event against the stored order.
// Duplicates and late arrivals are recorded, never applied twice.
func (o *Orchestrator) Apply(ctx context.Context, ev NormalizedEvent, payload []byte) (ApplyResult, error) {
	log := logging.FromCtx(ctx).With("provider", ev.Provider, "payment_reference", ev.ProviderReference,
		"idempotency_key", ev.IdempotencyKey, "outcome", ev.Outcome)

	base := AuditEntry{
		PaymentReference: ev.ProviderReference,
		Provider:         ev.Provider,
		IdempotencyKey:   ev.IdempotencyKey,
		AmountObserved:   ev.AmountObserved,
		Reason:           ev.Reason,
		Payload:          payload,
	}

	sctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	order, err := o.store.GetByPaymentReference(sctx, ev.ProviderReference)
	cancel()
	if errors.Is(err, ErrNotFound) || (err == nil && order.Provider != ev.Provider) {
		entry := base
		entry.Kind = AuditOrphaned
		if order != nil {
			entry.Reason = "reference belongs to provider " + order.Provider
		}
		log.Warn("orphaned webhook event")
		if err := o.record(ctx, entry); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Disposition: DispositionOrphaned}, nil
	}
	if err != nil {
		return ApplyResult{}, storeErr(err)
	}

	base.OrderID = order.ID
	base.FromStatus = order.Status

	if ev.Outcome == OutcomePending {
		entry := base
		entry.Kind = AuditPendingObserved
		if err := o.record(ctx, entry); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Disposition: DispositionPending, Order: order}, nil
	}

	expected, target, err := targetFor(ev.Outcome)
	if err != nil {
		return ApplyResult{}, err
	}

	if order.Status != expected {
		return o.notApplicable(ctx, base, order, ev.Outcome)
	}

	entry := base
	var mismatch bool
	if ev.Outcome == OutcomeSuccess && ev.AmountObserved != nil && *ev.AmountObserved != order.TotalAmount {
		mismatch = true
		within := domain.WithinTolerance(order.TotalAmount, *ev.AmountObserved, o.tolerance)
		entry.AmountMismatch = true
		entry.WithinTolerance = within
		o.metrics.ObserveAmountMismatch(ev.Provider, within)
		attrs := []any{"expected", order.TotalAmount, "observed", *ev.AmountObserved, "within_tolerance", within}
		if within {
			log.Warn("amount_mismatch", attrs...)
		} else {
			log.Error("amount_mismatch", attrs...)
		}
	}

	updated, err := o.transition(ctx, order, target, entry, func(n *domain.Order) error {
		if target == domain.StatusPaymentFailed && ev.Reason != "" {
			n.Payment.FailureReason = ev.Reason
		}
		return nil
	})
	if errors.Is(err, ErrStaleState) {
		// Lost the race to a concurrent delivery; the winner's transition stands.
		dup := base
		dup.Kind = AuditDuplicateIgnored
		dup.Reason = "stale_state"
		log.Info("concurrent transition won, event ignored")
		if rerr := o.record(ctx, dup); rerr != nil {
			return ApplyResult{}, rerr
		}
		return ApplyResult{Disposition: DispositionDuplicate, Order: order}, nil
	}
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Disposition: DispositionTransitioned, Order: updated, AmountMismatch: mismatch}, nil
}

// RecordDuplicate audits a redelivery that was short-circuited before Apply.
// The order id is attached when the reference still resolves.
func (o *Orchestrator) RecordDuplicate(ctx context.Context, ev NormalizedEvent, reason string) error {
	entry := AuditEntry{
		Kind:             AuditDuplicateIgnored,
		PaymentReference: ev.ProviderReference,
		Provider:         ev.Provider,
		IdempotencyKey:   ev.IdempotencyKey,
		AmountObserved:   ev.AmountObserved,
		Reason:           reason,
	}
	sctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	if order, err := o.store.GetByPaymentReference(sctx, ev.ProviderReference); err == nil {
		entry.OrderID = order.ID
		entry.FromStatus = order.Status
	}
	cancel()
	return o.record(ctx, entry)
}

func targetFor(out Outcome) (expected, target domain.Status, err error) {
	switch out {
	case OutcomeSuccess:
		return domain.StatusPaymentPending, domain.StatusPaid, nil
	case OutcomeFailed:
		return domain.StatusPaymentPending, domain.StatusPaymentFailed, nil
	case OutcomeRefunded:
		return domain.StatusPaid, domain.StatusRefunded, nil
	}
	return "", "", fmt.Errorf("%w: outcome %q", ErrMalformedPayload, out)
}

// notApplicable handles an event whose precondition does not hold. Terminal
// orders absorb it as a duplicate; an event that is ahead of the order is
// deferred so the provider redelivers it later.
func (o *Orchestrator) notApplicable(ctx context.Context, base AuditEntry, order *domain.Order, out Outcome) (ApplyResult, error) {
	entry := base
	ahead := order.Status == domain.StatusCreated ||
		(out == OutcomeRefunded && order.Status == domain.StatusPaymentPending)
	if ahead {
		entry.Kind = AuditDeferred
		if err := o.record(ctx, entry); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Order: order}, fmt.Errorf("%w: %s event for %s order", ErrOutOfOrder, out, order.Status)
	}
	entry.Kind = AuditDuplicateIgnored
	if entry.Reason == "" {
		entry.Reason = "order already " + string(order.Status)
	}
	if err := o.record(ctx, entry); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Disposition: DispositionDuplicate, Order: order}, nil
}

// transition performs the compare-and-transition and its audit entry.
func (o *Orchestrator) transition(ctx context.Context, cur *domain.Order, to domain.Status, entry AuditEntry, mutate func(*domain.Order) error) (*domain.Order, error) {
	sctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	updated, err := o.store.CompareAndTransition(sctx, cur.ID, cur.Status, to, mutate)
	cancel()
	if err != nil {
		err = storeErr(err)
		if errors.Is(err, ErrStaleState) && cur.Status == domain.StatusCreated {
			// A concurrent Initiate won; the reference we obtained is never used.
			_ = o.record(ctx, AuditEntry{
				Kind: AuditStaleState, OrderID: cur.ID, Provider: cur.Provider,
				PaymentReference: entry.PaymentReference, FromStatus: cur.Status, ToStatus: to,
				Reason: "concurrent initiation",
			})
		}
		return nil, err
	}

	entry.Kind = AuditTransition
	entry.OrderID = updated.ID
	entry.Provider = updated.Provider
	entry.PaymentReference = updated.PaymentReference
	entry.FromStatus = cur.Status
	entry.ToStatus = updated.Status
	o.metrics.ObserveTransition(updated.Provider, cur.Status, updated.Status)
	if err := o.record(ctx, entry); err != nil {
		return nil, err
	}

	if o.publisher != nil {
		msg := StatusChangedMsg{
			OrderID: updated.ID, BuyerID: updated.BuyerID, Provider: updated.Provider,
			PaymentReference: updated.PaymentReference, From: string(cur.Status), To: string(updated.Status),
			AmountMinor: updated.TotalAmount, Currency: updated.Currency, At: updated.UpdatedAt,
		}
		if err := o.publisher.PublishStatusChanged(ctx, msg); err != nil {
			logging.FromCtx(ctx).Warn("publish status change failed", "order_id", updated.ID, "err", err)
		}
	}
	return updated, nil
}

func (o *Orchestrator) getByID(ctx context.Context, id string) (*domain.Order, error) {
	sctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	order, err := o.store.GetByID(sctx, id)
	return order, storeErr(err)
}

func (o *Orchestrator) record(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = o.now()
	}
	if err := o.audit.Record(ctx, e); err != nil {
		logging.FromCtx(ctx).Error("audit record failed", "kind", e.Kind, "order_id", e.OrderID, "err", err)
		return fmt.Errorf("%w: audit: %v", ErrStoreUnavailable, err)
	}
	return nil
}
