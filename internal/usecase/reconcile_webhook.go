package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
)

// WebhookInput is one delivery. ReceivedAt is zero for live callbacks and the
// capture time for replays.
type WebhookInput struct {
	Provider   string
	Body       []byte
	Headers    http.Header
	ReceivedAt time.Time
}

type WebhookOutput struct {
	Disposition    Disposition
	IdempotencyKey string
	Reference      string
	OrderID        string
	Status         string
}

// ReconcileWebhook authenticates and normalizes one provider callback and
// feeds it to the Orchestrator. Redeliveries of an event whose outcome is
// remembered are short-circuited without touching the order; a redelivery
// racing an unresolved attempt gets ErrInFlight so the provider retries.
type ReconcileWebhook struct {
	registry ProviderRegistry
	orch     *Orchestrator
	dedupe   IdempotencyStore
	metrics  Metrics
	timeout  time.Duration
}

func NewReconcileWebhook(registry ProviderRegistry, orch *Orchestrator, dedupe IdempotencyStore, m Metrics, timeout time.Duration) *ReconcileWebhook {
	if m == nil {
		m = nopMetrics{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ReconcileWebhook{registry: registry, orch: orch, dedupe: dedupe, metrics: m, timeout: timeout}
}

func (uc *ReconcileWebhook) Execute(ctx context.Context, in WebhookInput) (WebhookOutput, error) {
	log := logging.FromCtx(ctx).With("provider", in.Provider)

	gw, err := uc.registry.Resolve(in.Provider)
	if err != nil {
		uc.metrics.ObserveWebhook(in.Provider, "unknown_provider")
		return WebhookOutput{}, err
	}

	var ev NormalizedEvent
	if tn, ok := gw.(TimedNormalizer); ok && !in.ReceivedAt.IsZero() {
		ev, err = tn.NormalizeWebhookAt(in.Body, in.Headers, in.ReceivedAt)
	} else {
		ev, err = gw.NormalizeWebhook(in.Body, in.Headers)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedEvent):
			uc.metrics.ObserveWebhook(in.Provider, "unsupported")
			log.Info("webhook event not handled", "err", err)
		case errors.Is(err, ErrUnauthenticatedPayload):
			uc.metrics.ObserveWebhook(in.Provider, "unauthenticated")
			log.Warn("webhook rejected", "err", err)
		default:
			uc.metrics.ObserveWebhook(in.Provider, "malformed")
			log.Warn("webhook rejected", "err", err)
		}
		return WebhookOutput{}, err
	}
	ev.Provider = gw.ID()
	log = log.With("idempotency_key", ev.IdempotencyKey, "payment_reference", ev.ProviderReference)
	ctx = logging.WithCtx(ctx, log)

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	out := WebhookOutput{IdempotencyKey: ev.IdempotencyKey, Reference: ev.ProviderReference}

	if uc.dedupe != nil {
		prior, found, err := uc.dedupe.Recall(ctx, ev.Provider, ev.IdempotencyKey)
		if err != nil {
			uc.metrics.ObserveWebhook(ev.Provider, "error")
			return out, storeErr(err)
		}
		if found {
			return uc.duplicate(ctx, ev, out, prior)
		}
		locked, err := uc.dedupe.TryLock(ctx, ev.Provider, ev.IdempotencyKey)
		if err != nil {
			uc.metrics.ObserveWebhook(ev.Provider, "error")
			return out, storeErr(err)
		}
		if !locked {
			// Another delivery holds the key but has not resolved it yet.
			uc.metrics.ObserveWebhook(ev.Provider, "in_flight")
			log.Info("webhook delivery already in flight")
			return out, fmt.Errorf("%w: %s", ErrInFlight, ev.IdempotencyKey)
		}
		if prior, found, _ := uc.dedupe.Recall(ctx, ev.Provider, ev.IdempotencyKey); found {
			return uc.duplicate(ctx, ev, out, prior)
		}

		// Unless Apply settles the event, free the key so the provider's
		// retry reaches business logic again. Runs on panic too.
		settled := false
		defer func() {
			if settled {
				return
			}
			if rerr := uc.dedupe.Release(context.WithoutCancel(ctx), ev.Provider, ev.IdempotencyKey); rerr != nil {
				log.Error("release dedupe lock failed", "err", rerr)
			}
		}()
		res, err := uc.orch.Apply(ctx, ev, in.Body)
		if err != nil {
			uc.metrics.ObserveWebhook(ev.Provider, "error")
			return out, err
		}
		settled = true
		if err := uc.dedupe.Remember(ctx, ev.Provider, ev.IdempotencyKey, string(res.Disposition)); err != nil {
			log.Warn("remember dedupe result failed", "err", err)
		}
		return uc.finish(out, ev, res, log), nil
	}

	res, err := uc.orch.Apply(ctx, ev, in.Body)
	if err != nil {
		uc.metrics.ObserveWebhook(ev.Provider, "error")
		return out, err
	}
	return uc.finish(out, ev, res, log), nil
}

func (uc *ReconcileWebhook) duplicate(ctx context.Context, ev NormalizedEvent, out WebhookOutput, prior string) (WebhookOutput, error) {
	if err := uc.orch.RecordDuplicate(ctx, ev, "redelivery of "+prior); err != nil {
		uc.metrics.ObserveWebhook(ev.Provider, "error")
		return out, err
	}
	uc.metrics.ObserveWebhook(ev.Provider, string(DispositionDuplicate))
	logging.FromCtx(ctx).Info("duplicate webhook short-circuited", "prior", prior)
	out.Disposition = DispositionDuplicate
	return out, nil
}

func (uc *ReconcileWebhook) finish(out WebhookOutput, ev NormalizedEvent, res ApplyResult, log *slog.Logger) WebhookOutput {
	uc.metrics.ObserveWebhook(ev.Provider, string(res.Disposition))
	out.Disposition = res.Disposition
	if res.Order != nil {
		out.OrderID = res.Order.ID
		out.Status = string(res.Order.Status)
	}
	log.Info("webhook reconciled", "disposition", res.Disposition, "order_id", out.OrderID)
	return out
}
