package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/IBM/sarama"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
)

// WebhookEnvelope is a raw provider callback captured for replay. Body is
// carried verbatim (base64 in JSON) so signatures still verify. ReceivedAt is
// when the callback first reached us; the record timestamp stands in when the
// capturer left it empty.
type WebhookEnvelope struct {
	Provider   string      `json:"provider"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	ReceivedAt time.Time   `json:"received_at,omitempty"`
}

// HandlerFunc processes a decoded envelope.
type HandlerFunc func(ctx context.Context, env WebhookEnvelope) error

// DeadLetterFunc parks a message that kept failing.
type DeadLetterFunc func(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error

// RetryPolicy is the in-place backoff for a failing message. Attempts only
// bounds the loop when a dead letter sink exists; without one the message is
// retried until the session ends so the offset never moves past it.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 5, Initial: 500 * time.Millisecond, Max: 30 * time.Second}

// Consumer consumes a topic with a single handler.
type Consumer struct {
	Group      sarama.ConsumerGroup
	Topics     []string
	Handle     HandlerFunc
	Retry      RetryPolicy
	DeadLetter DeadLetterFunc // optional
	Logger     *slog.Logger   // optional
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, h HandlerFunc) *Consumer {
	return &Consumer{
		Group:  group,
		Topics: topics,
		Handle: h,
		Retry:  DefaultRetry,
		Logger: logging.New("kafka-replay"),
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	handler := &cgHandler{handle: c.Handle, retry: c.Retry, deadLetter: c.DeadLetter, logger: c.Logger}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			return err
		}
		// When Consume returns, it’s because ctx was cancelled or a rebalance happened.
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type cgHandler struct {
	handle     HandlerFunc
	retry      RetryPolicy
	deadLetter DeadLetterFunc
	logger     *slog.Logger
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles messages strictly in order. Offsets commit
// cumulatively, so a message is only marked once it is handled, poison or
// dead-lettered.
func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var env WebhookEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil || env.Provider == "" {
			if h.logger != nil {
				h.logger.Warn("kafka decode error", "err", err, "off", msg.Offset)
			}
			// mark to avoid reprocessing poison
			sess.MarkMessage(msg, "decode-error")
			continue
		}
		if env.ReceivedAt.IsZero() && !msg.Timestamp.IsZero() {
			env.ReceivedAt = msg.Timestamp
		}
		ctx := sess.Context()
		if h.logger != nil {
			ctx = logging.WithCtx(ctx, h.logger.With("provider", env.Provider, "off", msg.Offset))
		}
		err := h.handleWithRetry(ctx, env)
		if err == nil {
			sess.MarkMessage(msg, "")
			continue
		}
		if ctx.Err() != nil || h.deadLetter == nil {
			// Session is ending; the next owner of the partition starts here.
			return nil
		}
		if dlErr := h.deadLetter(ctx, msg, err); dlErr != nil {
			if h.logger != nil {
				h.logger.Error("dead letter failed", "err", dlErr, "off", msg.Offset)
			}
			return dlErr
		}
		if h.logger != nil {
			h.logger.Warn("message dead-lettered", "err", err, "key", string(msg.Key), "off", msg.Offset)
		}
		sess.MarkMessage(msg, "dead-letter")
	}
	return nil
}

// handleWithRetry returns nil once the handler succeeds, or the last error
// once attempts run out (dead letter configured) or ctx ends.
func (h *cgHandler) handleWithRetry(ctx context.Context, env WebhookEnvelope) error {
	delay := h.retry.Initial
	if delay <= 0 {
		delay = DefaultRetry.Initial
	}
	for attempt := 1; ; attempt++ {
		err := h.handle(ctx, env)
		if err == nil {
			return nil
		}
		if h.deadLetter != nil && h.retry.Attempts > 0 && attempt >= h.retry.Attempts {
			return err
		}
		if h.logger != nil {
			h.logger.Warn("handler error, retrying", "err", err, "attempt", attempt, "in", delay)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
		delay *= 2
		if h.retry.Max > 0 && delay > h.retry.Max {
			delay = h.retry.Max
		}
	}
}
