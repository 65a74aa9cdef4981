package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

// Topology names the exchange, routing key and queue for status events.
type Topology struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

// RabbitProducer implements usecase.StatusPublisher
type RabbitProducer struct {
	ch   Channel
	topo Topology
}

// NewRabbitProducer sets up the exchange, queue, and binding once at startup.
func NewRabbitProducer(ch Channel, topo Topology) (*RabbitProducer, error) {
	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(
		topo.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	// 2. declare queue
	if topo.Queue != "" {
		q, err := ch.QueueDeclare(
			topo.Queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("declare queue: %w", err)
		}

		// 3. bind queue → exchange (all status changes)
		if err := ch.QueueBind(
			q.Name,
			topo.RoutingKey+".#",
			topo.Exchange,
			false, // no-wait
			nil,
		); err != nil {
			return nil, fmt.Errorf("queue bind: %w", err)
		}
	}

	// 4. enable publisher confirms (optional but recommended)
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitProducer{ch: ch, topo: topo}, nil
}

// PublishStatusChanged sends "<routing key>.<new status>" to the exchange.
func (p *RabbitProducer) PublishStatusChanged(ctx context.Context, msg usecase.StatusChangedMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    msg.OrderID + ":" + msg.To,
		Timestamp:    msg.At,
		Body:         body,
	}

	key := p.topo.RoutingKey + "." + msg.To

	// Publish with context-aware cancellation
	if err := p.ch.PublishWithContext(
		ctx,
		p.topo.Exchange, // exchange
		key,             // routing key
		false,           // mandatory
		false,           // immediate
		pub,
	); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

var _ usecase.StatusPublisher = (*RabbitProducer)(nil)
