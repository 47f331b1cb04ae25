package eventsvc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trezcool/bursar/core"
)

// AMQPPublisher publishes events to a durable topic exchange, routed by event type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   core.Logger

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp.Channel
}

var _ core.EventPublisher = (*AMQPPublisher)(nil)

func NewAMQPPublisher(conf *core.Config, logger core.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(conf.AMQP.URL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening channel")
	}

	exchange := conf.AMQP.Exchange
	if exchange == "" {
		exchange = "bursar.events"
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declaring exchange")
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, events ...core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, evt := range events {
		body, err := json.Marshal(evt)
		if err != nil {
			return errors.Wrapf(err, "encoding event %s", evt.Type)
		}
		err = p.ch.PublishWithContext(
			ctx,
			p.exchange,
			evt.Type, // routing key
			false,    // mandatory
			false,    // immediate
			amqp.Publishing{
				DeliveryMode: amqp.Persistent,
				ContentType:  "application/json",
				MessageId:    evt.ID,
				Type:         evt.Type,
				Timestamp:    evt.OccurredAt,
				Body:         body,
			},
		)
		if err != nil {
			return errors.Wrapf(err, "publishing event %s", evt.Type)
		}
		p.logger.Debug("event published: " + evt.Type + " " + evt.ID)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil && !p.conn.IsClosed() {
		return errors.Wrap(err, "closing channel")
	}
	done := make(chan error, 1)
	go func() { done <- p.conn.Close() }()
	select {
	case err := <-done:
		return errors.Wrap(err, "closing connection")
	case <-time.After(5 * time.Second):
		return errors.New("closing connection: timeout")
	}
}
