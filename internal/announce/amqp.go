package announce

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "queueflow.calls"

type publishChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPAnnouncer publishes call events to a fanout exchange so that display
// boards and speech workers in other processes can react to them.
type AMQPAnnouncer struct {
	exchange string
	open     func() (publishChannel, error)
	closeFn  func() error

	mu       sync.Mutex
	declared bool
}

func DialAMQP(url, exchange string) (*AMQPAnnouncer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	open := func() (publishChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	a := newAMQPAnnouncer(exchange, open)
	a.closeFn = conn.Close
	return a, nil
}

func newAMQPAnnouncer(exchange string, open func() (publishChannel, error)) *AMQPAnnouncer {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPAnnouncer{exchange: exchange, open: open}
}

func (a *AMQPAnnouncer) Announce(ctx context.Context, call Call) error {
	return a.publish(ctx, call.EventType(), call)
}

func (a *AMQPAnnouncer) AlertPriority(ctx context.Context, call Call) error {
	return a.publish(ctx, EventPriorityAlert, call)
}

func (a *AMQPAnnouncer) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func (a *AMQPAnnouncer) publish(ctx context.Context, eventType string, call Call) error {
	ch, err := a.open()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := a.declare(ch); err != nil {
		return err
	}

	body, err := encodeEvent(eventType, call)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = ch.PublishWithContext(ctx, a.exchange, eventType, false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        eventType,
		Timestamp:   call.CalledAt,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (a *AMQPAnnouncer) declare(ch publishChannel) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.declared {
		return nil
	}
	if err := ch.ExchangeDeclare(a.exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	a.declared = true
	return nil
}
