package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// RabbitPublisher publishes events to a topic exchange, routed by event type.
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: failed to declare exchange %s: %w", exchange, err)
	}

	return &RabbitPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *RabbitPublisher) Name() string { return "rabbitmq" }

func (p *RabbitPublisher) Notify(_ context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: failed to marshal event: %w", err)
	}

	err = p.channel.Publish(p.exchange, ev.Type.String(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.OrderID.String(),
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
