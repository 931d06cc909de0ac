package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"voxmeet/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "voxmeet.meetings"
	// BindAll matches every meeting event
	BindAll = "meeting.#"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMQ struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	channel channel
	timeout time.Duration
	log     *zap.Logger
}

// New RabbitMQ client with the meetings topic exchange declared
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("RabbitMQ connected successfully")

	r := newRabbitMQ(ch)
	r.conn = conn
	r.ch = ch
	return r, nil
}

func newRabbitMQ(ch channel) *RabbitMQ {
	return &RabbitMQ{
		channel: ch,
		timeout: 5 * time.Second,
		log:     logger.Named("broker"),
	}
}

// PublishEvent publishes the event under its routing key
func (r *RabbitMQ) PublishEvent(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err = r.channel.PublishWithContext(
		ctx,
		ExchangeName,    // exchange
		ev.RoutingKey(), // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.Timestamp,
			MessageId:    ev.ID,
			Type:         string(ev.Type),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	r.log.Debug("Event published",
		zap.String("routing_key", ev.RoutingKey()),
		zap.Int("size", len(body)))

	return nil
}

// Subscribe declares a durable queue bound to the exchange with the given pattern
func (r *RabbitMQ) Subscribe(queueName, pattern string) error {
	if r.ch == nil {
		return fmt.Errorf("broker is not connected")
	}

	_, err := r.ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := r.ch.QueueBind(queueName, pattern, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Consume delivers events from the queue until ctx is done or the channel closes.
// Messages that fail to decode are dropped; handler errors requeue the message.
func (r *RabbitMQ) Consume(ctx context.Context, queueName string, handler func(context.Context, Event) error) error {
	if r.ch == nil {
		return fmt.Errorf("broker is not connected")
	}

	err := r.ch.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := r.ch.ConsumeWithContext(
		ctx,
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	r.log.Info("Starting to consume events", zap.String("queue", queueName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle(ctx, msg, handler)
		}
	}
}

func (r *RabbitMQ) handle(ctx context.Context, msg amqp.Delivery, handler func(context.Context, Event) error) {
	var ev Event
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		r.log.Error("Dropping malformed event", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	if err := handler(ctx, ev); err != nil {
		r.log.Error("Failed to handle event",
			zap.String("routing_key", msg.RoutingKey),
			zap.Error(err))
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// Close RabbitMQ connection
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
