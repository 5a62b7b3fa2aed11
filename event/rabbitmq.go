package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"dm-service/config"
)

const (
	RabbitMQActionHeader = "x-action"

	// QueueMessenger carries events this service emits.
	QueueMessenger = "messenger"
	// QueueBackoffice carries events from the admin side, e.g. profile edits.
	QueueBackoffice = "backoffice"

	publishTimeout = 5 * time.Second
)

type EventChannelData struct {
	Action string
	Data   []byte
}

type RabbitMQSubscribeListener struct {
	Queue   string
	Channel chan EventChannelData
}

// RabbitMQ publishes domain events and feeds subscribed queues into Go
// channels.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex // serializes publishes on the shared channel
	log     zerolog.Logger
}

func RabbitMQConnect(queues []string, log zerolog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		config.Config("RABBITMQ_USER"),
		config.Config("RABBITMQ_PASSWORD"),
		config.Config("RABBITMQ_HOST"),
		config.Config("RABBITMQ_PORT"),
	))
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	log.Info().Msg("connection opened to RabbitMQ server")

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open a RabbitMQ channel: %w", err)
	}

	for _, name := range queues {
		_, err := channel.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare RabbitMQ queue %s: %w", name, err)
		}
		log.Info().Str("queue", name).Msg("declared RabbitMQ queue")
	}

	return &RabbitMQ{
		conn:    conn,
		channel: channel,
		log:     log.With().Str("component", "rabbitmq").Logger(),
	}, nil
}

// Publish sends payload as JSON to the messenger queue tagged with action.
func (r *RabbitMQ) Publish(ctx context.Context, action string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", action, err)
	}
	return r.Emit(ctx, QueueMessenger, action, data)
}

func (r *RabbitMQ) Emit(ctx context.Context, queue string, action string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				RabbitMQActionHeader: action,
			},
			Body: data,
		},
	)
}

// Subscribe starts one consumer per listener. Each consumer stops when ctx is
// cancelled or the broker closes the delivery channel, closing the
// listener channel on its way out.
func (r *RabbitMQ) Subscribe(ctx context.Context, listeners []RabbitMQSubscribeListener) error {
	for _, listener := range listeners {
		msgs, err := r.channel.Consume(
			listener.Queue, // queue
			"",             // consumer
			false,          // auto-ack
			false,          // exclusive
			false,          // no-local
			false,          // no-wait
			nil,            // args
		)
		if err != nil {
			return fmt.Errorf("register a consumer on %s: %w", listener.Queue, err)
		}
		r.log.Info().Str("queue", listener.Queue).Msg("subscribed to RabbitMQ queue")

		go r.forward(ctx, listener, msgs)
	}
	return nil
}

func (r *RabbitMQ) forward(ctx context.Context, listener RabbitMQSubscribeListener, msgs <-chan amqp.Delivery) {
	defer close(listener.Channel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			action, _ := msg.Headers[RabbitMQActionHeader].(string)
			_ = msg.Ack(false)
			if action == "" {
				r.log.Warn().Str("queue", listener.Queue).Msg("dropping event without action header")
				continue
			}
			select {
			case listener.Channel <- EventChannelData{Action: action, Data: msg.Body}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *RabbitMQ) Close() {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}
