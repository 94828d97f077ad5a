package mq

import (
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "email_reply.events"

	defaultHeartbeat = 10 * time.Second
)

// ErrNonRetryable 由 handler 返回（可包装），表示消息应直接进入死信队列而不是重新入队
var ErrNonRetryable = errors.New("mq: non-retryable message")

// NewConnection dials RabbitMQ. name shows up as connection_name in the
// management UI so api, worker and replyctl connections can be told apart.
func NewConnection(url, name string) (*amqp091.Connection, error) {
	props := amqp091.NewConnectionProperties()
	if name != "" {
		props.SetClientConnectionName(name)
	}

	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Heartbeat:  defaultHeartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the durable topic exchange all reply events go through.
func DeclareExchange(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeName, err)
	}
	return nil
}
