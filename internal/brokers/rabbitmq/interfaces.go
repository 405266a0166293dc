package rabbitmq

import (
	"github.com/streadway/amqp"
)

// Pool hands out channels on pooled connections.
type Pool interface {
	NewClient() (Channel, error)
	Close()
}

// Channel is the part of an AMQP channel the broker uses. Close returns the
// underlying connection to its pool.
type Channel interface {
	Close()
	Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

var (
	_ Pool    = (*ConnectionPool)(nil)
	_ Channel = (*Client)(nil)
)
