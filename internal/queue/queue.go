// Package queue bridges lead ingestion events through RabbitMQ to the
// cycle scheduler.
package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdr-cli/internal/pipeline"
)

// Topology names.
const (
	ExchangeName = "ex.leads"
	QueueName    = "q.leads.ingested"
	DLXName      = "ex.leads.dlx"
	DLQName      = "q.leads.ingested.dlq"
	RoutingKey   = "k.ingested"
)

// Event announces that leads were ingested and a cycle should run.
type Event struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// topology is the subset of *amqp.Channel used to declare exchanges and
// queues.
type topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// publisher is the subset of *amqp.Channel used to publish.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Conn owns a RabbitMQ connection and channel with the lead topology
// declared.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to url and declares the topology.
func Dial(url string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "queue: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "queue: open channel")
	}
	if err := setupTopology(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Conn{conn: conn, ch: ch}, nil
}

// setupTopology declares the work queue with a dead-letter exchange for
// rejected events.
func setupTopology(ch topology) error {
	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "queue: declare dead-letter exchange")
	}
	if _, err := ch.QueueDeclare(DLQName, true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "queue: declare dead-letter queue")
	}
	if err := ch.QueueBind(DLQName, RoutingKey, DLXName, false, nil); err != nil {
		return eris.Wrap(err, "queue: bind dead-letter queue")
	}

	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "queue: declare exchange")
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    DLXName,
		"x-dead-letter-routing-key": RoutingKey,
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, args); err != nil {
		return eris.Wrap(err, "queue: declare queue")
	}
	if err := ch.QueueBind(QueueName, RoutingKey, ExchangeName, false, nil); err != nil {
		return eris.Wrap(err, "queue: bind queue")
	}
	return nil
}

// Publisher returns a Publisher on this connection.
func (c *Conn) Publisher() *Publisher {
	return NewPublisher(c.ch)
}

// Deliveries starts a manual-ack consumer on the ingestion queue.
func (c *Conn) Deliveries() (<-chan amqp.Delivery, error) {
	d, err := c.ch.Consume(QueueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, eris.Wrap(err, "queue: consume")
	}
	return d, nil
}

// Close closes the channel and connection.
func (c *Conn) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Publisher publishes ingestion events.
type Publisher struct {
	ch      publisher
	timeout time.Duration
}

// NewPublisher creates a Publisher.
func NewPublisher(ch publisher) *Publisher {
	return &Publisher{ch: ch, timeout: 5 * time.Second}
}

// Publish sends ev as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "queue: marshal event")
	}
	err = p.ch.PublishWithContext(ctx, ExchangeName, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return eris.Wrap(err, "queue: publish")
	}
	return nil
}

// Submit publishes an event for kind. It reports whether the publish
// succeeded; failures are logged.
func (p *Publisher) Submit(kind pipeline.Kind) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.Publish(ctx, Event{Kind: string(kind)}); err != nil {
		zap.L().Warn("queue: publish ingestion event failed", zap.String("kind", string(kind)), zap.Error(err))
		return false
	}
	return true
}

// Submitter accepts cycle submissions.
type Submitter interface {
	Submit(kind pipeline.Kind) bool
}

// Consumer forwards ingestion events to a Submitter.
type Consumer struct {
	deliveries <-chan amqp.Delivery
	target     Submitter
}

// NewConsumer creates a Consumer.
func NewConsumer(deliveries <-chan amqp.Delivery, target Submitter) *Consumer {
	return &Consumer{deliveries: deliveries, target: target}
}

// Run handles deliveries until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-c.deliveries:
			if !ok {
				return eris.New("queue: delivery channel closed")
			}
			c.handle(d)
		}
	}
}

// handle acks valid events and dead-letters malformed ones.
func (c *Consumer) handle(d amqp.Delivery) {
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		zap.L().Warn("queue: malformed event", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	kind, err := pipeline.ParseKind(ev.Kind)
	if err != nil {
		zap.L().Warn("queue: unknown cycle kind", zap.String("kind", ev.Kind))
		_ = d.Nack(false, false)
		return
	}
	if !c.target.Submit(kind) {
		// A cycle of this kind is already queued.
		zap.L().Info("queue: submission dropped", zap.String("kind", ev.Kind))
	}
	_ = d.Ack(false)
}
