// Package broker wraps the AMQP connection the pipeline stages communicate
// through. All queues live on the default exchange, durable, routed by name.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// DefaultReplyTimeout bounds how long Request waits for a reply.
const DefaultReplyTimeout = 10 * time.Second

// A Publisher emits a JSON payload onto a named queue. Stages depend on this
// interface so tests can capture emissions without a live broker.
type Publisher interface {
	Publish(ctx context.Context, queue, correlationID string, v interface{}) error
}

// A Requester performs a broker-mediated request/reply round trip.
type Requester interface {
	Request(ctx context.Context, queue, correlationID string, v interface{}, timeout time.Duration) ([]byte, error)
}

// A Delivery is one consumed message plus its acknowledgement controls. Under
// auto-ack the controls are no-ops.
type Delivery struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string

	ack  func() error
	nack func(requeue bool) error
}

// Ack acknowledges the message. Call only after all side effects committed.
func (d *Delivery) Ack() {
	if d.ack == nil {
		return
	}
	if err := d.ack(); err != nil {
		log.WithError(err).Warn("Failed to ack message")
	}
}

// Nack returns the message to the broker, optionally requeueing it.
func (d *Delivery) Nack(requeue bool) {
	if d.nack == nil {
		return
	}
	if err := d.nack(requeue); err != nil {
		log.WithError(err).Warn("Failed to nack message")
	}
}

// Broker is a live AMQP connection with a dedicated publishing channel.
type Broker struct {
	conn *amqp.Connection
	pub  *amqp.Channel
	sem  chan struct{} // serializes use of the publish channel
	wg   sync.WaitGroup
}

// Dial connects to the broker and opens the publish channel.
func Dial(amqpURL string) (*Broker, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	return &Broker{conn: conn, pub: pub, sem: sem}, nil
}

// Close tears down the connection and every channel on it.
func (b *Broker) Close() error {
	return b.conn.Close()
}

func (b *Broker) declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", queue, err)
	}
	return nil
}

// Publish marshals v and emits it onto the named durable queue.
func (b *Broker) Publish(ctx context.Context, queue, correlationID string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %q: %w", queue, err)
	}
	select {
	case <-b.sem:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { b.sem <- struct{}{} }()

	if err := b.declare(b.pub, queue); err != nil {
		return err
	}
	return b.pub.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          body,
	})
}

// publishRaw sends pre-marshalled bytes to a routing key without declaring it.
// Used for replies, whose queues are declared by the requester.
func (b *Broker) publishRaw(ctx context.Context, routingKey, correlationID string, body []byte) error {
	select {
	case <-b.sem:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { b.sem <- struct{}{} }()
	return b.pub.PublishWithContext(ctx, "", routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          body,
	})
}

// Reply marshals v and sends it to the delivery's reply queue, echoing the
// correlation ID.
func (b *Broker) Reply(ctx context.Context, d *Delivery, v interface{}) error {
	if d.ReplyTo == "" {
		return fmt.Errorf("reply requested but no reply_to on message")
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return b.publishRaw(ctx, d.ReplyTo, d.CorrelationID, body)
}

// Request publishes v onto the named queue with a private exclusive reply
// queue and waits for the correlated reply. A zero timeout means
// DefaultReplyTimeout.
func (b *Broker) Request(ctx context.Context, queue, correlationID string, v interface{}, timeout time.Duration) ([]byte, error) {
	if timeout == 0 {
		timeout = DefaultReplyTimeout
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request for %q: %w", queue, err)
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open request channel: %w", err)
	}
	defer ch.Close()

	replyQ, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	replies, err := ch.Consume(replyQ.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}

	if err := b.declare(ch, queue); err != nil {
		return nil, err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       replyQ.Name,
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("publish request to %q: %w", queue, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case msg, ok := <-replies:
			if !ok {
				return nil, fmt.Errorf("reply channel closed for %q", queue)
			}
			// The reply queue is private, but filter on correlation ID anyway.
			if msg.CorrelationId != correlationID {
				continue
			}
			return msg.Body, nil
		case <-deadline.C:
			return nil, fmt.Errorf("timed out waiting for reply from %q", queue)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Consume declares the durable queue and feeds deliveries to fn until ctx is
// cancelled. With manualAck the handler owns acknowledgement and unacked
// messages are redelivered; otherwise the broker auto-acks on delivery.
func (b *Broker) Consume(ctx context.Context, queue string, manualAck bool, fn func(*Delivery)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := b.declare(ch, queue); err != nil {
		ch.Close()
		return err
	}
	if manualAck {
		if err := ch.Qos(1, 0, false); err != nil {
			ch.Close()
			return fmt.Errorf("set qos on %q: %w", queue, err)
		}
	}
	msgs, err := ch.Consume(queue, "", !manualAck, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %q: %w", queue, err)
	}

	go func() {
		<-ctx.Done()
		ch.Close()
	}()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			d := &Delivery{
				Body:          msg.Body,
				CorrelationID: msg.CorrelationId,
				ReplyTo:       msg.ReplyTo,
			}
			if manualAck {
				m := msg
				d.ack = func() error { return m.Ack(false) }
				d.nack = func(requeue bool) error { return m.Nack(false, requeue) }
			}
			fn(d)
		}
		log.WithField("queue", queue).Info("Consumer stopped")
	}()
	return nil
}

// Drain waits for every consumer loop to stop, up to the given timeout.
// Handlers still blocked past the deadline are abandoned.
func (b *Broker) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("Shutdown grace period expired with consumers still running")
	}
}

// NewDelivery builds a Delivery by hand. Tests use it to feed handlers
// without a broker; the ack callbacks may be nil.
func NewDelivery(body []byte, correlationID, replyTo string, ack func() error, nack func(bool) error) *Delivery {
	return &Delivery{Body: body, CorrelationID: correlationID, ReplyTo: replyTo, ack: ack, nack: nack}
}
