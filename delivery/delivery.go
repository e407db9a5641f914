// Package delivery serializes outbound messages per user and enforces the
// pacing interval between two successive sends to the same user.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/types"
)

var deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "newsprism_deliveries_total",
	Help: "The number of outbound messages handed to the front-end",
})

// mailboxSize bounds each user's in-memory queue. Arrivals beyond it are
// dropped with a log line rather than stalling the broker consumer.
const mailboxSize = 64

// A Sender performs the actual outbound send to the front-end.
type Sender interface {
	Send(ctx context.Context, userID int64, text, correlationID string) error
}

type outbound struct {
	text          string
	correlationID string
}

// A Router owns the user_id -> mailbox map. Each active user gets one
// dedicated delivery goroutine; creation is guarded so concurrent arrivals
// spawn exactly one.
type Router struct {
	sender Sender
	pacing time.Duration

	mu        sync.Mutex
	mailboxes map[int64]chan outbound

	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a Router sending at most one message per pacing interval per
// user. ctx cancellation stops every delivery task.
func New(ctx context.Context, sender Sender, pacing time.Duration) *Router {
	return &Router{
		sender:    sender,
		pacing:    pacing,
		mailboxes: make(map[int64]chan outbound),
		ctx:       ctx,
	}
}

// HandleReadyPost processes one rss.ready_posts delivery.
func (r *Router) HandleReadyPost(ctx context.Context, d *broker.Delivery) {
	var event types.ReadyPostEvent
	if err := types.Decode(d.Body, &event); err != nil {
		log.WithError(err).Error("Dropping unreadable ready post")
		metrics.IncrementError(metrics.ErrTypeMalformed)
		d.Ack()
		return
	}
	r.enqueue(event.UserID, outbound{text: event.News, correlationID: event.CorrelationID})
	d.Ack()
}

// HandleStatusNotification routes a status-change notice through the same
// paced mailbox as news deliveries.
func (r *Router) HandleStatusNotification(ctx context.Context, d *broker.Delivery) {
	var note types.StatusNotification
	if err := types.Decode(d.Body, &note); err != nil {
		log.WithError(err).Error("Dropping unreadable status notification")
		metrics.IncrementError(metrics.ErrTypeMalformed)
		d.Ack()
		return
	}
	text := fmt.Sprintf("Your account status is now: %s", note.Status)
	r.enqueue(note.UserID, outbound{text: text, correlationID: note.CorrelationID})
	d.Ack()
}

// enqueue looks up or creates the user's mailbox under the mutex and drops
// the message if the mailbox is full.
func (r *Router) enqueue(userID int64, msg outbound) {
	r.mu.Lock()
	mb, ok := r.mailboxes[userID]
	if !ok {
		mb = make(chan outbound, mailboxSize)
		r.mailboxes[userID] = mb
		r.wg.Add(1)
		go r.deliverLoop(userID, mb)
	}
	r.mu.Unlock()

	select {
	case mb <- msg:
	default:
		log.WithFields(log.Fields{
			"user_id":        userID,
			"correlation_id": msg.correlationID,
		}).Warn("Mailbox full, dropping message")
		metrics.IncrementError(metrics.ErrTypeDelivery)
	}
}

// deliverLoop is the single consumer of one user's mailbox. After every send
// attempt, successful or not, it sleeps for the pacing interval.
func (r *Router) deliverLoop(userID int64, mb chan outbound) {
	defer r.wg.Done()
	logger := log.WithField("user_id", userID)
	logger.Info("Starting delivery task")
	for {
		select {
		case <-r.ctx.Done():
			logger.Info("Delivery task stopped")
			return
		case msg := <-mb:
			if err := r.sender.Send(r.ctx, userID, msg.text, msg.correlationID); err != nil {
				logger.WithError(err).WithField("correlation_id", msg.correlationID).Warn("Outbound send failed")
				metrics.IncrementError(metrics.ErrTypeDelivery)
			} else {
				deliveredCounter.Inc()
				logger.WithField("correlation_id", msg.correlationID).Info("Message delivered")
			}
			select {
			case <-time.After(r.pacing):
			case <-r.ctx.Done():
				logger.Info("Delivery task stopped")
				return
			}
		}
	}
}

// Wait blocks until every delivery task has observed cancellation.
func (r *Router) Wait() {
	r.wg.Wait()
}

func init() {
	prometheus.MustRegister(deliveredCounter)
}
