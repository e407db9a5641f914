// Package writer turns each RelevantPost into a short personalized summary.
package writer

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/model"
	"github.com/newsprism/newsprism/types"
)

var summaryCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "newsprism_summaries_total",
	Help: "The number of summaries produced",
})

// A ModelClient asks the external writing model for a summary.
type ModelClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// A Writer consumes RelevantPost events and emits ReadyPost events, one at
// most per input.
type Writer struct {
	publisher broker.Publisher
	model     ModelClient
	limiter   *rate.Limiter
}

// New creates a Writer with a token bucket sized for the writing model's
// budget.
func New(publisher broker.Publisher, mc ModelClient, requestsPerSecond float64) *Writer {
	return &Writer{
		publisher: publisher,
		model:     mc,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// HandleRelevantPost processes one rss.relevant_posts delivery. A failed
// rewrite is not worth repeating at the model's expense, so model failures
// ack and drop; only publish failures nack for redelivery.
func (w *Writer) HandleRelevantPost(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("write_summary")()

	var event types.RelevantPostEvent
	if err := types.Decode(d.Body, &event); err != nil {
		log.WithError(err).Error("Dropping unreadable relevant post")
		metrics.IncrementError(metrics.ErrTypeMalformed)
		d.Ack()
		return
	}
	logger := log.WithFields(log.Fields{
		"correlation_id": event.CorrelationID,
		"user_id":        event.UserID,
		"post_link":      event.PostLink,
	})

	if err := w.limiter.Wait(ctx); err != nil {
		d.Nack(true) // shutting down, let another instance take it
		return
	}

	raw, err := w.model.Chat(ctx, systemPrompt, fmt.Sprintf(
		writePromptFormat, event.PostTitle, event.Preferences, event.PostContent,
	))
	if err != nil {
		logger.WithError(err).Warn("Writing model call failed, dropping post")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Ack()
		return
	}
	news, err := model.DecodeNews(raw)
	if err != nil {
		logger.WithError(err).Warn("Unusable writing output, dropping post")
		metrics.IncrementError(metrics.ErrTypeModelOutput)
		d.Ack()
		return
	}

	ready := types.ReadyPostEvent{
		UserID:        event.UserID,
		News:          news.Content,
		PostURL:       event.PostLink,
		FeedURL:       event.FeedURL,
		Rank:          event.Rank, // passed through from the scorer verbatim
		CorrelationID: event.CorrelationID,
	}
	if err := w.publisher.Publish(ctx, types.QueueReadyPosts, event.CorrelationID, &ready); err != nil {
		logger.WithError(err).Warn("Failed to publish ready post")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Nack(true)
		return
	}
	summaryCounter.Inc()
	logger.Info("Summary ready")
	d.Ack()
}

func init() {
	prometheus.MustRegister(summaryCounter)
}
