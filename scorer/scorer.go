// Package scorer rates every (post, subscriber) pair with the scoring model
// and forwards pairs above the relevance threshold.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/database"
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/model"
	"github.com/newsprism/newsprism/types"
)

var (
	relevantCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsprism_relevant_posts_total",
		Help: "The number of posts that passed the relevance threshold",
	})
	staleCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsprism_stale_posts_total",
		Help: "The number of posts dropped by the freshness gate",
	})
)

// A ModelClient asks the external scoring model for a rating.
type ModelClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// A Scorer consumes NewPost events and emits RelevantPost events.
type Scorer struct {
	store     database.Storer
	publisher broker.Publisher
	model     ModelClient
	limiter   *rate.Limiter
	threshold int
	// maxAge bounds how old a post may be at scoring time. Zero means the
	// post must have been published on the current UTC date.
	maxAge time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Scorer. requestsPerSecond sizes the cooperative token bucket
// for the model's budget.
func New(store database.Storer, publisher broker.Publisher, mc ModelClient, threshold int, maxAge time.Duration, requestsPerSecond float64) *Scorer {
	return &Scorer{
		store:     store,
		publisher: publisher,
		model:     mc,
		limiter:   rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		threshold: threshold,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// HandleNewPost processes one rss.new_posts delivery. Malformed payloads and
// stale posts are acked and dropped; a database or broker error nacks the
// whole message for redelivery.
func (s *Scorer) HandleNewPost(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("score_post")()

	var event types.NewPostEvent
	if err := types.Decode(d.Body, &event); err != nil {
		log.WithError(err).Error("Dropping unreadable new post")
		metrics.IncrementError(metrics.ErrTypeMalformed)
		d.Ack()
		return
	}
	logger := log.WithFields(log.Fields{
		"correlation_id": event.CorrelationID,
		"post_link":      event.PostLink,
	})

	if s.stale(event.PublishedAt) {
		logger.WithField("published_at", event.PublishedAt).Info("Dropping stale post")
		staleCounter.Inc()
		d.Ack()
		return
	}

	for _, userID := range event.FeedSubscribers {
		if err := s.scoreForUser(ctx, &event, userID, logger); err != nil {
			logger.WithError(err).WithField("user_id", userID).Warn("Transient failure, requeueing post")
			metrics.IncrementError(metrics.ErrTypeTransient)
			d.Nack(true)
			return
		}
	}
	d.Ack()
}

// scoreForUser rates the post for one subscriber. Model failures skip the
// subscriber and return nil; database, shutdown and publish errors propagate
// so the caller can requeue.
func (s *Scorer) scoreForUser(ctx context.Context, event *types.NewPostEvent, userID int64, logger *log.Entry) error {
	user, err := s.store.User(userID)
	if errors.Is(err, database.ErrNotFound) {
		logger.WithField("user_id", userID).Info("Subscriber no longer exists, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		// Shutting down: let the broker redeliver to another instance.
		return err
	}

	raw, err := s.model.Chat(ctx, systemPrompt, fmt.Sprintf(
		rankPromptFormat, event.PostTitle, user.Preferences, user.Antipathies, event.PostContent,
	))
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("Scoring model call failed, skipping subscriber")
		metrics.IncrementError(metrics.ErrTypeTransient)
		return nil
	}
	eval, err := model.DecodeEvaluation(raw)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("Unusable scoring output, skipping subscriber")
		metrics.IncrementError(metrics.ErrTypeModelOutput)
		return nil
	}
	logger.WithFields(log.Fields{
		"user_id":     userID,
		"rank":        eval.Rank,
		"explanation": eval.Explanation,
	}).Debug("Post scored")

	if eval.Rank <= s.threshold {
		return nil
	}

	relevant := types.RelevantPostEvent{
		FeedURL:       event.FeedURL,
		PostTitle:     event.PostTitle,
		PostLink:      event.PostLink,
		PostContent:   event.PostContent,
		UserID:        userID,
		Preferences:   user.Preferences,
		Rank:          eval.Rank,
		CorrelationID: event.CorrelationID,
	}
	if err := s.publisher.Publish(ctx, types.QueueRelevantPosts, event.CorrelationID, &relevant); err != nil {
		return fmt.Errorf("publish relevant post: %w", err)
	}
	relevantCounter.Inc()
	return nil
}

// stale reports whether the post is too old to score. With a zero maxAge the
// post must be from the current UTC date.
func (s *Scorer) stale(publishedAt time.Time) bool {
	now := s.now().UTC()
	if s.maxAge > 0 {
		return now.Sub(publishedAt) > s.maxAge
	}
	y1, m1, d1 := publishedAt.UTC().Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func init() {
	prometheus.MustRegister(relevantCounter)
	prometheus.MustRegister(staleCounter)
}
