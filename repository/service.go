// Package repository serves broker-mediated CRUD for users, feeds and
// subscriptions, including the request/reply lookups.
package repository

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/database"
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/types"
)

var (
	createdUsersCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsprism_created_users_total",
		Help: "The number of processed user registrations",
	})
	addedFeedsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsprism_added_feeds_total",
		Help: "The number of processed feed subscriptions",
	})
)

// A Replier sends a reply payload back to a request's reply queue.
type Replier interface {
	Reply(ctx context.Context, d *broker.Delivery, v interface{}) error
}

// Service handles the repository queues. All handlers use manual
// acknowledgement and ack only after the database commit; transient database
// errors withhold the ack so the broker redelivers.
type Service struct {
	store     database.Storer
	publisher broker.Publisher
	replier   Replier
}

// New creates the repository service.
func New(store database.Storer, publisher broker.Publisher, replier Replier) *Service {
	return &Service{store: store, publisher: publisher, replier: replier}
}

// dropMalformed logs and acks an undecodable payload so it cannot poison the
// queue.
func dropMalformed(d *broker.Delivery, err error, queue string) {
	log.WithError(err).WithField("queue", queue).Error("Dropping malformed message")
	metrics.IncrementError(metrics.ErrTypeMalformed)
	d.Ack()
}

// HandleCreateUser registers a user idempotently.
func (s *Service) HandleCreateUser(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("create_user")()
	var req types.CreateUserRequest
	if err := types.Decode(d.Body, &req); err != nil {
		dropMalformed(d, err, types.QueueCreateUser)
		return
	}
	logger := log.WithFields(log.Fields{
		"correlation_id": req.CorrelationID,
		"user_id":        req.UserID,
	})
	if err := s.store.CreateUser(req.UserID, req.Username); err != nil {
		logger.WithError(err).Warn("Failed to create user, requeueing")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Nack(true)
		return
	}
	createdUsersCounter.Inc()
	logger.Info("User registered")
	d.Ack()
}

// HandleProfileRequest replies with the user's profile or an error envelope.
func (s *Service) HandleProfileRequest(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("get_profile")()
	var req types.ProfileRequest
	if err := types.Decode(d.Body, &req); err != nil {
		dropMalformed(d, err, types.QueueProfileRequest)
		return
	}
	logger := log.WithFields(log.Fields{
		"correlation_id": req.CorrelationID,
		"user_id":        req.UserID,
	})

	var reply types.ProfileReply
	user, err := s.store.User(req.UserID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		reply = types.ProfileReply{Status: "error", Message: "profile not found"}
		metrics.IncrementError(metrics.ErrTypeNotFound)
	case err != nil:
		logger.WithError(err).Warn("Failed to load profile, requeueing")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Nack(true)
		return
	default:
		reply = types.ProfileReply{Status: "success", Data: &types.Profile{
			UserID:      user.ID,
			Username:    user.Username,
			IsPro:       user.IsPro,
			Preferences: user.Preferences,
			Antipathies: user.Antipathies,
		}}
	}
	if err := s.replier.Reply(ctx, d, &reply); err != nil {
		logger.WithError(err).Warn("Failed to send profile reply")
		metrics.IncrementError(metrics.ErrTypeTransient)
	}
	logger.Info("Profile request served")
	d.Ack()
}

// HandleUpdatePreferences replaces the user's interests text. A missing user
// is treated as success: lifecycle events can arrive out of order.
func (s *Service) HandleUpdatePreferences(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("update_preferences")()
	var req types.UpdatePreferencesRequest
	if err := types.Decode(d.Body, &req); err != nil {
		dropMalformed(d, err, types.QueuePreferences)
		return
	}
	s.finishUpdate(d, req.CorrelationID, req.UserID, "preferences",
		s.store.UpdatePreferences(req.UserID, req.Preferences))
}

// HandleUpdateAntipathy replaces the user's antipathies text.
func (s *Service) HandleUpdateAntipathy(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("update_antipathy")()
	var req types.UpdateAntipathyRequest
	if err := types.Decode(d.Body, &req); err != nil {
		dropMalformed(d, err, types.QueueAntipathy)
		return
	}
	s.finishUpdate(d, req.CorrelationID, req.UserID, "antipathy",
		s.store.UpdateAntipathies(req.UserID, req.Antipathy))
}

func (s *Service) finishUpdate(d *broker.Delivery, correlationID string, userID int64, field string, err error) {
	logger := log.WithFields(log.Fields{
		"correlation_id": correlationID,
		"user_id":        userID,
	})
	switch {
	case errors.Is(err, database.ErrNotFound):
		logger.Info("User not found, nothing to update")
		metrics.IncrementError(metrics.ErrTypeNotFound)
	case err != nil:
		logger.WithError(err).Warn("Update failed, requeueing")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Nack(true)
		return
	default:
		logger.WithField("field", field).Info("User updated")
	}
	d.Ack()
}

// HandleSetStatus flips the pro flag by user ID or username (depending on the
// queue the request arrived on) and notifies the affected user.
func (s *Service) HandleSetStatus(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("set_status")()
	var req types.SetStatusRequest
	if err := types.Decode(d.Body, &req); err != nil {
		dropMalformed(d, err, types.QueueSetStatusID)
		return
	}
	logger := log.WithFields(log.Fields{
		"correlation_id": req.CorrelationID,
		"status":         req.Status,
	})

	pro := req.Status == types.StatusPro
	userID := req.UserID
	var err error
	if userID != 0 {
		err = s.store.SetStatus(userID, pro)
	} else {
		userID, err = s.store.SetStatusByName(req.Username, pro)
	}
	switch {
	case errors.Is(err, database.ErrNotFound):
		logger.Info("User not found, status unchanged")
		metrics.IncrementError(metrics.ErrTypeNotFound)
		d.Ack()
		return
	case err != nil:
		logger.WithError(err).Warn("Failed to set status, requeueing")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Nack(true)
		return
	}

	note := types.StatusNotification{
		UserID:        userID,
		Status:        req.Status,
		CorrelationID: req.CorrelationID,
	}
	if err := s.publisher.Publish(ctx, types.QueueStatusNotify, req.CorrelationID, &note); err != nil {
		logger.WithError(err).Warn("Failed to publish status notification")
		metrics.IncrementError(metrics.ErrTypeTransient)
	}
	logger.WithField("user_id", userID).Info("Status updated")
	d.Ack()
}

// HandleSubscribe creates the feed row on first subscription and the
// subscription row idempotently, in one store transaction.
func (s *Service) HandleSubscribe(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("subscribe_feed")()
	var req types.SubscribeRequest
	if err := types.Decode(d.Body, &req); err != nil {
		dropMalformed(d, err, types.QueueSubscribe)
		return
	}
	logger := log.WithFields(log.Fields{
		"correlation_id": req.CorrelationID,
		"user_id":        req.UserID,
		"feed_url":       req.FeedURL,
	})

	if _, err := s.store.SubscribeURL(req.UserID, req.FeedURL); err != nil {
		logger.WithError(err).Warn("Failed to subscribe, requeueing")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Nack(true)
		return
	}
	addedFeedsCounter.Inc()
	logger.Info("Subscription added")
	d.Ack()
}

// HandleUnsubscribe removes the subscription; the last unsubscribe deletes
// the feed row in the same transaction.
func (s *Service) HandleUnsubscribe(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("unsubscribe_feed")()
	var req types.UnsubscribeRequest
	if err := types.Decode(d.Body, &req); err != nil {
		dropMalformed(d, err, types.QueueUnsubscribe)
		return
	}
	logger := log.WithFields(log.Fields{
		"correlation_id": req.CorrelationID,
		"user_id":        req.UserID,
		"feed_url":       req.FeedURL,
	})

	feed, err := s.store.FeedByURL(req.FeedURL)
	if errors.Is(err, database.ErrNotFound) {
		logger.Info("Feed not found, nothing to unsubscribe")
		metrics.IncrementError(metrics.ErrTypeNotFound)
		d.Ack()
		return
	}
	if err == nil {
		err = s.store.Unsubscribe(req.UserID, feed.ID)
	}
	if err != nil {
		logger.WithError(err).Warn("Failed to unsubscribe, requeueing")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Nack(true)
		return
	}
	logger.Info("Subscription removed")
	d.Ack()
}

// HandleSubscriptions replies with the list of feed URLs the user follows.
func (s *Service) HandleSubscriptions(ctx context.Context, d *broker.Delivery) {
	defer metrics.TimeOperation("get_subscriptions")()
	var req types.SubscriptionsRequest
	if err := types.Decode(d.Body, &req); err != nil {
		dropMalformed(d, err, types.QueueSubscriptionList)
		return
	}
	logger := log.WithFields(log.Fields{
		"correlation_id": req.CorrelationID,
		"user_id":        req.UserID,
	})

	urls, err := s.store.SubscriptionURLs(req.UserID)
	if err != nil {
		logger.WithError(err).Warn("Failed to list subscriptions, requeueing")
		metrics.IncrementError(metrics.ErrTypeTransient)
		d.Nack(true)
		return
	}
	if err := s.replier.Reply(ctx, d, &types.SubscriptionsReply{URLs: urls}); err != nil {
		logger.WithError(err).Warn("Failed to send subscriptions reply")
		metrics.IncrementError(metrics.ErrTypeTransient)
	}
	logger.Info("Subscription list served")
	d.Ack()
}

func init() {
	prometheus.MustRegister(createdUsersCounter)
	prometheus.MustRegister(addedFeedsCounter)
}
