package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedPayload is returned when a queue payload cannot be decoded or is
// missing a required field. Handlers ack and drop such messages so they do not
// poison the queue.
var ErrMalformedPayload = errors.New("malformed payload")

// Queue names. All queues are durable and routed by name on the default
// exchange.
const (
	QueueNewPosts         = "rss.new_posts"
	QueueRelevantPosts    = "rss.relevant_posts"
	QueueReadyPosts       = "rss.ready_posts"
	QueueCreateUser       = "user.create"
	QueueProfileRequest   = "user.profile.request"
	QueuePreferences      = "user.preferences.update"
	QueueAntipathy        = "user.antipathy.update"
	QueueSetStatusID      = "user.set_status.id"
	QueueSetStatusName    = "user.set_status.username"
	QueueStatusNotify     = "user.status.notification"
	QueueSubscribe        = "rss.feed.subscribe"
	QueueUnsubscribe      = "rss.feed.unsubscribe"
	QueueSubscriptionList = "user.rss.subscriptions"
)

// User status values carried by SetStatusRequest.
const (
	StatusPro  = "pro"
	StatusFree = "free"
)

func missing(field string) error {
	return fmt.Errorf("%w: missing %q", ErrMalformedPayload, field)
}

// Decode unmarshals a queue payload into v and validates required fields.
// Unknown fields are ignored.
func Decode(body []byte, v interface{ Validate() error }) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return v.Validate()
}

// NewPostEvent is emitted by the poller onto rss.new_posts, one per newly
// discovered entry, carrying the feed's subscriber list at emission time.
type NewPostEvent struct {
	PublishedAt     time.Time `json:"published_at"`
	FeedURL         string    `json:"feed_url"`
	PostTitle       string    `json:"post_title"`
	PostLink        string    `json:"post_link"`
	PostContent     string    `json:"post_content"`
	FeedSubscribers []int64   `json:"feed_subscribers"`
	CorrelationID   string    `json:"correlation_id"`
}

// Validate checks the required fields.
func (e *NewPostEvent) Validate() error {
	if e.FeedURL == "" {
		return missing("feed_url")
	}
	if e.PublishedAt.IsZero() {
		return missing("published_at")
	}
	if e.PostLink == "" {
		return missing("post_link")
	}
	return nil
}

// RelevantPostEvent addresses exactly one user and carries the preferences
// snapshot the scorer rated against.
type RelevantPostEvent struct {
	FeedURL       string `json:"feed_url"`
	PostTitle     string `json:"post_title"`
	PostLink      string `json:"post_link"`
	PostContent   string `json:"post_content"`
	UserID        int64  `json:"user_id"`
	Preferences   string `json:"preferences"`
	Rank          int    `json:"rank"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (e *RelevantPostEvent) Validate() error {
	if e.UserID == 0 {
		return missing("user_id")
	}
	if e.PostLink == "" {
		return missing("post_link")
	}
	return nil
}

// ReadyPostEvent is a finished summary addressed to a single user. Rank is
// passed through from the scorer verbatim.
type ReadyPostEvent struct {
	UserID        int64  `json:"user_id"`
	News          string `json:"news"`
	PostURL       string `json:"post_url"`
	FeedURL       string `json:"feed_url"`
	Rank          int    `json:"rank"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (e *ReadyPostEvent) Validate() error {
	if e.UserID == 0 {
		return missing("user_id")
	}
	if e.News == "" {
		return missing("news")
	}
	return nil
}

// CreateUserRequest registers a user idempotently.
type CreateUserRequest struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (r *CreateUserRequest) Validate() error {
	if r.UserID == 0 {
		return missing("user_id")
	}
	if r.Username == "" {
		return missing("username")
	}
	return nil
}

// UpdatePreferencesRequest replaces the user's free-form interests text.
type UpdatePreferencesRequest struct {
	UserID        int64  `json:"user_id"`
	Preferences   string `json:"preferences"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (r *UpdatePreferencesRequest) Validate() error {
	if r.UserID == 0 {
		return missing("user_id")
	}
	return nil
}

// UpdateAntipathyRequest replaces the user's free-form antipathies text.
type UpdateAntipathyRequest struct {
	UserID        int64  `json:"user_id"`
	Antipathy     string `json:"antipathy"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (r *UpdateAntipathyRequest) Validate() error {
	if r.UserID == 0 {
		return missing("user_id")
	}
	return nil
}

// SetStatusRequest flips the pro flag, addressed by ID or by username
// depending on which queue it arrived on.
type SetStatusRequest struct {
	UserID        int64  `json:"user_id,omitempty"`
	Username      string `json:"username,omitempty"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (r *SetStatusRequest) Validate() error {
	if r.UserID == 0 && r.Username == "" {
		return missing("user_id")
	}
	if r.Status != StatusPro && r.Status != StatusFree {
		return missing("status")
	}
	return nil
}

// StatusNotification tells the front-end a user's status changed.
type StatusNotification struct {
	UserID        int64  `json:"user_id"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (n *StatusNotification) Validate() error {
	if n.UserID == 0 {
		return missing("user_id")
	}
	return nil
}

// SubscribeRequest subscribes a user to a feed URL, creating the feed row on
// first subscription.
type SubscribeRequest struct {
	UserID        int64  `json:"user_id"`
	FeedURL       string `json:"feed_url"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (r *SubscribeRequest) Validate() error {
	if r.UserID == 0 {
		return missing("user_id")
	}
	if r.FeedURL == "" {
		return missing("feed_url")
	}
	return nil
}

// UnsubscribeRequest removes a subscription; the feed row is deleted when its
// last subscriber leaves.
type UnsubscribeRequest struct {
	UserID        int64  `json:"user_id"`
	FeedURL       string `json:"feed_url"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (r *UnsubscribeRequest) Validate() error {
	if r.UserID == 0 {
		return missing("user_id")
	}
	if r.FeedURL == "" {
		return missing("feed_url")
	}
	return nil
}

// ProfileRequest asks for a user's profile over request/reply.
type ProfileRequest struct {
	UserID        int64  `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (r *ProfileRequest) Validate() error {
	if r.UserID == 0 {
		return missing("user_id")
	}
	return nil
}

// Profile is the data section of a successful profile reply.
type Profile struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	IsPro       bool   `json:"is_pro"`
	Preferences string `json:"preferences"`
	Antipathies string `json:"antipathies"`
}

// ProfileReply is the reply envelope: Status is "success" with Data set, or
// "error" with Message set.
type ProfileReply struct {
	Status  string   `json:"status"`
	Data    *Profile `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
}

// SubscriptionsRequest asks for the list of feed URLs a user follows.
type SubscriptionsRequest struct {
	UserID        int64  `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

// Validate checks the required fields.
func (r *SubscriptionsRequest) Validate() error {
	if r.UserID == 0 {
		return missing("user_id")
	}
	return nil
}

// SubscriptionsReply lists the user's subscribed feed URLs.
type SubscriptionsReply struct {
	URLs []string `json:"urls"`
}
