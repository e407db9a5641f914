package database

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/newsprism/newsprism/types"
)

// ErrNotFound is returned when a user, feed or subscription row is absent.
// Update handlers treat it as success because lifecycle events can arrive out
// of order.
var ErrNotFound = errors.New("not found")

// Storer is the interface the pipeline stages use to persist and read users,
// feeds, posts and subscriptions.
type Storer interface {
	// CreateUser registers a user. Calling it again with the same ID is a
	// no-op.
	CreateUser(userID int64, username string) error
	User(userID int64) (types.User, error)
	UserByName(username string) (types.User, error)
	UpdatePreferences(userID int64, preferences string) error
	UpdateAntipathies(userID int64, antipathies string) error
	SetStatus(userID int64, pro bool) error
	// SetStatusByName resolves the username and flips the flag, returning the
	// affected user's ID for the status notification.
	SetStatusByName(username string, pro bool) (int64, error)

	Feeds() ([]types.Feed, error)
	Feed(feedID uuid.UUID) (types.Feed, error)
	FeedByURL(url string) (types.Feed, error)

	// SubscribeURL subscribes the user to the feed URL, creating the feed row
	// first if absent. Both writes happen in one transaction so a concurrent
	// last-unsubscribe cannot leave a subscription pointing at a deleted feed.
	// Idempotent on (user, feed).
	SubscribeURL(userID int64, url string) (types.Feed, error)
	// Unsubscribe removes the subscription if present. When the feed's
	// subscription count drops to zero the feed row is deleted in the same
	// transaction.
	Unsubscribe(userID int64, feedID uuid.UUID) error
	Subscribers(feedID uuid.UUID) ([]int64, error)
	SubscriptionURLs(userID int64) ([]string, error)

	// StorePosts inserts the emitted posts and advances the feed watermark to
	// the given time in a single transaction. The watermark never moves
	// backwards.
	StorePosts(feedID uuid.UUID, posts []types.Post, watermark time.Time) error
}
