// Package types contains the domain entities and queue payload schemas shared
// by every pipeline stage.
package types

import (
	"time"

	"github.com/google/uuid"
)

// A User is an end user of the delivery service, keyed by the numeric ID the
// front-end assigns.
type User struct {
	ID          int64
	Username    string
	CreatedAt   time.Time
	IsPro       bool
	Preferences string
	Antipathies string
}

// A Feed is a single RSS/Atom source URL. LastPostDate is the deduplication
// watermark: the maximum published time of any entry ever emitted from it.
type Feed struct {
	ID           uuid.UUID
	URL          string
	CreatedAt    time.Time
	LastPostDate time.Time
}

// A Post is one entry discovered in a feed. Immutable once created.
type Post struct {
	ID          uuid.UUID
	FeedID      uuid.UUID
	Title       string
	Content     string
	Link        string
	PublishedAt time.Time
}

// A Subscription ties a user to a feed. At most one row per (user, feed).
type Subscription struct {
	ID        uuid.UUID
	UserID    int64
	FeedID    uuid.UUID
	CreatedAt time.Time
}
