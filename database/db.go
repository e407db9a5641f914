// Package database persists users, feeds, posts and subscriptions behind the
// Storer interface.
package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/newsprism/newsprism/types"
)

// A DB stores the pipeline's relational state.
type DB struct {
	db *sql.DB
}

// Open a SQL database. This will automatically create the necessary tables if
// they aren't already present.
func Open(databaseType, databaseURL string) (*DB, error) {
	db, err := sql.Open(databaseType, databaseURL)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec(schemaSQL); err != nil {
		return nil, err
	}
	if databaseType == "sqlite3" {
		// Fix for "database is locked" errors
		// https://github.com/mattn/go-sqlite3/issues/274
		db.SetMaxOpenConns(1)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying pool.
func (d *DB) Close() error {
	return d.db.Close()
}

func runTransaction(db *sql.DB, fn func(txn *sql.Tx) error) (err error) {
	txn, err := db.Begin()
	if err != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			txn.Rollback()
			panic(r)
		} else if err != nil {
			txn.Rollback()
		} else {
			err = txn.Commit()
		}
	}()
	err = fn(txn)
	return
}

// CreateUser registers a user. A second call with the same ID is a no-op.
func (d *DB) CreateUser(userID int64, username string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		_, err := selectUserTxn(txn, userID)
		if err == nil {
			return nil // already registered
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return insertUserTxn(txn, time.Now(), userID, username)
	})
}

// User loads a user row. Returns ErrNotFound if the user isn't in the database.
func (d *DB) User(userID int64) (user types.User, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		user, err = selectUserTxn(txn, userID)
		return notFound(err)
	})
	return
}

// UserByName loads a user row by username.
func (d *DB) UserByName(username string) (user types.User, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		user, err = selectUserByNameTxn(txn, username)
		return notFound(err)
	})
	return
}

// UpdatePreferences replaces the user's interests text.
func (d *DB) UpdatePreferences(userID int64, preferences string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		return updateUserFieldTxn(txn, updatePreferencesSQL, preferences, userID)
	})
}

// UpdateAntipathies replaces the user's antipathies text.
func (d *DB) UpdateAntipathies(userID int64, antipathies string) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		return updateUserFieldTxn(txn, updateAntipathiesSQL, antipathies, userID)
	})
}

// SetStatus flips the pro flag for the user.
func (d *DB) SetStatus(userID int64, pro bool) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		return updateUserFieldTxn(txn, updateStatusSQL, pro, userID)
	})
}

// SetStatusByName flips the pro flag by username, returning the user's ID.
func (d *DB) SetStatusByName(username string, pro bool) (userID int64, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		user, err := selectUserByNameTxn(txn, username)
		if err != nil {
			return notFound(err)
		}
		userID = user.ID
		return updateUserFieldTxn(txn, updateStatusSQL, pro, user.ID)
	})
	return
}

// Feeds loads every feed row.
func (d *DB) Feeds() (feeds []types.Feed, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		feeds, err = selectFeedsTxn(txn)
		return err
	})
	return
}

// Feed loads one feed row by ID. Returns ErrNotFound when absent.
func (d *DB) Feed(feedID uuid.UUID) (feed types.Feed, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		feed, err = selectFeedTxn(txn, feedID)
		return notFound(err)
	})
	return
}

// FeedByURL loads one feed row by source URL.
func (d *DB) FeedByURL(url string) (feed types.Feed, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		feed, err = selectFeedByURLTxn(txn, url)
		return notFound(err)
	})
	return
}

// SubscribeURL subscribes the user to the feed URL in one transaction,
// creating the feed row first if absent. A no-op when the pair already exists.
func (d *DB) SubscribeURL(userID int64, url string) (types.Feed, error) {
	var feed types.Feed
	err := runTransaction(d.db, func(txn *sql.Tx) error {
		var err error
		feed, err = selectFeedByURLTxn(txn, url)
		if errors.Is(err, sql.ErrNoRows) {
			feed = types.Feed{ID: uuid.New(), URL: url, CreatedAt: time.Now()}
			err = insertFeedTxn(txn, feed)
		}
		if err != nil {
			return err
		}
		exists, err := subscriptionExistsTxn(txn, userID, feed.ID)
		if err != nil || exists {
			return err
		}
		return insertSubscriptionTxn(txn, time.Now(), userID, feed.ID)
	})
	return feed, err
}

// Unsubscribe deletes the subscription row if present, and deletes the feed
// row in the same transaction when no subscribers remain.
func (d *DB) Unsubscribe(userID int64, feedID uuid.UUID) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		if err := deleteSubscriptionTxn(txn, userID, feedID); err != nil {
			return err
		}
		n, err := countSubscriptionsTxn(txn, feedID)
		if err != nil {
			return err
		}
		if n == 0 {
			return deleteFeedTxn(txn, feedID)
		}
		return nil
	})
}

// Subscribers returns the IDs of every user subscribed to the feed.
func (d *DB) Subscribers(feedID uuid.UUID) (userIDs []int64, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		userIDs, err = selectSubscribersTxn(txn, feedID)
		return err
	})
	return
}

// SubscriptionURLs returns the feed URLs the user is subscribed to.
func (d *DB) SubscriptionURLs(userID int64) (urls []string, err error) {
	err = runTransaction(d.db, func(txn *sql.Tx) error {
		urls, err = selectSubscriptionURLsTxn(txn, userID)
		return err
	})
	return
}

// StorePosts inserts the posts and advances the feed watermark in one
// transaction. The watermark update is a no-op when it would move backwards.
func (d *DB) StorePosts(feedID uuid.UUID, posts []types.Post, watermark time.Time) error {
	return runTransaction(d.db, func(txn *sql.Tx) error {
		for _, p := range posts {
			if err := insertPostTxn(txn, p); err != nil {
				return err
			}
		}
		return advanceWatermarkTxn(txn, feedID, watermark)
	})
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
