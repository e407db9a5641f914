package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/newsprism/newsprism/types"
)

// Timestamps are stored as milliseconds since the Unix epoch so the schema
// works identically on postgres and sqlite3. UUIDs are stored as text for the
// same reason.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	user_id BIGINT NOT NULL,
	username TEXT NOT NULL,
	is_pro BOOLEAN NOT NULL DEFAULT FALSE,
	preferences TEXT NOT NULL DEFAULT '',
	antipathies TEXT NOT NULL DEFAULT '',
	time_added_ms BIGINT NOT NULL,
	UNIQUE(user_id)
);
CREATE INDEX IF NOT EXISTS users_user_id_idx ON users(user_id);
CREATE INDEX IF NOT EXISTS users_username_idx ON users(username);

CREATE TABLE IF NOT EXISTS rss_feeds (
	feed_id TEXT NOT NULL,
	url TEXT NOT NULL,
	last_post_ms BIGINT NOT NULL DEFAULT 0,
	time_added_ms BIGINT NOT NULL,
	UNIQUE(feed_id),
	UNIQUE(url)
);

CREATE TABLE IF NOT EXISTS rss_posts (
	post_id TEXT NOT NULL,
	feed_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	link TEXT NOT NULL,
	published_ms BIGINT NOT NULL,
	UNIQUE(post_id)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	subscription_id TEXT NOT NULL,
	user_id BIGINT NOT NULL,
	feed_id TEXT NOT NULL,
	time_added_ms BIGINT NOT NULL,
	UNIQUE(subscription_id),
	UNIQUE(user_id, feed_id)
);
CREATE INDEX IF NOT EXISTS subscriptions_user_feed_idx ON subscriptions(user_id, feed_id);
`

func toMillis(t time.Time) int64 {
	return t.UnixNano() / 1000000
}

func fromMillis(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}

const selectUserSQL = `
SELECT user_id, username, is_pro, preferences, antipathies, time_added_ms FROM users WHERE user_id = $1
`

func selectUserTxn(txn *sql.Tx, userID int64) (types.User, error) {
	return scanUser(txn.QueryRow(selectUserSQL, userID))
}

const selectUserByNameSQL = `
SELECT user_id, username, is_pro, preferences, antipathies, time_added_ms FROM users WHERE username = $1
`

func selectUserByNameTxn(txn *sql.Tx, username string) (types.User, error) {
	return scanUser(txn.QueryRow(selectUserByNameSQL, username))
}

func scanUser(row *sql.Row) (user types.User, err error) {
	var addedMs int64
	err = row.Scan(&user.ID, &user.Username, &user.IsPro, &user.Preferences, &user.Antipathies, &addedMs)
	if err != nil {
		return
	}
	user.CreatedAt = fromMillis(addedMs)
	return
}

const insertUserSQL = `
INSERT INTO users(user_id, username, is_pro, preferences, antipathies, time_added_ms)
	VALUES ($1, $2, FALSE, '', '', $3)
`

func insertUserTxn(txn *sql.Tx, now time.Time, userID int64, username string) error {
	_, err := txn.Exec(insertUserSQL, userID, username, toMillis(now))
	return err
}

const updatePreferencesSQL = `
UPDATE users SET preferences = $1 WHERE user_id = $2
`

const updateAntipathiesSQL = `
UPDATE users SET antipathies = $1 WHERE user_id = $2
`

const updateStatusSQL = `
UPDATE users SET is_pro = $1 WHERE user_id = $2
`

func updateUserFieldTxn(txn *sql.Tx, query string, value interface{}, userID int64) error {
	res, err := txn.Exec(query, value, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectFeedsSQL = `
SELECT feed_id, url, last_post_ms, time_added_ms FROM rss_feeds ORDER BY url
`

func selectFeedsTxn(txn *sql.Tx) (feeds []types.Feed, err error) {
	rows, err := txn.Query(selectFeedsSQL)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var feed types.Feed
		var feedID string
		var lastPostMs, addedMs int64
		if err = rows.Scan(&feedID, &feed.URL, &lastPostMs, &addedMs); err != nil {
			return
		}
		if feed.ID, err = uuid.Parse(feedID); err != nil {
			return
		}
		feed.LastPostDate = fromMillis(lastPostMs)
		feed.CreatedAt = fromMillis(addedMs)
		feeds = append(feeds, feed)
	}
	err = rows.Err()
	return
}

const selectFeedSQL = `
SELECT feed_id, url, last_post_ms, time_added_ms FROM rss_feeds WHERE feed_id = $1
`

func selectFeedTxn(txn *sql.Tx, feedID uuid.UUID) (types.Feed, error) {
	return scanFeed(txn.QueryRow(selectFeedSQL, feedID.String()))
}

const selectFeedByURLSQL = `
SELECT feed_id, url, last_post_ms, time_added_ms FROM rss_feeds WHERE url = $1
`

func selectFeedByURLTxn(txn *sql.Tx, url string) (types.Feed, error) {
	return scanFeed(txn.QueryRow(selectFeedByURLSQL, url))
}

func scanFeed(row *sql.Row) (feed types.Feed, err error) {
	var feedID string
	var lastPostMs, addedMs int64
	if err = row.Scan(&feedID, &feed.URL, &lastPostMs, &addedMs); err != nil {
		return
	}
	if feed.ID, err = uuid.Parse(feedID); err != nil {
		return
	}
	feed.LastPostDate = fromMillis(lastPostMs)
	feed.CreatedAt = fromMillis(addedMs)
	return
}

const insertFeedSQL = `
INSERT INTO rss_feeds(feed_id, url, last_post_ms, time_added_ms) VALUES ($1, $2, 0, $3)
`

func insertFeedTxn(txn *sql.Tx, feed types.Feed) error {
	_, err := txn.Exec(insertFeedSQL, feed.ID.String(), feed.URL, toMillis(feed.CreatedAt))
	return err
}

const deleteFeedSQL = `
DELETE FROM rss_feeds WHERE feed_id = $1
`

func deleteFeedTxn(txn *sql.Tx, feedID uuid.UUID) error {
	_, err := txn.Exec(deleteFeedSQL, feedID.String())
	return err
}

const subscriptionExistsSQL = `
SELECT COUNT(*) FROM subscriptions WHERE user_id = $1 AND feed_id = $2
`

func subscriptionExistsTxn(txn *sql.Tx, userID int64, feedID uuid.UUID) (bool, error) {
	var n int
	err := txn.QueryRow(subscriptionExistsSQL, userID, feedID.String()).Scan(&n)
	return n > 0, err
}

const insertSubscriptionSQL = `
INSERT INTO subscriptions(subscription_id, user_id, feed_id, time_added_ms) VALUES ($1, $2, $3, $4)
`

func insertSubscriptionTxn(txn *sql.Tx, now time.Time, userID int64, feedID uuid.UUID) error {
	_, err := txn.Exec(insertSubscriptionSQL, uuid.New().String(), userID, feedID.String(), toMillis(now))
	return err
}

const deleteSubscriptionSQL = `
DELETE FROM subscriptions WHERE user_id = $1 AND feed_id = $2
`

func deleteSubscriptionTxn(txn *sql.Tx, userID int64, feedID uuid.UUID) error {
	_, err := txn.Exec(deleteSubscriptionSQL, userID, feedID.String())
	return err
}

const countSubscriptionsSQL = `
SELECT COUNT(*) FROM subscriptions WHERE feed_id = $1
`

func countSubscriptionsTxn(txn *sql.Tx, feedID uuid.UUID) (int, error) {
	var n int
	err := txn.QueryRow(countSubscriptionsSQL, feedID.String()).Scan(&n)
	return n, err
}

const selectSubscribersSQL = `
SELECT user_id FROM subscriptions WHERE feed_id = $1 ORDER BY time_added_ms
`

func selectSubscribersTxn(txn *sql.Tx, feedID uuid.UUID) (userIDs []int64, err error) {
	rows, err := txn.Query(selectSubscribersSQL, feedID.String())
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return
		}
		userIDs = append(userIDs, id)
	}
	err = rows.Err()
	return
}

const selectSubscriptionURLsSQL = `
SELECT rss_feeds.url FROM subscriptions
	JOIN rss_feeds ON subscriptions.feed_id = rss_feeds.feed_id
	WHERE subscriptions.user_id = $1 ORDER BY rss_feeds.url
`

func selectSubscriptionURLsTxn(txn *sql.Tx, userID int64) (urls []string, err error) {
	rows, err := txn.Query(selectSubscriptionURLsSQL, userID)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		if err = rows.Scan(&url); err != nil {
			return
		}
		urls = append(urls, url)
	}
	err = rows.Err()
	return
}

const insertPostSQL = `
INSERT INTO rss_posts(post_id, feed_id, title, content, link, published_ms) VALUES ($1, $2, $3, $4, $5, $6)
`

func insertPostTxn(txn *sql.Tx, post types.Post) error {
	_, err := txn.Exec(
		insertPostSQL,
		post.ID.String(), post.FeedID.String(), post.Title, post.Content, post.Link,
		toMillis(post.PublishedAt),
	)
	return err
}

const advanceWatermarkSQL = `
UPDATE rss_feeds SET last_post_ms = $1 WHERE feed_id = $2 AND last_post_ms < $1
`

func advanceWatermarkTxn(txn *sql.Tx, feedID uuid.UUID, watermark time.Time) error {
	_, err := txn.Exec(advanceWatermarkSQL, toMillis(watermark), feedID.String())
	return err
}
