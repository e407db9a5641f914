package database

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newsprism/newsprism/types"
)

// MemStore is an in-memory Storer intended for tests. It honours the same
// idempotency and cleanup rules as the SQL implementation.
type MemStore struct {
	mu    sync.Mutex
	users map[int64]*types.User
	feeds map[uuid.UUID]*types.Feed
	posts []types.Post
	subs  map[uuid.UUID]map[int64]time.Time // feed -> user -> subscribed at
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		users: make(map[int64]*types.User),
		feeds: make(map[uuid.UUID]*types.Feed),
		subs:  make(map[uuid.UUID]map[int64]time.Time),
	}
}

// CreateUser registers a user; repeated calls are no-ops.
func (m *MemStore) CreateUser(userID int64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; ok {
		return nil
	}
	m.users[userID] = &types.User{ID: userID, Username: username, CreatedAt: time.Now()}
	return nil
}

// User loads a user.
func (m *MemStore) User(userID int64) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return *u, nil
}

// UserByName loads a user by username.
func (m *MemStore) UserByName(username string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return *u, nil
		}
	}
	return types.User{}, ErrNotFound
}

// UpdatePreferences replaces the interests text.
func (m *MemStore) UpdatePreferences(userID int64, preferences string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Preferences = preferences
	return nil
}

// UpdateAntipathies replaces the antipathies text.
func (m *MemStore) UpdateAntipathies(userID int64, antipathies string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Antipathies = antipathies
	return nil
}

// SetStatus flips the pro flag.
func (m *MemStore) SetStatus(userID int64, pro bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsPro = pro
	return nil
}

// SetStatusByName flips the pro flag by username.
func (m *MemStore) SetStatusByName(username string, pro bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			u.IsPro = pro
			return u.ID, nil
		}
	}
	return 0, ErrNotFound
}

// Feeds lists every feed.
func (m *MemStore) Feeds() ([]types.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	feeds := make([]types.Feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		feeds = append(feeds, *f)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].URL < feeds[j].URL })
	return feeds, nil
}

// Feed loads one feed by ID.
func (m *MemStore) Feed(feedID uuid.UUID) (types.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[feedID]
	if !ok {
		return types.Feed{}, ErrNotFound
	}
	return *f, nil
}

// FeedByURL loads one feed by URL.
func (m *MemStore) FeedByURL(url string) (types.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.feeds {
		if f.URL == url {
			return *f, nil
		}
	}
	return types.Feed{}, ErrNotFound
}

// EnsureFeed creates the feed on first use.
func (m *MemStore) EnsureFeed(url string) (types.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.feeds {
		if f.URL == url {
			return *f, nil
		}
	}
	f := &types.Feed{ID: uuid.New(), URL: url, CreatedAt: time.Now()}
	m.feeds[f.ID] = f
	m.subs[f.ID] = make(map[int64]time.Time)
	return *f, nil
}

// SubscribeURL subscribes the user to the URL under one lock, creating the
// feed on first use.
func (m *MemStore) SubscribeURL(userID int64, url string) (types.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.feeds {
		if f.URL == url {
			if _, ok := m.subs[f.ID][userID]; !ok {
				m.subs[f.ID][userID] = time.Now()
			}
			return *f, nil
		}
	}
	f := &types.Feed{ID: uuid.New(), URL: url, CreatedAt: time.Now()}
	m.feeds[f.ID] = f
	m.subs[f.ID] = map[int64]time.Time{userID: time.Now()}
	return *f, nil
}

// Subscribe is idempotent on (user, feed).
func (m *MemStore) Subscribe(userID int64, feedID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subs[feedID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := set[userID]; !ok {
		set[userID] = time.Now()
	}
	return nil
}

// Unsubscribe removes the pair and deletes the feed when it was the last one.
func (m *MemStore) Unsubscribe(userID int64, feedID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subs[feedID]
	if !ok {
		return nil
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(m.subs, feedID)
		delete(m.feeds, feedID)
	}
	return nil
}

// Subscribers lists the users subscribed to the feed in subscription order.
func (m *MemStore) Subscribers(feedID uuid.UUID) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.subs[feedID]
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return set[ids[i]].Before(set[ids[j]]) })
	return ids, nil
}

// SubscriptionURLs lists the feed URLs the user follows.
func (m *MemStore) SubscriptionURLs(userID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var urls []string
	for feedID, set := range m.subs {
		if _, ok := set[userID]; ok {
			urls = append(urls, m.feeds[feedID].URL)
		}
	}
	sort.Strings(urls)
	return urls, nil
}

// StorePosts appends the posts and advances the watermark monotonically.
func (m *MemStore) StorePosts(feedID uuid.UUID, posts []types.Post, watermark time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[feedID]
	if !ok {
		return ErrNotFound
	}
	m.posts = append(m.posts, posts...)
	if watermark.After(f.LastPostDate) {
		f.LastPostDate = watermark
	}
	return nil
}

// Posts returns the stored posts, for assertions.
func (m *MemStore) Posts() []types.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Post(nil), m.posts...)
}

// SubscriptionCount returns the number of subscription rows for the feed.
func (m *MemStore) SubscriptionCount(feedID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[feedID])
}
