// Package poller walks every known feed on a timer, discovers entries newer
// than the feed's watermark and fans them out as NewPost events.
package poller

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/die-net/lrucache"
	"github.com/google/uuid"
	"github.com/gregjones/httpcache"
	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/database"
	"github.com/newsprism/newsprism/metrics"
	"github.com/newsprism/newsprism/types"
)

var (
	pollCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsprism_feed_polls_total",
		Help: "The number of feed polls",
	}, []string{"url", "http_status"})
	postCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsprism_posts_total",
		Help: "The number of new posts emitted",
	})
)

const (
	fetchTimeout = 30 * time.Second

	// Entries whose feed summary has fewer words than this are enriched via
	// the article extractor before emission.
	minSummaryWords = 150
)

// A TextExtractor scrapes the article body when the feed summary is too short.
type TextExtractor interface {
	ArticleText(ctx context.Context, url string) (string, error)
}

// A Poller runs the periodic feed-polling loop.
type Poller struct {
	store     database.Storer
	publisher broker.Publisher
	extractor TextExtractor
	interval  time.Duration
	sem       *semaphore.Weighted

	// Client fetches feed documents. Defaults to a caching client; tests
	// replace it to intercept requests.
	Client *http.Client
}

type userAgentRoundTripper struct {
	Transport http.RoundTripper
}

func (rt userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Newsprism")
	return rt.Transport.RoundTrip(req)
}

// New creates a Poller ticking every interval with at most concurrency
// in-flight feed tasks.
func New(store database.Storer, publisher broker.Publisher, extractor TextExtractor, interval time.Duration, concurrency int64) *Poller {
	lruCache := lrucache.New(1024*1024*20, 0) // 20 MB cache, no max-age
	return &Poller{
		store:     store,
		publisher: publisher,
		extractor: extractor,
		interval:  interval,
		sem:       semaphore.NewWeighted(concurrency),
		Client: &http.Client{
			Transport: userAgentRoundTripper{httpcache.NewTransport(lruCache)},
			Timeout:   fetchTimeout,
		},
	}
}

// Run polls immediately and then on every tick until ctx is cancelled. A tick
// never waits for the previous round; feeds that cannot get a slot are simply
// picked up next round.
func (p *Poller) Run(ctx context.Context) {
	p.pollRound(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.pollRound(ctx)
		case <-ctx.Done():
			log.Info("Poller stopped")
			return
		}
	}
}

// pollRound mints one correlation ID for the round and dispatches a bounded
// task per feed.
func (p *Poller) pollRound(ctx context.Context) {
	correlationID := uuid.NewString()
	logger := log.WithField("correlation_id", correlationID)

	feeds, err := p.store.Feeds()
	if err != nil {
		logger.WithError(err).Warn("Failed to list feeds")
		metrics.IncrementError(metrics.ErrTypeTransient)
		return
	}
	logger.WithField("feeds", len(feeds)).Info("Starting poll round")

	for _, feed := range feeds {
		if !p.sem.TryAcquire(1) {
			logger.WithField("feed_url", feed.URL).Info("Fan-out limit reached, deferring feed to next round")
			continue
		}
		go func(feed types.Feed) {
			defer p.sem.Release(1)
			p.pollFeed(ctx, feed, correlationID)
		}(feed)
	}
}

// pollFeed fetches one feed, emits every entry newer than the watermark and
// advances the watermark transactionally.
func (p *Poller) pollFeed(ctx context.Context, feed types.Feed, correlationID string) {
	logger := log.WithFields(log.Fields{
		"feed_url":       feed.URL,
		"correlation_id": correlationID,
	})

	// Re-read the row: the feed may have been unsubscribed away between the
	// listing and now.
	feed, err := p.store.Feed(feed.ID)
	if err == database.ErrNotFound {
		logger.Info("Feed deleted since listing, skipping")
		return
	}
	if err != nil {
		logger.WithError(err).Warn("Failed to re-read feed")
		metrics.IncrementError(metrics.ErrTypeTransient)
		return
	}

	// A failed subscriber read fails the whole task: emitting events with a
	// stale or empty subscriber list would lose deliveries silently.
	subscribers, err := p.store.Subscribers(feed.ID)
	if err != nil {
		logger.WithError(err).Warn("Failed to read subscribers")
		metrics.IncrementError(metrics.ErrTypeTransient)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	parsed, err := p.fetchFeed(fetchCtx, feed.URL)
	if err != nil {
		logger.WithError(err).Warn("Failed to fetch feed")
		incrementPollMetrics(feed.URL, err)
		metrics.IncrementError(metrics.ErrTypeTransient)
		return
	}
	incrementPollMetrics(feed.URL, nil)

	var emitted []types.Post
	var maxEmitted time.Time
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		published := itemPublished(item)
		if published == nil {
			continue // undated entries cannot be watermarked
		}
		publishedAt := published.UTC()
		if !publishedAt.After(feed.LastPostDate) {
			continue
		}

		content := itemContent(item)
		if len(strings.Fields(content)) < minSummaryWords {
			content, err = p.extractor.ArticleText(ctx, item.Link)
			if err != nil || content == "" {
				logger.WithError(err).WithField("link", item.Link).Info("Skipping entry: no usable content")
				continue
			}
		}
		content = strings.Join(strings.Fields(content), " ")

		event := types.NewPostEvent{
			PublishedAt:     publishedAt,
			FeedURL:         feed.URL,
			PostTitle:       item.Title,
			PostLink:        item.Link,
			PostContent:     content,
			FeedSubscribers: subscribers,
			CorrelationID:   correlationID,
		}
		if err := p.publisher.Publish(ctx, types.QueueNewPosts, correlationID, &event); err != nil {
			// Not emitted, so not watermarked: the entry will be retried next
			// round.
			logger.WithError(err).Warn("Failed to publish new post")
			metrics.IncrementError(metrics.ErrTypeTransient)
			continue
		}
		postCounter.Inc()
		logger.WithField("title", item.Title).Info("New feed item")

		emitted = append(emitted, types.Post{
			ID:          uuid.New(),
			FeedID:      feed.ID,
			Title:       item.Title,
			Content:     content,
			Link:        item.Link,
			PublishedAt: publishedAt,
		})
		if publishedAt.After(maxEmitted) {
			maxEmitted = publishedAt
		}
	}

	if len(emitted) == 0 {
		return
	}
	if err := p.store.StorePosts(feed.ID, emitted, maxEmitted); err != nil {
		logger.WithError(err).Warn("Failed to persist posts and watermark")
		metrics.IncrementError(metrics.ErrTypeTransient)
	}
}

func (p *Poller) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	fp.Client = p.Client
	return fp.ParseURLWithContext(feedURL, ctx)
}

// itemPublished prefers the published date and falls back to updated.
func itemPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

// itemContent prefers the summary and falls back to full content.
func itemContent(item *gofeed.Item) string {
	if item.Description != "" {
		return item.Description
	}
	return item.Content
}

func incrementPollMetrics(urlStr string, err error) {
	// extract domain part of the feed URL to get coarser (more useful) statistics
	domain := urlStr
	if u, urlErr := url.Parse(urlStr); urlErr == nil {
		domain = u.Host
	}
	status := "200"
	if err != nil {
		statusCode := 0 // e.g. network timeout
		if herr, ok := err.(gofeed.HTTPError); ok {
			statusCode = herr.StatusCode
		}
		status = strconv.Itoa(statusCode)
	}
	pollCounter.With(prometheus.Labels{"url": domain, "http_status": status}).Inc()
}

func init() {
	prometheus.MustRegister(pollCounter)
	prometheus.MustRegister(postCounter)
}
