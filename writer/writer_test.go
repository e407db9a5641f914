package writer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/testutils"
	"github.com/newsprism/newsprism/types"
)

type fixedModel struct {
	reply string
	err   error
}

func (m fixedModel) Chat(ctx context.Context, system, user string) (string, error) {
	return m.reply, m.err
}

type ackSpy struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *ackSpy) delivery(t *testing.T, v interface{}) *broker.Delivery {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %s", err)
	}
	return broker.NewDelivery(body, "corr-1", "",
		func() error { a.acked = true; return nil },
		func(requeue bool) error { a.nacked = true; a.requeue = requeue; return nil },
	)
}

func relevantEvent() *types.RelevantPostEvent {
	return &types.RelevantPostEvent{
		FeedURL:       "http://feeds.example.com/rss.xml",
		PostTitle:     "Title",
		PostLink:      "http://example.com/post",
		PostContent:   "Content about space telescopes.",
		UserID:        1,
		Preferences:   "astronomy",
		Rank:          80,
		CorrelationID: "corr-1",
	}
}

func TestHandleRelevantPostEmitsOneSummary(t *testing.T) {
	pub := &testutils.FakePublisher{}
	mc := fixedModel{reply: `{"content": "A telescope story, summarized."}`}
	w := New(pub, mc, 1000)

	var spy ackSpy
	w.HandleRelevantPost(context.Background(), spy.delivery(t, relevantEvent()))

	if !spy.acked || spy.nacked {
		t.Errorf("delivery not acked cleanly: %+v", spy)
	}
	emitted := pub.OnQueue(types.QueueReadyPosts)
	if len(emitted) != 1 {
		t.Fatalf("emitted %d ready posts, want 1", len(emitted))
	}
	var ready types.ReadyPostEvent
	emitted[0].Decode(&ready)
	if ready.UserID != 1 {
		t.Errorf("UserID: got %d, want 1", ready.UserID)
	}
	if ready.News != "A telescope story, summarized." {
		t.Errorf("News: got %q", ready.News)
	}
	if ready.Rank != 80 {
		t.Errorf("Rank not passed through: got %d", ready.Rank)
	}
	if ready.PostURL != "http://example.com/post" || ready.FeedURL != "http://feeds.example.com/rss.xml" {
		t.Errorf("source attribution lost: %+v", ready)
	}
	if ready.CorrelationID != "corr-1" || emitted[0].CorrelationID != "corr-1" {
		t.Errorf("correlation ID not propagated")
	}
}

func TestHandleRelevantPostDropsOnModelFailure(t *testing.T) {
	pub := &testutils.FakePublisher{}
	w := New(pub, fixedModel{err: errors.New("model unavailable")}, 1000)

	var spy ackSpy
	w.HandleRelevantPost(context.Background(), spy.delivery(t, relevantEvent()))
	if !spy.acked || spy.nacked {
		t.Errorf("model failure must ack and drop, not requeue: %+v", spy)
	}
	if n := len(pub.Emissions()); n != 0 {
		t.Errorf("emitted %d events despite model failure", n)
	}
}

func TestHandleRelevantPostDropsOnGarbageOutput(t *testing.T) {
	pub := &testutils.FakePublisher{}
	w := New(pub, fixedModel{reply: "Here is your summary: enjoy!"}, 1000)

	var spy ackSpy
	w.HandleRelevantPost(context.Background(), spy.delivery(t, relevantEvent()))
	if !spy.acked || spy.nacked {
		t.Errorf("unusable output must ack and drop: %+v", spy)
	}
	if n := len(pub.Emissions()); n != 0 {
		t.Errorf("emitted %d events despite unusable output", n)
	}
}

func TestHandleRelevantPostRequeuesOnPublishFailure(t *testing.T) {
	pub := &testutils.FakePublisher{Err: errors.New("broker down")}
	w := New(pub, fixedModel{reply: `{"content": "A summary."}`}, 1000)

	var spy ackSpy
	w.HandleRelevantPost(context.Background(), spy.delivery(t, relevantEvent()))
	if !spy.nacked || !spy.requeue {
		t.Errorf("publish failure must nack with requeue: %+v", spy)
	}
	if spy.acked {
		t.Error("delivery acked despite publish failure")
	}
}

func TestHandleRelevantPostAcksMalformedPayload(t *testing.T) {
	pub := &testutils.FakePublisher{}
	w := New(pub, fixedModel{reply: `{"content": "A summary."}`}, 1000)

	var spy ackSpy
	d := broker.NewDelivery([]byte(`{"user_id": 0}`), "corr-1", "",
		func() error { spy.acked = true; return nil },
		func(requeue bool) error { spy.nacked = true; return nil },
	)
	w.HandleRelevantPost(context.Background(), d)
	if !spy.acked || spy.nacked {
		t.Errorf("malformed payload must be acked and dropped: %+v", spy)
	}
	if n := len(pub.Emissions()); n != 0 {
		t.Errorf("emitted %d events for a malformed payload", n)
	}
}
