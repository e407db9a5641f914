package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/newsprism/newsprism/broker"
	"github.com/newsprism/newsprism/database"
	"github.com/newsprism/newsprism/testutils"
	"github.com/newsprism/newsprism/types"
)

// fakeReplier captures reply payloads.
type fakeReplier struct {
	replies []interface{}
}

func (r *fakeReplier) Reply(ctx context.Context, d *broker.Delivery, v interface{}) error {
	r.replies = append(r.replies, v)
	return nil
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
	return broker.NewDelivery(body, "corr-1", "reply-q",
		func() error { a.acked = true; return nil },
		func(requeue bool) error { a.nacked = true; a.requeue = requeue; return nil },
	)
}

func newService() (*Service, *database.MemStore, *testutils.FakePublisher, *fakeReplier) {
	store := database.NewMemStore()
	pub := &testutils.FakePublisher{}
	rep := &fakeReplier{}
	return New(store, pub, rep), store, pub, rep
}

func TestHandleCreateUser(t *testing.T) {
	svc, store, _, _ := newService()
	ctx := context.Background()

	var spy ackSpy
	svc.HandleCreateUser(ctx, spy.delivery(t, &types.CreateUserRequest{UserID: 1, Username: "ada", CorrelationID: "corr-1"}))
	if !spy.acked {
		t.Error("create not acked")
	}
	user, err := store.User(1)
	if err != nil {
		t.Fatalf("User failed: %s", err)
	}
	if user.Username != "ada" || user.IsPro {
		t.Errorf("got %+v", user)
	}

	// Redelivery of the same registration stays acked and harmless.
	var again ackSpy
	svc.HandleCreateUser(ctx, again.delivery(t, &types.CreateUserRequest{UserID: 1, Username: "ada", CorrelationID: "corr-2"}))
	if !again.acked || again.nacked {
		t.Errorf("replayed create not acked cleanly: %+v", again)
	}
}

func TestHandleProfileRequest(t *testing.T) {
	svc, store, _, rep := newService()
	ctx := context.Background()
	store.CreateUser(1, "ada")
	store.UpdatePreferences(1, "astronomy")
	store.UpdateAntipathies(1, "crypto")
	store.SetStatus(1, true)

	var spy ackSpy
	svc.HandleProfileRequest(ctx, spy.delivery(t, &types.ProfileRequest{UserID: 1, CorrelationID: "corr-1"}))
	if !spy.acked {
		t.Error("profile request not acked")
	}
	if len(rep.replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(rep.replies))
	}
	reply, ok := rep.replies[0].(*types.ProfileReply)
	if !ok {
		t.Fatalf("unexpected reply type %T", rep.replies[0])
	}
	if reply.Status != "success" || reply.Data == nil {
		t.Fatalf("got %+v", reply)
	}
	if reply.Data.Username != "ada" || !reply.Data.IsPro || reply.Data.Preferences != "astronomy" || reply.Data.Antipathies != "crypto" {
		t.Errorf("profile data: %+v", reply.Data)
	}
}

func TestHandleProfileRequestNotFound(t *testing.T) {
	svc, _, _, rep := newService()

	var spy ackSpy
	svc.HandleProfileRequest(context.Background(), spy.delivery(t, &types.ProfileRequest{UserID: 99, CorrelationID: "corr-1"}))
	if !spy.acked || spy.nacked {
		t.Errorf("missing profile must still be acked: %+v", spy)
	}
	if len(rep.replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(rep.replies))
	}
	reply := rep.replies[0].(*types.ProfileReply)
	if reply.Status != "error" || reply.Data != nil || reply.Message == "" {
		t.Errorf("got %+v", reply)
	}
}

func TestHandleUpdatePreferencesForMissingUser(t *testing.T) {
	svc, _, _, _ := newService()

	// Lifecycle events can arrive out of order; a missing user is not a
	// failure worth redelivering.
	var spy ackSpy
	svc.HandleUpdatePreferences(context.Background(), spy.delivery(t, &types.UpdatePreferencesRequest{UserID: 99, Preferences: "x"}))
	if !spy.acked || spy.nacked {
		t.Errorf("update for a missing user must be acked: %+v", spy)
	}
}

func TestHandleSetStatusByID(t *testing.T) {
	svc, store, pub, _ := newService()
	ctx := context.Background()
	store.CreateUser(1, "ada")

	var spy ackSpy
	svc.HandleSetStatus(ctx, spy.delivery(t, &types.SetStatusRequest{UserID: 1, Status: types.StatusPro, CorrelationID: "corr-1"}))
	if !spy.acked {
		t.Error("set status not acked")
	}
	user, _ := store.User(1)
	if !user.IsPro {
		t.Error("IsPro not set")
	}
	notes := pub.OnQueue(types.QueueStatusNotify)
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes))
	}
	var note types.StatusNotification
	notes[0].Decode(&note)
	if note.UserID != 1 || note.Status != types.StatusPro {
		t.Errorf("notification: %+v", note)
	}
}

func TestHandleSetStatusByUsername(t *testing.T) {
	svc, store, pub, _ := newService()
	ctx := context.Background()
	store.CreateUser(7, "grace")

	var spy ackSpy
	svc.HandleSetStatus(ctx, spy.delivery(t, &types.SetStatusRequest{Username: "grace", Status: types.StatusFree, CorrelationID: "corr-1"}))
	if !spy.acked {
		t.Error("set status not acked")
	}
	notes := pub.OnQueue(types.QueueStatusNotify)
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes))
	}
	var note types.StatusNotification
	notes[0].Decode(&note)
	if note.UserID != 7 {
		t.Errorf("notification addressed to %d, want the resolved ID 7", note.UserID)
	}
}

func TestHandleSetStatusUnknownUser(t *testing.T) {
	svc, _, pub, _ := newService()

	var spy ackSpy
	svc.HandleSetStatus(context.Background(), spy.delivery(t, &types.SetStatusRequest{Username: "nobody", Status: types.StatusPro}))
	if !spy.acked || spy.nacked {
		t.Errorf("unknown user must be acked, not requeued: %+v", spy)
	}
	if n := len(pub.Emissions()); n != 0 {
		t.Errorf("published %d notifications for an unknown user", n)
	}
}

func TestHandleSubscribeAndUnsubscribe(t *testing.T) {
	svc, store, _, _ := newService()
	ctx := context.Background()
	store.CreateUser(1, "ada")
	store.CreateUser(2, "grace")

	const url = "http://feeds.example.com/rss.xml"
	for _, userID := range []int64{1, 2, 1} { // replayed subscribe is a no-op
		var spy ackSpy
		svc.HandleSubscribe(ctx, spy.delivery(t, &types.SubscribeRequest{UserID: userID, FeedURL: url}))
		if !spy.acked {
			t.Fatalf("subscribe for user %d not acked", userID)
		}
	}
	feed, err := store.FeedByURL(url)
	if err != nil {
		t.Fatalf("feed row missing: %s", err)
	}
	if n := store.SubscriptionCount(feed.ID); n != 2 {
		t.Errorf("SubscriptionCount: got %d, want 2", n)
	}

	var spy ackSpy
	svc.HandleUnsubscribe(ctx, spy.delivery(t, &types.UnsubscribeRequest{UserID: 1, FeedURL: url}))
	if !spy.acked {
		t.Error("unsubscribe not acked")
	}
	if _, err := store.FeedByURL(url); err != nil {
		t.Errorf("feed deleted while it still had a subscriber: %v", err)
	}

	svc.HandleUnsubscribe(ctx, (&ackSpy{}).delivery(t, &types.UnsubscribeRequest{UserID: 2, FeedURL: url}))
	if _, err := store.FeedByURL(url); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected feed gone after last unsubscribe, got %v", err)
	}

	// Unsubscribing from a feed nobody follows is acked, not requeued.
	var last ackSpy
	svc.HandleUnsubscribe(ctx, last.delivery(t, &types.UnsubscribeRequest{UserID: 2, FeedURL: url}))
	if !last.acked || last.nacked {
		t.Errorf("unsubscribe from a missing feed: %+v", last)
	}
}

func TestHandleSubscriptions(t *testing.T) {
	svc, store, _, rep := newService()
	ctx := context.Background()
	store.CreateUser(1, "ada")
	for _, url := range []string{"http://b.example.com/rss", "http://a.example.com/rss"} {
		feed, _ := store.EnsureFeed(url)
		store.Subscribe(1, feed.ID)
	}

	var spy ackSpy
	svc.HandleSubscriptions(ctx, spy.delivery(t, &types.SubscriptionsRequest{UserID: 1, CorrelationID: "corr-1"}))
	if !spy.acked {
		t.Error("subscriptions request not acked")
	}
	if len(rep.replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(rep.replies))
	}
	reply := rep.replies[0].(*types.SubscriptionsReply)
	if len(reply.URLs) != 2 {
		t.Fatalf("got %v", reply.URLs)
	}
	if reply.URLs[0] != "http://a.example.com/rss" || reply.URLs[1] != "http://b.example.com/rss" {
		t.Errorf("URLs not sorted: %v", reply.URLs)
	}
}

func TestMalformedRequestsAreAcked(t *testing.T) {
	svc, _, pub, rep := newService()
	ctx := context.Background()

	handlers := map[string]func(context.Context, *broker.Delivery){
		"create":        svc.HandleCreateUser,
		"profile":       svc.HandleProfileRequest,
		"preferences":   svc.HandleUpdatePreferences,
		"antipathy":     svc.HandleUpdateAntipathy,
		"set status":    svc.HandleSetStatus,
		"subscribe":     svc.HandleSubscribe,
		"unsubscribe":   svc.HandleUnsubscribe,
		"subscriptions": svc.HandleSubscriptions,
	}
	for name, handler := range handlers {
		var spy ackSpy
		d := broker.NewDelivery([]byte(`{}`), "corr-1", "reply-q",
			func() error { spy.acked = true; return nil },
			func(requeue bool) error { spy.nacked = true; return nil },
		)
		handler(ctx, d)
		if !spy.acked || spy.nacked {
			t.Errorf("%s: malformed payload not acked cleanly: %+v", name, spy)
		}
	}
	if n := len(pub.Emissions()); n != 0 {
		t.Errorf("published %d events from malformed requests", n)
	}
	if n := len(rep.replies); n != 0 {
		t.Errorf("sent %d replies to malformed requests", n)
	}
}
