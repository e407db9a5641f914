package types

import (
	"errors"
	"testing"
)

func TestDecodeNewPostEvent(t *testing.T) {
	body := []byte(`{
		"published_at": "2026-08-24T10:00:00Z",
		"feed_url": "http://feeds.example.com/rss.xml",
		"post_title": "Title",
		"post_link": "http://example.com/post",
		"post_content": "Content",
		"feed_subscribers": [1, 2],
		"correlation_id": "corr-1"
	}`)
	var event NewPostEvent
	if err := Decode(body, &event); err != nil {
		t.Fatalf("Decode failed: %s", err)
	}
	if event.FeedURL != "http://feeds.example.com/rss.xml" {
		t.Errorf("FeedURL: got %q", event.FeedURL)
	}
	if len(event.FeedSubscribers) != 2 {
		t.Errorf("FeedSubscribers: got %v", event.FeedSubscribers)
	}
	if event.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID: got %q", event.CorrelationID)
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		body string
		v    interface{ Validate() error }
	}{
		{"new post without link", `{"feed_url":"http://f","published_at":"2026-08-24T10:00:00Z"}`, &NewPostEvent{}},
		{"new post without date", `{"feed_url":"http://f","post_link":"http://p"}`, &NewPostEvent{}},
		{"relevant post without user", `{"post_link":"http://p"}`, &RelevantPostEvent{}},
		{"ready post without news", `{"user_id":1}`, &ReadyPostEvent{}},
		{"create user without username", `{"user_id":1}`, &CreateUserRequest{}},
		{"subscribe without url", `{"user_id":1}`, &SubscribeRequest{}},
		{"set status without addressee", `{"status":"pro"}`, &SetStatusRequest{}},
		{"set status with bad status", `{"user_id":1,"status":"gold"}`, &SetStatusRequest{}},
		{"not json at all", `pro`, &SetStatusRequest{}},
	}
	for _, c := range cases {
		err := Decode([]byte(c.body), c.v)
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("%s: expected ErrMalformedPayload, got %v", c.name, err)
		}
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	body := []byte(`{"user_id":7,"username":"ada","extra_field":true}`)
	var req CreateUserRequest
	if err := Decode(body, &req); err != nil {
		t.Fatalf("Decode failed: %s", err)
	}
	if req.UserID != 7 || req.Username != "ada" {
		t.Errorf("got %+v", req)
	}
}

func TestSetStatusRequestAddressedByUsername(t *testing.T) {
	body := []byte(`{"username":"ada","status":"free"}`)
	var req SetStatusRequest
	if err := Decode(body, &req); err != nil {
		t.Fatalf("Decode failed: %s", err)
	}
	if req.Username != "ada" || req.Status != StatusFree {
		t.Errorf("got %+v", req)
	}
}
