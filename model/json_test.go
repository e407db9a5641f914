package model

import (
	"errors"
	"testing"
)

func TestDecodeEvaluation(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		rank    int
		wantErr bool
	}{
		{"plain json", `{"explanation": "matches interests", "rank": 80}`, 80, false},
		{"fenced json", "```json\n{\"explanation\": \"x\", \"rank\": 42}\n```", 42, false},
		{"json with prose", `Sure! Here is my evaluation: {"explanation": "y", "rank": 7} Hope that helps.`, 7, false},
		{"rank too high", `{"explanation": "x", "rank": 150}`, 0, true},
		{"rank negative", `{"explanation": "x", "rank": -3}`, 0, true},
		{"no json object", `I cannot rate this article.`, 0, true},
		{"truncated json", `{"explanation": "x", "rank"`, 0, true},
	}
	for _, c := range cases {
		eval, err := DecodeEvaluation(c.raw)
		if c.wantErr {
			if !errors.Is(err, ErrModelOutput) {
				t.Errorf("%s: expected ErrModelOutput, got %v", c.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %s", c.name, err)
			continue
		}
		if eval.Rank != c.rank {
			t.Errorf("%s: rank: got %d, want %d", c.name, eval.Rank, c.rank)
		}
	}
}

func TestDecodeNews(t *testing.T) {
	news, err := DecodeNews("```json\n{\"content\": \"A short summary.\"}\n```")
	if err != nil {
		t.Fatalf("DecodeNews failed: %s", err)
	}
	if news.Content != "A short summary." {
		t.Errorf("Content: got %q", news.Content)
	}

	if _, err := DecodeNews(`{"summary": "wrong field"}`); !errors.Is(err, ErrModelOutput) {
		t.Errorf("expected ErrModelOutput for missing content, got %v", err)
	}
	if _, err := DecodeNews(""); !errors.Is(err, ErrModelOutput) {
		t.Errorf("expected ErrModelOutput for empty reply, got %v", err)
	}
}
