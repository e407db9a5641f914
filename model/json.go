package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrModelOutput marks a model reply that could not be parsed into the
// expected JSON shape. Callers count it and drop the message; the same model
// call is never retried.
var ErrModelOutput = errors.New("unusable model output")

// Evaluation is the scoring model's expected reply.
type Evaluation struct {
	Explanation string `json:"explanation"`
	Rank        int    `json:"rank"`
}

// News is the writing model's expected reply.
type News struct {
	Content string `json:"content"`
}

// DecodeStrict parses a model reply into v. Models frequently wrap JSON in
// markdown fences or prose, so the outermost object is located first. Any
// failure is an ErrModelOutput.
func DecodeStrict(raw string, v interface{}) error {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			raw = raw[i : j+1]
		}
	}
	if raw == "" || !strings.HasPrefix(raw, "{") {
		return fmt.Errorf("%w: no JSON object found", ErrModelOutput)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrModelOutput, err)
	}
	return nil
}

// DecodeEvaluation parses and bounds-checks a scoring reply.
func DecodeEvaluation(raw string) (Evaluation, error) {
	var ev Evaluation
	if err := DecodeStrict(raw, &ev); err != nil {
		return ev, err
	}
	if ev.Rank < 0 || ev.Rank > 100 {
		return ev, fmt.Errorf("%w: rank %d out of range", ErrModelOutput, ev.Rank)
	}
	return ev, nil
}

// DecodeNews parses a writing reply and requires the content field.
func DecodeNews(raw string) (News, error) {
	var n News
	if err := DecodeStrict(raw, &n); err != nil {
		return n, err
	}
	if n.Content == "" {
		return n, fmt.Errorf("%w: missing content", ErrModelOutput)
	}
	return n, nil
}
