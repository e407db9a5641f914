// Package testutils holds test doubles shared by the stage tests.
package testutils

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
)

// MockTransport implements RoundTripper
type MockTransport struct {
	// RT is the RoundTrip function. Replace this function with your test function.
	// For example:
	//   t := MockTransport{}
	//   t.RT = func(req *http.Request) (*http.Response, error) {
	//       // assert req args, return res or error
	//   }
	RT func(*http.Request) (*http.Response, error)
}

// RoundTrip is a RoundTripper
func (t MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.RT(req)
}

// NewRoundTripper returns a new RoundTripper which will call the provided function.
func NewRoundTripper(roundTrip func(*http.Request) (*http.Response, error)) http.RoundTripper {
	rt := MockTransport{}
	rt.RT = roundTrip
	return rt
}

// An Emission is one captured publish.
type Emission struct {
	Queue         string
	CorrelationID string
	Body          []byte
}

// Decode unmarshals the captured body into v.
func (e Emission) Decode(v interface{}) error {
	return json.Unmarshal(e.Body, v)
}

// FakePublisher records every publish instead of talking to a broker. Safe
// for concurrent use.
type FakePublisher struct {
	mu        sync.Mutex
	emissions []Emission
	// Err, when set, is returned from every Publish.
	Err error
}

// Publish captures the emission.
func (p *FakePublisher) Publish(ctx context.Context, queue, correlationID string, v interface{}) error {
	if p.Err != nil {
		return p.Err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.emissions = append(p.emissions, Emission{Queue: queue, CorrelationID: correlationID, Body: body})
	p.mu.Unlock()
	return nil
}

// Emissions returns the captured publishes in order.
func (p *FakePublisher) Emissions() []Emission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Emission(nil), p.emissions...)
}

// OnQueue returns only the emissions for one queue.
func (p *FakePublisher) OnQueue(queue string) []Emission {
	var out []Emission
	for _, e := range p.Emissions() {
		if e.Queue == queue {
			out = append(out, e)
		}
	}
	return out
}
