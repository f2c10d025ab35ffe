package aiclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// FakeClient is a deterministic, in-process stand-in for the hosted
// LLM backend, used by pipeline tests and cmd/gatekeeper's demo mode.
// It returns a caller-configured canned response, or a canned error
// (e.g. to exercise the AIQueue's rate-limit-shaped backoff path
// without a real HTTP 429).
type FakeClient struct {
	mu        sync.Mutex
	responder func(prompt string) (string, error)
	calls     int
}

// NewFakeClient constructs a FakeClient always returning the given
// decision/confidence/reason.
func NewFakeClient(decision string, confidence float64, reason string) *FakeClient {
	return &FakeClient{
		responder: func(string) (string, error) {
			return fmt.Sprintf(`{"decision":%q,"confidence":%.2f,"reason":%q}`, decision, confidence, reason), nil
		},
	}
}

// NewFakeClientFunc constructs a FakeClient delegating to an arbitrary
// responder, e.g. one that returns a rate-limit-shaped error on the
// first N calls.
func NewFakeClientFunc(responder func(prompt string) (string, error)) *FakeClient {
	return &FakeClient{responder: responder}
}

// NewFakeRateLimitedClient returns a FakeClient whose first failCount
// calls return an error containing "429", after which it returns the
// given decision.
func NewFakeRateLimitedClient(failCount int, decision string, confidence float64) *FakeClient {
	var mu sync.Mutex
	calls := 0
	return NewFakeClientFunc(func(string) (string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= failCount {
			return "", errors.New("ai backend error: HTTP 429 rate limit exceeded")
		}
		return fmt.Sprintf(`{"decision":%q,"confidence":%.2f,"reason":"ok"}`, decision, confidence), nil
	})
}

func (f *FakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.responder(prompt)
}

// Calls returns how many times Complete has been invoked.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
