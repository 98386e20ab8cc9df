// Package testutil provides test doubles for code that depends on llm.Completer.
package testutil

import (
	"context"
	"sync"

	"github.com/viperdam/body-mode-sub006/llm"
)

// MockLLMClient is a thread-safe llm.Completer that replays scripted results.
//
//	mock := &MockLLMClient{
//	    Responses: []*llm.Response{{Content: `{"items":[]}`}},
//	}
//
// Errs entries take precedence at the same index; Err, when set, is
// returned for every call.
type MockLLMClient struct {
	mu        sync.Mutex
	Responses []*llm.Response
	Errs      []error
	Err       error

	requests []llm.Request
	index    int
}

// Complete returns the next scripted response or error.
func (m *MockLLMClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	i := m.index
	m.index++

	if m.Err != nil {
		return nil, m.Err
	}
	if i < len(m.Errs) && m.Errs[i] != nil {
		return nil, m.Errs[i]
	}
	if i < len(m.Responses) {
		return m.Responses[i], nil
	}
	if len(m.Responses) > 0 {
		return m.Responses[len(m.Responses)-1], nil
	}
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// Requests returns a copy of every request seen so far.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of Complete calls.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset forgets recorded calls and rewinds the script.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.index = 0
}

var _ llm.Completer = (*MockLLMClient)(nil)
