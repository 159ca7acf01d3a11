package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Message is a single conversational turn.
type Message struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Request captures the normalized model input.
type Request struct {
	Instructions string    `json:"instructions"`
	Messages     []Message `json:"messages"`
	Stream       bool      `json:"stream,omitempty"`
}

// UserRequest builds a single-turn request.
func UserRequest(instructions, prompt string) Request {
	return Request{Instructions: instructions, Messages: []Message{{Role: "user", Text: prompt}}}
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model generates text. Implementations close both channels when done and
// send at most one error.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// ErrEmptyResponse is returned by Complete when the model produced no final text.
var ErrEmptyResponse = errors.New("model returned no text")

// Complete drains a generation and returns the final text. Partial chunks are
// concatenated when the provider sends no final chunk.
func Complete(ctx context.Context, m Model, req Request) (string, error) {
	out, errCh := m.Generate(ctx, req)

	var (
		final   string
		partial strings.Builder
		gotEnd  bool
	)
	for out != nil || errCh != nil {
		select {
		case r, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			if r.Partial {
				partial.WriteString(r.Text)
				continue
			}
			final, gotEnd = r.Text, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", fmt.Errorf("%s generate: %w", m.Info().Provider, err)
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !gotEnd {
		final = partial.String()
	}
	if strings.TrimSpace(final) == "" {
		return "", ErrEmptyResponse
	}
	return final, nil
}

// MockModel is a deterministic Model for tests and offline demos.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	respond   func(Request) (string, error)
	requests  []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion for an exact prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	m.responses[prompt] = response
	m.mu.Unlock()
}

// SetResponder installs a function computing responses for unmatched prompts.
func (m *MockModel) SetResponder(fn func(Request) (string, error)) {
	m.mu.Lock()
	m.respond = fn
	m.mu.Unlock()
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate implements Model; emits optional streaming chunks then a final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		prompt := req.Messages[len(req.Messages)-1].Text

		m.mu.Lock()
		m.requests = append(m.requests, req)
		full, ok := m.responses[prompt]
		respond := m.respond
		m.mu.Unlock()

		if !ok {
			if respond != nil {
				var err error
				if full, err = respond(req); err != nil {
					errCh <- err
					return
				}
			} else {
				full = fmt.Sprintf("Mock response to: %s", prompt)
			}
		}
		if req.Stream {
			for _, word := range strings.SplitAfter(full, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: word}:
				}
			}
		}
		respCh <- Response{Text: full, FinishReason: "stop"}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
