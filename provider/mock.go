package provider

import (
	"context"
	"sync"
)

// MockProvider is a lightweight in-memory Provider useful for tests and
// examples. Responses are scripted in order; when the script is exhausted a
// plain echo of the last user message is returned.
type MockProvider struct {
	mu        sync.Mutex
	script    []Response
	next      int
	calls     int
	chunkSize int
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider constructs a MockProvider streaming one rune per chunk.
func NewMockProvider() *MockProvider {
	return &MockProvider{chunkSize: 1}
}

// Enqueue appends a scripted response.
func (m *MockProvider) Enqueue(resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, resp)
}

// SetChunkSize controls how many bytes each streamed text delta carries.
func (m *MockProvider) SetChunkSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.chunkSize = n
	}
}

// Calls reports how many Chat/ChatStream invocations were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) take(req Request) Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.next < len(m.script) {
		resp := m.script[m.next]
		m.next++
		return resp
	}
	text := "ok"
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			text = "Mock response to: " + req.Messages[i].Content
			break
		}
	}
	return Response{Text: text, FinishReason: FinishStop}
}

// Initialize implements Provider.
func (m *MockProvider) Initialize(context.Context) error { return nil }

// Chat implements Provider.
func (m *MockProvider) Chat(_ context.Context, req Request) (*Response, error) {
	resp := m.take(req)
	return &resp, nil
}

// ChatStream implements Provider; the scripted response is replayed as text
// chunks followed by per-call tool deltas and a final finish delta.
func (m *MockProvider) ChatStream(ctx context.Context, req Request) (<-chan StreamDelta, <-chan error) {
	resp := m.take(req)

	m.mu.Lock()
	size := m.chunkSize
	m.mu.Unlock()

	out := make(chan StreamDelta, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		text := resp.Text
		for len(text) > 0 {
			n := size
			if n > len(text) {
				n = len(text)
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- StreamDelta{Text: text[:n]}:
			}
			text = text[n:]
		}
		for i, call := range resp.ToolCalls {
			out <- StreamDelta{ToolCall: &ToolCallDelta{
				Index:     i,
				ID:        call.ID,
				Name:      call.Name,
				Arguments: string(call.Arguments),
			}}
		}
		out <- StreamDelta{FinishReason: resp.FinishReason, Usage: resp.Usage}
	}()
	return out, errCh
}

// Models implements Provider.
func (m *MockProvider) Models(context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "mock-1", DisplayName: "Mock", SupportsTools: true}}, nil
}

// Test implements Provider.
func (m *MockProvider) Test(context.Context) error { return nil }

// Terminate implements Provider.
func (m *MockProvider) Terminate() error { return nil }
