package model

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"github.com/ashwick/townmind/core"
)

// MockGenerator is an in-memory GenerationService for tests and examples.
// Canned responses are matched by exact prompt; unmatched prompts get a
// deterministic echo so tests never block on missing fixtures.
type MockGenerator struct {
	mu        sync.Mutex
	responses map[string]string
	queue     []string
	calls     []string
	err       error
}

// NewMockGenerator constructs an empty mock generator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{responses: make(map[string]string)}
}

// AddResponse registers a deterministic canned completion for an exact prompt.
func (m *MockGenerator) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// QueueResponse appends a response returned in order regardless of prompt.
// Queued responses take precedence over prompt-matched ones.
func (m *MockGenerator) QueueResponse(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, response)
}

// FailWith makes every subsequent Generate call return err.
func (m *MockGenerator) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the prompts seen so far, in order.
func (m *MockGenerator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Generate implements core.GenerationService.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	if resp, ok := m.responses[prompt]; ok {
		return resp, nil
	}
	return fmt.Sprintf("Mock response to: %s", prompt), nil
}

// MockEmbedder is an in-memory EmbeddingService producing stable
// hash-derived unit vectors: equal texts embed identically and distinct
// texts almost surely do not, which is all the similarity code needs.
type MockEmbedder struct {
	// Dim is the vector dimensionality; zero means 8.
	Dim int
}

// Embed implements core.EmbeddingService.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := m.Dim
	if dim == 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()
	var norm float64
	for i := range vec {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float32(int64(state%2000)-1000) / 1000
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

var (
	_ core.GenerationService = (*MockGenerator)(nil)
	_ core.EmbeddingService  = (*MockEmbedder)(nil)
)
