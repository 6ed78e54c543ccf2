package llm

import (
	"context"
	"fmt"
	"time"
)

type mockAnalyzer struct {
	text string
}

// NewMockAnalyzer returns text for every request. An empty text yields a
// generated line that counts the prior turns.
func NewMockAnalyzer(text string) Analyzer { return &mockAnalyzer{text: text} }

func (m *mockAnalyzer) Analyze(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	content := m.text
	if content == "" {
		content = fmt.Sprintf("[mock commentary after %d prior turns]", len(req.Messages)-2)
	}
	return Response{Text: content, Latency: 20 * time.Millisecond}, nil
}
