package llm

import (
	"context"
	"time"

	"github.com/loqalabs/narrator/internal/transcript"
)

// Request describes one commentary request.
type Request struct {
	Messages    []transcript.Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response carries the primary generated text.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Analyzer defines a pluggable vision model backend. Implementations do not
// retry; failures are returned to the caller.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Response, error)
}
