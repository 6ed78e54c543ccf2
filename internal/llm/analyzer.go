package llm

import (
	"fmt"
	"net/http"

	"github.com/loqalabs/narrator/internal/config"
)

// NewAnalyzer builds the backend selected by cfg.Mode. apiKey is only used by
// the openai backend.
func NewAnalyzer(cfg config.VisionConfig, apiKey string) (Analyzer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockAnalyzer(cfg.MockText), nil
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai analyzer requires an api key")
		}
		return NewOpenAIAnalyzer(cfg.Endpoint, apiKey, &http.Client{}), nil
	case "ollama":
		return NewOllamaAnalyzer(cfg.Endpoint, &http.Client{}), nil
	case "exec":
		return NewExecAnalyzer(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported vision mode %q", cfg.Mode)
	}
}

// NeedsAPIKey reports whether mode requires a vision credential.
func NeedsAPIKey(mode string) bool { return mode == "openai" }
