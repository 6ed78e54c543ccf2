package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/loqalabs/narrator/internal/config"
)

func TestSystemPrompt(t *testing.T) {
	prompt, err := SystemPrompt(config.VisionConfig{Persona: "attenborough"})
	if err != nil {
		t.Fatalf("persona: %v", err)
	}
	if !strings.Contains(prompt, "Attenborough") {
		t.Fatalf("unexpected persona text %q", prompt)
	}

	custom, err := SystemPrompt(config.VisionConfig{Persona: "scottish", SystemPrompt: "be brief"})
	if err != nil || custom != "be brief" {
		t.Fatalf("expected explicit prompt, got %q, %v", custom, err)
	}

	if _, err := SystemPrompt(config.VisionConfig{Persona: "pirate"}); err == nil {
		t.Fatal("expected error for unknown persona")
	}
}

func TestNewAnalyzerOpenAIRequiresKey(t *testing.T) {
	if _, err := NewAnalyzer(config.VisionConfig{Mode: "openai", Endpoint: "http://x", Model: "m"}, ""); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestMockAnalyzer(t *testing.T) {
	a, err := NewAnalyzer(config.VisionConfig{Mode: "mock", MockText: "A cat sits majestically."}, "")
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	resp, err := a.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if resp.Text != "A cat sits majestically." {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestExecAnalyzerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecAnalyzer("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}
