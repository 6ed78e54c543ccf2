package llm

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/narrator/internal/frame"
	"github.com/loqalabs/narrator/internal/transcript"
)

func writeVisionScript(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "request.json")
	script := filepath.Join(dir, "vision.sh")
	content := "#!/bin/sh\ncat > " + reqPath + "\n" + body
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return "sh " + script, reqPath
}

func execRequestFixture() Request {
	return Request{
		Messages: []transcript.Message{
			{Role: transcript.RoleSystem, Text: "Narrate."},
			{Role: transcript.RoleUser, Text: "Describe this image", Image: &frame.Payload{Data: "AAEC", MIMEType: "image/jpeg"}},
		},
		Model:     "vision-test",
		MaxTokens: 500,
	}
}

func TestExecAnalyzerReturnsContent(t *testing.T) {
	command, reqPath := writeVisionScript(t, `echo '{"content":"The human squints.","prompt_tokens":12,"completion_tokens":4}'`+"\n")
	analyzer, err := NewExecAnalyzer(command)
	if err != nil {
		t.Fatalf("new exec analyzer: %v", err)
	}
	resp, err := analyzer.Analyze(context.Background(), execRequestFixture())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if resp.Text != "The human squints." || resp.PromptTokens != 12 || resp.CompletionTokens != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}

	raw, err := os.ReadFile(reqPath)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	var sent struct {
		Model     string        `json:"model"`
		MaxTokens int           `json:"max_tokens"`
		Messages  []execMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if sent.Model != "vision-test" || sent.MaxTokens != 500 || len(sent.Messages) != 2 {
		t.Fatalf("unexpected request %+v", sent)
	}
	if sent.Messages[1].ImageBase64 != "AAEC" || sent.Messages[1].ImageMIME != "image/jpeg" {
		t.Fatalf("expected image on user turn, got %+v", sent.Messages[1])
	}
}

func TestExecAnalyzerErrors(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		command, _ := writeVisionScript(t, `echo '{"rate_limited":true,"error":"quota"}'`+"\n")
		analyzer, err := NewExecAnalyzer(command)
		if err != nil {
			t.Fatalf("new exec analyzer: %v", err)
		}
		if _, err := analyzer.Analyze(context.Background(), execRequestFixture()); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected rate limit, got %v", err)
		}
	})
	t.Run("error", func(t *testing.T) {
		command, _ := writeVisionScript(t, `echo '{"error":"model unavailable"}'`+"\n")
		analyzer, err := NewExecAnalyzer(command)
		if err != nil {
			t.Fatalf("new exec analyzer: %v", err)
		}
		_, err = analyzer.Analyze(context.Background(), execRequestFixture())
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "model unavailable" {
			t.Fatalf("expected api error, got %v", err)
		}
		if errors.Is(err, ErrRateLimited) {
			t.Fatal("plain error reported as rate limit")
		}
	})
	t.Run("empty content", func(t *testing.T) {
		command, _ := writeVisionScript(t, `echo '{"content":"  "}'`+"\n")
		analyzer, err := NewExecAnalyzer(command)
		if err != nil {
			t.Fatalf("new exec analyzer: %v", err)
		}
		if _, err := analyzer.Analyze(context.Background(), execRequestFixture()); !errors.Is(err, ErrEmptyResponse) {
			t.Fatalf("expected empty response, got %v", err)
		}
	})
}

func TestExecAnalyzerStopsAtDeadline(t *testing.T) {
	command, _ := writeVisionScript(t, "sleep 30 &\nsleep 30\n")
	analyzer, err := NewExecAnalyzer(command)
	if err != nil {
		t.Fatalf("new exec analyzer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := analyzer.Analyze(ctx, execRequestFixture()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("analyze outlived its deadline: %s", elapsed)
	}
}
