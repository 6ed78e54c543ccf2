package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

const execWaitDelay = 2 * time.Second

type execAnalyzer struct {
	cmd []string
	mu  sync.Mutex
}

type execMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ImageBase64 string `json:"image_base64,omitempty"`
	ImageMIME   string `json:"image_mime,omitempty"`
}

type execResponse struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	RateLimited      bool   `json:"rate_limited,omitempty"`
	Error            string `json:"error,omitempty"`
}

// NewExecAnalyzer runs command once per request, writing the request as JSON
// to stdin and reading a single JSON object from stdout.
func NewExecAnalyzer(command string) (Analyzer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse vision command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("vision command empty")
	}
	return &execAnalyzer{cmd: args}, nil
}

func (a *execAnalyzer) Analyze(ctx context.Context, req Request) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	messages := make([]execMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		m := execMessage{Role: string(msg.Role), Content: msg.Text}
		if msg.Image != nil {
			m.ImageBase64 = msg.Image.Data
			m.ImageMIME = msg.Image.MIMEType
		}
		messages = append(messages, m)
	}
	payload := map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}

	base := a.cmd[0]
	args := append([]string{}, a.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = execWaitDelay

	start := time.Now()
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("vision exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Response{}, fmt.Errorf("decode vision exec response: %w", err)
	}
	if resp.RateLimited {
		return Response{}, &APIError{Provider: "exec", Message: resp.Error, Cause: ErrRateLimited}
	}
	if resp.Error != "" {
		return Response{}, &APIError{Provider: "exec", Message: resp.Error}
	}
	if strings.TrimSpace(resp.Content) == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{
		Text:             resp.Content,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Since(start),
	}, nil
}
