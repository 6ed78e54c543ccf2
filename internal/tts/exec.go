package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// execWaitDelay bounds how long Wait keeps copying stderr after the helper
// exits or is killed, so a grandchild holding the pipe cannot stall synthesis.
const execWaitDelay = 2 * time.Second

type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64   string `json:"pcm_base64"`
	Final       bool   `json:"final"`
	RateLimited bool   `json:"rate_limited,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewExecSynth runs command once per utterance. The process reads a JSON
// request on stdin and writes NDJSON lines of base64 PCM on stdout.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = execWaitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	// Unblock the scanner when ctx ends even if a child still holds stdout.
	stop := context.AfterFunc(ctx, func() { _ = stdout.Close() })
	defer stop()

	var pcm bytes.Buffer
	var chunkErr error
	final := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			chunkErr = fmt.Errorf("decode tts chunk: %w", err)
			break
		}
		if resp.RateLimited {
			chunkErr = &SynthesisError{Provider: "exec", Message: resp.Error, Cause: ErrRateLimited}
			break
		}
		if resp.Error != "" {
			chunkErr = &SynthesisError{Provider: "exec", Message: resp.Error}
			break
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			chunkErr = fmt.Errorf("decode tts pcm: %w", err)
			break
		}
		pcm.Write(chunk)
		if resp.Final {
			final = true
			break
		}
	}
	scanErr := scanner.Err()
	if final {
		// Anything after the final chunk is discarded; Wait closes the pipe
		// once the helper exits.
		go func() { _, _ = io.Copy(io.Discard, stdout) }()
	}
	if chunkErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()
	if final && errors.Is(waitErr, exec.ErrWaitDelay) {
		// The helper exited cleanly but a child kept stderr open.
		waitErr = nil
	}
	switch {
	case chunkErr != nil:
		return nil, chunkErr
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case scanErr != nil:
		return nil, fmt.Errorf("read tts output: %w", scanErr)
	case waitErr != nil:
		return nil, fmt.Errorf("tts command: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	if pcm.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	return EncodeWAV(pcm.Bytes(), e.sampleRate, e.channels)
}
