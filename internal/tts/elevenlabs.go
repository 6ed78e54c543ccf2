package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	elevenLabsDefaultStability       = 0.5
	elevenLabsDefaultSimilarityBoost = 0.75
)

type elevenLabsSynth struct {
	endpoint     string
	apiKey       string
	model        string
	outputFormat string
	sampleRate   int
	channels     int
	client       *http.Client
}

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id,omitempty"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// NewElevenLabsSynth calls the hosted text-to-speech endpoint. Raw pcm_*
// output formats are wrapped into WAV; other formats are returned as sent.
func NewElevenLabsSynth(endpoint, apiKey, model, outputFormat string, sampleRate, channels int, client *http.Client) Synthesizer {
	if client == nil {
		client = http.DefaultClient
	}
	if rate, ok := pcmRate(outputFormat); ok {
		sampleRate = rate
	}
	return &elevenLabsSynth{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       apiKey,
		model:        model,
		outputFormat: outputFormat,
		sampleRate:   sampleRate,
		channels:     channels,
		client:       client,
	}
}

func pcmRate(format string) (int, bool) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, false
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

func (s *elevenLabsSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	if req.Voice == "" {
		return nil, ErrInvalidVoice
	}
	body, err := json.Marshal(elevenLabsRequest{
		Text:    req.Text,
		ModelID: s.model,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       elevenLabsDefaultStability,
			SimilarityBoost: elevenLabsDefaultSimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	target := fmt.Sprintf("%s/text-to-speech/%s", s.endpoint, url.PathEscape(req.Voice))
	if s.outputFormat != "" {
		target += "?output_format=" + url.QueryEscape(s.outputFormat)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, s.handleError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs audio: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if _, ok := pcmRate(s.outputFormat); ok {
		return EncodeWAV(data, s.sampleRate, s.channels)
	}
	return data, nil
}

func (s *elevenLabsSynth) handleError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(data))
	var errResp elevenLabsErrorResponse
	if json.Unmarshal(data, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
	}

	var cause error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusNotFound:
		cause = ErrInvalidVoice
	}
	return &SynthesisError{Provider: "elevenlabs", Status: resp.StatusCode, Message: message, Cause: cause}
}
