package tts

import (
	"fmt"
	"net/http"

	"github.com/loqalabs/narrator/internal/config"
)

// NewSynthesizer builds the backend selected by cfg.Mode.
func NewSynthesizer(cfg config.SpeechConfig, apiKey string) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "elevenlabs":
		if apiKey == "" {
			return nil, fmt.Errorf("elevenlabs synthesizer requires an api key")
		}
		return NewElevenLabsSynth(cfg.Endpoint, apiKey, cfg.Model, cfg.OutputFormat, cfg.SampleRate, cfg.Channels, &http.Client{}), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unsupported speech mode %q", cfg.Mode)
	}
}

// NeedsCredentials reports whether mode requires a speech key and voice id.
func NeedsCredentials(mode string) bool { return mode == "elevenlabs" }
