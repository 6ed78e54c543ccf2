package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/narrator/internal/archive"
	"github.com/loqalabs/narrator/internal/config"
	"github.com/loqalabs/narrator/internal/credentials"
	"github.com/loqalabs/narrator/internal/frame"
	"github.com/loqalabs/narrator/internal/llm"
	"github.com/loqalabs/narrator/internal/player"
	"github.com/loqalabs/narrator/internal/pipeline"
	"github.com/loqalabs/narrator/internal/transcript"
	"github.com/loqalabs/narrator/internal/tts"
)

type secrets struct {
	visionKey string
	speechKey string
	voiceID   string
}

// loadSecrets resolves only the credentials the configured backends use.
func loadSecrets(cfg config.Config, logger *slog.Logger) (secrets, error) {
	var out secrets
	needVision := llm.NeedsAPIKey(cfg.Vision.Mode)
	needSpeech := cfg.Speech.Enabled && tts.NeedsCredentials(cfg.Speech.Mode)
	if !needVision && !needSpeech {
		return out, nil
	}

	creds, err := credentials.Load(cfg.Credentials, logger.With(slog.String("component", "credentials")))
	if err != nil {
		return out, err
	}
	if needVision {
		if out.visionKey, err = creds.FetchAuthData(credentials.VisionAuth); err != nil {
			return out, fmt.Errorf("vision credentials: %w", err)
		}
	}
	if needSpeech {
		if out.speechKey, err = creds.FetchAuthData(credentials.SpeechAuth); err != nil {
			return out, fmt.Errorf("speech credentials: %w", err)
		}
		if out.voiceID, err = creds.FetchVoiceID(); err != nil {
			return out, fmt.Errorf("voice id: %w", err)
		}
	}
	return out, nil
}

func buildPipeline(cfg config.Config, sec secrets, store transcript.Store, logger *slog.Logger) (pipeline.Deps, pipeline.Options, error) {
	system, err := llm.SystemPrompt(cfg.Vision)
	if err != nil {
		return pipeline.Deps{}, pipeline.Options{}, err
	}
	analyzer, err := llm.NewAnalyzer(cfg.Vision, sec.visionKey)
	if err != nil {
		return pipeline.Deps{}, pipeline.Options{}, err
	}

	deps := pipeline.Deps{
		Frames:     frame.NewReader(cfg.Frame, logger),
		Analyzer:   analyzer,
		Transcript: store,
	}
	if cfg.Speech.Enabled {
		deps.Synth, err = tts.NewSynthesizer(cfg.Speech, sec.speechKey)
		if err != nil {
			return pipeline.Deps{}, pipeline.Options{}, err
		}
		deps.Archiver = archive.NewArchiver(cfg.Archive.Root, cfg.Archive.Filename)
		deps.Player, err = player.New(cfg.Player, logger)
		if err != nil {
			return pipeline.Deps{}, pipeline.Options{}, err
		}
	}

	opts := pipeline.Options{
		System:        system,
		Voice:         sec.voiceID,
		Model:         cfg.Vision.Model,
		MaxTokens:     cfg.Vision.MaxTokens,
		Temperature:   cfg.Vision.Temperature,
		Interval:      time.Duration(cfg.Pipeline.IntervalMS) * time.Millisecond,
		VisionTimeout: time.Duration(cfg.Vision.TimeoutMS) * time.Millisecond,
		SpeechTimeout: time.Duration(cfg.Speech.TimeoutMS) * time.Millisecond,
		FailFast:      cfg.Pipeline.FailFast,
		MaxIterations: cfg.Pipeline.MaxIterations,
	}
	return deps, opts, nil
}
