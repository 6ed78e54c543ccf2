// Package credentials resolves the secrets and voice identity the narrator
// needs at startup. Values come from the process environment, optionally
// seeded from a dotenv file. Lookups of required values fail instead of
// returning empty strings.
package credentials

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/loqalabs/narrator/internal/config"
)

// Auth keys understood by FetchAuthData.
const (
	VisionAuth = "vision"
	SpeechAuth = "speech"
)

var (
	// ErrMissing is returned when a required credential is unset or blank.
	ErrMissing = errors.New("credential missing")
	// ErrUnknownKey is returned for auth keys other than VisionAuth and SpeechAuth.
	ErrUnknownKey = errors.New("unknown credential key")
)

type Credentials struct {
	cfg    config.CredentialsConfig
	values map[string]string
}

// Load reads the optional env file and snapshots the configured variables.
// A missing env file is not an error; a malformed one is.
func Load(cfg config.CredentialsConfig, log *slog.Logger) (*Credentials, error) {
	values := make(map[string]string)
	if cfg.EnvFile != "" {
		fileValues, err := godotenv.Read(cfg.EnvFile)
		switch {
		case err == nil:
			for k, v := range fileValues {
				values[k] = v
			}
			log.Info("credentials env file loaded", slog.String("path", cfg.EnvFile), slog.Int("entries", len(fileValues)))
		case errors.Is(err, os.ErrNotExist):
			log.Debug("credentials env file not present", slog.String("path", cfg.EnvFile))
		default:
			return nil, fmt.Errorf("parse credentials env file %s: %w", cfg.EnvFile, err)
		}
	}
	for _, key := range []string{cfg.VisionKeyEnv, cfg.SpeechKeyEnv, cfg.VoiceIDEnv} {
		if key == "" {
			continue
		}
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			values[key] = value
		}
	}
	return &Credentials{cfg: cfg, values: values}, nil
}

// FetchAuthData returns the API key for the named service.
func (c *Credentials) FetchAuthData(name string) (string, error) {
	var envKey string
	switch name {
	case VisionAuth:
		envKey = c.cfg.VisionKeyEnv
	case SpeechAuth:
		envKey = c.cfg.SpeechKeyEnv
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	return c.lookup(envKey)
}

// FetchVoiceID returns the configured speech voice identity.
func (c *Credentials) FetchVoiceID() (string, error) {
	return c.lookup(c.cfg.VoiceIDEnv)
}

func (c *Credentials) lookup(envKey string) (string, error) {
	if envKey == "" {
		return "", fmt.Errorf("%w: no variable configured", ErrMissing)
	}
	value := strings.TrimSpace(c.values[envKey])
	if value == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrMissing, envKey)
	}
	return value, nil
}
