package tts

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimited  = errors.New("speech rate limited")
	ErrEmptyText    = errors.New("text cannot be empty")
	ErrInvalidVoice = errors.New("invalid or unknown voice")
	ErrEmptyAudio   = errors.New("speech service returned no audio")
)

// SynthesisError is a failed synthesis call with provider details.
type SynthesisError struct {
	Provider string
	Status   int
	Message  string
	Cause    error
}

func (e *SynthesisError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() error { return e.Cause }
