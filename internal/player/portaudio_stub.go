//go:build !portaudio

package player

import "errors"

func newPortAudioPlayer() (Player, error) {
	return nil, errors.New("portaudio playback requires building with -tags portaudio")
}
