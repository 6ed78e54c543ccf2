//go:build portaudio

package player

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/narrator/internal/archive"
)

const framesPerBuffer = 1024

type portAudioPlayer struct {
	mu sync.Mutex
}

func newPortAudioPlayer() (Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &portAudioPlayer{}, nil
}

// Play decodes a 16-bit WAV artifact and writes it to the default output device.
func (p *portAudioPlayer) Play(ctx context.Context, art archive.Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.Open(art.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("%s is not a wav file", art.Path)
	}
	if dec.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d", dec.BitDepth)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	out := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(dec.SampleRate), framesPerBuffer, &out)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer stream.Stop()

	samples := pcm.Data
	for offset := 0; offset < len(samples); offset += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range out {
			if offset+i < len(samples) {
				out[i] = int16(samples[offset+i])
			} else {
				out[i] = 0
			}
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}
