package player

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/loqalabs/narrator/internal/archive"
	"github.com/loqalabs/narrator/internal/config"
	"github.com/mattn/go-shellwords"
)

const execWaitDelay = 2 * time.Second

// Player blocks until the artifact has been played or ctx is done.
type Player interface {
	Play(ctx context.Context, art archive.Artifact) error
}

// New builds the player selected by cfg.Mode.
func New(cfg config.PlayerConfig, logger *slog.Logger) (Player, error) {
	switch cfg.Mode {
	case "none", "":
		return &nopPlayer{logger: logger.With(slog.String("component", "player"))}, nil
	case "exec":
		return NewExecPlayer(cfg.Command)
	case "portaudio":
		return newPortAudioPlayer()
	default:
		return nil, fmt.Errorf("unsupported player mode %q", cfg.Mode)
	}
}

type nopPlayer struct {
	logger *slog.Logger
}

func (p *nopPlayer) Play(ctx context.Context, art archive.Artifact) error {
	p.logger.Debug("playback disabled", slog.String("path", art.Path), slog.Int("bytes", art.Size))
	return ctx.Err()
}

type execPlayer struct {
	cmd []string
}

// NewExecPlayer runs command with the artifact path appended as the last
// argument.
func NewExecPlayer(command string) (Player, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return &execPlayer{cmd: args}, nil
}

func (p *execPlayer) Play(ctx context.Context, art archive.Artifact) error {
	args := append(append([]string{}, p.cmd[1:]...), art.Path)
	cmd := exec.CommandContext(ctx, p.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = execWaitDelay
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player command: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
