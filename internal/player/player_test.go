package player

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/narrator/internal/archive"
	"github.com/loqalabs/narrator/internal/config"
)

func TestExecPlayerAppendsPath(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "played.txt")
	script := filepath.Join(dir, "play.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho \"$1 $2\" > \""+out+"\"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	p, err := NewExecPlayer("sh " + script + " --quiet")
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	if err := p.Play(context.Background(), archive.Artifact{Path: "/narration/abc/audio.wav"}); err != nil {
		t.Fatalf("play: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "--quiet /narration/abc/audio.wav\n" {
		t.Fatalf("unexpected args %q", data)
	}
}

func TestExecPlayerFailure(t *testing.T) {
	p, err := NewExecPlayer("sh -c 'exit 3'")
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	if err := p.Play(context.Background(), archive.Artifact{Path: "x.wav"}); err == nil {
		t.Fatal("expected failure from non-zero exit")
	}
}

func TestExecPlayerHonoursContext(t *testing.T) {
	p, err := NewExecPlayer("sleep 5")
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := p.Play(ctx, archive.Artifact{Path: "1"}); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("player did not stop on cancel")
	}
}

func TestExecPlayerDoesNotWaitForLingeringChild(t *testing.T) {
	p, err := NewExecPlayer("sh -c 'sleep 30 & sleep 30' player")
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := p.Play(ctx, archive.Artifact{Path: "1"}); err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("player held by child process for %s", elapsed)
	}
}

func TestNewModes(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	p, err := New(config.PlayerConfig{Mode: "none"}, logger)
	if err != nil {
		t.Fatalf("none player: %v", err)
	}
	if err := p.Play(context.Background(), archive.Artifact{Path: "x"}); err != nil {
		t.Fatalf("none play: %v", err)
	}
	if _, err := New(config.PlayerConfig{Mode: "exec"}, logger); err == nil {
		t.Fatal("expected error for empty exec command")
	}
	if _, err := New(config.PlayerConfig{Mode: "speaker"}, logger); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
