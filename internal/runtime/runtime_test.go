package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/narrator/internal/archive"
	"github.com/loqalabs/narrator/internal/config"
	"github.com/loqalabs/narrator/internal/credentials"
	"github.com/loqalabs/narrator/internal/eventstore"
	"github.com/loqalabs/narrator/internal/pipeline"
	"github.com/loqalabs/narrator/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.jpg")
	if err := os.WriteFile(framePath, []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}, 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	cfg.Credentials.EnvFile = filepath.Join(dir, "missing.env")
	cfg.EventStore.Path = filepath.Join(dir, "events.db")
	cfg.Frame.Path = framePath
	cfg.Vision.MockText = "A cat sits majestically."
	cfg.Archive.Root = filepath.Join(dir, "narration")
	cfg.Pipeline.IntervalMS = 10
	cfg.Pipeline.MaxIterations = 2
	return cfg
}

func TestStartRunsMockPipeline(t *testing.T) {
	cfg := testConfig(t)
	rt := New(cfg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	dirs, err := os.ReadDir(cfg.Archive.Root)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(dirs))
	}

	store, err := eventstore.Open(context.Background(), cfg.EventStore, testLogger())
	if err != nil {
		t.Fatalf("reopen event store: %v", err)
	}
	defer store.Close()
	events, err := store.ListRunEvents(context.Background(), rt.RunID(), 100)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	appends := 0
	for _, e := range events {
		if e.Stage == string(pipeline.StageAppend) && e.Kind == pipeline.KindOK {
			appends++
		}
	}
	if appends != 2 {
		t.Fatalf("expected 2 append events, got %d of %d", appends, len(events))
	}
}

func TestStartFailsFastOnMissingCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vision.Mode = "openai"
	t.Setenv("OPENAI_API_KEY", "")

	err := New(cfg, testLogger()).Start(context.Background())
	if !errors.Is(err, credentials.ErrMissing) {
		t.Fatalf("expected missing credential error, got %v", err)
	}
	if _, statErr := os.Stat(cfg.EventStore.Path); !os.IsNotExist(statErr) {
		t.Fatal("event store should not be created before credentials are verified")
	}
}

func TestLoadSecretsSkipsMockBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Credentials.EnvFile = ""
	sec, err := loadSecrets(cfg, testLogger())
	if err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	if sec != (secrets{}) {
		t.Fatalf("expected no secrets, got %+v", sec)
	}
}

func TestLoadSecretsSpeech(t *testing.T) {
	cfg := config.Default()
	cfg.Credentials.EnvFile = ""
	cfg.Speech.Mode = "elevenlabs"
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")
	t.Setenv("ELEVENLABS_VOICE_ID", "")
	if _, err := loadSecrets(cfg, testLogger()); !errors.Is(err, credentials.ErrMissing) {
		t.Fatalf("expected missing voice id, got %v", err)
	}

	t.Setenv("ELEVENLABS_VOICE_ID", "voice-1")
	sec, err := loadSecrets(cfg, testLogger())
	if err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	if sec.speechKey != "xi-key" || sec.voiceID != "voice-1" {
		t.Fatalf("unexpected secrets %+v", sec)
	}
}

func TestBuildPipelineWithoutSpeech(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speech.Enabled = false
	deps, opts, err := buildPipeline(cfg, secrets{}, transcript.NewMemoryStore(0), testLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if deps.Synth != nil || deps.Player != nil {
		t.Fatal("expected speech components to be omitted")
	}
	if opts.Interval != 10*time.Millisecond || opts.MaxTokens != 500 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestHTTPHandlers(t *testing.T) {
	rt := New(config.Default(), testLogger())
	store := transcript.NewMemoryStore(0)
	_ = store.Append(context.Background(), transcript.Entry{Role: transcript.RoleAssistant, Content: "hello"})
	rt.transcript = store
	srv := httptest.NewServer(rt.newHTTPServer(nil).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready, got %d", resp.StatusCode)
	}
	rt.ready.Store(true)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/transcript")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	defer resp.Body.Close()
	var entries []transcript.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "hello" {
		t.Fatalf("unexpected transcript %+v", entries)
	}
}

func TestStoreSinkRecordsPayload(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	store, err := eventstore.Open(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.AppendRun(context.Background(), "run-1", "test"); err != nil {
		t.Fatalf("append run: %v", err)
	}

	sink := &storeSink{store: store, runID: "run-1", logger: testLogger()}
	sink.Record(context.Background(), pipeline.Event{
		Iteration: 3,
		Stage:     pipeline.StagePersist,
		Kind:      pipeline.KindOK,
		Artifact:  &archive.Artifact{ID: "abc", Size: 4},
		At:        time.Now(),
	})
	events, err := store.ListRunEvents(context.Background(), "run-1", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one event, got %v %v", events, err)
	}
	var payload eventPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Artifact == nil || payload.Artifact.ID != "abc" || events[0].Iteration != 3 {
		t.Fatalf("unexpected event %+v / %+v", events[0], payload)
	}
}

func TestStartWithEmbeddedBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = t.TempDir()
	cfg.Bus.HeartbeatIntervalMS = 20
	cfg.Bus.HeartbeatTimeoutMS = 200
	cfg.Speech.Enabled = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt := New(cfg, testLogger())
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := os.Stat(cfg.Archive.Root); !os.IsNotExist(err) {
		t.Fatal("expected no artifacts with speech disabled")
	}
}
