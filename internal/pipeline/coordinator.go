package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/narrator/internal/archive"
	"github.com/loqalabs/narrator/internal/frame"
	"github.com/loqalabs/narrator/internal/llm"
	"github.com/loqalabs/narrator/internal/player"
	"github.com/loqalabs/narrator/internal/transcript"
	"github.com/loqalabs/narrator/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type FrameSource interface {
	ReadFrame(ctx context.Context) (frame.Payload, error)
}

type Archiver interface {
	Persist(ctx context.Context, audio []byte) (archive.Artifact, error)
}

// Deps are the collaborators of one coordinator. A nil Synth disables speech;
// a nil Sink discards events.
type Deps struct {
	Frames     FrameSource
	Analyzer   llm.Analyzer
	Synth      tts.Synthesizer
	Archiver   Archiver
	Player     player.Player
	Transcript transcript.Store
	Sink       Sink
}

type Options struct {
	System        string
	Voice         string
	Model         string
	MaxTokens     int
	Temperature   float64
	Interval      time.Duration
	VisionTimeout time.Duration
	SpeechTimeout time.Duration
	FailFast      bool
	MaxIterations int
}

// Result summarizes one completed iteration. SpeechErr is set when the
// commentary was appended without audio.
type Result struct {
	Iteration  int
	Commentary string
	Artifact   *archive.Artifact
	SpeechErr  error
	Turns      int
	Duration   time.Duration
}

type Coordinator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Coordinator, error) {
	switch {
	case deps.Frames == nil:
		return nil, errors.New("pipeline: frame source required")
	case deps.Analyzer == nil:
		return nil, errors.New("pipeline: analyzer required")
	case deps.Transcript == nil:
		return nil, errors.New("pipeline: transcript store required")
	case deps.Synth != nil && (deps.Archiver == nil || deps.Player == nil):
		return nil, errors.New("pipeline: speech requires an archiver and a player")
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	return &Coordinator{
		deps:   deps,
		opts:   opts,
		logger: logger.With(slog.String("component", "coordinator")),
		tracer: otel.Tracer("github.com/loqalabs/narrator/internal/pipeline"),
		clock:  time.Now,
		sleep:  sleepContext,
	}, nil
}

// Run executes iterations back to back, pausing Interval after each append,
// until ctx is done or MaxIterations have run. Cancellation is not an error.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("narration loop starting",
		slog.Duration("interval", c.opts.Interval),
		slog.Bool("fail_fast", c.opts.FailFast),
		slog.Bool("speech", c.deps.Synth != nil))

	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return nil
		}
		res, err := c.RunOnce(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.opts.FailFast {
				return fmt.Errorf("iteration %d: %w", n, err)
			}
			c.logger.Warn("iteration skipped",
				slog.Int("iteration", n),
				slog.String("error_kind", ErrorKind(err)),
				slogError(err))
		} else {
			c.logger.Info("iteration complete",
				slog.Int("iteration", n),
				slog.Int("turns", res.Turns),
				slog.Bool("spoken", res.Artifact != nil),
				slog.Duration("duration", res.Duration))
		}

		if c.opts.MaxIterations > 0 && n >= c.opts.MaxIterations {
			c.logger.Info("iteration limit reached", slog.Int("iterations", n))
			return nil
		}
		if err := c.sleep(ctx, c.opts.Interval); err != nil {
			return nil
		}
	}
}

// RunOnce performs a single read, analyze, speak, append cycle. Speech
// failures are logged and reported in Result; every other failure aborts the
// iteration before anything is appended.
func (c *Coordinator) RunOnce(ctx context.Context, n int) (Result, error) {
	start := c.clock()
	ctx, span := c.tracer.Start(ctx, "narration.iteration", trace.WithAttributes(attribute.Int("iteration", n)))
	defer span.End()

	res, err := c.iterate(ctx, n)
	res.Iteration = n
	res.Duration = c.clock().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.emit(ctx, Event{Iteration: n, Stage: StageIteration, Kind: ErrorKind(err), Duration: res.Duration, Err: err, Turns: res.Turns})
	return res, err
}

func (c *Coordinator) iterate(ctx context.Context, n int) (Result, error) {
	var res Result

	var payload frame.Payload
	err := c.stage(ctx, n, StageReadFrame, 0, func(ctx context.Context) (Event, error) {
		var err error
		payload, err = c.deps.Frames.ReadFrame(ctx)
		return Event{}, err
	})
	if err != nil {
		return res, fmt.Errorf("read frame: %w", err)
	}
	c.logger.Debug("frame read",
		slog.Int("iteration", n),
		slog.Int("bytes", payload.Size),
		slog.Int("retries", payload.Retries))

	var commentary string
	err = c.stage(ctx, n, StageAnalyze, c.opts.VisionTimeout, func(ctx context.Context) (Event, error) {
		history, err := c.deps.Transcript.Snapshot(ctx)
		if err != nil {
			return Event{}, fmt.Errorf("transcript snapshot: %w", err)
		}
		resp, err := c.deps.Analyzer.Analyze(ctx, llm.Request{
			Messages:    transcript.Outbound(c.opts.System, history, payload),
			Model:       c.opts.Model,
			MaxTokens:   c.opts.MaxTokens,
			Temperature: c.opts.Temperature,
		})
		if err != nil {
			return Event{}, err
		}
		commentary = resp.Text
		return Event{Commentary: resp.Text}, nil
	})
	if err != nil {
		return res, fmt.Errorf("analyze: %w", err)
	}
	res.Commentary = commentary
	c.logger.Info("commentary", slog.Int("iteration", n), slog.String("text", commentary))

	if c.deps.Synth != nil {
		art, err := c.speak(ctx, n, commentary)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.SpeechErr = err
			c.logger.Warn("speech failed, continuing without audio",
				slog.Int("iteration", n),
				slog.String("error_kind", ErrorKind(err)),
				slogError(err))
		}
		res.Artifact = art
	}

	err = c.stage(ctx, n, StageAppend, 0, func(ctx context.Context) (Event, error) {
		if err := c.deps.Transcript.Append(ctx, transcript.Entry{Role: transcript.RoleAssistant, Content: commentary}); err != nil {
			return Event{}, err
		}
		turns, err := c.deps.Transcript.Len(ctx)
		if err != nil {
			return Event{}, err
		}
		res.Turns = turns
		return Event{Commentary: commentary, Turns: turns}, nil
	})
	if err != nil {
		return res, fmt.Errorf("append transcript: %w", err)
	}
	return res, nil
}

type speakResult struct {
	artifact *archive.Artifact
	err      error
}

// speak runs synthesis, archival and playback on a worker goroutine. When
// ctx ends first it still waits for the worker, which observes the same ctx,
// so no stage event is emitted after the coordinator has returned.
func (c *Coordinator) speak(ctx context.Context, n int, text string) (*archive.Artifact, error) {
	done := make(chan speakResult, 1)
	go func() {
		art, err := c.synthesizeAndPlay(ctx, n, text)
		done <- speakResult{artifact: art, err: err}
	}()
	select {
	case r := <-done:
		return r.artifact, r.err
	case <-ctx.Done():
		<-done
		return nil, ctx.Err()
	}
}

func (c *Coordinator) synthesizeAndPlay(ctx context.Context, n int, text string) (*archive.Artifact, error) {
	var audio []byte
	err := c.stage(ctx, n, StageSynthesize, c.opts.SpeechTimeout, func(ctx context.Context) (Event, error) {
		var err error
		audio, err = c.deps.Synth.Synthesize(ctx, tts.SynthRequest{Text: text, Voice: c.opts.Voice})
		return Event{}, err
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	var art archive.Artifact
	err = c.stage(ctx, n, StagePersist, 0, func(ctx context.Context) (Event, error) {
		var err error
		art, err = c.deps.Archiver.Persist(ctx, audio)
		if err != nil {
			return Event{}, err
		}
		return Event{Artifact: &art, Commentary: text}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist audio: %w", err)
	}

	err = c.stage(ctx, n, StagePlay, 0, func(ctx context.Context) (Event, error) {
		return Event{Artifact: &art}, c.deps.Player.Play(ctx, art)
	})
	if err != nil {
		return &art, fmt.Errorf("play audio: %w", err)
	}
	return &art, nil
}

// stage runs fn under its own span and optional timeout, then emits the
// stage event returned by fn with timing and outcome filled in.
func (c *Coordinator) stage(ctx context.Context, n int, stage Stage, timeout time.Duration, fn func(ctx context.Context) (Event, error)) error {
	ctx, span := c.tracer.Start(ctx, "narration."+string(stage))
	defer span.End()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := c.clock()
	evt, err := fn(ctx)
	evt.Iteration = n
	evt.Stage = stage
	evt.Kind = ErrorKind(err)
	evt.Duration = c.clock().Sub(start)
	evt.Err = err
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.logger.Info("stage finished",
		slog.Int("iteration", n),
		slog.String("stage", string(stage)),
		slog.String("kind", evt.Kind),
		slog.Duration("duration", evt.Duration))
	c.emit(ctx, evt)
	return err
}

func (c *Coordinator) emit(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = c.clock().UTC()
	}
	c.deps.Sink.Record(context.WithoutCancel(ctx), evt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
