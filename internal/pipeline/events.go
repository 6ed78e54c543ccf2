package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/narrator/internal/archive"
	"github.com/loqalabs/narrator/internal/llm"
	"github.com/loqalabs/narrator/internal/tts"
)

type Stage string

const (
	StageIteration  Stage = "iteration"
	StageReadFrame  Stage = "read_frame"
	StageAnalyze    Stage = "analyze"
	StageSynthesize Stage = "synthesize"
	StagePersist    Stage = "persist"
	StagePlay       Stage = "play"
	StageAppend     Stage = "append"
)

const (
	KindOK          = "ok"
	KindRateLimited = "rate_limited"
	KindTimeout     = "timeout"
	KindCanceled    = "canceled"
	KindFailure     = "failure"
)

// Event is emitted once per finished stage. Commentary is set on analyze and
// append events, Artifact on persist and play events.
type Event struct {
	Iteration  int
	Stage      Stage
	Kind       string
	Duration   time.Duration
	Err        error
	Commentary string
	Artifact   *archive.Artifact
	Turns      int
	At         time.Time
}

// Sink receives coordinator events. Implementations must not block for long;
// the coordinator calls them inline.
type Sink interface {
	Record(ctx context.Context, evt Event)
}

type SinkFunc func(ctx context.Context, evt Event)

func (f SinkFunc) Record(ctx context.Context, evt Event) { f(ctx, evt) }

type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, evt Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, evt)
		}
	}
}

type nopSink struct{}

func (nopSink) Record(context.Context, Event) {}

// ErrorKind classifies err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, tts.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindFailure
	}
}
