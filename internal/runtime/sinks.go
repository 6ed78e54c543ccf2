package runtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/narrator/internal/archive"
	"github.com/loqalabs/narrator/internal/bus"
	"github.com/loqalabs/narrator/internal/eventstore"
	"github.com/loqalabs/narrator/internal/pipeline"
	"github.com/loqalabs/narrator/internal/protocol"
)

type eventPayload struct {
	Commentary string            `json:"commentary,omitempty"`
	Artifact   *archive.Artifact `json:"artifact,omitempty"`
	Turns      int               `json:"turns,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// storeSink records every coordinator event in the event store.
type storeSink struct {
	store  *eventstore.Store
	runID  string
	logger *slog.Logger
}

func (s *storeSink) Record(ctx context.Context, evt pipeline.Event) {
	payload := eventPayload{Commentary: evt.Commentary, Artifact: evt.Artifact, Turns: evt.Turns}
	if evt.Err != nil {
		payload.Error = evt.Err.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to encode event payload", slogError(err))
		return
	}
	err = s.store.AppendEvent(ctx, eventstore.Event{
		RunID:      s.runID,
		Iteration:  evt.Iteration,
		Stage:      string(evt.Stage),
		Kind:       evt.Kind,
		DurationMS: evt.Duration.Milliseconds(),
		Payload:    data,
		CreatedAt:  evt.At,
	})
	if err != nil {
		s.logger.Warn("failed to record event", slog.String("stage", string(evt.Stage)), slogError(err))
	}
}

// busSink publishes appended commentary and persisted artifacts.
type busSink struct {
	client *bus.Client
	runID  string
	logger *slog.Logger
}

func (s *busSink) Record(_ context.Context, evt pipeline.Event) {
	if evt.Err != nil {
		return
	}
	var err error
	switch {
	case evt.Stage == pipeline.StageAppend:
		err = s.client.PublishJSON(protocol.SubjectCommentary, protocol.Commentary{
			RunID:     s.runID,
			Iteration: evt.Iteration,
			Text:      evt.Commentary,
			Turns:     evt.Turns,
			Timestamp: evt.At,
		})
	case evt.Stage == pipeline.StagePersist && evt.Artifact != nil:
		err = s.client.PublishJSON(protocol.SubjectArtifact, protocol.Artifact{
			RunID:     s.runID,
			Iteration: evt.Iteration,
			ID:        evt.Artifact.ID,
			Path:      evt.Artifact.Path,
			Size:      evt.Artifact.Size,
			Text:      evt.Commentary,
			Timestamp: evt.At,
		})
	default:
		return
	}
	if err != nil {
		s.logger.Warn("failed to publish event", slog.String("stage", string(evt.Stage)), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
