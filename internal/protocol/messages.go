package protocol

import "time"

// Commentary is published after each transcript append.
type Commentary struct {
	RunID     string    `json:"run_id"`
	Iteration int       `json:"iteration"`
	Text      string    `json:"text"`
	Turns     int       `json:"turns"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is published after each persisted audio file.
type Artifact struct {
	RunID     string    `json:"run_id"`
	Iteration int       `json:"iteration"`
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Size      int       `json:"size"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectCommentary = "narration.commentary"
	SubjectArtifact   = "narration.artifact"
)
