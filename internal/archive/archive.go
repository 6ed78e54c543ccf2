package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Artifact is one persisted utterance under <root>/<id>/<filename>.
type Artifact struct {
	ID        string    `json:"id"`
	Dir       string    `json:"dir"`
	Path      string    `json:"path"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Archiver struct {
	root     string
	filename string
	newID    func() string
	clock    func() time.Time
}

func NewArchiver(root, filename string) *Archiver {
	return &Archiver{
		root:     root,
		filename: filename,
		newID:    uuid.NewString,
		clock:    time.Now,
	}
}

func (a *Archiver) Root() string { return a.root }

// Persist writes audio into a fresh directory and syncs it to disk before
// returning, so the file is complete by the time playback opens it.
func (a *Archiver) Persist(ctx context.Context, audio []byte) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	id := a.newID()
	dir := filepath.Join(a.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}

	path := filepath.Join(dir, a.filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Artifact{}, fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return Artifact{}, fmt.Errorf("sync artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close artifact: %w", err)
	}

	return Artifact{
		ID:        id,
		Dir:       dir,
		Path:      path,
		Size:      len(audio),
		CreatedAt: a.clock().UTC(),
	}, nil
}
