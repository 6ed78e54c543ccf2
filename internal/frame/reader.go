package frame

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/loqalabs/narrator/internal/config"
)

// ErrFrameBusy is returned when the frame stayed locked past the retry ceiling.
var ErrFrameBusy = errors.New("frame file busy")

// Payload is one frame read from disk, base64 encoded for transmission.
type Payload struct {
	Data     string
	MIMEType string
	Size     int
	Retries  int
	ReadAt   time.Time
}

// Decode returns the raw frame bytes.
func (p Payload) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// DataURL renders the payload as a data: URL.
func (p Payload) DataURL() string {
	return "data:" + p.MIMEType + ";base64," + p.Data
}

type Reader struct {
	path       string
	mimeType   string
	backoff    time.Duration
	maxRetries int
	readFile   func(string) ([]byte, error)
	clock      func() time.Time
	logger     *slog.Logger
}

type Option func(*Reader)

// WithReadFunc replaces os.ReadFile.
func WithReadFunc(fn func(string) ([]byte, error)) Option {
	return func(r *Reader) { r.readFile = fn }
}

func NewReader(cfg config.FrameConfig, logger *slog.Logger, opts ...Option) *Reader {
	r := &Reader{
		path:       cfg.Path,
		mimeType:   cfg.MIMEType,
		backoff:    time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		maxRetries: cfg.MaxRetries,
		readFile:   os.ReadFile,
		clock:      time.Now,
		logger:     logger.With(slog.String("component", "frame-reader")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadFrame reads the whole frame file. While the capture process holds the
// file the read is retried with a constant backoff; any other failure is
// returned on the first attempt.
func (r *Reader) ReadFrame(ctx context.Context) (Payload, error) {
	retries := 0
	operation := func() ([]byte, error) {
		data, err := r.readFile(r.path)
		if err == nil {
			return data, nil
		}
		if isContention(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(r.backoff)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			retries++
			r.logger.Debug("frame locked, retrying",
				slog.Int("attempt", retries),
				slog.Duration("backoff", wait),
				slogError(err))
		}),
	}
	if r.maxRetries > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(r.maxRetries)+1))
	}

	data, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if isContention(err) {
			return Payload{}, fmt.Errorf("%w after %d retries: %w", ErrFrameBusy, retries, err)
		}
		return Payload{}, fmt.Errorf("read frame %s: %w", r.path, err)
	}

	mimeType := r.mimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return Payload{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mimeType,
		Size:     len(data),
		Retries:  retries,
		ReadAt:   r.clock(),
	}, nil
}

// isContention reports whether err means another process is still writing
// the frame.
func isContention(err error) bool {
	return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EBUSY)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
