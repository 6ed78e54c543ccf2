package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/narrator/internal/bus"
	"github.com/loqalabs/narrator/internal/config"
	"github.com/loqalabs/narrator/internal/pipeline"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/metric"
)

const (
	SubjectAnnounce        = "narration.presence.announce"
	SubjectHeartbeatPrefix = "narration.presence.heartbeat"
)

// Status is what a narrator reports about its loop.
type Status struct {
	Iterations     int       `json:"iterations"`
	Skipped        int       `json:"skipped"`
	Turns          int       `json:"turns"`
	LastCommentary time.Time `json:"last_commentary,omitempty"`
}

// Narrator is one known loop on the bus, including this process.
type Narrator struct {
	RunID    string    `json:"run_id"`
	Name     string    `json:"name"`
	Persona  string    `json:"persona,omitempty"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

type announceMessage struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Persona   string    `json:"persona,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	RunID     string    `json:"run_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry announces this narrator, heartbeats its loop status and tracks
// the other narrators seen on the bus. It also acts as a pipeline.Sink so the
// heartbeat reflects the latest iteration.
type Registry struct {
	self     announceMessage
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	bus      *bus.Client
	clock    func() time.Time

	mu        sync.RWMutex
	status    Status
	narrators map[string]*Narrator
	subs      []*nats.Subscription
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRegistry(ctx context.Context, cfg config.BusConfig, runID, name, persona string, busClient *bus.Client, meter metric.Meter, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		self:      announceMessage{RunID: runID, Name: name, Persona: persona},
		interval:  time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond,
		timeout:   time.Duration(cfg.HeartbeatTimeoutMS) * time.Millisecond,
		log:       log.With(slog.String("component", "presence")),
		bus:       busClient,
		clock:     time.Now,
		narrators: make(map[string]*Narrator),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if meter != nil {
		if err := r.initMetrics(meter); err != nil {
			r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		}
	}

	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce narrator", slog.String("error", err.Error()))
	}

	go r.run(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	<-r.done
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

// Record folds coordinator events into the heartbeat status.
func (r *Registry) Record(_ context.Context, evt pipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch evt.Stage {
	case pipeline.StageIteration:
		if evt.Err != nil {
			r.status.Skipped++
		} else {
			r.status.Iterations++
		}
	case pipeline.StageAppend:
		if evt.Err == nil {
			r.status.Turns = evt.Turns
			r.status.LastCommentary = evt.At
		}
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(SubjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(SubjectHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)
	heartbeat := time.NewTicker(r.interval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := r.self
	msg.Timestamp = r.clock().UTC()
	if err := r.bus.PublishJSON(SubjectAnnounce, msg); err != nil {
		return err
	}
	r.updateNarrator(msg.RunID, msg.Name, msg.Persona, nil, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	r.mu.RLock()
	status := r.status
	r.mu.RUnlock()
	msg := heartbeatMessage{RunID: r.self.RunID, Status: status, Timestamp: r.clock().UTC()}
	return r.bus.PublishJSON(SubjectHeartbeatPrefix+"."+r.self.RunID, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.clock().UTC()
	}
	r.updateNarrator(announcement.RunID, announcement.Name, announcement.Persona, nil, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.updateNarrator(hb.RunID, "", "", &hb.Status, hb.Timestamp)
}

func (r *Registry) updateNarrator(runID, name, persona string, status *Status, seen time.Time) {
	if runID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.narrators[runID]
	if !ok {
		n = &Narrator{RunID: runID}
		r.narrators[runID] = n
	}
	if name != "" {
		n.Name = name
	}
	if persona != "" {
		n.Persona = persona
	}
	if status != nil {
		n.Status = *status
	}
	n.LastSeen = seen
	n.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	for _, n := range r.narrators {
		if now.Sub(n.LastSeen) > r.timeout {
			n.Healthy = false
		}
	}
}

// Healthy reports whether this narrator's own heartbeat is current.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.narrators[r.self.RunID]
	return ok && n.Healthy
}

// Narrators returns a copy of every known narrator.
func (r *Registry) Narrators() []Narrator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Narrator, 0, len(r.narrators))
	for _, n := range r.narrators {
		out = append(out, *n)
	}
	return out
}

func (r *Registry) initMetrics(meter metric.Meter) error {
	gauge, err := meter.Int64ObservableGauge("narrator.presence.narrators",
		metric.WithDescription("Healthy narrators seen on the bus"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var healthy int64
		for _, n := range r.narrators {
			if n.Healthy {
				healthy++
			}
		}
		obs.ObserveInt64(gauge, healthy)
		return nil
	}, gauge)
	return err
}
