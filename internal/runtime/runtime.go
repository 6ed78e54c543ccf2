package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/narrator/internal/bus"
	"github.com/loqalabs/narrator/internal/config"
	"github.com/loqalabs/narrator/internal/eventstore"
	"github.com/loqalabs/narrator/internal/natsserver"
	"github.com/loqalabs/narrator/internal/pipeline"
	"github.com/loqalabs/narrator/internal/presence"
	"github.com/loqalabs/narrator/internal/transcript"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	runID      string
	ready      atomic.Bool
	transcript transcript.Store
	bus        *bus.Client
	presence   *presence.Registry
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		runID:  uuid.NewString(),
	}
}

func (r *Runtime) RunID() string { return r.runID }

// Start builds every component, runs the narration loop and blocks until the
// loop ends or ctx is cancelled. Missing credentials abort before anything
// else is started.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	secrets, err := loadSecrets(r.cfg, r.logger)
	if err != nil {
		return err
	}

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer r.shutdownTelemetry(tel)

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	if err := store.AppendRun(ctx, r.runID, r.cfg.RuntimeName); err != nil {
		r.logger.Warn("failed to record run", slogError(err))
	}

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
		if err != nil {
			return err
		}
		defer r.bus.Close()
	}

	r.transcript, err = transcript.Open(ctx, r.cfg.Transcript)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer r.transcript.Close()

	metricsSink, err := pipeline.NewMetricsSink(tel.meterProvider.Meter("github.com/loqalabs/narrator/internal/pipeline"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	sinks := pipeline.MultiSink{
		metricsSink,
		&storeSink{store: store, runID: r.runID, logger: r.logger.With(slog.String("component", "event-sink"))},
	}
	if r.bus != nil {
		sinks = append(sinks, &busSink{client: r.bus, runID: r.runID, logger: r.logger.With(slog.String("component", "bus-sink"))})
		r.presence, err = presence.NewRegistry(ctx, r.cfg.Bus, r.runID, r.cfg.RuntimeName, r.cfg.Vision.Persona, r.bus,
			tel.meterProvider.Meter("github.com/loqalabs/narrator/internal/presence"), r.logger)
		if err != nil {
			return fmt.Errorf("start presence: %w", err)
		}
		defer r.presence.Close()
		sinks = append(sinks, r.presence)
	}

	deps, opts, err := buildPipeline(r.cfg, secrets, r.transcript, r.logger)
	if err != nil {
		return err
	}
	deps.Sink = sinks
	coordinator, err := pipeline.New(deps, opts, r.logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var httpServer *http.Server
	if r.cfg.HTTP.Enabled {
		httpServer = r.newHTTPServer(tel.metricsHandler)
		listener, err := net.Listen("tcp", httpServer.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", httpServer.Addr, err)
		}
		g.Go(func() error {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			return httpServer.Shutdown(shutdownCtx)
		})
		r.logger.Info("http server listening", slog.String("addr", httpServer.Addr))
	}

	g.Go(func() error {
		defer cancel()
		return coordinator.Run(gctx)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("run_id", r.runID))

	err = g.Wait()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return err
}

func (r *Runtime) shutdownTelemetry(tel *telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tel.shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slogError(err))
	}
}

func (r *Runtime) newHTTPServer(metrics http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/transcript", r.handleTranscript)
	mux.HandleFunc("/narrators", r.handleNarrators)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return &http.Server{
		Addr:              net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (!r.cfg.Bus.Enabled || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleTranscript(w http.ResponseWriter, req *http.Request) {
	if r.transcript == nil {
		http.Error(w, "transcript unavailable", http.StatusServiceUnavailable)
		return
	}
	entries, err := r.transcript.Snapshot(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (r *Runtime) handleNarrators(w http.ResponseWriter, _ *http.Request) {
	narrators := []presence.Narrator{}
	if r.presence != nil {
		narrators = r.presence.Narrators()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(narrators)
}
