package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/vidscribe/internal/bus"
	"github.com/loqalabs/vidscribe/internal/config"
	"github.com/loqalabs/vidscribe/internal/eventstore"
	"github.com/loqalabs/vidscribe/internal/media"
	"github.com/loqalabs/vidscribe/internal/natsserver"
	"github.com/loqalabs/vidscribe/internal/pipeline"
	"github.com/loqalabs/vidscribe/internal/stt"
	"github.com/loqalabs/vidscribe/internal/telemetry"
	"github.com/loqalabs/vidscribe/internal/transcribe"
)

// Runtime owns the process-wide collaborators of a command: telemetry,
// run history and the optional transcript bus.
type Runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
	store     *eventstore.Store
	embedded  *natsserver.EmbeddedServer
	bus       *bus.Client
	publisher *bus.Publisher
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start sets up telemetry, opens the event store and connects the bus
// when enabled. Call Shutdown even when Start fails.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := telemetry.Setup(ctx, r.cfg.Telemetry, r.cfg.Environment, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		r.embedded = embedded
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
		r.bus = client
		r.publisher = bus.NewPublisher(client, busCfg.SubjectPrefix, r.logger)
	}

	r.logger.Debug("runtime started",
		slog.Bool("event_store", store.Persistent()),
		slog.Bool("bus", r.bus != nil),
		slog.Bool("bus_connected", r.bus.Healthy()),
		slog.String("metrics_addr", tel.MetricsAddr()))
	return nil
}

func (r *Runtime) Config() config.Config {
	return r.cfg
}

func (r *Runtime) Store() *eventstore.Store {
	return r.store
}

func (r *Runtime) Metrics() *telemetry.Metrics {
	return r.telemetry.Metrics()
}

// Backend builds the configured recognition backend.
func (r *Runtime) Backend() (stt.Backend, error) {
	return stt.NewBackend(r.cfg.STT)
}

func (r *Runtime) Extractor() *media.Extractor {
	return media.NewExtractor(r.cfg.Media, r.logger)
}

func (r *Runtime) Transcriber() (*transcribe.Transcriber, error) {
	backend, err := r.Backend()
	if err != nil {
		return nil, err
	}
	return transcribe.New(backend, transcribe.Options{
		ChunkFrames: r.cfg.STT.ChunkFrames,
		Metrics:     r.Metrics(),
		Logger:      r.logger,
	}), nil
}

func (r *Runtime) Pipeline() (*pipeline.Pipeline, error) {
	backend, err := r.Backend()
	if err != nil {
		return nil, err
	}
	return pipeline.New(r.cfg, pipeline.Deps{
		Backend:   backend,
		Store:     r.store,
		Publisher: r.publisher,
		Metrics:   r.Metrics(),
		Logger:    r.logger,
	}), nil
}

// Shutdown flushes and releases everything Start acquired.
func (r *Runtime) Shutdown(ctx context.Context) {
	if r.bus != nil {
		if !r.bus.Healthy() {
			r.logger.Warn("bus disconnected; pending messages may be dropped")
		} else if err := r.bus.Flush(ctx); err != nil {
			r.logger.Warn("bus flush failed", slog.String("error", err.Error()))
		}
		r.bus.Close()
	}
	r.embedded.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
