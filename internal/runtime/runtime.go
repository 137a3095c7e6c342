package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-relay/internal/bus"
	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/eventstore"
	"github.com/loqalabs/loqa-relay/internal/llm"
	"github.com/loqalabs/loqa-relay/internal/natsserver"
	"github.com/loqalabs/loqa-relay/internal/pipeline"
	"github.com/loqalabs/loqa-relay/internal/server"
	"github.com/loqalabs/loqa-relay/internal/stt"
	"github.com/loqalabs/loqa-relay/internal/tts"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	started    time.Time
	telemetry  *telemetry
	store      *eventstore.Store
	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	recognizer stt.Recognizer
	api        *server.Server
	admin      *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start builds every component, serves until ctx is done or a listener
// fails, then shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.started = time.Now()
	if err := r.build(ctx); err != nil {
		r.release(context.Background())
		return err
	}

	listenErr := make(chan error, 2)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.api.Listen(); err != nil {
			listenErr <- fmt.Errorf("public api: %w", err)
		}
	}()
	if r.admin != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				listenErr <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.api.Addr()),
		slog.String("environment", r.cfg.Environment))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-listenErr:
		r.logger.Error("listener failed", slog.String("error", runErr.Error()))
	}

	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := r.api.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.admin != nil {
		if err := r.admin.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("admin shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.release(shutdownCtx)

	return runErr
}

func (r *Runtime) build(ctx context.Context) error {
	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	var observers []pipeline.Observer
	if r.store.Enabled() {
		observers = append(observers, r.store)
		go r.store.RunPruner(ctx, pruneInterval)
	}

	if r.cfg.Bus.Enabled {
		publisher, err := r.connectBus(ctx)
		if err != nil {
			return err
		}
		observers = append(observers, publisher)
	}

	r.recognizer, err = stt.New(ctx, r.cfg.STT, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start recognizer: %w", err)
	}
	generator, err := llm.New(ctx, r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create chat client: %w", err)
	}
	synth, err := tts.New(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	relay, err := pipeline.New(
		stt.NewTranscriber(r.recognizer, stt.OptionsFromConfig(r.cfg.STT, r.cfg.Relay.Language), r.logger),
		llm.NewResponder(generator, r.cfg.LLM, r.cfg.Relay, r.logger),
		synth,
		pipeline.Options{
			Language:          r.cfg.Relay.Language,
			Voice:             r.cfg.TTS.Voice,
			TempDir:           r.cfg.Relay.TempDir,
			TranscribeTimeout: r.cfg.Relay.TranscribeTimeout(),
			RespondTimeout:    r.cfg.Relay.RespondTimeout(),
			SynthesizeTimeout: r.cfg.Relay.SynthesizeTimeout(),
		},
		r.logger,
		observers...,
	)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}

	r.api = server.New(r.cfg.HTTP, relay, r.logger)
	if r.cfg.Admin.Enabled {
		r.admin = &http.Server{
			Addr:              r.cfg.Admin.Bind,
			Handler:           r.adminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) (*bus.Publisher, error) {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	publisher := bus.NewPublisher(r.bus, r.cfg.Relay.IncludeText)
	maxAge := time.Duration(r.cfg.EventStore.RetentionDays) * 24 * time.Hour
	// Core NATS keeps working when JetStream is off; the publisher logs why.
	_ = publisher.EnsureStream(maxAge)
	return publisher, nil
}

// release closes whatever build managed to create, last created first.
func (r *Runtime) release(ctx context.Context) {
	if r.recognizer != nil {
		if err := r.recognizer.Close(); err != nil {
			r.logger.Error("recognizer close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.telemetry != nil {
		if err := r.telemetry.shutdown(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
