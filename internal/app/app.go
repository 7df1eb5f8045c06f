// Package app wires all murmur subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the record
// store, repository, providers, and pipeline coordinator; Bootstrap loads
// persisted notes and establishes the current note; Run serves the ops
// endpoint until the context is cancelled; Shutdown tears everything down in
// order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithTranscriber, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/murmur/internal/capture"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/note"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/pipeline"
	"github.com/MrWong99/murmur/pkg/provider/polish"
	"github.com/MrWong99/murmur/pkg/provider/polish/anyllm"
	polishoai "github.com/MrWong99/murmur/pkg/provider/polish/openai"
	"github.com/MrWong99/murmur/pkg/provider/transcribe"
	transcribeoai "github.com/MrWong99/murmur/pkg/provider/transcribe/openai"
	"github.com/MrWong99/murmur/pkg/provider/transcribe/whisperhttp"
	"github.com/MrWong99/murmur/pkg/types"
)

// DefaultRegistry returns a [config.Registry] with all built-in provider
// factories registered.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()

	r.RegisterTranscribe("openai", func(e config.ProviderEntry) (transcribe.Provider, error) {
		var opts []transcribeoai.Option
		if e.BaseURL != "" {
			opts = append(opts, transcribeoai.WithBaseURL(e.BaseURL))
		}
		return transcribeoai.New(e.APIKey, e.Model, opts...)
	})
	r.RegisterTranscribe("whisper-http", func(e config.ProviderEntry) (transcribe.Provider, error) {
		var opts []whisperhttp.Option
		if e.Language != "" {
			opts = append(opts, whisperhttp.WithLanguage(e.Language))
		}
		return whisperhttp.New(e.BaseURL, opts...)
	})

	r.RegisterPolish("openai", func(e config.ProviderEntry) (polish.Provider, error) {
		var opts []polishoai.Option
		if e.BaseURL != "" {
			opts = append(opts, polishoai.WithBaseURL(e.BaseURL))
		}
		return polishoai.New(e.APIKey, e.Model, opts...)
	})
	r.RegisterPolish("anyllm", func(e config.ProviderEntry) (polish.Provider, error) {
		var opts []anyllmlib.Option
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		return anyllm.New(e.Backend, e.Model, opts...)
	})

	return r
}

// dynamicTranscriber delegates to the currently installed provider so a
// config reload can swap implementations without rebuilding the coordinator.
type dynamicTranscriber struct {
	p atomic.Pointer[transcribe.Provider]
}

func (d *dynamicTranscriber) Transcribe(ctx context.Context, clip types.AudioClip) (string, error) {
	p := d.p.Load()
	if p == nil {
		return "", types.PermanentError("no transcription provider configured", nil)
	}
	return (*p).Transcribe(ctx, clip)
}

// dynamicPolisher is the polishing counterpart of [dynamicTranscriber].
type dynamicPolisher struct {
	p atomic.Pointer[polish.Provider]
}

func (d *dynamicPolisher) Polish(ctx context.Context, req polish.Request) (string, error) {
	p := d.p.Load()
	if p == nil {
		return "", types.PermanentError("no polishing provider configured", nil)
	}
	return (*p).Polish(ctx, req)
}

// configSettings derives pipeline settings from the live config so reloads
// take effect without restarting the coordinator.
type configSettings struct {
	cfg atomic.Pointer[config.Config]
}

// AutoPolish implements [pipeline.Settings].
func (s *configSettings) AutoPolish() bool {
	return s.cfg.Load().Pipeline.AutoPolishEnabled()
}

// HasCredential implements [pipeline.Settings]. Providers that talk to a
// local server (whisper-http, ollama, llamacpp, llamafile) need none.
func (s *configSettings) HasCredential() bool {
	cfg := s.cfg.Load()
	t := cfg.Providers.Transcribe
	if t.Name == "openai" && t.APIKey == "" {
		return false
	}
	p := cfg.Providers.Polish
	if p.Name == "openai" && p.APIKey == "" {
		return false
	}
	if p.Name == "anyllm" && p.APIKey == "" {
		switch p.Backend {
		case "ollama", "llamacpp", "llamafile", "":
		default:
			return false
		}
	}
	return true
}

// logNotifier renders note-change and status events into the structured log.
// UI frontends replace this with their own implementation.
type logNotifier struct{}

// NoteChanged implements [pipeline.Notifier].
func (logNotifier) NoteChanged(id string) {
	slog.Debug("note changed", "id", id)
}

// Status implements [pipeline.Notifier].
func (logNotifier) Status(level pipeline.StatusLevel, message string) {
	lvl := slog.LevelInfo
	switch level {
	case pipeline.StatusWarning:
		lvl = slog.LevelWarn
	case pipeline.StatusError:
		lvl = slog.LevelError
	}
	slog.Log(context.Background(), lvl, message, "source", "pipeline")
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	store       note.RecordStore
	repo        *note.Repository
	coord       *pipeline.Coordinator
	guard       *capture.Guard
	notifier    pipeline.Notifier
	settings    *configSettings
	metrics     *observe.Metrics
	transcriber *dynamicTranscriber
	polisher    *dynamicPolisher

	// logLevel, when set, is adjusted on config reload.
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a record store instead of creating one from config.
func WithStore(s note.RecordStore) Option {
	return func(a *App) { a.store = s }
}

// WithTranscriber injects a transcription provider instead of creating one
// from config.
func WithTranscriber(t transcribe.Provider) Option {
	return func(a *App) { a.transcriber.p.Store(&t) }
}

// WithPolisher injects a polishing provider instead of creating one from config.
func WithPolisher(p polish.Provider) Option {
	return func(a *App) { a.polisher.p.Store(&p) }
}

// WithNotifier injects the rendering collaborator instead of logging events.
func WithNotifier(n pipeline.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithRegistry overrides the provider registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogLevelVar hands the app the level var backing the process logger so
// config reloads can adjust verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:         cfg,
		registry:    DefaultRegistry(),
		guard:       &capture.Guard{},
		notifier:    logNotifier{},
		settings:    &configSettings{},
		transcriber: &dynamicTranscriber{},
		polisher:    &dynamicPolisher{},
	}
	a.settings.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	a.metrics = observe.DefaultMetrics()
	a.repo = note.NewRepository(a.store,
		note.WithDefaults(cfg.Defaults.TargetLanguage, cfg.Defaults.CustomPrompt),
		note.WithSizeListener(func(delta int) {
			observe.AddGauge(context.Background(), a.metrics.NotesActive, int64(delta))
		}),
	)

	retryCfg := pipeline.RetryConfig{
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
		InitialBackoff: cfg.Pipeline.InitialBackoff.Std(),
	}
	a.coord = pipeline.NewCoordinator(a.repo, a.transcriber, a.polisher,
		pipeline.WithNotifier(a.notifier),
		pipeline.WithSettings(a.settings),
		pipeline.WithRetry(retryCfg),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithTitleRegeneration(cfg.Pipeline.RegenerateTitle),
	)

	return a, nil
}

// initStore creates the record store selected by the config, unless one was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	backend := a.cfg.Storage.Backend
	if backend == "" {
		backend = config.StorageFile
	}

	switch backend {
	case config.StorageMemory:
		a.store = note.NewMemStore()

	case config.StorageFile:
		dir := a.cfg.Storage.Dir
		if dir == "" {
			dir = "notes"
		}
		fs, err := note.NewFileStore(dir)
		if err != nil {
			return err
		}
		a.store = fs

	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		pg := note.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.store = pg
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})

	default:
		return fmt.Errorf("unknown storage backend %q", backend)
	}
	return nil
}

// initProviders builds the configured providers and installs them in the
// dynamic slots, unless test doubles were injected.
func (a *App) initProviders() error {
	if a.transcriber.p.Load() == nil && a.cfg.Providers.Transcribe.Name != "" {
		t, err := a.registry.CreateTranscribe(a.cfg.Providers.Transcribe)
		if err != nil {
			return err
		}
		a.transcriber.p.Store(&t)
	}
	if a.polisher.p.Load() == nil && a.cfg.Providers.Polish.Name != "" {
		p, err := a.registry.CreatePolish(a.cfg.Providers.Polish)
		if err != nil {
			return err
		}
		a.polisher.p.Store(&p)
	}
	return nil
}

// Bootstrap loads persisted notes into the repository and establishes the
// current note: the most recently created survivor, or a fresh note when the
// store is empty. Load failures are logged and leave the app running with
// whatever could be recovered.
func (a *App) Bootstrap(ctx context.Context) error {
	if err := a.repo.LoadAll(ctx); err != nil {
		slog.Warn("loading persisted notes was incomplete", "err", err)
	}

	if a.repo.Len() == 0 {
		id, err := a.repo.CreateNote(ctx, a.cfg.Defaults.TargetLanguage, a.cfg.Defaults.CustomPrompt)
		if err != nil {
			slog.Warn("could not persist initial note", "err", err)
		}
		slog.Info("started with a fresh note", "id", id)
	} else if n, ok := a.repo.MostRecent(); ok {
		if err := a.repo.SetCurrent(n.ID); err != nil {
			return fmt.Errorf("app: bootstrap: %w", err)
		}
		slog.Info("resumed with persisted notes", "count", a.repo.Len(), "current", n.ID)
	}

	return nil
}

// Repository exposes the note repository for frontends.
func (a *App) Repository() *note.Repository { return a.repo }

// Coordinator exposes the pipeline coordinator for frontends.
func (a *App) Coordinator() *pipeline.Coordinator { return a.coord }

// Guard exposes the capture session guard for frontends.
func (a *App) Guard() *capture.Guard { return a.guard }

// StopRecording finalizes the active capture session and hands the clip to
// the pipeline. An empty or absent session is reported via the notifier and
// is not an error.
func (a *App) StopRecording(ctx context.Context) error {
	id, clip, err := a.guard.Stop()
	if err != nil {
		a.notifier.Status(pipeline.StatusWarning, "No audio was recorded.")
		return nil
	}
	return a.coord.CompleteCapture(ctx, id, clip)
}

// ApplyConfig hot-applies a reloaded configuration. Log level, provider
// blocks, and pipeline toggles take effect immediately; storage and retry
// changes require a restart and are only reported.
func (a *App) ApplyConfig(old, cfg *config.Config) {
	d := config.Diff(old, cfg)
	if d.Empty() {
		return
	}

	a.settings.cfg.Store(cfg)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranscribeChanged {
		if cfg.Providers.Transcribe.Name == "" {
			a.transcriber.p.Store(nil)
		} else if t, err := a.registry.CreateTranscribe(cfg.Providers.Transcribe); err != nil {
			slog.Warn("rebuilding transcription provider failed, keeping previous", "err", err)
		} else {
			a.transcriber.p.Store(&t)
			slog.Info("transcription provider rebuilt", "name", cfg.Providers.Transcribe.Name)
		}
	}
	if d.PolishChanged {
		if cfg.Providers.Polish.Name == "" {
			a.polisher.p.Store(nil)
		} else if p, err := a.registry.CreatePolish(cfg.Providers.Polish); err != nil {
			slog.Warn("rebuilding polishing provider failed, keeping previous", "err", err)
		} else {
			a.polisher.p.Store(&p)
			slog.Info("polishing provider rebuilt", "name", cfg.Providers.Polish.Name)
		}
	}
	if d.PipelineChanged {
		a.coord.SetTitleRegeneration(cfg.Pipeline.RegenerateTitle)
		slog.Info("pipeline settings changed; auto-polish and title regeneration apply immediately, retry changes on restart")
	}
	if d.DefaultsChanged || d.StorageChanged {
		slog.Warn("storage or default changes require a restart")
	}
}

// Run serves the metrics/health endpoint until ctx is cancelled. When no
// metrics address is configured it just blocks on ctx.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New([]health.Checker{{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := a.store.GetAll(ctx)
			return err
		},
	}}).Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: ops endpoint: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ops endpoint shutdown error", "err", err)
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Flush a dangling recording so nothing captured is lost.
		if a.guard.Active() {
			if err := a.StopRecording(ctx); err != nil {
				slog.Warn("flushing recording during shutdown failed", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
