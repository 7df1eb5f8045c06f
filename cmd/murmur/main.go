// Command murmur is the voice-notes service: it ingests recordings,
// transcribes and polishes them into structured markdown notes, and keeps
// the collection durable across restarts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/note"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/types"
)

// version is stamped by the build.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	list := flag.Bool("list", false, "list all stored notes and exit")
	repolish := flag.String("repolish", "", "re-run polishing for the note with the given id and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "murmur: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "murmur: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("murmur starting",
		"version", version,
		"config", *configPath,
		"storage", cfg.Storage.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "murmur",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, app.WithLogLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if err := application.Bootstrap(ctx); err != nil {
		slog.Error("failed to load notes", "err", err)
		return 1
	}

	// ── One-shot modes ────────────────────────────────────────────────────────
	switch {
	case *list:
		printNotes(application.Repository())
		return 0

	case *repolish != "":
		if err := application.Coordinator().Polish(ctx, *repolish, nil); err != nil {
			slog.Error("repolish failed", "id", *repolish, "err", err)
			return 1
		}
		return 0

	case flag.NArg() > 0:
		if err := ingestFiles(ctx, application, flag.Args()); err != nil {
			slog.Error("ingest failed", "err", err)
			return 1
		}
		return 0
	}

	// ── Service mode ──────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher not started", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, application.Repository().Len())
	slog.Info("murmur ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	return 0
}

// ── Ingestion ─────────────────────────────────────────────────────────────────

// ingestConcurrency bounds how many files run through the pipeline at once.
const ingestConcurrency = 3

// ingestFiles creates one note per audio file and runs each through the full
// pipeline. Files are processed concurrently; the first hard failure cancels
// the remaining ones.
func ingestFiles(ctx context.Context, application *app.App, paths []string) error {
	repo := application.Repository()
	coord := application.Coordinator()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)

	for _, path := range paths {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %q: %w", path, err)
			}
			id, err := repo.CreateNote(ctx, "", "")
			if err != nil && !note.IsStorageError(err) {
				return fmt.Errorf("create note for %q: %w", path, err)
			}
			clip := types.AudioClip{Data: data, MimeType: mimeTypeFor(path)}
			if err := coord.CompleteCapture(ctx, id, clip); err != nil {
				return fmt.Errorf("process %q: %w", path, err)
			}
			n, _ := repo.Get(id)
			slog.Info("file ingested", "path", path, "id", id, "title", n.Title, "stage", note.StageOf(&n))
			return nil
		})
	}
	return g.Wait()
}

// mimeTypeFor maps an audio file extension to its MIME type. Unknown
// extensions fall back to audio/webm, the capture default.
func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".mp4", ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/webm"
	}
}

// ── Listing ───────────────────────────────────────────────────────────────────

// printNotes writes a table of all notes, newest first.
func printNotes(repo *note.Repository) {
	notes := repo.All()
	if len(notes) == 0 {
		fmt.Println("no notes stored")
		return
	}
	current := repo.CurrentID()
	fmt.Printf("%-28s  %-18s  %-22s  %s\n", "ID", "STAGE", "CREATED", "TITLE")
	for _, n := range notes {
		marker := " "
		if n.ID == current {
			marker = "*"
		}
		fmt.Printf("%s %-27s %-18s  %-22s  %s\n",
			marker, n.ID, note.StageOf(&n), n.Timestamp.Local().Format("2006-01-02 15:04:05"), n.Title)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, noteCount int) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Murmur — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcribe", cfg.Providers.Transcribe.Name, cfg.Providers.Transcribe.Model)
	printProvider("Polish", cfg.Providers.Polish.Name, cfg.Providers.Polish.Model)
	storage := string(cfg.Storage.Backend)
	if storage == "" {
		storage = "file"
	}
	fmt.Printf("║  Storage         : %-19s║\n", storage)
	fmt.Printf("║  Notes loaded    : %-19d║\n", noteCount)
	autoPolish := "on"
	if !cfg.Pipeline.AutoPolishEnabled() {
		autoPolish = "off"
	}
	fmt.Printf("║  Auto-polish     : %-19s║\n", autoPolish)
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Metrics addr    : %-19s║\n", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s║\n", kind, value)
}
