// Package pipeline drives a note through the capture → transcribe → polish
// lifecycle.
//
// The [Coordinator] is the only component that calls the remote transcription
// and polishing collaborators. Every stage result — success, empty result, or
// failure sentinel — is written through the note repository before the next
// stage begins, so a crash or reload never loses completed work. Coordinators
// hold note ids, never references into the repository's collection; before a
// stage result is written the id is re-checked, which is how a delete racing
// an in-flight pipeline is tolerated.
//
// Concurrent pipelines for different notes are independent; stages for the
// same note run strictly in sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/murmur/internal/note"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/provider/polish"
	"github.com/MrWong99/murmur/pkg/provider/transcribe"
	"github.com/MrWong99/murmur/pkg/types"
)

// Guard violations. These indicate a coordination bug in the caller, not a
// runtime condition, and are allowed to propagate.
var (
	// ErrNoAudio is returned when transcription is requested for a note
	// without an audio payload.
	ErrNoAudio = errors.New("note has no audio payload")

	// ErrNotTranscribed is returned when polishing is requested for a note
	// whose transcription is empty or a failure sentinel.
	ErrNotTranscribed = errors.New("note has no usable transcription")
)

// ErrNoCredential is returned when a stage is requested but no remote-service
// credential is configured. The note is left untouched; the user is pointed
// at settings.
var ErrNoCredential = errors.New("no service credential configured")

// StatusLevel classifies a user-facing status message.
type StatusLevel int

const (
	StatusInfo StatusLevel = iota
	StatusSuccess
	StatusWarning
	StatusError
)

// String returns the human-readable name of the level.
func (l StatusLevel) String() string {
	switch l {
	case StatusInfo:
		return "info"
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Notifier is the rendering collaborator. NoteChanged fires after every
// durable state change so the UI can re-render; Status carries the
// short-lived messages the editor shows under the record button. The core
// makes no assumption about rendering technology.
//
// Implementations must be safe for concurrent use and must not block.
type Notifier interface {
	// NoteChanged reports that the note with the given id was saved.
	NoteChanged(id string)

	// Status reports a transient user-facing message.
	Status(level StatusLevel, message string)
}

// Settings supplies the user preferences the pipeline consults. Credential
// management itself is out of scope — only presence matters here.
type Settings interface {
	// AutoPolish reports whether a successful transcription should flow
	// straight into polishing.
	AutoPolish() bool

	// HasCredential reports whether a remote-service credential is
	// configured.
	HasCredential() bool
}

// StaticSettings is a fixed-value [Settings] implementation.
type StaticSettings struct {
	AutoPolishEnabled bool
	CredentialSet     bool
}

// AutoPolish implements [Settings].
func (s StaticSettings) AutoPolish() bool { return s.AutoPolishEnabled }

// HasCredential implements [Settings].
func (s StaticSettings) HasCredential() bool { return s.CredentialSet }

// nopNotifier is used when no Notifier is injected.
type nopNotifier struct{}

func (nopNotifier) NoteChanged(string)         {}
func (nopNotifier) Status(StatusLevel, string) {}

// PolishOverride carries per-invocation overrides for a user-triggered
// re-polish. A nil *PolishOverride means "initial polish with the note's own
// settings".
type PolishOverride struct {
	// TargetLanguage, when non-empty, replaces the note's target language
	// for this run and is saved back to the note on success.
	TargetLanguage string

	// CustomPrompt, when non-nil, replaces the note's custom prompt for
	// this run (an empty string clears it). Saved back on success.
	CustomPrompt *string
}

// Coordinator sequences the per-note lifecycle and owns all calls to the
// transcription and polishing collaborators.
//
// Coordinator is safe for concurrent use; pipelines for distinct note ids may
// run in parallel.
type Coordinator struct {
	repo        *note.Repository
	transcriber transcribe.Provider
	polisher    polish.Provider
	notifier    Notifier
	settings    Settings
	retry       RetryConfig
	metrics     *observe.Metrics

	// mu guards inflight, the per-id overlay of transient stages, and
	// regenerateTitle.
	mu       sync.Mutex
	inflight map[string]note.Stage

	// regenerateTitle controls whether a user-triggered re-polish rewrites
	// the title from the new content. The initial polish always titles the
	// note.
	regenerateTitle bool
}

// Option is a functional option for NewCoordinator.
type Option func(*Coordinator)

// WithNotifier injects the rendering collaborator. Default: no-op.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithSettings injects the settings collaborator. Default: auto-polish on,
// credential present.
func WithSettings(s Settings) Option {
	return func(c *Coordinator) { c.settings = s }
}

// WithRetry overrides the retry policy for remote calls.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Coordinator) { c.retry = cfg.withDefaults() }
}

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTitleRegeneration makes a user-triggered re-polish rewrite the note
// title from the newly polished content.
func WithTitleRegeneration(enabled bool) Option {
	return func(c *Coordinator) { c.regenerateTitle = enabled }
}

// SetTitleRegeneration changes the re-polish title policy at runtime, so a
// configuration reload takes effect without rebuilding the coordinator.
func (c *Coordinator) SetTitleRegeneration(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regenerateTitle = enabled
}

func (c *Coordinator) titleRegeneration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regenerateTitle
}

// NewCoordinator creates a Coordinator over the given repository and
// providers.
func NewCoordinator(repo *note.Repository, t transcribe.Provider, p polish.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:        repo,
		transcriber: t,
		polisher:    p,
		notifier:    nopNotifier{},
		settings:    StaticSettings{AutoPolishEnabled: true, CredentialSet: true},
		retry:       RetryConfig{}.withDefaults(),
		inflight:    make(map[string]note.Stage),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// StageOf reports the note's lifecycle stage: an in-flight transcribing or
// polishing overlay when the coordinator is mid-stage, otherwise the resting
// stage derived from the note's durable fields.
func (c *Coordinator) StageOf(id string) (note.Stage, error) {
	c.mu.Lock()
	stage, busy := c.inflight[id]
	c.mu.Unlock()
	if busy {
		return stage, nil
	}

	n, ok := c.repo.Get(id)
	if !ok {
		return note.StageEmpty, fmt.Errorf("stage of %q: %w", id, note.ErrNotFound)
	}
	return note.StageOf(&n), nil
}

// CompleteCapture attaches a finished recording to the note, persists it, and
// starts transcription. The clip fully replaces any previous recording. The
// audio save is issued before transcription begins, so the payload is durable
// ahead of the first remote call.
func (c *Coordinator) CompleteCapture(ctx context.Context, id string, clip types.AudioClip) error {
	if clip.Empty() {
		return fmt.Errorf("complete capture %q: %w", id, ErrNoAudio)
	}

	n, ok := c.repo.Get(id)
	if !ok {
		return fmt.Errorf("complete capture %q: %w", id, note.ErrNotFound)
	}

	n.Audio = &types.AudioClip{Data: clip.Data, MimeType: clip.MimeType}
	// A new recording restarts the lifecycle for this note.
	n.RawTranscription = ""
	n.PolishedNote = ""
	c.save(ctx, n)

	return c.Transcribe(ctx, id)
}

// Transcribe runs the transcription stage for the note. The note must carry
// an audio payload ([ErrNoAudio] otherwise — a caller bug). A failed or empty
// result writes a recognisable sentinel into RawTranscription and moves the
// note to the transcription-failed stage; service errors never propagate.
// Re-entry from the failed stage is a retry.
func (c *Coordinator) Transcribe(ctx context.Context, id string) error {
	n, ok := c.repo.Get(id)
	if !ok {
		return fmt.Errorf("transcribe %q: %w", id, note.ErrNotFound)
	}
	if !n.HasAudio() {
		return fmt.Errorf("transcribe %q: %w", id, ErrNoAudio)
	}
	if !c.settings.HasCredential() {
		c.notifier.Status(StatusWarning, "API key not set for transcription.")
		return fmt.Errorf("transcribe %q: %w", id, ErrNoCredential)
	}

	c.setInflight(id, note.StageTranscribing)
	defer c.clearInflight(id)

	c.notifier.Status(StatusInfo, "Getting transcription...")
	clip := *n.Audio

	start := time.Now()
	text, err := c.runWithRetry(ctx, "transcribe", func() (string, error) {
		return c.transcriber.Transcribe(ctx, clip)
	})

	switch {
	case err != nil:
		observe.RecordStageDuration(ctx, c.metrics.TranscribeDuration, start, "error")
		observe.AddCounter(ctx, c.metrics.StageRuns, 1,
			attribute.String("stage", "transcribe"), attribute.String("status", "error"))
		msg := serviceMessage(err)
		c.writeResult(ctx, id, func(n *note.Note) {
			n.RawTranscription = note.TranscriptionErrorPrefix + msg
		})
		c.notifier.Status(StatusError, truncate("Error getting transcription: "+msg, 100))
		return nil

	case strings.TrimSpace(text) == "":
		observe.RecordStageDuration(ctx, c.metrics.TranscribeDuration, start, "empty")
		observe.AddCounter(ctx, c.metrics.StageRuns, 1,
			attribute.String("stage", "transcribe"), attribute.String("status", "empty"))
		c.writeResult(ctx, id, func(n *note.Note) {
			n.RawTranscription = note.TranscriptionEmptySentinel
		})
		c.notifier.Status(StatusWarning, "Transcription failed or returned empty.")
		return nil
	}

	observe.RecordStageDuration(ctx, c.metrics.TranscribeDuration, start, "ok")
	observe.AddCounter(ctx, c.metrics.StageRuns, 1,
		attribute.String("stage", "transcribe"), attribute.String("status", "ok"))

	written := c.writeResult(ctx, id, func(n *note.Note) {
		n.RawTranscription = text
	})
	c.clearInflight(id)

	if !written {
		// Deleted mid-flight; nothing further to do.
		return nil
	}

	if c.settings.AutoPolish() {
		c.notifier.Status(StatusInfo, "Transcription complete. Polishing note...")
		return c.Polish(ctx, id, nil)
	}
	c.notifier.Status(StatusSuccess, "Transcription complete.")
	return nil
}

// Polish runs the polishing stage for the note, optionally with per-run
// overrides for a user-triggered re-polish. The note must have a non-empty,
// non-sentinel transcription ([ErrNotTranscribed] otherwise — a caller bug;
// the pipeline never polishes a failed transcription). A failed or empty
// result writes a sentinel into PolishedNote; service errors never propagate.
func (c *Coordinator) Polish(ctx context.Context, id string, override *PolishOverride) error {
	n, ok := c.repo.Get(id)
	if !ok {
		return fmt.Errorf("polish %q: %w", id, note.ErrNotFound)
	}
	if !n.CanPolish() {
		return fmt.Errorf("polish %q: %w", id, ErrNotTranscribed)
	}
	if !c.settings.HasCredential() {
		c.notifier.Status(StatusWarning, "API key not set for polishing.")
		return fmt.Errorf("polish %q: %w", id, ErrNoCredential)
	}

	c.setInflight(id, note.StagePolishing)
	defer c.clearInflight(id)

	c.notifier.Status(StatusInfo, "Polishing note...")

	lang := n.TargetLanguage
	prompt := n.CustomPrompt
	if override != nil {
		if override.TargetLanguage != "" {
			lang = override.TargetLanguage
		}
		if override.CustomPrompt != nil {
			prompt = *override.CustomPrompt
		}
	}
	// The initial polish always titles the note from its content; re-polish
	// only does when title regeneration is enabled.
	initial := note.StageOf(&n) == note.StageTranscribed
	req := polish.Request{
		RawTranscription: n.RawTranscription,
		TargetLanguage:   lang,
		CustomPrompt:     prompt,
	}

	start := time.Now()
	markdown, err := c.runWithRetry(ctx, "polish", func() (string, error) {
		return c.polisher.Polish(ctx, req)
	})

	switch {
	case err != nil:
		observe.RecordStageDuration(ctx, c.metrics.PolishDuration, start, "error")
		observe.AddCounter(ctx, c.metrics.StageRuns, 1,
			attribute.String("stage", "polish"), attribute.String("status", "error"))
		msg := serviceMessage(err)
		c.writeResult(ctx, id, func(n *note.Note) {
			n.PolishedNote = note.PolishErrorPrefix + msg
		})
		c.notifier.Status(StatusError, truncate("Error polishing note: "+msg, 100))
		return nil

	case strings.TrimSpace(markdown) == "":
		observe.RecordStageDuration(ctx, c.metrics.PolishDuration, start, "empty")
		observe.AddCounter(ctx, c.metrics.StageRuns, 1,
			attribute.String("stage", "polish"), attribute.String("status", "empty"))
		c.writeResult(ctx, id, func(n *note.Note) {
			n.PolishedNote = note.PolishEmptySentinel
		})
		c.notifier.Status(StatusWarning, "Polishing failed or returned empty.")
		return nil
	}

	observe.RecordStageDuration(ctx, c.metrics.PolishDuration, start, "ok")
	observe.AddCounter(ctx, c.metrics.StageRuns, 1,
		attribute.String("stage", "polish"), attribute.String("status", "ok"))

	regen := c.titleRegeneration()
	written := c.writeResult(ctx, id, func(n *note.Note) {
		n.PolishedNote = markdown
		n.TargetLanguage = lang
		n.CustomPrompt = prompt
		if initial || regen {
			if title := deriveTitle(markdown); title != "" {
				n.Title = title
			} else if strings.HasPrefix(n.Title, "Note ") {
				n.Title = fallbackTitle(n.Timestamp)
			}
		}
	})
	if !written {
		// Deleted mid-flight; nothing further to do.
		return nil
	}
	c.notifier.Status(StatusSuccess, "Note polished. Ready for next recording.")
	return nil
}

// writeResult applies fn to the note's current repository value and persists
// it. When the id is no longer in the collection — deleted while the stage
// was in flight — the result is dropped: the in-memory collection is the
// rendering source of truth, so a stale write would only resurrect an
// unreferenced store record. Reports whether the result was written.
func (c *Coordinator) writeResult(ctx context.Context, id string, fn func(*note.Note)) bool {
	n, ok := c.repo.Get(id)
	if !ok {
		slog.Debug("dropping stage result for deleted note", "id", id)
		return false
	}
	fn(&n)
	c.save(ctx, n)
	return true
}

// save persists n, converting a storage failure into a non-blocking warning
// — in-memory state stays authoritative, the pipeline carries on.
func (c *Coordinator) save(ctx context.Context, n note.Note) {
	if err := c.repo.Save(ctx, n); err != nil {
		if note.IsStorageError(err) {
			observe.AddCounter(ctx, c.metrics.StorageFailures, 1,
				attribute.String("op", "put"))
			c.notifier.Status(StatusError, "Error: Could not save note data. Storage might be full.")
		} else {
			slog.Debug("save skipped", "id", n.ID, "error", err)
			return
		}
	}
	c.notifier.NoteChanged(n.ID)
}

func (c *Coordinator) setInflight(id string, s note.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[id] = s
}

func (c *Coordinator) clearInflight(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

// serviceMessage extracts the user-facing message from a provider error.
func serviceMessage(err error) string {
	var se *types.ServiceError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return truncate(err.Error(), 200)
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
