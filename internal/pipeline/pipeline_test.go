package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/murmur/internal/note"
	"github.com/MrWong99/murmur/pkg/provider/polish"
	polishmock "github.com/MrWong99/murmur/pkg/provider/polish/mock"
	transcribemock "github.com/MrWong99/murmur/pkg/provider/transcribe/mock"
	"github.com/MrWong99/murmur/pkg/types"
)

// recordingNotifier captures every notification for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	changed  []string
	statuses []string
}

func (n *recordingNotifier) NoteChanged(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, id)
}

func (n *recordingNotifier) Status(level StatusLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, level.String()+": "+message)
}

func (n *recordingNotifier) hasStatus(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.statuses {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// fixture bundles a repository with one captured note and a coordinator over
// scripted providers.
type fixture struct {
	repo        *note.Repository
	coord       *Coordinator
	transcriber *transcribemock.Provider
	polisher    *polishmock.Provider
	notifier    *recordingNotifier
	id          string
}

var testClip = types.AudioClip{Data: []byte{0x1a, 0x45, 0xdf, 0xa3}, MimeType: "audio/webm"}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		repo:        note.NewRepository(note.NewMemStore()),
		transcriber: &transcribemock.Provider{Text: "hello world"},
		polisher:    &polishmock.Provider{Markdown: "# Hello\n\nWorld."},
		notifier:    &recordingNotifier{},
	}

	id, err := f.repo.CreateNote(ctx, "en", "")
	require.NoError(t, err)
	f.id = id

	base := []Option{
		WithNotifier(f.notifier),
		WithRetry(RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}),
	}
	f.coord = NewCoordinator(f.repo, f.transcriber, f.polisher, append(base, opts...)...)
	return f
}

func (f *fixture) note(t *testing.T) note.Note {
	t.Helper()
	n, ok := f.repo.Get(f.id)
	require.True(t, ok)
	return n
}

func TestCompleteCapture_FullFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	n := f.note(t)
	assert.Equal(t, "hello world", n.RawTranscription)
	assert.Equal(t, "# Hello\n\nWorld.", n.PolishedNote)
	assert.Equal(t, "Hello", n.Title, "title derived from the markdown heading")
	require.NotNil(t, n.Audio)
	assert.Equal(t, "audio/webm", n.Audio.MimeType)
	assert.Equal(t, note.StagePolished, note.StageOf(&n))

	stage, err := f.coord.StageOf(f.id)
	require.NoError(t, err)
	assert.Equal(t, note.StagePolished, stage)

	assert.True(t, f.notifier.hasStatus("Getting transcription..."))
	assert.True(t, f.notifier.hasStatus("Note polished. Ready for next recording."))
}

func TestCompleteCapture_ReplacesPreviousLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))
	require.Equal(t, note.StagePolished, note.StageOf(ptr(f.note(t))))

	// A second recording restarts the lifecycle with fresh results.
	f.transcriber.Text = "second take"
	f.polisher.Markdown = "# Second take"
	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))

	n := f.note(t)
	assert.Equal(t, "second take", n.RawTranscription)
	assert.Equal(t, "# Second take", n.PolishedNote)
}

func TestCompleteCapture_EmptyClip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.coord.CompleteCapture(context.Background(), f.id, types.AudioClip{})
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestTranscribe_WithoutAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.coord.Transcribe(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrNoAudio)
	assert.Zero(t, f.transcriber.CallCount())
}

func TestTranscribe_UnknownID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.coord.Transcribe(context.Background(), "note_ghost")
	assert.ErrorIs(t, err, note.ErrNotFound)
}

func TestTranscribe_EmptyResultWritesSentinel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transcriber.Text = ""

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	n := f.note(t)
	assert.Equal(t, note.TranscriptionEmptySentinel, n.RawTranscription)
	assert.Equal(t, note.StageTranscriptionFailed, note.StageOf(&n))
	assert.Zero(t, f.polisher.CallCount(), "polishing must never run on a failed transcription")
	assert.Equal(t, 1, f.transcriber.CallCount(), "an empty result is a completed call, not a retry")
}

func TestTranscribe_TransientErrorRetriesThenFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transcriber.Err = types.TransientError("transcription service overloaded", errors.New("503"))

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	assert.Equal(t, 3, f.transcriber.CallCount(), "transient failures consume the whole attempt budget")

	n := f.note(t)
	assert.Equal(t, note.TranscriptionErrorPrefix+"transcription service overloaded", n.RawTranscription)
	assert.Equal(t, note.StageTranscriptionFailed, note.StageOf(&n))
	assert.Zero(t, f.polisher.CallCount())
	assert.True(t, f.notifier.hasStatus("Error getting transcription:"))
}

func TestTranscribe_PermanentErrorDoesNotRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transcriber.Err = types.PermanentError("API key not valid", errors.New("401"))

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	assert.Equal(t, 1, f.transcriber.CallCount(), "a permanent error must stop the retry loop")

	n := f.note(t)
	assert.Equal(t, note.TranscriptionErrorPrefix+"API key not valid", n.RawTranscription)
}

func TestTranscribe_SucceedsOnSecondAttempt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transcriber.TranscribeFunc = func(attempt int, clip types.AudioClip) (string, error) {
		if attempt == 1 {
			return "", types.TransientError("blip", errors.New("reset"))
		}
		return "recovered text", nil
	}

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	assert.Equal(t, 2, f.transcriber.CallCount())
	n := f.note(t)
	assert.Equal(t, "recovered text", n.RawTranscription)
	assert.Equal(t, note.StagePolished, note.StageOf(&n))
}

func TestTranscribe_RetryFromFailedStage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.transcriber.Text = ""

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))
	require.Equal(t, note.StageTranscriptionFailed, note.StageOf(ptr(f.note(t))))

	// The user retries; the service now answers.
	f.transcriber.Text = "took a second try"
	require.NoError(t, f.coord.Transcribe(ctx, f.id))

	n := f.note(t)
	assert.Equal(t, note.StagePolished, note.StageOf(&n))
	assert.Equal(t, "took a second try", n.RawTranscription)
}

func TestTranscribe_AutoPolishDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithSettings(StaticSettings{AutoPolishEnabled: false, CredentialSet: true}))

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	n := f.note(t)
	assert.Equal(t, note.StageTranscribed, note.StageOf(&n))
	assert.Zero(t, f.polisher.CallCount())
	assert.True(t, f.notifier.hasStatus("Transcription complete."))
}

func TestTranscribe_NoCredential(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithSettings(StaticSettings{AutoPolishEnabled: true, CredentialSet: false}))

	n := f.note(t)
	n.Audio = &types.AudioClip{Data: testClip.Data, MimeType: testClip.MimeType}
	require.NoError(t, f.repo.Save(context.Background(), n))

	err := f.coord.Transcribe(context.Background(), f.id)
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Zero(t, f.transcriber.CallCount())

	// The note is untouched: no sentinel, stage still captured.
	got := f.note(t)
	assert.Empty(t, got.RawTranscription)
	assert.Equal(t, note.StageCaptured, note.StageOf(&got))
}

func TestTranscribe_DeletedMidFlight(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// Create a second note so deletion does not recreate the first id.
	survivor, err := f.repo.CreateNote(ctx, "en", "")
	require.NoError(t, err)

	f.transcriber.TranscribeFunc = func(attempt int, clip types.AudioClip) (string, error) {
		// The note disappears while the call is in flight.
		_, derr := f.repo.Delete(ctx, f.id)
		require.NoError(t, derr)
		return "text for a ghost", nil
	}

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))

	_, ok := f.repo.Get(f.id)
	assert.False(t, ok, "the stale result must not resurrect the note")
	assert.Zero(t, f.polisher.CallCount())
	_, ok = f.repo.Get(survivor)
	assert.True(t, ok)
}

func TestPolish_GuardRejectsUnusableTranscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// Empty transcription.
	err := f.coord.Polish(ctx, f.id, nil)
	assert.ErrorIs(t, err, ErrNotTranscribed)

	// Sentinel transcription.
	n := f.note(t)
	n.RawTranscription = note.TranscriptionEmptySentinel
	require.NoError(t, f.repo.Save(ctx, n))
	err = f.coord.Polish(ctx, f.id, nil)
	assert.ErrorIs(t, err, ErrNotTranscribed)

	assert.Zero(t, f.polisher.CallCount())
}

func TestPolish_EmptyResultWritesSentinel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.polisher.Markdown = ""

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	n := f.note(t)
	assert.Equal(t, "hello world", n.RawTranscription, "raw transcription survives a failed polish")
	assert.Equal(t, note.PolishEmptySentinel, n.PolishedNote)
	assert.Equal(t, note.StagePolishFailed, note.StageOf(&n))
}

func TestPolish_ErrorWritesSentinel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.polisher.Err = types.TransientError("polishing service overloaded", errors.New("503"))

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	assert.Equal(t, 3, f.polisher.CallCount())
	n := f.note(t)
	assert.Equal(t, note.PolishErrorPrefix+"polishing service overloaded", n.PolishedNote)
	assert.Equal(t, note.StagePolishFailed, note.StageOf(&n))
}

func TestPolish_RequestCarriesNoteSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	n := f.note(t)
	n.TargetLanguage = "de"
	n.CustomPrompt = "bullet points only"
	require.NoError(t, f.repo.Save(ctx, n))

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))

	require.Equal(t, 1, f.polisher.CallCount())
	req := f.polisher.Calls[0].Req
	assert.Equal(t, "hello world", req.RawTranscription)
	assert.Equal(t, "de", req.TargetLanguage)
	assert.Equal(t, "bullet points only", req.CustomPrompt)
}

func TestPolish_OverrideIsAppliedAndSaved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))

	prompt := "translate thoroughly"
	require.NoError(t, f.coord.Polish(ctx, f.id, &PolishOverride{
		TargetLanguage: "fr",
		CustomPrompt:   &prompt,
	}))

	require.Equal(t, 2, f.polisher.CallCount())
	req := f.polisher.Calls[1].Req
	assert.Equal(t, "fr", req.TargetLanguage)
	assert.Equal(t, "translate thoroughly", req.CustomPrompt)

	n := f.note(t)
	assert.Equal(t, "fr", n.TargetLanguage, "override persisted on success")
	assert.Equal(t, "translate thoroughly", n.CustomPrompt)
}

func TestPolish_TitleSetOnInitialPolishOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))
	require.Equal(t, "Hello", f.note(t).Title)

	// A re-polish with different content keeps the title by default.
	f.polisher.Markdown = "# Completely different"
	require.NoError(t, f.coord.Polish(ctx, f.id, nil))
	assert.Equal(t, "Hello", f.note(t).Title)
}

func TestPolish_TitleRegenerationEnabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithTitleRegeneration(true))
	ctx := context.Background()

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))
	require.Equal(t, "Hello", f.note(t).Title)

	f.polisher.Markdown = "# Completely different"
	require.NoError(t, f.coord.Polish(ctx, f.id, nil))
	assert.Equal(t, "Completely different", f.note(t).Title)
}

func TestPolish_TitleRegenerationToggledAtRuntime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))
	require.Equal(t, "Hello", f.note(t).Title)

	f.coord.SetTitleRegeneration(true)
	f.polisher.Markdown = "# Completely different"
	require.NoError(t, f.coord.Polish(ctx, f.id, nil))
	assert.Equal(t, "Completely different", f.note(t).Title)

	f.coord.SetTitleRegeneration(false)
	f.polisher.Markdown = "# Third version"
	require.NoError(t, f.coord.Polish(ctx, f.id, nil))
	assert.Equal(t, "Completely different", f.note(t).Title)
}

func TestPolish_DeletedMidFlight(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// Create a second note so deletion does not recreate the first id.
	survivor, err := f.repo.CreateNote(ctx, "en", "")
	require.NoError(t, err)

	n := f.note(t)
	n.RawTranscription = "dictated text"
	require.NoError(t, f.repo.Save(ctx, n))

	f.polisher.PolishFunc = func(attempt int, req polish.Request) (string, error) {
		// The note disappears while the call is in flight.
		_, derr := f.repo.Delete(ctx, f.id)
		require.NoError(t, derr)
		return "# Polished ghost", nil
	}

	require.NoError(t, f.coord.Polish(ctx, f.id, nil))

	_, ok := f.repo.Get(f.id)
	assert.False(t, ok, "the stale result must not resurrect the note")
	assert.False(t, f.notifier.hasStatus("Note polished."),
		"no success status for a result that was dropped")
	_, ok = f.repo.Get(survivor)
	assert.True(t, ok)
}

func TestTranscribe_UnclassifiedErrorDoesNotRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.transcriber.Err = errors.New("connection reset by peer")

	require.NoError(t, f.coord.CompleteCapture(context.Background(), f.id, testClip))

	assert.Equal(t, 1, f.transcriber.CallCount(),
		"errors without a transient classification must not be retried")
	n := f.note(t)
	assert.Equal(t, note.TranscriptionErrorPrefix+"connection reset by peer", n.RawTranscription)
}

func TestStageOf_ReportsInflightStage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	inflight := make(chan note.Stage, 1)
	f.transcriber.TranscribeFunc = func(attempt int, clip types.AudioClip) (string, error) {
		s, err := f.coord.StageOf(f.id)
		require.NoError(t, err)
		inflight <- s
		return "hello", nil
	}

	require.NoError(t, f.coord.CompleteCapture(ctx, f.id, testClip))
	assert.Equal(t, note.StageTranscribing, <-inflight)

	// After completion the overlay is gone.
	stage, err := f.coord.StageOf(f.id)
	require.NoError(t, err)
	assert.Equal(t, note.StagePolished, stage)
}

func TestStageOf_UnknownID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.coord.StageOf("note_ghost")
	assert.ErrorIs(t, err, note.ErrNotFound)
}

func ptr[T any](v T) *T { return &v }
