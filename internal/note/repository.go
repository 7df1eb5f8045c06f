package note

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository owns the single authoritative in-memory collection of notes,
// synchronised with a [RecordStore], and tracks which note is "current".
//
// All mutation flows through the Repository: callers fetch a value copy via
// Get, modify it, and hand it back to Save — the only path by which a field
// change becomes durable. No component ever holds a live reference into the
// collection, so there is nothing to go stale across suspension points.
//
// Storage failures are recoverable by design: the in-memory collection stays
// authoritative, the error is returned for the caller to surface as a warning,
// and already-durable records are not corrupted.
//
// Repository is safe for concurrent use.
type Repository struct {
	store RecordStore

	defaultLanguage string
	defaultPrompt   string
	clock           func() time.Time
	newID           func() string
	sizeListener    func(delta int)

	mu        sync.RWMutex
	notes     map[string]Note
	currentID string
}

// RepositoryOption is a functional option for NewRepository.
type RepositoryOption func(*Repository)

// WithDefaults sets the target language and custom prompt applied to notes
// the Repository creates on its own (the fresh note after the last one is
// deleted). Defaults: "en" and no prompt.
func WithDefaults(language, prompt string) RepositoryOption {
	return func(r *Repository) {
		if language != "" {
			r.defaultLanguage = language
		}
		r.defaultPrompt = prompt
	}
}

// WithClock injects the time source used for note timestamps. For tests.
func WithClock(clock func() time.Time) RepositoryOption {
	return func(r *Repository) { r.clock = clock }
}

// WithIDGenerator injects the note id allocator. For tests.
func WithIDGenerator(newID func() string) RepositoryOption {
	return func(r *Repository) { r.newID = newID }
}

// WithSizeListener registers fn, invoked with the signed change in collection
// size after every mutation that adds or removes notes. Lets the caller keep
// an active-notes gauge in step with the collection. fn must not call back
// into the Repository.
func WithSizeListener(fn func(delta int)) RepositoryOption {
	return func(r *Repository) { r.sizeListener = fn }
}

// NewRepository creates a Repository backed by store. Call [Repository.LoadAll]
// before first use to populate the collection.
func NewRepository(store RecordStore, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:           store,
		defaultLanguage: "en",
		clock:           time.Now,
		newID:           func() string { return "note_" + uuid.NewString() },
		notes:           make(map[string]Note),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// LoadAll populates the in-memory collection from the record store. On a
// store-level failure the collection is left empty (fail closed) and the
// error is returned; the caller bootstraps a fresh note in that case. On a
// partial load (error wrapping [ErrPartialLoad]) the readable notes are kept
// and the error is still reported.
func (r *Repository) LoadAll(ctx context.Context) error {
	stored, err := r.store.GetAll(ctx)
	if err != nil && IsStorageError(err) {
		r.mu.Lock()
		before := len(r.notes)
		r.notes = make(map[string]Note)
		r.currentID = ""
		r.mu.Unlock()
		r.notifySize(-before)
		return err
	}

	r.mu.Lock()
	before := len(r.notes)
	r.notes = make(map[string]Note, len(stored))
	for _, n := range stored {
		// One record per id: a duplicate would indicate a store bug; last
		// one wins and is logged.
		if _, exists := r.notes[n.ID]; exists {
			slog.Warn("duplicate note record in store", "id", n.ID)
		}
		r.notes[n.ID] = n
	}
	if _, ok := r.notes[r.currentID]; !ok {
		r.currentID = ""
	}
	delta := len(r.notes) - before
	r.mu.Unlock()
	r.notifySize(delta)
	return err
}

// notifySize reports a collection-size change to the registered listener.
func (r *Repository) notifySize(delta int) {
	if r.sizeListener != nil && delta != 0 {
		r.sizeListener(delta)
	}
}

// CreateNote allocates a new id, constructs a Note with empty transcription
// and polish fields and the given defaults, adds it to the collection,
// persists it, and makes it current. It returns the new note's id.
//
// A storage failure does not undo the in-memory creation; the id is returned
// together with the [StorageError] so the caller can warn the user.
func (r *Repository) CreateNote(ctx context.Context, language, prompt string) (string, error) {
	if language == "" {
		language = r.defaultLanguage
	}

	r.mu.Lock()
	n := r.newNoteLocked(language, prompt)
	r.mu.Unlock()
	r.notifySize(1)

	err := r.persist(ctx, n)
	return n.ID, err
}

// newNoteLocked constructs and registers a fresh note. Caller holds r.mu.
func (r *Repository) newNoteLocked(language, prompt string) Note {
	now := r.clock().UTC()
	n := Note{
		ID:             r.newID(),
		Title:          "Note " + now.Local().Format("15:04"),
		Timestamp:      now,
		TargetLanguage: language,
		CustomPrompt:   prompt,
	}
	r.notes[n.ID] = n
	r.currentID = n.ID
	return n
}

// Save persists the given note value. The note must already exist in the
// collection (by id); unknown ids return [ErrNotFound], which indicates a
// caller bug. The in-memory value is replaced first, then written through to
// the store, so on a storage failure memory stays authoritative and the
// [StorageError] is returned as a recoverable warning.
func (r *Repository) Save(ctx context.Context, n Note) error {
	r.mu.Lock()
	if _, ok := r.notes[n.ID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("save %q: %w", n.ID, ErrNotFound)
	}
	r.notes[n.ID] = n.Clone()
	r.mu.Unlock()

	return r.persist(ctx, n)
}

// persist writes n through to the record store, logging storage failures as
// warnings before returning them.
func (r *Repository) persist(ctx context.Context, n Note) error {
	if err := r.store.Put(ctx, n); err != nil {
		slog.Warn("could not persist note; in-memory copy remains authoritative",
			"id", n.ID, "error", err)
		return err
	}
	return nil
}

// Get returns a copy of the note with the given id.
func (r *Repository) Get(id string) (Note, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notes[id]
	if !ok {
		return Note{}, false
	}
	return n.Clone(), true
}

// GetCurrent returns a copy of the current note, if one is set.
func (r *Repository) GetCurrent() (Note, bool) {
	r.mu.RLock()
	id := r.currentID
	r.mu.RUnlock()
	if id == "" {
		return Note{}, false
	}
	return r.Get(id)
}

// CurrentID returns the id of the current note, or "" when unset (only
// transiently during startup).
func (r *Repository) CurrentID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentID
}

// SetCurrent changes the current-note pointer. Returns [ErrNotFound] when id
// is not in the collection.
func (r *Repository) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notes[id]; !ok {
		return fmt.Errorf("set current %q: %w", id, ErrNotFound)
	}
	r.currentID = id
	return nil
}

// Delete removes the note from both the collection and the record store and
// returns the id of the note that is current afterwards.
//
// The succession policy lives here so every deletion path behaves the same:
// when the deleted note was current, the most recent survivor (greatest
// timestamp, id as deterministic tie-break) becomes current; when no notes
// survive, a fresh empty note is created with the repository defaults and
// becomes current.
//
// A storage failure during the store delete or the fresh-note persist is
// returned as a recoverable [StorageError]; the in-memory result stands.
func (r *Repository) Delete(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	if _, ok := r.notes[id]; !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}
	delete(r.notes, id)

	wasCurrent := r.currentID == id
	var created *Note
	if wasCurrent {
		if successor, ok := r.mostRecentLocked(); ok {
			r.currentID = successor.ID
		} else {
			n := r.newNoteLocked(r.defaultLanguage, r.defaultPrompt)
			created = &n
		}
	}
	currentID := r.currentID
	r.mu.Unlock()
	if created == nil {
		r.notifySize(-1)
	}

	err := r.store.Delete(ctx, id)
	if err != nil {
		slog.Warn("could not delete note record; it may reappear on next load",
			"id", id, "error", err)
	}
	if created != nil {
		if perr := r.persist(ctx, *created); err == nil {
			err = perr
		}
	}
	return currentID, err
}

// All returns copies of every note, most recent first (timestamp descending,
// id descending as a deterministic tie-break).
func (r *Repository) All() []Note {
	r.mu.RLock()
	notes := make([]Note, 0, len(r.notes))
	for _, n := range r.notes {
		notes = append(notes, n.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(notes, compareRecency)
	return notes
}

// Len returns the number of notes in the collection.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notes)
}

// MostRecent returns a copy of the note with the greatest timestamp.
func (r *Repository) MostRecent() (Note, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.mostRecentLocked()
	if !ok {
		return Note{}, false
	}
	return n.Clone(), true
}

// mostRecentLocked scans for the most recent note. Caller holds r.mu.
func (r *Repository) mostRecentLocked() (Note, bool) {
	var (
		best  Note
		found bool
	)
	for _, n := range r.notes {
		if !found || compareRecency(n, best) < 0 {
			best = n
			found = true
		}
	}
	return best, found
}

// compareRecency orders notes most recent first; equal timestamps fall back
// to id descending so repeated queries are stable.
func compareRecency(a, b Note) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}
