package note

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/pkg/types"
)

// Compile-time assertion that FileStore satisfies the RecordStore interface.
var _ RecordStore = (*FileStore)(nil)

// tempFilePrefix is the prefix used for temporary atomic-write files. GetAll
// skips files carrying it so a concurrent Put is never read half-written.
const tempFilePrefix = ".murmur-tmp-"

// getAllConcurrency bounds the number of note files decoded in parallel.
const getAllConcurrency = 8

// record is the on-disk JSON layout of a note. Audio bytes are base64 via the
// standard []byte JSON encoding, in the same record as the text fields.
type record struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	RawTranscription string    `json:"raw_transcription"`
	PolishedNote     string    `json:"polished_note"`
	Timestamp        time.Time `json:"timestamp"`
	Audio            []byte    `json:"audio,omitempty"`
	AudioMimeType    string    `json:"audio_mime_type,omitempty"`
	TargetLanguage   string    `json:"target_language"`
	CustomPrompt     string    `json:"custom_prompt,omitempty"`
}

// FileStore is a [RecordStore] that keeps one JSON file per note under a root
// directory. Writes go to a temp file in the same directory followed by a
// rename, so a record on disk is always either the old or the new version.
//
// FileStore is safe for concurrent use.
type FileStore struct {
	dir string

	// mu guards locks. Each note id gets its own write mutex so a slow write
	// for one note never blocks writes for unrelated notes; reads go straight
	// to the filesystem.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "init", Err: err}
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// lockFor returns the write mutex for id, creating it on first use. Locks are
// kept for the store's lifetime; the id set is small and mostly stable.
func (s *FileStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Put implements [RecordStore.Put].
func (s *FileStore) Put(ctx context.Context, n Note) error {
	path, err := s.pathFor(n.ID)
	if err != nil {
		return &StorageError{Op: "put", ID: n.ID, Err: err}
	}

	data, err := json.Marshal(toRecord(n))
	if err != nil {
		return &StorageError{Op: "put", ID: n.ID, Err: fmt.Errorf("encode: %w", err)}
	}

	l := s.lockFor(n.ID)
	l.Lock()
	defer l.Unlock()
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return &StorageError{Op: "put", ID: n.ID, Err: err}
	}
	return nil
}

// GetAll implements [RecordStore.GetAll]. Files are decoded concurrently;
// undecodable files are skipped, logged, and surfaced via an error wrapping
// [ErrPartialLoad] next to the successfully decoded notes.
func (s *FileStore) GetAll(ctx context.Context) ([]Note, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &StorageError{Op: "get-all", Err: err}
	}

	var (
		mu      sync.Mutex
		notes   []Note
		skipped int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(getAllConcurrency)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, tempFilePrefix) {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := readRecord(filepath.Join(s.dir, name))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("skipping unreadable note record", "file", name, "error", err)
				skipped++
				return nil
			}
			notes = append(notes, n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &StorageError{Op: "get-all", Err: err}
	}
	if skipped > 0 {
		return notes, fmt.Errorf("%w: %d record(s) skipped", ErrPartialLoad, skipped)
	}
	return notes, nil
}

// Delete implements [RecordStore.Delete].
func (s *FileStore) Delete(ctx context.Context, id string) error {
	path, err := s.pathFor(id)
	if err != nil {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

// pathFor maps a note id to its file path, rejecting ids that would escape
// the store directory.
func (s *FileStore) pathFor(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty note id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid note id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func readRecord(path string) (Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Note{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Note{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if rec.ID == "" {
		return Note{}, fmt.Errorf("decode %s: missing id", filepath.Base(path))
	}
	return fromRecord(rec), nil
}

func toRecord(n Note) record {
	rec := record{
		ID:               n.ID,
		Title:            n.Title,
		RawTranscription: n.RawTranscription,
		PolishedNote:     n.PolishedNote,
		Timestamp:        n.Timestamp,
		TargetLanguage:   n.TargetLanguage,
		CustomPrompt:     n.CustomPrompt,
	}
	if n.Audio != nil {
		rec.Audio = n.Audio.Data
		rec.AudioMimeType = n.Audio.MimeType
	}
	return rec
}

func fromRecord(rec record) Note {
	n := Note{
		ID:               rec.ID,
		Title:            rec.Title,
		RawTranscription: rec.RawTranscription,
		PolishedNote:     rec.PolishedNote,
		Timestamp:        rec.Timestamp,
		TargetLanguage:   rec.TargetLanguage,
		CustomPrompt:     rec.CustomPrompt,
	}
	if len(rec.Audio) > 0 {
		n.Audio = &types.AudioClip{Data: rec.Audio, MimeType: rec.AudioMimeType}
	}
	return n
}

// writeFileAtomic writes data to filename by writing a temp file in the same
// directory and renaming it over the target.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)

	tmp, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", filename, err)
	}
	return nil
}
