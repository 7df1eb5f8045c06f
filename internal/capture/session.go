// Package capture buffers an in-progress recording until it is handed to the
// processing pipeline as a single audio clip.
package capture

import (
	"errors"
	"sync"

	"github.com/MrWong99/murmur/pkg/types"
)

// ErrStopped is returned when data is appended to a session that has already
// been stopped.
var ErrStopped = errors.New("capture session already stopped")

// ErrEmpty is returned by Stop when the session received no audio data.
var ErrEmpty = errors.New("capture session is empty")

// Session accumulates audio chunks for one recording. A session belongs to
// exactly one note; stopping it yields the complete clip that replaces the
// note's previous recording. Sessions are single-use.
//
// Session is safe for concurrent use.
type Session struct {
	mimeType string

	mu      sync.Mutex
	chunks  [][]byte
	size    int
	stopped bool
}

// NewSession creates a session for a recording with the given MIME type.
func NewSession(mimeType string) *Session {
	return &Session{mimeType: mimeType}
}

// Append adds a chunk of encoded audio to the buffer. The chunk is copied.
func (s *Session) Append(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	s.chunks = append(s.chunks, buf)
	s.size += len(buf)
	return nil
}

// Stop finalizes the session and returns the buffered recording as a single
// clip. Further appends fail with [ErrStopped]. Stopping an empty session
// returns [ErrEmpty]; stopping twice returns [ErrStopped].
func (s *Session) Stop() (types.AudioClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return types.AudioClip{}, ErrStopped
	}
	s.stopped = true
	if s.size == 0 {
		return types.AudioClip{}, ErrEmpty
	}
	data := make([]byte, 0, s.size)
	for _, c := range s.chunks {
		data = append(data, c...)
	}
	s.chunks = nil
	return types.AudioClip{Data: data, MimeType: s.mimeType}, nil
}

// Stopped reports whether the session has been finalized.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Size returns the number of buffered bytes.
func (s *Session) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Guard tracks the currently active session, if any, and implements the
// lifecycle hooks around it. At most one session is active at a time; the
// hidden-surface hook stops a dangling session so a recording is never left
// open when the user navigates away mid-capture.
type Guard struct {
	mu      sync.Mutex
	session *Session
	noteID  string
}

// Start begins a new session for the given note, replacing and discarding
// any session still active.
func (g *Guard) Start(noteID, mimeType string) *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil && !g.session.Stopped() {
		// The dangling clip is discarded; a new recording supersedes it.
		_, _ = g.session.Stop()
	}
	g.session = NewSession(mimeType)
	g.noteID = noteID
	return g.session
}

// Stop finalizes the active session and returns its clip together with the
// note id it belongs to. Returns [ErrStopped] when no session is active.
func (g *Guard) Stop() (string, types.AudioClip, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return "", types.AudioClip{}, ErrStopped
	}
	clip, err := g.session.Stop()
	id := g.noteID
	g.session = nil
	g.noteID = ""
	return id, clip, err
}

// MarkHidden is the surface-hidden hook: it performs an implicit stop of any
// active session and reports the flushed clip, so callers can still hand it
// to the pipeline. When nothing was recording it returns [ErrStopped].
func (g *Guard) MarkHidden() (string, types.AudioClip, error) {
	return g.Stop()
}

// Active reports whether a recording session is currently open.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session != nil && !g.session.Stopped()
}
