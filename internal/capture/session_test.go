package capture

import (
	"bytes"
	"errors"
	"testing"
)

func TestSession_AppendStopRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewSession("audio/webm")
	if err := s.Append([]byte("abc")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append([]byte("def")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if got := s.Size(); got != 6 {
		t.Errorf("Size() = %d, want 6", got)
	}

	clip, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !bytes.Equal(clip.Data, []byte("abcdef")) {
		t.Errorf("clip.Data = %q, want %q", clip.Data, "abcdef")
	}
	if clip.MimeType != "audio/webm" {
		t.Errorf("clip.MimeType = %q, want %q", clip.MimeType, "audio/webm")
	}
}

func TestSession_AppendCopiesChunk(t *testing.T) {
	t.Parallel()

	s := NewSession("audio/webm")
	chunk := []byte("abc")
	if err := s.Append(chunk); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	chunk[0] = 'X'

	clip, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !bytes.Equal(clip.Data, []byte("abc")) {
		t.Errorf("clip.Data = %q, caller mutation leaked into the buffer", clip.Data)
	}
}

func TestSession_EmptyAppendIsNoop(t *testing.T) {
	t.Parallel()

	s := NewSession("audio/webm")
	if err := s.Append(nil); err != nil {
		t.Fatalf("Append(nil) error = %v", err)
	}
	if got := s.Size(); got != 0 {
		t.Errorf("Size() = %d, want 0", got)
	}
}

func TestSession_StopEmpty(t *testing.T) {
	t.Parallel()

	s := NewSession("audio/webm")
	if _, err := s.Stop(); !errors.Is(err, ErrEmpty) {
		t.Errorf("Stop() error = %v, want ErrEmpty", err)
	}
	if !s.Stopped() {
		t.Error("Stopped() = false after Stop")
	}
}

func TestSession_StopTwice(t *testing.T) {
	t.Parallel()

	s := NewSession("audio/webm")
	_ = s.Append([]byte("abc"))
	if _, err := s.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if _, err := s.Stop(); !errors.Is(err, ErrStopped) {
		t.Errorf("second Stop() error = %v, want ErrStopped", err)
	}
}

func TestSession_AppendAfterStop(t *testing.T) {
	t.Parallel()

	s := NewSession("audio/webm")
	_ = s.Append([]byte("abc"))
	_, _ = s.Stop()
	if err := s.Append([]byte("def")); !errors.Is(err, ErrStopped) {
		t.Errorf("Append() after Stop error = %v, want ErrStopped", err)
	}
}

func TestGuard_StartStop(t *testing.T) {
	t.Parallel()

	var g Guard
	s := g.Start("note_001", "audio/ogg")
	if !g.Active() {
		t.Fatal("Active() = false after Start")
	}
	_ = s.Append([]byte("xyz"))

	id, clip, err := g.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if id != "note_001" {
		t.Errorf("id = %q, want %q", id, "note_001")
	}
	if !bytes.Equal(clip.Data, []byte("xyz")) {
		t.Errorf("clip.Data = %q, want %q", clip.Data, "xyz")
	}
	if g.Active() {
		t.Error("Active() = true after Stop")
	}
}

func TestGuard_StopWithoutSession(t *testing.T) {
	t.Parallel()

	var g Guard
	if _, _, err := g.Stop(); !errors.Is(err, ErrStopped) {
		t.Errorf("Stop() error = %v, want ErrStopped", err)
	}
}

func TestGuard_StopEmptySession(t *testing.T) {
	t.Parallel()

	var g Guard
	g.Start("note_001", "audio/webm")
	id, _, err := g.Stop()
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("Stop() error = %v, want ErrEmpty", err)
	}
	if id != "note_001" {
		t.Errorf("id = %q, want %q even on empty stop", id, "note_001")
	}
	if g.Active() {
		t.Error("Active() = true after empty Stop")
	}
}

func TestGuard_StartDiscardsDanglingSession(t *testing.T) {
	t.Parallel()

	var g Guard
	first := g.Start("note_001", "audio/webm")
	_ = first.Append([]byte("dangling"))

	second := g.Start("note_002", "audio/webm")
	if !first.Stopped() {
		t.Error("previous session must be stopped when a new one starts")
	}
	_ = second.Append([]byte("fresh"))

	id, clip, err := g.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if id != "note_002" {
		t.Errorf("id = %q, want %q", id, "note_002")
	}
	if !bytes.Equal(clip.Data, []byte("fresh")) {
		t.Errorf("clip.Data = %q, want %q", clip.Data, "fresh")
	}
}

func TestGuard_MarkHiddenFlushesRecording(t *testing.T) {
	t.Parallel()

	var g Guard
	s := g.Start("note_001", "audio/webm")
	_ = s.Append([]byte("partial"))

	id, clip, err := g.MarkHidden()
	if err != nil {
		t.Fatalf("MarkHidden() error = %v", err)
	}
	if id != "note_001" {
		t.Errorf("id = %q, want %q", id, "note_001")
	}
	if !bytes.Equal(clip.Data, []byte("partial")) {
		t.Errorf("clip.Data = %q, want %q", clip.Data, "partial")
	}
	if g.Active() {
		t.Error("Active() = true after MarkHidden")
	}
}
