package note

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/types"
)

func TestMemStore_PutGetAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	n := Note{
		ID:        "note_a",
		Title:     "Note 10:00",
		Timestamp: time.Now(),
		Audio:     &types.AudioClip{Data: []byte{1, 2}, MimeType: "audio/webm"},
	}
	if err := s.Put(ctx, n); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "note_a" {
		t.Fatalf("GetAll() = %+v, want one note_a", got)
	}
}

func TestMemStore_PutReplacesById(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	if err := s.Put(ctx, Note{ID: "note_a", Title: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, Note{ID: "note_a", Title: "second"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Title != "second" {
		t.Errorf("Title = %q, want second", got[0].Title)
	}
}

func TestMemStore_GetAllReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	if err := s.Put(ctx, Note{ID: "note_a", Audio: &types.AudioClip{Data: []byte{1}, MimeType: "audio/webm"}}); err != nil {
		t.Fatal(err)
	}

	first, err := s.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	first[0].Audio.Data[0] = 7

	second, err := s.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Audio.Data[0] != 1 {
		t.Error("mutating a GetAll result leaked into the store")
	}
}

func TestMemStore_DeleteMissingIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	if err := s.Delete(ctx, "note_nope"); err != nil {
		t.Errorf("Delete() of missing id = %v, want nil", err)
	}
}

func TestMemStore_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	if err := s.Put(ctx, Note{ID: "note_a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "note_a"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("store still holds %d notes after delete", len(got))
	}
}
