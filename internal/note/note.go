// Package note contains the persisted Note model, the RecordStore contract
// with its in-memory, file, and PostgreSQL implementations, and the
// Repository that owns the authoritative in-memory collection.
package note

import (
	"strings"
	"time"

	"github.com/MrWong99/murmur/pkg/types"
)

// Failure placeholders written into note fields when a pipeline stage fails.
// They are deliberately user-readable: the editor renders them in place of the
// missing content so "failed" is distinguishable from "empty because untried".
const (
	// TranscriptionEmptySentinel marks a transcription that returned no text.
	TranscriptionEmptySentinel = "Could not transcribe audio. Please try again."

	// TranscriptionErrorPrefix prefixes a transcription failure message.
	TranscriptionErrorPrefix = "Error during transcription: "

	// PolishEmptySentinel marks a polishing run that returned no text.
	PolishEmptySentinel = "Polishing returned empty. Raw transcription is available."

	// PolishErrorPrefix prefixes a polishing failure message.
	PolishErrorPrefix = "Error during polishing: "

	// PolishGuardSentinel is written into PolishedNote when polishing was
	// requested for a note without a usable transcription.
	PolishGuardSentinel = "No valid transcription available to polish."
)

// Note is the persisted unit combining audio, transcript, and polished text.
//
// Notes are passed by value across package boundaries; the Repository holds
// the canonical copy and Save is the only path by which a mutation becomes
// durable. Audio data is treated as immutable once attached — a new recording
// replaces the whole clip.
type Note struct {
	// ID is the opaque unique identifier, assigned at creation, never reused.
	ID string

	// Title is the short display label. Defaults to a time-of-day label at
	// creation and is rewritten from the polished content after the first
	// successful polish.
	Title string

	// RawTranscription is the transcription stage output. Empty until that
	// stage completes; a failure leaves a recognisable sentinel instead.
	RawTranscription string

	// PolishedNote is the polishing stage output as markdown. Empty until
	// that stage completes; a failure leaves a recognisable sentinel.
	PolishedNote string

	// Timestamp is the creation/recording instant, used for most-recent-first
	// ordering and display.
	Timestamp time.Time

	// Audio is the recorded clip, nil until a recording completes. Data and
	// MIME type always travel together.
	Audio *types.AudioClip

	// TargetLanguage is the BCP-47 code governing polishing output language.
	TargetLanguage string

	// CustomPrompt, when non-empty, overrides the default polishing
	// instructions for this note.
	CustomPrompt string
}

// HasAudio reports whether the note carries a complete audio clip.
func (n *Note) HasAudio() bool {
	return n.Audio != nil && !n.Audio.Empty()
}

// CanPolish reports whether the note has a transcription the polishing stage
// may consume: non-empty and not a failure sentinel.
func (n *Note) CanPolish() bool {
	raw := strings.TrimSpace(n.RawTranscription)
	return raw != "" && !IsTranscriptionSentinel(n.RawTranscription)
}

// Clone returns a deep copy of the note. The audio payload bytes are copied
// so the caller can never alias the canonical clip.
func (n Note) Clone() Note {
	if n.Audio != nil {
		clip := types.AudioClip{
			Data:     append([]byte(nil), n.Audio.Data...),
			MimeType: n.Audio.MimeType,
		}
		n.Audio = &clip
	}
	return n
}

// IsTranscriptionSentinel reports whether s is one of the failure placeholders
// the pipeline writes into RawTranscription.
func IsTranscriptionSentinel(s string) bool {
	return s == TranscriptionEmptySentinel || strings.HasPrefix(s, TranscriptionErrorPrefix)
}

// IsPolishSentinel reports whether s is one of the failure placeholders the
// pipeline writes into PolishedNote.
func IsPolishSentinel(s string) bool {
	return s == PolishEmptySentinel ||
		s == PolishGuardSentinel ||
		strings.HasPrefix(s, PolishErrorPrefix)
}

// Stage is a note's position in the capture → transcribe → polish lifecycle.
type Stage int

const (
	// StageEmpty: no audio, no transcription.
	StageEmpty Stage = iota

	// StageCaptured: audio attached, transcription not yet produced.
	StageCaptured

	// StageTranscribing: a transcription call is in flight. Never derived
	// from fields — only the pipeline coordinator reports it.
	StageTranscribing

	// StageTranscribed: a usable transcription is present, no polish yet.
	StageTranscribed

	// StageTranscriptionFailed: RawTranscription holds a failure sentinel.
	StageTranscriptionFailed

	// StagePolishing: a polishing call is in flight. Never derived from
	// fields — only the pipeline coordinator reports it.
	StagePolishing

	// StagePolished: PolishedNote holds real content.
	StagePolished

	// StagePolishFailed: PolishedNote holds a failure sentinel.
	StagePolishFailed
)

// String returns the human-readable name of the stage.
func (s Stage) String() string {
	switch s {
	case StageEmpty:
		return "empty"
	case StageCaptured:
		return "captured"
	case StageTranscribing:
		return "transcribing"
	case StageTranscribed:
		return "transcribed"
	case StageTranscriptionFailed:
		return "transcription-failed"
	case StagePolishing:
		return "polishing"
	case StagePolished:
		return "polished"
	case StagePolishFailed:
		return "polish-failed"
	default:
		return "unknown"
	}
}

// StageOf derives a note's resting stage from its durable fields. Because the
// stage is recomputed rather than stored, a crash or reload after any stage
// keeps exactly the completed work: whatever fields were saved determine where
// the note resumes.
func StageOf(n *Note) Stage {
	switch {
	case IsTranscriptionSentinel(n.RawTranscription):
		return StageTranscriptionFailed
	case n.RawTranscription == "" && !n.HasAudio():
		return StageEmpty
	case n.RawTranscription == "":
		return StageCaptured
	case n.PolishedNote == "":
		return StageTranscribed
	case IsPolishSentinel(n.PolishedNote):
		return StagePolishFailed
	default:
		return StagePolished
	}
}
