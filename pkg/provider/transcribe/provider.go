// Package transcribe defines the Provider interface for speech-to-text
// backends.
//
// A transcription provider wraps a remote or local transcription API (e.g.,
// the OpenAI audio API or a self-hosted whisper-server) and exposes a uniform
// batch interface to the processing pipeline without coupling it to any
// specific SDK.
//
// Implementations must be safe for concurrent use and must report failures as
// [types.ServiceError] values so the pipeline can distinguish retryable
// overload from permanent errors such as an invalid credential.
package transcribe

import (
	"context"

	"github.com/MrWong99/murmur/pkg/types"
)

// Provider converts a finished audio clip into raw transcript text.
type Provider interface {
	// Transcribe submits clip for transcription and returns the full
	// transcript text. An empty string with a nil error is a valid result
	// and means the service produced no transcript; the caller decides how
	// to treat that.
	//
	// Errors are reported as [types.ServiceError]. Implementations must not
	// retry internally — retry policy belongs to the caller.
	Transcribe(ctx context.Context, clip types.AudioClip) (string, error)
}
