// Package mock provides a test double for the transcribe package.
//
// Use Provider to script transcription outcomes and inspect which clips were
// submitted:
//
//	p := &mock.Provider{Text: "hello world"}
//	got, _ := p.Transcribe(ctx, clip)
//	len(p.Calls) // 1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/transcribe"
	"github.com/MrWong99/murmur/pkg/types"
)

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Call records a single invocation of Provider.Transcribe.
type Call struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Clip is the audio clip passed to Transcribe.
	Clip types.AudioClip
}

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is the transcript returned on success.
	Text string

	// Err, if non-nil, is returned instead of Text.
	Err error

	// TranscribeFunc, if non-nil, overrides Text/Err entirely. It receives
	// the 1-based attempt number and the clip.
	TranscribeFunc func(attempt int, clip types.AudioClip) (string, error)

	// Calls records every invocation.
	Calls []Call
}

// Transcribe records the call and returns the scripted outcome.
func (p *Provider) Transcribe(ctx context.Context, clip types.AudioClip) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Clip: clip})
	attempt := len(p.Calls)
	fn := p.TranscribeFunc
	text, err := p.Text, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(attempt, clip)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
