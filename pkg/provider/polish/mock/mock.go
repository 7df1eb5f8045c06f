// Package mock provides a test double for the polish package.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/polish"
)

// Compile-time assertion that Provider satisfies polish.Provider.
var _ polish.Provider = (*Provider)(nil)

// Call records a single invocation of Provider.Polish.
type Call struct {
	// Ctx is the context passed to Polish.
	Ctx context.Context
	// Req is the request passed to Polish.
	Req polish.Request
}

// Provider is a mock implementation of polish.Provider.
type Provider struct {
	mu sync.Mutex

	// Markdown is the polished note returned on success.
	Markdown string

	// Err, if non-nil, is returned instead of Markdown.
	Err error

	// PolishFunc, if non-nil, overrides Markdown/Err entirely. It receives
	// the 1-based attempt number and the request.
	PolishFunc func(attempt int, req polish.Request) (string, error)

	// Calls records every invocation.
	Calls []Call
}

// Polish records the call and returns the scripted outcome.
func (p *Provider) Polish(ctx context.Context, req polish.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	attempt := len(p.Calls)
	fn := p.PolishFunc
	markdown, err := p.Markdown, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(attempt, req)
	}
	if err != nil {
		return "", err
	}
	return markdown, nil
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
