// Package whisperhttp provides a transcription provider backed by a running
// whisper-server binary (whisper.cpp), which exposes a batch inference REST
// API at POST /inference.
//
// The provider submits the note's audio clip as-is; whisper-server handles
// container demuxing for the common browser recording formats when built with
// ffmpeg support. No SDK is required — the server speaks plain
// multipart/form-data.
//
// Usage:
//
//	p, err := whisperhttp.New("http://localhost:8080",
//	    whisperhttp.WithLanguage("en"),
//	)
//	text, err := p.Transcribe(ctx, clip)
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/murmur/pkg/provider/transcribe"
	"github.com/MrWong99/murmur/pkg/types"
)

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Provider implements transcribe.Provider against a whisper-server instance.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the language hint forwarded to whisper-server.
// An empty value lets the model auto-detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// New constructs a Provider that talks to the whisper-server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whisperhttp: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements transcribe.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip types.AudioClip) (string, error) {
	if clip.Empty() {
		return "", types.PermanentError("empty audio clip", nil)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.bin")
	if err != nil {
		return "", types.PermanentError("encode upload", fmt.Errorf("whisperhttp: create form file: %w", err))
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return "", types.PermanentError("encode upload", fmt.Errorf("whisperhttp: write audio data: %w", err))
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return "", types.PermanentError("encode upload", fmt.Errorf("whisperhttp: write language field: %w", err))
		}
	}
	if err := mw.Close(); err != nil {
		return "", types.PermanentError("encode upload", fmt.Errorf("whisperhttp: close multipart writer: %w", err))
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", types.PermanentError("build request", fmt.Errorf("whisperhttp: create request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", types.TransientError("whisper-server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("whisperhttp: server returned HTTP %d", resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError ||
			resp.StatusCode == http.StatusTooManyRequests {
			return "", types.TransientError("whisper-server overloaded", err)
		}
		return "", types.PermanentError("whisper-server rejected request", err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.TransientError("read whisper-server response", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", types.PermanentError("parse whisper-server response",
			fmt.Errorf("whisperhttp: parse JSON response: %w", err))
	}
	return strings.TrimSpace(result.Text), nil
}
