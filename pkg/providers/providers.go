// Package providers defines the contract every chat backend implements: a
// streaming generate call yielding cumulative snapshots, and a one-shot explain
// call used by annotations.
package providers

import (
	"context"
	"net/http"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message sent along as history.
type Turn struct {
	Role Role   `json:"role" yaml:"role"`
	Text string `json:"text" yaml:"text"`
}

// Image is an image attached to the new user message.
type Image struct {
	MimeType string `json:"mime_type" yaml:"mime_type"`
	Data     []byte `json:"-" yaml:"-"`
}

type Request struct {
	History []Turn
	Text    string
	Image   *Image
}

// UserText is the text sent for the new user message, with the image-only
// fallback applied.
func (r Request) UserText() string {
	if r.Text == "" && r.Image != nil {
		return ImageOnlyPrompt
	}
	return r.Text
}

// Adapter wraps one backend.
type Adapter interface {
	// Generate starts a generation and returns its snapshot stream. Errors
	// returned here, and errors surfaced by the stream, are *Error values.
	Generate(ctx context.Context, req Request) (*Stream, error)
	// Explain returns a short explanation of selected, using messageContext as the
	// surrounding text.
	Explain(ctx context.Context, selected string, messageContext string) (string, error)
}

const (
	EmptyResponseSentinel = "Sorry, I could not generate a response."
	EmptyExplanation      = "Could not generate explanation."
	ImageOnlyPrompt       = "What do you see in this image? Describe it in detail."

	DefaultSystemPrompt = "You are a helpful, creative, and intelligent AI assistant. " +
		"You provide clear, accurate, and detailed answers. You can write code, explain concepts, " +
		"help with analysis, creative writing, math, science, and much more. Format your responses " +
		"using Markdown when helpful (headers, bold, code blocks, lists, tables). " +
		"Be conversational, friendly, and thorough."

	DefaultChunkDelay          = 20 * time.Millisecond
	DefaultExplainContextChars = 500
)

// Settings are shared by all adapters. Zero values fall back to the defaults
// above and to each vendor's public endpoint.
type Settings struct {
	SystemPrompt        string
	BaseURL             string
	HTTPClient          *http.Client
	ChunkDelay          time.Duration
	ExplainContextChars int
}

func (s Settings) GetSystemPrompt() string {
	if s.SystemPrompt == "" {
		return DefaultSystemPrompt
	}
	return s.SystemPrompt
}

func (s Settings) GetExplainContextChars() int {
	if s.ExplainContextChars <= 0 {
		return DefaultExplainContextChars
	}
	return s.ExplainContextChars
}

func (s Settings) GetHTTPClient() *http.Client {
	if s.HTTPClient == nil {
		return http.DefaultClient
	}
	return s.HTTPClient
}
