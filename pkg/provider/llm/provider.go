// Package llm defines the Provider interface for text model backends.
//
// The tarot reader asks a model for two kinds of text: a card
// interpretation and a JSON soulmate reading. Both are single request /
// single response exchanges, so a Provider only needs Complete. Backends
// wrap Gemini, OpenAI, or anything any-llm-go reaches.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs for one answer.
// Messages must not be empty.
type CompletionRequest struct {
	// Messages is the ordered conversation; the last one is usually the
	// seeker's prompt.
	Messages []Message

	// SystemPrompt is sent ahead of Messages as a system instruction.
	SystemPrompt string

	// Temperature in [0.0, 2.0]. Zero keeps the backend default.
	Temperature float64

	// MaxTokens caps the answer. Zero keeps the backend default.
	MaxTokens int

	// Attachments are inline media placed before the text of the last user
	// message. Backends without multimodal input drop them.
	Attachments []Attachment

	// Grounding enables a retrieval tool. Backends that cannot ground
	// ignore it; see Capabilities().SupportsGrounding.
	Grounding Grounding
}

// CompletionResponse is one full answer.
type CompletionResponse struct {
	Content string

	// Citations lists grounding sources, when the backend reports them.
	Citations []Citation

	Usage Usage
}

// Provider is the abstraction over any text model backend.
type Provider interface {
	// Complete sends req and waits for the whole answer.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the configured model.
	Capabilities() ModelCapabilities
}
