// Package genai provides an LLM provider backed by the Google Gen AI SDK
// (google.golang.org/genai). It is the default text backend for readings and
// the only one that supports Google Maps grounding.
package genai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/astraloracle/oracle/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// models is the subset of *genai.Models used by Provider. It exists so tests
// can substitute a fake.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements llm.Provider on top of the Gemini API.
type Provider struct {
	models models
	model  string
}

// Option is a functional option for Provider.
type Option func(*genai.ClientConfig)

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) { c.HTTPOptions.BaseURL = url }
}

// New creates a Provider for model using apiKey.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("genai: model must not be empty")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, o := range opts {
		o(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}
	return &Provider{models: client.Models, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, config := buildRequest(req)
	resp, err := p.models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("genai: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("genai: empty candidates in response")
	}

	result := &llm.CompletionResponse{
		Content:   resp.Text(),
		Citations: citations(resp.Candidates[0]),
	}
	if u := resp.UsageMetadata; u != nil {
		result.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return result, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:       1_048_576,
		MaxOutputTokens:     8_192,
		SupportsGrounding:   true,
		SupportsAttachments: true,
	}
	lower := strings.ToLower(p.model)
	if strings.Contains(lower, "gemini-2.5") || strings.Contains(lower, "gemini-3") {
		caps.MaxOutputTokens = 65_536
	}
	return caps
}

// buildRequest converts a CompletionRequest into Gemini contents and config.
func buildRequest(req llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(req.Attachments) > 0 {
		contents = attach(contents, req.Attachments)
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	if req.Temperature != 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	switch req.Grounding {
	case llm.GroundingGoogleMaps:
		config.Tools = []*genai.Tool{{GoogleMaps: &genai.GoogleMaps{}}}
	case llm.GroundingGoogleSearch:
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return contents, config
}

// attach prepends media parts to the last user content, appending a new user
// content when there is none.
func attach(contents []*genai.Content, atts []llm.Attachment) []*genai.Content {
	parts := make([]*genai.Part, 0, len(atts))
	for _, a := range atts {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i].Role == genai.RoleUser {
			contents[i].Parts = append(parts, contents[i].Parts...)
			return contents
		}
	}
	return append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
}

// citations extracts grounding sources from a candidate.
func citations(c *genai.Candidate) []llm.Citation {
	if c == nil || c.GroundingMetadata == nil {
		return nil
	}
	var out []llm.Citation
	for _, chunk := range c.GroundingMetadata.GroundingChunks {
		switch {
		case chunk == nil:
		case chunk.Maps != nil:
			out = append(out, llm.Citation{Title: chunk.Maps.Title, URI: chunk.Maps.URI})
		case chunk.Web != nil:
			out = append(out, llm.Citation{Title: chunk.Web.Title, URI: chunk.Web.URI})
		}
	}
	return out
}
