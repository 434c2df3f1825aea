// Package openai is an llm.Provider over the OpenAI chat completions API or
// any endpoint that speaks it.
//
// Vision models receive request attachments (the seeker's photo in a
// soulmate reading) as inline data URI image parts. Grounding is not
// available.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/astraloracle/oracle/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider with openai-go.
type Provider struct {
	client oai.Client
	model  string
	vision bool
}

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option configures New.
type Option func(*settings)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sets the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.organization = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// New returns a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}

	ropts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		ropts = append(ropts, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		ropts = append(ropts, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		ropts = append(ropts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	return &Provider{
		client: oai.NewClient(ropts...),
		model:  model,
		vision: acceptsImages(model),
	}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsAttachments: p.vision,
	}
	m := strings.ToLower(p.model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		caps.ContextWindow, caps.MaxOutputTokens = 200_000, 100_000
	case strings.HasPrefix(m, "gpt-3.5"):
		caps.ContextWindow = 16_385
	}
	return caps
}

// acceptsImages reports whether model takes image input.
func acceptsImages(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-4o", "gpt-4.1", "gpt-5", "o3", "o4"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	last := len(req.Messages) - 1
	for i, m := range req.Messages {
		if i == last && m.Role == "user" && p.vision && len(req.Attachments) > 0 {
			msgs = append(msgs, withImages(m.Content, req.Attachments))
			continue
		}
		msg, err := message(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func message(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}

// withImages builds a user message whose attachments precede its text.
func withImages(text string, atts []llm.Attachment) oai.ChatCompletionMessageParamUnion {
	parts := make([]oai.ChatCompletionContentPartUnionParam, 0, len(atts)+1)
	for _, a := range atts {
		parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURI(a),
		}))
	}
	parts = append(parts, oai.TextContentPart(text))
	return oai.UserMessage(parts)
}

func dataURI(a llm.Attachment) string {
	return "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
