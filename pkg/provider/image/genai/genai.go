// Package genai implements image.Provider with Gemini's native image output
// through google.golang.org/genai.
package genai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/astraloracle/oracle/pkg/provider/image"
)

var _ image.Provider = (*Provider)(nil)

const defaultModel = "gemini-2.5-flash-image"

type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider generates images with a Gemini image model.
type Provider struct {
	models models
	model  string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides the image model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// New creates an image Provider using apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("image/genai: apiKey must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("image/genai: new client: %w", err)
	}
	p := &Provider{models: client.Models, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Generate implements image.Provider. It returns the first inline image part
// of the first candidate.
func (p *Provider) Generate(ctx context.Context, req image.Request) (*image.Image, error) {
	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage), string(genai.ModalityText)},
	})
	if err != nil {
		return nil, fmt.Errorf("image/genai: generate content: %w", err)
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &image.Image{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data}, nil
			}
		}
		break
	}
	return nil, image.ErrNoImage
}
