// Package mock provides a test double for the image.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/astraloracle/oracle/pkg/provider/image"
)

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// Image is returned by Generate. Nil yields a 1-byte PNG placeholder.
	Image *image.Image

	// Err, if non-nil, is returned by Generate.
	Err error

	// Requests records every request passed to Generate.
	Requests []image.Request
}

// Generate records the request and returns Image, Err.
func (p *Provider) Generate(_ context.Context, req image.Request) (*image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Image == nil {
		return &image.Image{MIMEType: "image/png", Data: []byte{0}}, nil
	}
	img := *p.Image
	return &img, nil
}

// Prompts returns the prompts seen so far. Thread-safe.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Requests))
	for i, r := range p.Requests {
		out[i] = r.Prompt
	}
	return out
}

var _ image.Provider = (*Provider)(nil)
