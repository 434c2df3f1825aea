package resilience

import (
	"context"

	"github.com/astraloracle/oracle/pkg/provider/image"
)

// ImageChain is an [image.Provider] that fails over across image backends.
type ImageChain struct {
	chain *Chain[image.Provider]
}

var _ image.Provider = (*ImageChain)(nil)

// NewImageChain returns a chain with primary as the preferred backend.
func NewImageChain(primaryName string, primary image.Provider, cfg BreakerConfig) *ImageChain {
	return &ImageChain{chain: NewChain(primaryName, primary, cfg)}
}

// Add registers a fallback backend.
func (c *ImageChain) Add(name string, p image.Provider) { c.chain.Add(name, p) }

// Generate implements [image.Provider].
func (c *ImageChain) Generate(ctx context.Context, req image.Request) (*image.Image, error) {
	return Call(ctx, c.chain, func(ctx context.Context, p image.Provider) (*image.Image, error) {
		return p.Generate(ctx, req)
	})
}
