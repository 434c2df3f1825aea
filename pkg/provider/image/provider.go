// Package image defines the Provider interface for text-to-image backends
// used to paint tarot card art and soulmate portraits.
package image

import (
	"context"
	"errors"
)

// ErrNoImage is returned when the backend answered without any image data.
var ErrNoImage = errors.New("image: response contained no image")

// Request describes one image to generate.
type Request struct {
	// Prompt is the full text prompt, style suffixes included.
	Prompt string
}

// Image is a generated picture.
type Image struct {
	MIMEType string
	Data     []byte
}

// Provider generates images from text prompts. Implementations must be safe
// for concurrent use.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Image, error)
}
