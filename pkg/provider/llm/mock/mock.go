// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "Le Mat ouvre la voie."},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/astraloracle/oracle/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call records one Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a scripted llm.Provider. The zero value answers every request
// with an empty response.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete. Nil yields an empty response.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned from Complete.
	CompleteErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every call to Complete. Read it through
	// Completes when the provider is shared with goroutines.
	CompleteCalls []Call
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse == nil {
		return &llm.CompletionResponse{}, nil
	}
	resp := *p.CompleteResponse
	return &resp, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Completes returns a snapshot of CompleteCalls.
func (p *Provider) Completes() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.CompleteCalls...)
}
