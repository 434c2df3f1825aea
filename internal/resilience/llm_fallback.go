package resilience

import (
	"context"

	"github.com/astraloracle/oracle/pkg/provider/llm"
)

// LLMChain is an [llm.Provider] that fails over across LLM backends.
type LLMChain struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLMChain)(nil)

// NewLLMChain returns a chain with primary as the preferred backend.
func NewLLMChain(primaryName string, primary llm.Provider, cfg BreakerConfig) *LLMChain {
	return &LLMChain{chain: NewChain(primaryName, primary, cfg)}
}

// Add registers a fallback backend.
func (c *LLMChain) Add(name string, p llm.Provider) { c.chain.Add(name, p) }

// Complete implements [llm.Provider].
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, c.chain, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities returns the primary backend's capabilities.
func (c *LLMChain) Capabilities() llm.ModelCapabilities {
	return c.chain.links[0].value.Capabilities()
}
