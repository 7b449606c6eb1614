// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vishguard/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider answers every completion with Reply, or fails with Err.
type Provider struct {
	mu sync.Mutex

	// Reply is the content of every successful response.
	Reply string

	// Usage is attached to every successful response.
	Usage llm.Usage

	// Err, if non-nil, is returned from Complete.
	Err error

	// Requests records every request in call order.
	Requests []llm.CompletionRequest
}

// Complete records req and returns Reply or Err.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	return &llm.CompletionResponse{Content: p.Reply, Usage: p.Usage}, nil
}

// CallCount returns the number of Complete calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
