// Package mock provides a test double for the classifier.Predictor interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vishguard/pkg/classifier"
)

// Compile-time assertion that Predictor implements classifier.Predictor.
var _ classifier.Predictor = (*Predictor)(nil)

// Predictor is a mock implementation of classifier.Predictor.
type Predictor struct {
	mu sync.Mutex

	// Result is returned by every successful call. Its Text field is replaced
	// with the input text.
	Result classifier.Prediction

	// Err, if non-nil, is returned from Predict.
	Err error

	// Calls records every text passed to Predict.
	Calls []string
}

// Predict records the call and returns Result, Err.
func (p *Predictor) Predict(_ context.Context, text string) (classifier.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, text)
	if p.Err != nil {
		return classifier.Prediction{}, p.Err
	}
	out := p.Result
	out.Text = text
	return out, nil
}

// CallCount returns the number of Predict calls so far.
func (p *Predictor) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
