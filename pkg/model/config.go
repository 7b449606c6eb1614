// Package model implements the vishing sequence classifier: a token embedding,
// a multi-layer bidirectional LSTM, additive attention pooling, batch
// normalisation, concatenation of scaled lexical features and a three-layer
// feedforward head.
//
// Parameters are immutable once built. [Forward] is a pure function of the
// parameters, the batch and an explicit [Mode]; training-mode batch
// statistics are returned to the caller instead of being written back into
// the parameters, so a single [Params] value can be shared by any number of
// goroutines without locking.
package model

import (
	"errors"
	"fmt"
)

// Default hyperparameters of the production classifier.
const (
	DefaultEmbedDim  = 200
	DefaultHiddenDim = 256
	DefaultNumLayers = 3
	DefaultDropout   = 0.4
)

// Numerical constants of the normalisation layers.
const (
	BatchNormEps      = 1e-5
	LayerNormEps      = 1e-5
	BatchNormMomentum = 0.1
)

// ErrConfig is returned when a Config is structurally invalid.
var ErrConfig = errors.New("model: invalid config")

// Config fixes the architecture of a classifier. Every tensor shape is a
// function of these fields.
type Config struct {
	VocabSize  int     `msgpack:"vocab_size" json:"vocab_size"`
	EmbedDim   int     `msgpack:"embed_dim" json:"embed_dim"`
	HiddenDim  int     `msgpack:"hidden_dim" json:"hidden_dim"`
	NumLayers  int     `msgpack:"num_layers" json:"num_layers"`
	ExtraDim   int     `msgpack:"extra_dim" json:"extra_dim"`
	NumClasses int     `msgpack:"num_classes" json:"num_classes"`
	Dropout    float64 `msgpack:"dropout" json:"dropout"`
}

// DefaultConfig returns the production architecture for the given vocabulary
// size (including the padding row), feature count and label count.
func DefaultConfig(vocabSize, extraDim, numClasses int) Config {
	return Config{
		VocabSize:  vocabSize,
		EmbedDim:   DefaultEmbedDim,
		HiddenDim:  DefaultHiddenDim,
		NumLayers:  DefaultNumLayers,
		ExtraDim:   extraDim,
		NumClasses: numClasses,
		Dropout:    DefaultDropout,
	}
}

// Validate reports every structural problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.VocabSize < 1 {
		errs = append(errs, fmt.Errorf("vocab_size must be >= 1, got %d", c.VocabSize))
	}
	if c.EmbedDim < 1 {
		errs = append(errs, fmt.Errorf("embed_dim must be >= 1, got %d", c.EmbedDim))
	}
	if c.HiddenDim < 2 {
		errs = append(errs, fmt.Errorf("hidden_dim must be >= 2, got %d", c.HiddenDim))
	}
	if c.NumLayers < 1 {
		errs = append(errs, fmt.Errorf("num_layers must be >= 1, got %d", c.NumLayers))
	}
	if c.ExtraDim < 0 {
		errs = append(errs, fmt.Errorf("extra_dim must be >= 0, got %d", c.ExtraDim))
	}
	if c.NumClasses < 1 {
		errs = append(errs, fmt.Errorf("num_classes must be >= 1, got %d", c.NumClasses))
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		errs = append(errs, fmt.Errorf("dropout must be in [0, 1), got %v", c.Dropout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// headDim is the width of the second feedforward layer.
func (c Config) headDim() int { return c.HiddenDim / 2 }
