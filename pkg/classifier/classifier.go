// Package classifier turns raw text into a vishing verdict.
//
// The local implementation is [Detector], which loads a trained artifact set
// once and then scores texts with the shared preprocessing pipeline from
// package textproc. The [remote] sub-package provides a [Predictor] backed by a
// hosted inference endpoint.
package classifier

import (
	"context"
	"errors"
	"math"
	"strings"
)

var (
	// ErrLoad is returned when the detector cannot be constructed from its
	// artifacts.
	ErrLoad = errors.New("classifier: load failed")

	// ErrPredictionFailed is returned when scoring a text fails at run time.
	// It never carries a default label.
	ErrPredictionFailed = errors.New("classifier: prediction failed")
)

// Prediction is the verdict for one text.
type Prediction struct {
	// Label is the predicted class name from the label set.
	Label string `json:"prediction"`

	// Confidence is 100 × the probability of Label, rounded to two decimals.
	Confidence float64 `json:"confidence"`

	// Text is the input text, unmodified.
	Text string `json:"text"`

	// Probabilities maps every label to its probability. Remote predictors
	// may leave it empty.
	Probabilities map[string]float64 `json:"probabilities,omitempty"`

	// Keywords lists the scam keywords found in the normalized text.
	Keywords []string `json:"keywords,omitempty"`
}

// Scam reports whether the prediction names the scam class.
func (p Prediction) Scam() bool { return IsScam(p.Label) }

// Predictor scores a text.
//
// Implementations must be safe for concurrent use.
type Predictor interface {
	Predict(ctx context.Context, text string) (Prediction, error)
}

// IsScam reports whether label denotes the scam class. The numeric encoding
// ("1"), the named encoding ("scam") and the synonyms hosted models commonly
// emit are recognised, case-insensitively.
func IsScam(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "1", "scam", "spam", "fraud", "phishing", "malicious", "true":
		return true
	}
	return false
}

// RoundConfidence converts a probability to a percentage rounded to two
// decimals.
func RoundConfidence(p float64) float64 {
	return math.Round(p*10000) / 100
}
