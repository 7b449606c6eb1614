// Package artifacttest builds small, hand-wired artifact sets for tests.
//
// The keyword bundle has a zeroed recurrent stack, so its prediction depends
// only on the scam keyword count: any text containing at least one scam
// keyword is classified "scam" with roughly 95% confidence, and text without
// keywords is classified "normal" with 62.25% confidence.
package artifacttest

import (
	"testing"

	"github.com/MrWong99/vishguard/pkg/artifact"
	"github.com/MrWong99/vishguard/pkg/model"
	"github.com/MrWong99/vishguard/pkg/textproc"
)

// Labels of the keyword bundle.
var Labels = []string{"normal", "scam"}

// NormalConfidence is the confidence of a keyword-free prediction:
// 100 × softmax([0.5, 0])[0], rounded to two decimals.
const NormalConfidence = 62.25

// KeywordBundle returns the keyword-driven artifact set.
func KeywordBundle() *artifact.Bundle {
	cfg := model.Config{
		VocabSize:  4,
		EmbedDim:   2,
		HiddenDim:  4,
		NumLayers:  1,
		ExtraDim:   textproc.FeatureCount,
		NumClasses: 2,
		Dropout:    0.4,
	}
	p, err := model.NewParams(cfg)
	if err != nil {
		panic(err)
	}
	for i := range p.Embedding.Data {
		p.Embedding.Data[i] = 0.5
	}
	clear(p.Embedding.Row(0))

	// Only the keyword count (last feature) reaches the head.
	p.FC1.W.Set(0, 2*cfg.HiddenDim+textproc.FeatureCount-1, 1)
	p.FC2.W.Set(0, 0, 1)
	p.FC3.W.Set(1, 0, 2)
	p.FC3.B[0] = 0.5

	unit := make([]float64, textproc.FeatureCount)
	for i := range unit {
		unit[i] = 1
	}
	scaler, err := textproc.NewScaler(make([]float64, textproc.FeatureCount), unit)
	if err != nil {
		panic(err)
	}

	return &artifact.Bundle{
		Metadata: artifact.Metadata{
			Vocab:  textproc.Vocabulary{"call": 1, "now": 2, "bank": 3},
			MaxLen: 8,
			Labels: append([]string(nil), Labels...),
			Scaler: scaler,
		},
		Params: p,
	}
}

// WriteKeywordBundle stores the keyword bundle in a fresh temporary
// directory and returns its paths.
func WriteKeywordBundle(tb testing.TB) artifact.Paths {
	tb.Helper()
	paths := artifact.InDir(tb.TempDir())
	if err := artifact.Save(paths, KeywordBundle()); err != nil {
		tb.Fatalf("save keyword bundle: %v", err)
	}
	return paths
}
