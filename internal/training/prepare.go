package training

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/MrWong99/vishguard/pkg/artifact"
	"github.com/MrWong99/vishguard/pkg/model"
	"github.com/MrWong99/vishguard/pkg/textproc"
)

// PrepareOptions controls [Prepare].
type PrepareOptions struct {
	// MaxWords caps the vocabulary. Zero selects artifact.DefaultMaxWords.
	MaxWords int

	// MaxLen is the token sequence length. Zero selects
	// artifact.DefaultMaxLen.
	MaxLen int

	// Balance oversamples minority classes before fitting.
	Balance bool

	// ValidationSplit is the held-out fraction per class. Zero disables the
	// split.
	ValidationSplit float64

	// Seed drives balancing and splitting.
	Seed uint64
}

// Prepared is the output of [Prepare].
type Prepared struct {
	Metadata artifact.Metadata

	// Train and Validation are the split samples. Without a split, Train
	// holds every sample and Validation is empty.
	Train      []Sample
	Validation []Sample
}

// Prepare fits the preprocessing artifacts on samples: it deduplicates by
// text, optionally balances the classes, builds the vocabulary from the
// normalized corpus, encodes the labels and fits the feature scaler.
func Prepare(samples []Sample, opts PrepareOptions) (*Prepared, error) {
	if opts.MaxWords <= 0 {
		opts.MaxWords = artifact.DefaultMaxWords
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = artifact.DefaultMaxLen
	}

	samples = Dedupe(samples)
	if len(samples) == 0 {
		return nil, ErrEmptyDataset
	}
	slog.Info("dataset loaded", "samples", len(samples), distributionAttr(samples))
	if opts.Balance {
		samples = Balance(samples, opts.Seed)
		slog.Info("dataset balanced", "samples", len(samples), distributionAttr(samples))
	}

	normalized := make([]string, len(samples))
	rows := make([]textproc.Features, len(samples))
	for i, s := range samples {
		normalized[i] = textproc.Normalize(s.Text)
		rows[i] = textproc.ExtractFeatures(s.Text, normalized[i])
	}
	vocab := textproc.BuildVocabulary(normalized, opts.MaxWords)
	classes, ids := EncodeLabels(samples)
	if len(classes) < 2 {
		return nil, fmt.Errorf("training: need at least two classes, got %v", classes)
	}
	slog.Info("preprocessing fitted", "vocab_size", len(vocab), "classes", classes)

	out := &Prepared{
		Metadata: artifact.Metadata{
			Vocab:  vocab,
			MaxLen: opts.MaxLen,
			Labels: classes,
			Scaler: textproc.FitScaler(rows),
		},
		Train: samples,
	}
	if opts.ValidationSplit > 0 {
		train, val, err := StratifiedSplit(ids, opts.ValidationSplit, opts.Seed)
		if err != nil {
			return nil, err
		}
		out.Train = Select(samples, train)
		out.Validation = Select(samples, val)
		slog.Info("dataset split", "train", len(out.Train), "validation", len(out.Validation))
	}
	return out, nil
}

// WeightsOptions overrides the default architecture in [InitWeights]. Zero
// sizes and a nil Dropout keep the defaults.
type WeightsOptions struct {
	EmbedDim  int
	HiddenDim int
	NumLayers int

	// Dropout is a pointer so that an explicit 0 can be recorded.
	Dropout *float64
	Seed    uint64
}

// InitWeights returns freshly initialised parameters shaped for meta, ready to
// be exported for an external optimiser or used as a smoke-test model.
func InitWeights(meta *artifact.Metadata, opts WeightsOptions) (*model.Params, error) {
	if meta == nil {
		return nil, errors.New("training: metadata must not be nil")
	}
	cfg := model.DefaultConfig(len(meta.Vocab)+1, textproc.FeatureCount, len(meta.Labels))
	if opts.EmbedDim > 0 {
		cfg.EmbedDim = opts.EmbedDim
	}
	if opts.HiddenDim > 0 {
		cfg.HiddenDim = opts.HiddenDim
	}
	if opts.NumLayers > 0 {
		cfg.NumLayers = opts.NumLayers
	}
	if opts.Dropout != nil {
		cfg.Dropout = *opts.Dropout
	}
	p, err := model.InitParams(cfg, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	b := &artifact.Bundle{Metadata: *meta, Params: p}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	return p, nil
}

func distributionAttr(samples []Sample) slog.Attr {
	d := Distribution(samples)
	labels := slices.Collect(maps.Keys(d))
	SortLabels(labels)
	attrs := make([]any, 0, len(labels))
	for _, l := range labels {
		attrs = append(attrs, slog.Int(l, d[l]))
	}
	return slog.Group("labels", attrs...)
}
