// Package artifact loads and stores the four files that together define a
// trained classifier: the vocabulary, the label set, the feature scaler and
// the model weights.
//
// The four files form one versioned unit. [Load] validates them against each
// other and fails fast on any inconsistency, so a process never starts
// serving with a vocabulary from one training run and weights from another.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/vishguard/pkg/model"
	"github.com/MrWong99/vishguard/pkg/textproc"
)

// Default file names inside an artifact directory.
const (
	VocabFile   = "vocab.json"
	LabelsFile  = "labels.json"
	ScalerFile  = "scaler.json"
	WeightsFile = "model.msgpack"
)

// DefaultMaxLen is the sequence length used when preparing new artifacts.
const DefaultMaxLen = 150

// DefaultMaxWords caps the vocabulary size when preparing new artifacts.
const DefaultMaxWords = 3000

// ErrArtifact is the root of every artifact loading or validation error.
var ErrArtifact = errors.New("artifact: invalid artifact")

// Paths locates the four artifact files.
type Paths struct {
	Vocab   string
	Labels  string
	Scaler  string
	Weights string
}

// InDir returns the default paths inside dir.
func InDir(dir string) Paths {
	return Paths{
		Vocab:   filepath.Join(dir, VocabFile),
		Labels:  filepath.Join(dir, LabelsFile),
		Scaler:  filepath.Join(dir, ScalerFile),
		Weights: filepath.Join(dir, WeightsFile),
	}
}

// Metadata is the preprocessing half of an artifact set: everything except
// the weights.
type Metadata struct {
	Vocab  textproc.Vocabulary
	MaxLen int
	Labels []string
	Scaler textproc.Scaler
}

// Encoder returns the preprocessing encoder described by m.
func (m Metadata) Encoder() textproc.Encoder {
	return textproc.Encoder{Vocab: m.Vocab, MaxLen: m.MaxLen, Scaler: m.Scaler}
}

// Bundle is a complete, cross-validated artifact set.
type Bundle struct {
	Metadata
	Params *model.Params
}

type vocabDoc struct {
	Word2Idx        map[string]int `json:"word2idx"`
	MaxLen          int            `json:"max_len"`
	PipelineVersion string         `json:"pipeline_version,omitempty"`
}

type scalerDoc struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Load reads and validates all four artifacts.
func Load(paths Paths) (*Bundle, error) {
	meta, err := LoadMetadata(paths)
	if err != nil {
		return nil, err
	}
	params, err := model.ReadWeightsFile(paths.Weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	b := &Bundle{Metadata: *meta, Params: params}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadMetadata reads the vocabulary, labels and scaler.
func LoadMetadata(paths Paths) (*Metadata, error) {
	var vd vocabDoc
	if err := readJSON(paths.Vocab, &vd); err != nil {
		return nil, err
	}
	if vd.PipelineVersion != "" && vd.PipelineVersion != textproc.PipelineVersion {
		return nil, fmt.Errorf("%w: %s: pipeline version %q, this build uses %q",
			ErrArtifact, paths.Vocab, vd.PipelineVersion, textproc.PipelineVersion)
	}
	if vd.MaxLen < 1 {
		return nil, fmt.Errorf("%w: %s: max_len must be >= 1, got %d", ErrArtifact, paths.Vocab, vd.MaxLen)
	}
	for w, idx := range vd.Word2Idx {
		if idx < 1 {
			return nil, fmt.Errorf("%w: %s: word %q has reserved index %d", ErrArtifact, paths.Vocab, w, idx)
		}
	}

	var labels []string
	if err := readJSON(paths.Labels, &labels); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: %s: empty label set", ErrArtifact, paths.Labels)
	}

	var sd scalerDoc
	if err := readJSON(paths.Scaler, &sd); err != nil {
		return nil, err
	}
	scaler, err := textproc.NewScaler(sd.Mean, sd.Scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArtifact, paths.Scaler, err)
	}

	vocab := textproc.Vocabulary(vd.Word2Idx)
	if vocab == nil {
		vocab = textproc.Vocabulary{}
	}
	return &Metadata{Vocab: vocab, MaxLen: vd.MaxLen, Labels: labels, Scaler: scaler}, nil
}

// Validate checks that the metadata and the weights describe the same model.
func (b *Bundle) Validate() error {
	cfg := b.Params.Config
	var errs []error
	if need := b.Vocab.Size(); need > cfg.VocabSize {
		errs = append(errs, fmt.Errorf("vocabulary needs %d embedding rows, weights have %d", need, cfg.VocabSize))
	}
	if want := len(b.Vocab) + 1; want != cfg.VocabSize {
		errs = append(errs, fmt.Errorf("vocabulary has %d words (+1 padding), weights have %d embedding rows", len(b.Vocab), cfg.VocabSize))
	}
	if len(b.Labels) != cfg.NumClasses {
		errs = append(errs, fmt.Errorf("label set has %d classes, weights output %d", len(b.Labels), cfg.NumClasses))
	}
	if cfg.ExtraDim != textproc.FeatureCount {
		errs = append(errs, fmt.Errorf("weights expect %d lexical features, pipeline produces %d", cfg.ExtraDim, textproc.FeatureCount))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrArtifact, errors.Join(errs...))
	}
	return nil
}

// SaveMetadata writes the vocabulary, labels and scaler files.
func SaveMetadata(paths Paths, m *Metadata) error {
	if err := writeJSON(paths.Vocab, vocabDoc{
		Word2Idx:        m.Vocab,
		MaxLen:          m.MaxLen,
		PipelineVersion: textproc.PipelineVersion,
	}); err != nil {
		return err
	}
	if err := writeJSON(paths.Labels, m.Labels); err != nil {
		return err
	}
	return writeJSON(paths.Scaler, scalerDoc{Mean: m.Scaler.Mean[:], Scale: m.Scaler.Scale[:]})
}

// Save writes all four artifacts.
func Save(paths Paths, b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := SaveMetadata(paths, &b.Metadata); err != nil {
		return err
	}
	return model.WriteWeightsFile(paths.Weights, b.Params)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArtifact, path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	return nil
}
