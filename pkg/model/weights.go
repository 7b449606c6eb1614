package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// WeightsFormat is the format marker stored in every weights file.
const WeightsFormat = "vishguard-weights"

// WeightsVersion is the current weights file layout version.
const WeightsVersion = 1

var (
	// ErrWeightsFormat is returned for files that are not weights files or use
	// an unsupported layout version.
	ErrWeightsFormat = errors.New("model: unrecognised weights file")

	// ErrShapeMismatch is returned when a tensor is missing or its shape does
	// not match the configuration.
	ErrShapeMismatch = errors.New("model: tensor shape mismatch")
)

type weightsFile struct {
	Format  string            `msgpack:"format"`
	Version int               `msgpack:"version"`
	Config  Config            `msgpack:"config"`
	Tensors map[string]tensor `msgpack:"tensors"`
}

type tensor struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// namedTensor binds a state-dict name to the storage it fills.
type namedTensor struct {
	name  string
	shape []int
	data  []float64
}

// tensors lists every parameter of p under its state-dict name.
func (p *Params) tensors() []namedTensor {
	var out []namedTensor
	add := func(name string, data []float64, shape ...int) {
		out = append(out, namedTensor{name: name, shape: shape, data: data})
	}
	mat := func(name string, m Matrix) { add(name, m.Data, m.Rows, m.Cols) }
	vec := func(name string, v []float64) { add(name, v, len(v)) }
	lin := func(prefix string, l Linear) {
		mat(prefix+".weight", l.W)
		vec(prefix+".bias", l.B)
	}

	mat("embedding.weight", p.Embedding)
	for k, layer := range p.LSTM {
		for _, dir := range []struct {
			suffix string
			d      LSTMDirection
		}{{"", layer.Forward}, {"_reverse", layer.Backward}} {
			mat(fmt.Sprintf("lstm.weight_ih_l%d%s", k, dir.suffix), dir.d.WIH)
			mat(fmt.Sprintf("lstm.weight_hh_l%d%s", k, dir.suffix), dir.d.WHH)
			vec(fmt.Sprintf("lstm.bias_ih_l%d%s", k, dir.suffix), dir.d.BIH)
			vec(fmt.Sprintf("lstm.bias_hh_l%d%s", k, dir.suffix), dir.d.BHH)
		}
	}
	lin("attention_fc", p.Attention)
	vec("batch_norm.weight", p.BatchNorm.Weight)
	vec("batch_norm.bias", p.BatchNorm.Bias)
	vec("batch_norm.running_mean", p.BatchNorm.RunningMean)
	vec("batch_norm.running_var", p.BatchNorm.RunningVar)
	lin("fc1", p.FC1)
	vec("layer_norm.weight", p.LayerNorm.Weight)
	vec("layer_norm.bias", p.LayerNorm.Bias)
	lin("fc2", p.FC2)
	lin("fc3", p.FC3)
	return out
}

// EncodeWeights writes p to w as a MessagePack weights document.
func EncodeWeights(w io.Writer, p *Params) error {
	doc := weightsFile{
		Format:  WeightsFormat,
		Version: WeightsVersion,
		Config:  p.Config,
		Tensors: make(map[string]tensor),
	}
	for _, t := range p.tensors() {
		data := make([]float32, len(t.data))
		for i, v := range t.data {
			data[i] = float32(v)
		}
		doc.Tensors[t.name] = tensor{Shape: t.shape, Data: data}
	}
	if err := msgpack.NewEncoder(w).Encode(&doc); err != nil {
		return fmt.Errorf("model: encode weights: %w", err)
	}
	return nil
}

// DecodeWeights reads a weights document from r. Every tensor the
// configuration requires must be present with exactly the expected shape.
// Unknown extra tensors (such as num_batches_tracked) are ignored.
func DecodeWeights(r io.Reader) (*Params, error) {
	var doc weightsFile
	if err := msgpack.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeightsFormat, err)
	}
	if doc.Format != WeightsFormat {
		return nil, fmt.Errorf("%w: format %q", ErrWeightsFormat, doc.Format)
	}
	if doc.Version != WeightsVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrWeightsFormat, doc.Version, WeightsVersion)
	}
	p, err := NewParams(doc.Config)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, want := range p.tensors() {
		got, ok := doc.Tensors[want.name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s missing", ErrShapeMismatch, want.name))
			continue
		}
		if !slices.Equal(got.Shape, want.shape) || len(got.Data) != len(want.data) {
			errs = append(errs, fmt.Errorf("%w: %s has shape %v (%d values), want %v",
				ErrShapeMismatch, want.name, got.Shape, len(got.Data), want.shape))
			continue
		}
		for i, v := range got.Data {
			want.data[i] = float64(v)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

// ReadWeightsFile loads parameters from path.
func ReadWeightsFile(path string) (*Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open weights: %w", err)
	}
	defer f.Close()
	p, err := DecodeWeights(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// WriteWeightsFile stores p at path, replacing any existing file atomically.
func WriteWeightsFile(path string, p *Params) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("model: write weights: %w", err)
	}
	f, err := os.CreateTemp(dir, ".weights-*")
	if err != nil {
		return fmt.Errorf("model: write weights: %w", err)
	}
	defer os.Remove(f.Name())

	if err := EncodeWeights(f, p); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("model: write weights: %w", err)
	}
	return os.Rename(f.Name(), path)
}
