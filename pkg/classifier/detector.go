package classifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/vishguard/pkg/artifact"
	"github.com/MrWong99/vishguard/pkg/model"
	"github.com/MrWong99/vishguard/pkg/textproc"
)

// Detector is the local inference orchestrator. It is immutable after
// construction and safe for concurrent use.
type Detector struct {
	enc    textproc.Encoder
	params *model.Params
	labels []string
}

// Compile-time interface assertion.
var _ Predictor = (*Detector)(nil)

// NewDetector builds a Detector from a validated artifact bundle.
func NewDetector(b *artifact.Bundle) (*Detector, error) {
	if b == nil || b.Params == nil {
		return nil, fmt.Errorf("%w: nil bundle", ErrLoad)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return &Detector{
		enc:    b.Encoder(),
		params: b.Params,
		labels: append([]string(nil), b.Labels...),
	}, nil
}

// Load reads the artifacts at paths and builds a Detector. All files are
// loaded eagerly; any missing, malformed or inconsistent artifact is an
// error.
func Load(paths artifact.Paths) (*Detector, error) {
	b, err := artifact.Load(paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	d, err := NewDetector(b)
	if err != nil {
		return nil, err
	}
	slog.Info("detector loaded",
		"vocab", len(b.Vocab),
		"max_len", b.MaxLen,
		"labels", b.Labels,
		"hidden_dim", b.Params.Config.HiddenDim,
		"layers", b.Params.Config.NumLayers,
	)
	return d, nil
}

// Labels returns a copy of the label set in class-id order.
func (d *Detector) Labels() []string {
	return append([]string(nil), d.labels...)
}

// MaxLen returns the token sequence length the model reads.
func (d *Detector) MaxLen() int {
	return d.enc.MaxLen
}

// Encode exposes the preprocessing result for text. Training-side tooling
// uses it to check parity with the serving path.
func (d *Detector) Encode(text string) textproc.Encoded {
	return d.enc.Encode(text)
}

// Predict classifies text. Every string, including the empty string, yields
// a label from the label set; an error is returned only when the numeric
// pipeline itself fails.
func (d *Detector) Predict(ctx context.Context, text string) (pred Prediction, err error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			pred = Prediction{}
			err = fmt.Errorf("%w: %v", ErrPredictionFailed, r)
		}
	}()

	enc := d.enc.Encode(text)
	logits, err := model.Score(d.params, enc.Tokens, enc.Scaled[:])
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrPredictionFailed, err)
	}
	probs := model.Softmax(logits)
	best := model.Argmax(probs)
	if best < 0 || best >= len(d.labels) {
		return Prediction{}, fmt.Errorf("%w: class %d outside label set", ErrPredictionFailed, best)
	}

	byLabel := make(map[string]float64, len(probs))
	for i, p := range probs {
		byLabel[d.labels[i]] = p
	}
	return Prediction{
		Label:         d.labels[best],
		Confidence:    RoundConfidence(probs[best]),
		Text:          text,
		Probabilities: byLabel,
		Keywords:      textproc.MatchedKeywords(enc.Normalized),
	}, nil
}
