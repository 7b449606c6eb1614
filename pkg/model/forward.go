package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Mode selects inference or training behaviour of the forward pass.
type Mode int

const (
	// ModeInference disables dropout and normalises with frozen running
	// statistics.
	ModeInference Mode = iota

	// ModeTraining applies dropout and normalises with batch statistics.
	ModeTraining
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeInference:
		return "inference"
	case ModeTraining:
		return "training"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

var (
	// ErrInput is returned when a batch does not fit the model configuration.
	ErrInput = errors.New("model: invalid input")

	// ErrTrainingBatch is returned for a training-mode batch that cannot
	// produce batch statistics or lacks a random source.
	ErrTrainingBatch = errors.New("model: training mode needs a random source and at least two examples")
)

// Example is one model input: a token id sequence and its scaled lexical
// features.
type Example struct {
	Tokens   []int
	Features []float64
}

// ForwardOptions controls a forward pass.
type ForwardOptions struct {
	Mode Mode

	// Rand drives dropout masks. Required in ModeTraining, ignored otherwise.
	Rand *rand.Rand
}

// ForwardResult is the output of a forward pass.
type ForwardResult struct {
	// Logits holds one row of raw class scores per example.
	Logits [][]float64

	// RunningMean and RunningVar are the updated batch normalisation running
	// statistics after a training-mode pass. They are nil in ModeInference.
	// Apply them with [Params.WithRunningStats].
	RunningMean []float64
	RunningVar  []float64
}

// Forward computes class logits for a batch.
func Forward(p *Params, batch []Example, opts ForwardOptions) (ForwardResult, error) {
	training := opts.Mode == ModeTraining
	if training && (opts.Rand == nil || len(batch) < 2) {
		return ForwardResult{}, ErrTrainingBatch
	}
	if opts.Mode != ModeInference && !training {
		return ForwardResult{}, fmt.Errorf("%w: unknown mode %v", ErrInput, opts.Mode)
	}
	for i, ex := range batch {
		if err := p.checkExample(ex); err != nil {
			return ForwardResult{}, fmt.Errorf("example %d: %w", i, err)
		}
	}

	cfg := p.Config
	drop := dropper{rng: opts.Rand, on: training}

	contexts := make([][]float64, len(batch))
	for i, ex := range batch {
		contexts[i] = p.encode(ex.Tokens, drop)
	}

	var res ForwardResult
	if training {
		res.RunningMean, res.RunningVar = p.batchNormTrain(contexts)
	} else {
		for _, c := range contexts {
			p.batchNormInfer(c)
		}
	}

	res.Logits = make([][]float64, len(batch))
	for i, ex := range batch {
		ctx := drop.apply(contexts[i], cfg.Dropout)
		res.Logits[i] = p.head(ctx, ex.Features, drop)
	}
	return res, nil
}

// Score runs a single example through the model in inference mode and
// returns its logits.
func Score(p *Params, tokens []int, features []float64) ([]float64, error) {
	res, err := Forward(p, []Example{{Tokens: tokens, Features: features}}, ForwardOptions{Mode: ModeInference})
	if err != nil {
		return nil, err
	}
	return res.Logits[0], nil
}

func (p *Params) checkExample(ex Example) error {
	if len(ex.Features) != p.Config.ExtraDim {
		return fmt.Errorf("%w: want %d features, got %d", ErrInput, p.Config.ExtraDim, len(ex.Features))
	}
	for t, id := range ex.Tokens {
		if id < 0 || id >= p.Config.VocabSize {
			return fmt.Errorf("%w: token %d at position %d outside vocabulary of %d", ErrInput, id, t, p.Config.VocabSize)
		}
	}
	return nil
}

// encode embeds tokens, runs the recurrent stack and pools it with attention.
func (p *Params) encode(tokens []int, drop dropper) []float64 {
	h := p.Config.HiddenDim
	seq := make([][]float64, len(tokens))
	for t, id := range tokens {
		emb := append([]float64(nil), p.Embedding.Row(id)...)
		seq[t] = drop.apply(emb, p.Config.Dropout)
	}
	for k, layer := range p.LSTM {
		if k > 0 {
			for t := range seq {
				seq[t] = drop.apply(seq[t], p.Config.Dropout)
			}
		}
		seq = layer.run(seq, h)
	}
	return p.attend(seq)
}

// attend pools the sequence into a context vector weighted by a softmax over
// positions of the attention projection.
func (p *Params) attend(seq [][]float64) []float64 {
	width := 2 * p.Config.HiddenDim
	ctx := make([]float64, width)
	if len(seq) == 0 {
		return ctx
	}
	scores := make([]float64, len(seq))
	for t, v := range seq {
		scores[t] = p.Attention.apply(v)[0]
	}
	weights := Softmax(scores)
	for t, v := range seq {
		for j := range ctx {
			ctx[j] += weights[t] * v[j]
		}
	}
	return ctx
}

func (p *Params) batchNormInfer(x []float64) {
	bn := p.BatchNorm
	for j := range x {
		x[j] = (x[j]-bn.RunningMean[j])/math.Sqrt(bn.RunningVar[j]+BatchNormEps)*bn.Weight[j] + bn.Bias[j]
	}
}

// batchNormTrain normalises xs in place with batch statistics and returns the
// updated running statistics.
func (p *Params) batchNormTrain(xs [][]float64) (runMean, runVar []float64) {
	bn := p.BatchNorm
	width := len(bn.Weight)
	n := float64(len(xs))
	mean := make([]float64, width)
	for _, x := range xs {
		for j, v := range x {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	variance := make([]float64, width)
	for _, x := range xs {
		for j, v := range x {
			d := v - mean[j]
			variance[j] += d * d
		}
	}
	runMean = make([]float64, width)
	runVar = make([]float64, width)
	for j := range variance {
		biased := variance[j] / n
		unbiased := variance[j] / (n - 1)
		runMean[j] = (1-BatchNormMomentum)*bn.RunningMean[j] + BatchNormMomentum*mean[j]
		runVar[j] = (1-BatchNormMomentum)*bn.RunningVar[j] + BatchNormMomentum*unbiased
		variance[j] = biased
	}
	for _, x := range xs {
		for j := range x {
			x[j] = (x[j]-mean[j])/math.Sqrt(variance[j]+BatchNormEps)*bn.Weight[j] + bn.Bias[j]
		}
	}
	return runMean, runVar
}

// head concatenates the pooled context with the lexical features and runs
// the feedforward classifier.
func (p *Params) head(ctx, features []float64, drop dropper) []float64 {
	half := p.Config.Dropout / 2
	x := make([]float64, 0, len(ctx)+len(features))
	x = append(x, ctx...)
	x = append(x, features...)

	x = relu(p.FC1.apply(x))
	x = p.LayerNorm.apply(x)
	x = drop.apply(x, half)
	x = relu(p.FC2.apply(x))
	x = drop.apply(x, half)
	return p.FC3.apply(x)
}

func (ln LayerNorm) apply(x []float64) []float64 {
	n := float64(len(x))
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= n
	var variance float64
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= n
	inv := 1 / math.Sqrt(variance+LayerNormEps)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v-mean)*inv*ln.Weight[i] + ln.Bias[i]
	}
	return out
}

func relu(x []float64) []float64 {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
	return x
}

// dropper applies inverted dropout when on.
type dropper struct {
	rng *rand.Rand
	on  bool
}

func (d dropper) apply(x []float64, rate float64) []float64 {
	if !d.on || rate <= 0 {
		return x
	}
	keep := 1 - rate
	for i := range x {
		if d.rng.Float64() < rate {
			x[i] = 0
		} else {
			x[i] /= keep
		}
	}
	return x
}

// Softmax returns the numerically stable softmax of logits.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	m := math.Inf(-1)
	for _, v := range logits {
		m = max(m, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value, preferring the lowest index
// on ties, or -1 for an empty slice.
func Argmax(xs []float64) int {
	best := -1
	for i, v := range xs {
		if best < 0 || v > xs[best] {
			best = i
		}
	}
	return best
}
