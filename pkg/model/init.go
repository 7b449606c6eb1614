package model

import (
	"math"
	"math/rand/v2"
)

// InitParams returns freshly initialised parameters for cfg, reproducible for
// a given seed. Embeddings are drawn from N(0, 1) with a zero padding row;
// recurrent weights from U(-1/√H, 1/√H); linear layers from
// U(-1/√fan_in, 1/√fan_in). Normalisation layers start as the identity.
func InitParams(cfg Config, seed uint64) (*Params, error) {
	p, err := NewParams(cfg)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	for i := range p.Embedding.Data {
		p.Embedding.Data[i] = rng.NormFloat64()
	}
	clear(p.Embedding.Row(0))

	bound := 1 / math.Sqrt(float64(cfg.HiddenDim))
	for k := range p.LSTM {
		for _, d := range []*LSTMDirection{&p.LSTM[k].Forward, &p.LSTM[k].Backward} {
			uniform(rng, d.WIH.Data, bound)
			uniform(rng, d.WHH.Data, bound)
			uniform(rng, d.BIH, bound)
			uniform(rng, d.BHH, bound)
		}
	}
	for _, l := range []*Linear{&p.Attention, &p.FC1, &p.FC2, &p.FC3} {
		b := 1 / math.Sqrt(float64(l.W.Cols))
		uniform(rng, l.W.Data, b)
		uniform(rng, l.B, b)
	}
	return p, nil
}

func uniform(rng *rand.Rand, dst []float64, bound float64) {
	for i := range dst {
		dst[i] = (2*rng.Float64() - 1) * bound
	}
}
