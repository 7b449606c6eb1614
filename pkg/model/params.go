package model

// Matrix is a dense row-major matrix.
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

// NewMatrix allocates a zero rows×cols matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// Row returns row i as a slice aliasing the matrix storage.
func (m Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Set assigns m[i][j].
func (m Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// At returns m[i][j].
func (m Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Linear is a fully connected layer computing W·x + B with W of shape
// out×in.
type Linear struct {
	W Matrix
	B []float64
}

func newLinear(in, out int) Linear {
	return Linear{W: NewMatrix(out, in), B: make([]float64, out)}
}

// apply writes W·x + B into a new slice.
func (l Linear) apply(x []float64) []float64 {
	out := make([]float64, l.W.Rows)
	for i := range out {
		row := l.W.Row(i)
		s := l.B[i]
		for j, v := range x {
			s += row[j] * v
		}
		out[i] = s
	}
	return out
}

// LSTMDirection holds the weights of one direction of one LSTM layer. Gate
// blocks are stacked in input, forget, cell, output order along the rows.
type LSTMDirection struct {
	WIH Matrix // 4H × in
	WHH Matrix // 4H × H
	BIH []float64
	BHH []float64
}

// LSTMLayer is one bidirectional layer.
type LSTMLayer struct {
	Forward  LSTMDirection
	Backward LSTMDirection
}

// BatchNorm holds affine parameters and running statistics of a batch
// normalisation layer.
type BatchNorm struct {
	Weight      []float64
	Bias        []float64
	RunningMean []float64
	RunningVar  []float64
}

// LayerNorm holds the affine parameters of a layer normalisation layer.
type LayerNorm struct {
	Weight []float64
	Bias   []float64
}

// Params is the full parameter bundle of a classifier. Treat it as
// read-only after construction.
type Params struct {
	Config    Config
	Embedding Matrix // VocabSize × EmbedDim; row 0 is the padding row
	LSTM      []LSTMLayer
	Attention Linear // 1 × 2H
	BatchNorm BatchNorm
	FC1       Linear // H × (2H + E)
	LayerNorm LayerNorm
	FC2       Linear // H/2 × H
	FC3       Linear // C × H/2
}

// NewParams allocates zero-valued parameters shaped for cfg, with unit
// normalisation scales and unit running variance.
func NewParams(cfg Config) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := cfg.HiddenDim
	p := &Params{
		Config:    cfg,
		Embedding: NewMatrix(cfg.VocabSize, cfg.EmbedDim),
		LSTM:      make([]LSTMLayer, cfg.NumLayers),
		Attention: newLinear(2*h, 1),
		BatchNorm: BatchNorm{
			Weight:      ones(2 * h),
			Bias:        make([]float64, 2*h),
			RunningMean: make([]float64, 2*h),
			RunningVar:  ones(2 * h),
		},
		FC1:       newLinear(2*h+cfg.ExtraDim, h),
		LayerNorm: LayerNorm{Weight: ones(h), Bias: make([]float64, h)},
		FC2:       newLinear(h, cfg.headDim()),
		FC3:       newLinear(cfg.headDim(), cfg.NumClasses),
	}
	for k := range p.LSTM {
		in := cfg.EmbedDim
		if k > 0 {
			in = 2 * h
		}
		p.LSTM[k] = LSTMLayer{Forward: newDirection(in, h), Backward: newDirection(in, h)}
	}
	return p, nil
}

func newDirection(in, h int) LSTMDirection {
	return LSTMDirection{
		WIH: NewMatrix(4*h, in),
		WHH: NewMatrix(4*h, h),
		BIH: make([]float64, 4*h),
		BHH: make([]float64, 4*h),
	}
}

// WithRunningStats returns a shallow copy of p whose batch normalisation
// running statistics are replaced. p itself is not modified.
func (p *Params) WithRunningStats(mean, variance []float64) *Params {
	cp := *p
	cp.BatchNorm.RunningMean = mean
	cp.BatchNorm.RunningVar = variance
	return &cp
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
