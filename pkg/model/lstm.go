package model

import "math"

// run feeds seq through both directions of the layer and returns, for every
// position, the forward hidden state followed by the backward hidden state.
// Every position is processed, padding included.
func (l LSTMLayer) run(seq [][]float64, h int) [][]float64 {
	n := len(seq)
	out := make([][]float64, n)
	for t := range out {
		out[t] = make([]float64, 2*h)
	}

	fwd := newCellState(h)
	for t := 0; t < n; t++ {
		l.Forward.step(seq[t], fwd)
		copy(out[t][:h], fwd.h)
	}
	bwd := newCellState(h)
	for t := n - 1; t >= 0; t-- {
		l.Backward.step(seq[t], bwd)
		copy(out[t][h:], bwd.h)
	}
	return out
}

type cellState struct {
	h, c  []float64
	gates []float64
}

func newCellState(h int) *cellState {
	return &cellState{
		h:     make([]float64, h),
		c:     make([]float64, h),
		gates: make([]float64, 4*h),
	}
}

// step advances s by one input vector.
func (d LSTMDirection) step(x []float64, s *cellState) {
	h := len(s.h)
	for r := range s.gates {
		acc := d.BIH[r] + d.BHH[r]
		wi := d.WIH.Row(r)
		for j, v := range x {
			acc += wi[j] * v
		}
		wh := d.WHH.Row(r)
		for j, v := range s.h {
			acc += wh[j] * v
		}
		s.gates[r] = acc
	}
	for j := range h {
		i := sigmoid(s.gates[j])
		f := sigmoid(s.gates[h+j])
		g := math.Tanh(s.gates[2*h+j])
		o := sigmoid(s.gates[3*h+j])
		s.c[j] = f*s.c[j] + i*g
		s.h[j] = o * math.Tanh(s.c[j])
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
