package textproc

import (
	"errors"
	"fmt"
	"math"
)

// ErrScalerConfig is returned when scaler parameters violate the scaler
// invariants.
var ErrScalerConfig = errors.New("textproc: invalid scaler configuration")

// Scaler standardises lexical feature vectors with per-feature mean and scale
// fitted on the training corpus.
type Scaler struct {
	Mean  Features
	Scale Features
}

// NewScaler validates mean and scale and returns a Scaler. Both slices must
// hold exactly FeatureCount values and every scale must be finite and
// strictly positive.
func NewScaler(mean, scale []float64) (Scaler, error) {
	if len(mean) != FeatureCount || len(scale) != FeatureCount {
		return Scaler{}, fmt.Errorf("%w: want %d means and scales, got %d and %d",
			ErrScalerConfig, FeatureCount, len(mean), len(scale))
	}
	var s Scaler
	for i := range FeatureCount {
		if math.IsNaN(mean[i]) || math.IsInf(mean[i], 0) {
			return Scaler{}, fmt.Errorf("%w: mean[%d] (%s) is not finite", ErrScalerConfig, i, FeatureNames[i])
		}
		if !(scale[i] > 0) || math.IsInf(scale[i], 0) {
			return Scaler{}, fmt.Errorf("%w: scale[%d] (%s) = %v must be finite and > 0",
				ErrScalerConfig, i, FeatureNames[i], scale[i])
		}
		s.Mean[i] = mean[i]
		s.Scale[i] = scale[i]
	}
	return s, nil
}

// Transform returns (f - mean) / scale element-wise.
func (s Scaler) Transform(f Features) Features {
	var out Features
	for i := range f {
		out[i] = (f[i] - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// FitScaler computes per-feature mean and population standard deviation over
// rows. A feature with zero deviation gets scale 1 so Transform stays defined.
// An empty input yields zero means and unit scales.
func FitScaler(rows []Features) Scaler {
	var s Scaler
	for i := range s.Scale {
		s.Scale[i] = 1
	}
	if len(rows) == 0 {
		return s
	}
	n := float64(len(rows))
	for _, r := range rows {
		for i, v := range r {
			s.Mean[i] += v
		}
	}
	for i := range s.Mean {
		s.Mean[i] /= n
	}
	var sq Features
	for _, r := range rows {
		for i, v := range r {
			d := v - s.Mean[i]
			sq[i] += d * d
		}
	}
	for i := range sq {
		std := math.Sqrt(sq[i] / n)
		if std > 0 {
			s.Scale[i] = std
		}
	}
	return s
}
