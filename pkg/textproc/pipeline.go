package textproc

// Encoded holds every intermediate of the preprocessing pipeline for one text.
type Encoded struct {
	Normalized string
	Tokens     []int
	Features   Features
	Scaled     Features
}

// Encoder bundles the fitted preprocessing state. The zero value is not
// usable; build one from loaded artifacts.
type Encoder struct {
	Vocab  Vocabulary
	MaxLen int
	Scaler Scaler
}

// Encode runs normalisation, tokenisation, feature extraction and scaling on
// text. It never fails and never mutates the encoder.
func (e Encoder) Encode(text string) Encoded {
	norm := Normalize(text)
	feats := ExtractFeatures(text, norm)
	return Encoded{
		Normalized: norm,
		Tokens:     Tokenize(norm, e.Vocab, e.MaxLen),
		Features:   feats,
		Scaled:     e.Scaler.Transform(feats),
	}
}
