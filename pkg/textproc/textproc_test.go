package textproc

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"allow list kept", "Win $100 NOW!!! call 911?", "win $100 now!!! call 911?"},
		{"punctuation stripped", "Hello, World... (test)", "hello world test"},
		{"whitespace collapsed", "  a \t\n  b  ", "a b"},
		{"percent and underscore", "50% off_now", "50% off_now"},
		{"hyphenated number", "1-800-555-0123", "1 800 555 0123"},
		{"unicode letters", "Überweisung JETZT", "überweisung jetzt"},
		{"only symbols", "@#&*()", ""},
		{"dotted capital i", "İstanbul BANK", "i stanbul bank"},
		{"final sigma", "ΟΔΟΣ ΤΡΑΠΕΖΑ", "οδος τραπεζα"},
		{"information separator", "verify\x1caccount", "verify account"},
		{"circled capital dropped", "Ⓐccount ①", "ccount ①"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q; want %q", tt.in, got, tt.want)
			}
			if again := Normalize(got); again != got {
				t.Errorf("Normalize not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestExtractFeatures_Pinned(t *testing.T) {
	text := "URGENT! Claim your FREE prize now! Call 1-800-555-0123"
	got := ExtractFeatures(text, Normalize(text))
	want := Features{
		54,        // text_len
		11,        // word_count
		11,        // num_digits
		12,        // num_upper
		5,         // num_special
		54.0 / 12, // avg_word_len
		11.0 / 55, // digit_ratio
		12.0 / 55, // upper_ratio
		5.0 / 55,  // special_ratio
		4,         // urgent, free, prize, claim
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("%s = %v; want %v", FeatureNames[i], got[i], want[i])
		}
	}
}

func TestExtractFeatures_UnicodeCounts(t *testing.T) {
	tests := []struct {
		text                   string
		digits, upper, special float64
	}{
		{"call² now", 1, 0, 0},
		{"Ⓐccount ①", 1, 1, 1},
		{"₁₂₃ ❶", 4, 0, 0},
		{"ǅ Ⅻ", 0, 1, 0},
	}
	for _, tt := range tests {
		f := ExtractFeatures(tt.text, Normalize(tt.text))
		if f[2] != tt.digits || f[3] != tt.upper || f[4] != tt.special {
			t.Errorf("%q: digits=%v upper=%v special=%v; want %v %v %v",
				tt.text, f[2], f[3], f[4], tt.digits, tt.upper, tt.special)
		}
	}
}

func TestExtractFeatures_Empty(t *testing.T) {
	got := ExtractFeatures("", "")
	if got != (Features{}) {
		t.Errorf("ExtractFeatures(\"\") = %v; want all zeros", got)
	}
}

func TestCountKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"none", "hello how are you", 0},
		{"repeated counts once", "free free free", 1},
		{"multi word", "please call now about your credit card", 2},
		{"substring inside word", "you have won", 1},
		{"substring of longer word", "the bankers account", 2},
		{"overlapping keywords", "act now and call now", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountKeywords(tt.in); got != tt.want {
				t.Errorf("CountKeywords(%q) = %d; want %d (matched %v)", tt.in, got, tt.want, MatchedKeywords(tt.in))
			}
		})
	}
}

func TestMatchedKeywords_Order(t *testing.T) {
	got := MatchedKeywords("verify your bank password urgent")
	want := []string{"urgent", "verify", "password", "bank"}
	if !slices.Equal(got, want) {
		t.Errorf("MatchedKeywords = %v; want %v", got, want)
	}
}

func TestTokenize_Length(t *testing.T) {
	vocab := Vocabulary{"call": 1, "now": 2, "bank": 3}
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   []int
	}{
		{"zero words", "", 4, []int{0, 0, 0, 0}},
		{"one word", "call", 4, []int{1, 0, 0, 0}},
		{"oov maps to pad", "call mom now", 4, []int{1, 0, 2, 0}},
		{"truncated", "call now bank call now", 3, []int{1, 2, 3}},
		{"non positive max", "call", 0, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in, vocab, tt.maxLen)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Tokenize(%q, %d) = %v; want %v", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestBuildVocabulary(t *testing.T) {
	corpus := []string{
		"call now bank",
		"bank call urgent",
		"now bank once",
	}
	got := BuildVocabulary(corpus, 3000)
	// bank=3, call=2, now=2 (call seen first), urgent/once dropped.
	want := Vocabulary{"bank": 1, "call": 2, "now": 3}
	if len(got) != len(want) {
		t.Fatalf("vocab = %v; want %v", got, want)
	}
	for w, idx := range want {
		if got[w] != idx {
			t.Errorf("vocab[%q] = %d; want %d", w, got[w], idx)
		}
	}
	if got.Size() != 4 {
		t.Errorf("Size() = %d; want 4", got.Size())
	}
}

func TestBuildVocabulary_CapAppliedBeforeFrequencyFilter(t *testing.T) {
	corpus := []string{"a a a b b c c d"}
	got := BuildVocabulary(corpus, 2)
	if len(got) != 2 || got["a"] != 1 || got["b"] != 2 {
		t.Errorf("vocab = %v; want map[a:1 b:2]", got)
	}
}

func TestScaler_TransformMeanIsZero(t *testing.T) {
	mean := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	scale := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	s, err := NewScaler(mean, scale)
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}
	var f Features
	copy(f[:], mean)
	if got := s.Transform(f); got != (Features{}) {
		t.Errorf("Transform(mean) = %v; want zeros", got)
	}
}

func TestNewScaler_Invalid(t *testing.T) {
	ones := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	zeroScale := slices.Clone(ones)
	zeroScale[3] = 0
	tests := []struct {
		name        string
		mean, scale []float64
	}{
		{"short mean", ones[:9], ones},
		{"long scale", ones, append(slices.Clone(ones), 1)},
		{"zero scale", ones, zeroScale},
		{"nan scale", ones, append(slices.Clone(ones[:9]), math.NaN())},
		{"inf mean", append(slices.Clone(ones[:9]), math.Inf(1)), ones},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScaler(tt.mean, tt.scale)
			if !errors.Is(err, ErrScalerConfig) {
				t.Errorf("err = %v; want ErrScalerConfig", err)
			}
		})
	}
}

func TestFitScaler(t *testing.T) {
	rows := []Features{
		{0, 5}, {2, 5}, {4, 5},
	}
	s := FitScaler(rows)
	if s.Mean[0] != 2 || s.Mean[1] != 5 {
		t.Errorf("mean = %v", s.Mean)
	}
	// population std of {0,2,4} = sqrt(8/3)
	if math.Abs(s.Scale[0]-math.Sqrt(8.0/3)) > 1e-12 {
		t.Errorf("scale[0] = %v; want %v", s.Scale[0], math.Sqrt(8.0/3))
	}
	if s.Scale[1] != 1 {
		t.Errorf("scale[1] = %v; want 1 for constant feature", s.Scale[1])
	}
	if _, err := NewScaler(s.Mean[:], s.Scale[:]); err != nil {
		t.Errorf("fitted scaler rejected: %v", err)
	}
}

func TestEncoder_CasingAndSpacingInvariance(t *testing.T) {
	enc := Encoder{
		Vocab:  Vocabulary{"verify": 1, "your": 2, "account": 3, "now!": 4},
		MaxLen: 8,
		Scaler: FitScaler(nil),
	}
	a := enc.Encode("Verify your account NOW!")
	b := enc.Encode("verify,  your ACCOUNT   now!")
	if !slices.Equal(a.Tokens, b.Tokens) {
		t.Errorf("tokens differ: %v vs %v", a.Tokens, b.Tokens)
	}
	if a.Normalized != b.Normalized {
		t.Errorf("normalized differ: %q vs %q", a.Normalized, b.Normalized)
	}
	if a.Features[9] != 2 {
		t.Errorf("keyword count = %v; want 2", a.Features[9])
	}
}
