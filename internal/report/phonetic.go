package report

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/vishguard/pkg/textproc"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92

	// minNearMissLen skips short words whose similarity scores are noise.
	minNearMissLen = 4
)

// NearMiss is a transcript phrase that sounds like a scam keyword without
// containing it, typically a speech-to-text misspelling.
type NearMiss struct {
	Heard   string  `json:"heard"`
	Keyword string  `json:"keyword"`
	Score   float64 `json:"score"`
}

// NearMissFinder compares transcript n-grams against [textproc.ScamKeywords]
// using Double Metaphone codes and Jaro-Winkler similarity. It is read-only
// after construction and safe for concurrent use.
type NearMissFinder struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	keywords          []keywordCodes
}

type keywordCodes struct {
	keyword string
	joined  string
	words   int
	codes   []string
}

// NewNearMissFinder returns a finder with the given thresholds. A threshold
// of zero selects the default (0.80 with a phonetic code match, 0.92 without).
func NewNearMissFinder(phoneticThreshold, fuzzyThreshold float64) *NearMissFinder {
	if phoneticThreshold <= 0 {
		phoneticThreshold = defaultPhoneticThreshold
	}
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = defaultFuzzyThreshold
	}
	f := &NearMissFinder{phoneticThreshold: phoneticThreshold, fuzzyThreshold: fuzzyThreshold}
	for _, kw := range textproc.ScamKeywords {
		joined := strings.ReplaceAll(kw, " ", "")
		f.keywords = append(f.keywords, keywordCodes{
			keyword: kw,
			joined:  joined,
			words:   len(strings.Fields(kw)),
			codes:   metaphone(joined),
		})
	}
	return f
}

// Find returns the best near miss per keyword for a normalized transcript,
// in keyword list order. Keywords already present in the text are skipped.
func (f *NearMissFinder) Find(normalized string) []NearMiss {
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return nil
	}
	present := textproc.MatchedKeywords(normalized)

	var out []NearMiss
	for _, kw := range f.keywords {
		if slices.Contains(present, kw.keyword) {
			continue
		}
		best := NearMiss{Keyword: kw.keyword}
		for i := 0; i+kw.words <= len(tokens); i++ {
			gram := tokens[i : i+kw.words]
			joined := strings.Join(gram, "")
			if len(joined) < minNearMissLen || joined == kw.joined {
				continue
			}
			score := matchr.JaroWinkler(joined, kw.joined, false)
			threshold := f.fuzzyThreshold
			if codesOverlap(metaphone(joined), kw.codes) {
				threshold = f.phoneticThreshold
			}
			if score >= threshold && score > best.Score {
				best.Heard = strings.Join(gram, " ")
				best.Score = score
			}
		}
		if best.Heard != "" {
			out = append(out, best)
		}
	}
	return out
}

// metaphone returns the non-empty Double Metaphone codes of word.
func metaphone(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	var codes []string
	for _, c := range []string{p, s} {
		if c != "" && !slices.Contains(codes, c) {
			codes = append(codes, c)
		}
	}
	return codes
}

func codesOverlap(a, b []string) bool {
	for _, c := range a {
		if slices.Contains(b, c) {
			return true
		}
	}
	return false
}
