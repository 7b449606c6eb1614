package textproc

import (
	"slices"

	"github.com/cloudflare/ahocorasick"
)

// ScamKeywords is the fixed trigger list counted by the scam_keyword_count
// feature. Its contents and order are part of the pipeline contract.
var ScamKeywords = []string{
	"urgent", "click", "free", "winner", "prize", "congratulations",
	"claim", "limited", "act now", "verify", "suspended", "account",
	"password", "bank", "credit card", "won", "lottery", "call now",
}

// keywordMatcher finds every keyword that occurs as a substring of a
// normalized text. Each dictionary entry is reported at most once per scan.
var keywordMatcher = newKeywordMatcher(ScamKeywords)

func newKeywordMatcher(words []string) *ahocorasick.Matcher {
	patterns := make([][]byte, len(words))
	for i, w := range words {
		patterns[i] = []byte(w)
	}
	return ahocorasick.NewMatcher(patterns)
}

// keywordHits returns the indices into ScamKeywords of every keyword
// contained in normalized, ascending.
func keywordHits(normalized string) []int {
	if normalized == "" {
		return nil
	}
	hits := keywordMatcher.MatchThreadSafe([]byte(normalized))
	slices.Sort(hits)
	return slices.Compact(hits)
}

// CountKeywords returns how many distinct scam keywords occur as substrings
// of normalized. A keyword appearing several times counts once.
func CountKeywords(normalized string) int {
	return len(keywordHits(normalized))
}

// MatchedKeywords returns the scam keywords contained in normalized, in
// ScamKeywords order.
func MatchedKeywords(normalized string) []string {
	hits := keywordHits(normalized)
	if len(hits) == 0 {
		return nil
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = ScamKeywords[h]
	}
	return out
}
