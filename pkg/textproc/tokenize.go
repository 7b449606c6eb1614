package textproc

// Tokenize maps the whitespace-separated words of normalized to vocabulary
// ids, truncates the sequence to maxLen and right-pads it with PadIndex. The
// result always has exactly maxLen entries (none when maxLen <= 0).
func Tokenize(normalized string, vocab Vocabulary, maxLen int) []int {
	if maxLen <= 0 {
		return []int{}
	}
	ids := make([]int, maxLen)
	for i, w := range fields(normalized) {
		if i == maxLen {
			break
		}
		ids[i] = vocab.Lookup(w)
	}
	return ids
}
