package textproc

import (
	"cmp"
	"slices"
)

// PadIndex is the token id used for padding and for out-of-vocabulary words.
const PadIndex = 0

// MinWordFrequency is the minimum corpus frequency for a word to enter the
// vocabulary.
const MinWordFrequency = 2

// Vocabulary maps normalized words to token ids in 1..N. The zero id is never
// assigned; it is reserved for padding and unknown words.
type Vocabulary map[string]int

// Lookup returns the id of word, or PadIndex when word is unknown.
func (v Vocabulary) Lookup(word string) int {
	if idx, ok := v[word]; ok {
		return idx
	}
	return PadIndex
}

// Size returns the number of embedding rows the vocabulary needs: its largest
// id plus one for the padding row.
func (v Vocabulary) Size() int {
	maxIdx := 0
	for _, idx := range v {
		maxIdx = max(maxIdx, idx)
	}
	return maxIdx + 1
}

// BuildVocabulary ranks the words of a normalized corpus by descending
// frequency, keeps the first maxWords, drops those seen fewer than
// MinWordFrequency times and numbers the survivors from 1.
//
// Words with equal frequency keep the order of their first occurrence in the
// corpus, so the result is deterministic for a given corpus order.
func BuildVocabulary(normalizedCorpus []string, maxWords int) Vocabulary {
	type entry struct {
		word  string
		count int
	}
	var order []*entry
	seen := make(map[string]*entry)
	for _, doc := range normalizedCorpus {
		for _, w := range fields(doc) {
			e, ok := seen[w]
			if !ok {
				e = &entry{word: w}
				seen[w] = e
				order = append(order, e)
			}
			e.count++
		}
	}

	ranked := slices.Clone(order)
	slices.SortStableFunc(ranked, func(a, b *entry) int {
		return cmp.Compare(b.count, a.count)
	})

	if maxWords >= 0 && len(ranked) > maxWords {
		ranked = ranked[:maxWords]
	}

	vocab := make(Vocabulary, len(ranked))
	next := 1
	for _, e := range ranked {
		if e.count < MinWordFrequency {
			continue
		}
		vocab[e.word] = next
		next++
	}
	return vocab
}
