// Package textproc is the preprocessing contract shared by training-side
// preparation and serving-time inference.
//
// Every transformation that turns raw text into model inputs lives here:
// normalisation, lexical feature extraction, vocabulary construction,
// tokenisation and feature scaling. Training and inference must import this
// package rather than re-implementing any step, because the model weights are
// only meaningful for inputs produced by exactly this pipeline. Any change to
// the behaviour of this package must bump [PipelineVersion].
package textproc

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PipelineVersion identifies the behaviour of this package. It is persisted
// alongside the vocabulary so that artifacts prepared with a different
// pipeline are rejected at load time.
const PipelineVersion = "v1"

// Normalize lowercases text with the full Unicode mapping (SpecialCasing and
// final sigma, so "İ" becomes "i" plus a combining dot and a word-final "Σ"
// becomes "ς"), replaces every character that is not a word character,
// whitespace, or one of "!?$%" with a space, then collapses whitespace runs
// to a single space and trims the ends.
//
// Normalize is total and idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	// A Caser keeps state between calls and must not be shared.
	lowered := cases.Lower(language.Und).String(text)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if keepRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(fields(b.String()), " ")
}

func keepRune(r rune) bool {
	switch {
	case isWordRune(r), isSpace(r):
		return true
	case r == '!', r == '?', r == '$', r == '%':
		return true
	}
	return false
}

// isWordRune reports whether r is a letter, a number, or an underscore.
func isWordRune(r rune) bool {
	return r == '_' || isAlnum(r)
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// isSpace is unicode.IsSpace plus the information separators U+001C..U+001F,
// which the training corpus was split on as whitespace.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1C && r <= 0x1F)
}

// fields splits s around runs of isSpace.
func fields(s string) []string {
	return strings.FieldsFunc(s, isSpace)
}
