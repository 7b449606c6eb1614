package textproc

import "unicode"

// FeatureCount is the length of every lexical feature vector.
const FeatureCount = 10

// FeatureNames lists the lexical features in vector order.
var FeatureNames = [FeatureCount]string{
	"text_len",
	"word_count",
	"num_digits",
	"num_upper",
	"num_special",
	"avg_word_len",
	"digit_ratio",
	"upper_ratio",
	"special_ratio",
	"scam_keyword_count",
}

// Features is a lexical feature vector in FeatureNames order.
type Features [FeatureCount]float64

// ExtractFeatures computes the lexical features of one message. Character
// counts are taken over original; word and keyword counts over normalized,
// which must be Normalize(original).
func ExtractFeatures(original, normalized string) Features {
	var textLen, digits, upper, special int
	for _, r := range original {
		textLen++
		if isDigit(r) {
			digits++
		}
		if isUpper(r) {
			upper++
		}
		if !isAlnum(r) && !isSpace(r) {
			special++
		}
	}
	words := len(fields(normalized))

	n := float64(textLen)
	return Features{
		n,
		float64(words),
		float64(digits),
		float64(upper),
		float64(special),
		n / float64(words+1),
		float64(digits) / (n + 1),
		float64(upper) / (n + 1),
		float64(special) / (n + 1),
		float64(CountKeywords(normalized)),
	}
}

// digitNumerals holds the characters with Numeric_Type=Digit that are not
// decimal digits (Nd): superscripts, subscripts, circled and parenthesised
// digits and a few historic scripts. Together with Nd they form the
// Unicode digit set the training features were counted with.
var digitNumerals = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00B2, Hi: 0x00B3, Stride: 1},
		{Lo: 0x00B9, Hi: 0x00B9, Stride: 1},
		{Lo: 0x1369, Hi: 0x1371, Stride: 1},
		{Lo: 0x19DA, Hi: 0x19DA, Stride: 1},
		{Lo: 0x2070, Hi: 0x2070, Stride: 1},
		{Lo: 0x2074, Hi: 0x2079, Stride: 1},
		{Lo: 0x2080, Hi: 0x2089, Stride: 1},
		{Lo: 0x2460, Hi: 0x2468, Stride: 1},
		{Lo: 0x2474, Hi: 0x247C, Stride: 1},
		{Lo: 0x2488, Hi: 0x2490, Stride: 1},
		{Lo: 0x24EA, Hi: 0x24EA, Stride: 1},
		{Lo: 0x24F5, Hi: 0x24FD, Stride: 1},
		{Lo: 0x24FF, Hi: 0x24FF, Stride: 1},
		{Lo: 0x2776, Hi: 0x277E, Stride: 1},
		{Lo: 0x2780, Hi: 0x2788, Stride: 1},
		{Lo: 0x278A, Hi: 0x2792, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x10A40, Hi: 0x10A43, Stride: 1},
		{Lo: 0x10E60, Hi: 0x10E68, Stride: 1},
		{Lo: 0x11052, Hi: 0x1105A, Stride: 1},
		{Lo: 0x1E8C7, Hi: 0x1E8CF, Stride: 1},
		{Lo: 0x1F100, Hi: 0x1F10A, Stride: 1},
	},
	LatinOffset: 2,
}

// isDigit reports decimal digits and the other Numeric_Type=Digit
// characters, so "²" and "①" count as digits.
func isDigit(r rune) bool {
	return unicode.IsDigit(r) || unicode.Is(digitNumerals, r)
}

// isUpper reports the Uppercase property: Lu plus Other_Uppercase, which
// covers circled capitals such as "Ⓐ".
func isUpper(r rune) bool {
	return unicode.IsUpper(r) || unicode.Is(unicode.Other_Uppercase, r)
}
