package msa

import "strings"

// Alphabet is the canonical 20-letter amino acid vocabulary. Gaps and any
// unrecognized character share the pad index one past the last amino acid.
const Alphabet = "ACDEFGHIKLMNPQRSTVWY"

const (
	VocabSize = len(Alphabet)
	PadIndex  = VocabSize
)

// EncodeSymbol maps a single alignment character to its token index.
// Lowercase letters are treated as their uppercase equivalent.
func EncodeSymbol(c byte) int {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	idx := strings.IndexByte(Alphabet, c)
	if idx < 0 {
		return PadIndex
	}
	return idx
}

// DecodeToken returns the character for a token index, with '-' for pad.
func DecodeToken(t int) byte {
	if t < 0 || t >= VocabSize {
		return '-'
	}
	return Alphabet[t]
}
