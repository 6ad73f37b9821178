package tokenizer

import (
	"regexp"
)

// Tokenizer counts and trims text in model tokens.
type Tokenizer interface {
	CountTokens(text string) int
	// Truncate returns the longest prefix of text that fits in max tokens.
	Truncate(text string, max int) string
}

var tokenRegex = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*|\p{N}+|[^\s]`)

// Approximate treats every word, number run or symbol as one token. It
// overestimates BPE counts for English, so truncation stays within model limits.
type Approximate struct{}

var _ Tokenizer = Approximate{}

func (Approximate) CountTokens(text string) int {
	return len(tokenRegex.FindAllStringIndex(text, -1))
}

func (Approximate) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	locs := tokenRegex.FindAllStringIndex(text, max+1)
	if len(locs) <= max {
		return text
	}
	return text[:locs[max-1][1]]
}
