package embed

import (
	"regexp"
	"strings"
)

// tokenRegex matches word tokens of at least two characters. Single-character
// tokens carry almost no lexical signal and are excluded from the vocabulary.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]{2,}`)

// Tokenize splits text into lowercase word tokens for the lexical vectorizer.
func Tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}
