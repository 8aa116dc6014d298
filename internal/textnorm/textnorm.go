// Package textnorm folds free text into a comparable form for keyword matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining marks, so "Física" and "FISICA"
// both fold to "fisica".
func Fold(s string) string {
	// transform.Chain keeps internal state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Tokens folds s and splits it on every rune that is not a letter or digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContainsPhrase reports whether phrase occurs as a contiguous run of whole
// tokens. The phrase is folded and tokenized the same way as the message.
func ContainsPhrase(tokens []string, phrase string) bool {
	return len(PhraseIndexes(tokens, phrase)) > 0
}

// PhraseIndexes returns every token offset where phrase starts.
func PhraseIndexes(tokens []string, phrase string) []int {
	want := Tokens(phrase)
	if len(want) == 0 || len(want) > len(tokens) {
		return nil
	}
	var out []int
	for i := 0; i+len(want) <= len(tokens); i++ {
		match := true
		for j, w := range want {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			out = append(out, i)
		}
	}
	return out
}

// ContainsAny reports whether any of the phrases occurs in tokens.
func ContainsAny(tokens []string, phrases ...string) bool {
	for _, p := range phrases {
		if ContainsPhrase(tokens, p) {
			return true
		}
	}
	return false
}
