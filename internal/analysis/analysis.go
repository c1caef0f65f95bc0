// Package analysis turns keyword phrases and search queries into index keys.
// Indexing and search must run text through the same functions so that
// inflected forms of a word collapse onto one stem.
package analysis

import (
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"
)

// Tokenize splits text into lowercase words, treating any rune that is not a
// letter or a number as a separator.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, field := range fields {
		fields[i] = strings.ToLower(field)
	}
	return fields
}

// Stem reduces a single lowercase word to its English stem.
func Stem(word string) string {
	return snowballeng.Stem(strings.ToLower(word), false)
}

// Stems tokenizes every phrase and returns the distinct stems in first-seen order.
func Stems(phrases ...string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, phrase := range phrases {
		for _, word := range Tokenize(phrase) {
			stem := Stem(word)
			if stem == "" {
				continue
			}
			if _, ok := seen[stem]; ok {
				continue
			}
			seen[stem] = struct{}{}
			out = append(out, stem)
		}
	}
	return out
}

// QueryStems normalizes a search query the way indexed phrases are normalized.
// Repeated words are kept so that callers see one stem per query word.
func QueryStems(query string) []string {
	words := Tokenize(strings.TrimSpace(query))
	out := make([]string, 0, len(words))
	for _, word := range words {
		if stem := Stem(word); stem != "" {
			out = append(out, stem)
		}
	}
	return out
}
