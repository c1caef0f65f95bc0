// Package keywords picks the short phrases that describe a resource.
package keywords

import (
	"context"
	"log"
	"strings"
)

// MaxPhrases caps how many phrases an extractor returns.
const MaxPhrases = 10

// Placeholder phrases stored when no real keywords could be produced.
const (
	Unavailable = "Extraction unavailable for this resource."
	Failed      = "Extraction failed for this resource."
)

// Extractor returns up to MaxPhrases ordered, distinct phrases of one or two
// words describing text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

type fallbackExtractor struct {
	primary  Extractor
	fallback Extractor
}

// WithFallback uses fallback whenever primary fails.
func WithFallback(primary, fallback Extractor) Extractor {
	return &fallbackExtractor{primary: primary, fallback: fallback}
}

func (f *fallbackExtractor) Extract(ctx context.Context, text string) ([]string, error) {
	phrases, err := f.primary.Extract(ctx, text)
	if err == nil {
		return phrases, nil
	}
	log.Printf("keywords: primary extractor failed, using fallback: %v", err)
	return f.fallback.Extract(ctx, text)
}

// Merge puts headings ahead of extracted phrases and drops exact duplicates.
func Merge(headings, phrases []string) []string {
	seen := make(map[string]struct{}, len(headings)+len(phrases))
	out := make([]string, 0, len(headings)+len(phrases))
	for _, list := range [][]string{headings, phrases} {
		for _, phrase := range list {
			if _, ok := seen[phrase]; ok {
				continue
			}
			seen[phrase] = struct{}{}
			out = append(out, phrase)
		}
	}
	return out
}

// IsPlaceholder reports whether phrases is one of the sentinel outcomes.
func IsPlaceholder(phrases []string) bool {
	return len(phrases) == 1 && (phrases[0] == Unavailable || phrases[0] == Failed)
}

func capDistinct(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, MaxPhrases)
	for _, phrase := range phrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		if _, ok := seen[phrase]; ok {
			continue
		}
		seen[phrase] = struct{}{}
		out = append(out, phrase)
		if len(out) == MaxPhrases {
			break
		}
	}
	return out
}
