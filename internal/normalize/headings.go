package normalize

import (
	"sort"
	"strings"
)

// Headings returns the distinct markdown heading labels of raw, sorted.
//
// A line is a heading when its first space-delimited word consists only of
// '#'. The label is the rest of the line re-joined with single spaces.
func Headings(raw string) []string {
	depths := make(map[string]int)
	for _, line := range strings.Split(raw, "\n") {
		words := strings.Split(strings.TrimSuffix(line, "\r"), " ")
		marker := words[0]
		if marker == "" || strings.Trim(marker, "#") != "" {
			continue
		}
		label := strings.TrimSpace(strings.Join(nonEmpty(words[1:]), " "))
		if label == "" {
			continue
		}
		depth := len(marker)
		if existing, ok := depths[label]; !ok || depth < existing {
			depths[label] = depth
		}
	}

	labels := make([]string, 0, len(depths))
	for label := range depths {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func nonEmpty(words []string) []string {
	out := words[:0:0]
	for _, word := range words {
		if word != "" {
			out = append(out, word)
		}
	}
	return out
}
