package keywords

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"smartnotes/internal/analysis"
)

// Local is an in-process extractor. It scores stopword-free one and two word
// phrases by frequency and then picks greedily, penalising phrases that share
// words with ones already chosen.
type Local struct {
	// Diversity in [0,1] trades relevance for variety.
	Diversity float64
}

func NewLocal() *Local {
	return &Local{Diversity: 0.5}
}

type candidate struct {
	phrase string
	words  []string
	score  float64
	first  int
}

func (l *Local) Extract(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates := l.candidates(sentences(text))
	if len(candidates) == 0 {
		return []string{}, nil
	}
	return l.selectDiverse(candidates), nil
}

func (l *Local) candidates(sentenceTokens [][]string) []*candidate {
	byPhrase := make(map[string]*candidate)
	add := func(words []string, position int) {
		phrase := strings.Join(words, " ")
		if c, ok := byPhrase[phrase]; ok {
			c.score += float64(len(words))
			return
		}
		byPhrase[phrase] = &candidate{phrase: phrase, words: words, score: float64(len(words)), first: position}
	}

	position := 0
	for _, tokens := range sentenceTokens {
		for i, token := range tokens {
			if !contentWord(token) {
				continue
			}
			add([]string{token}, position+i)
			if i+1 < len(tokens) && contentWord(tokens[i+1]) {
				add([]string{token, tokens[i+1]}, position+i)
			}
		}
		position += len(tokens)
	}

	out := make([]*candidate, 0, len(byPhrase))
	for _, c := range byPhrase {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].first != out[j].first {
			return out[i].first < out[j].first
		}
		return out[i].phrase < out[j].phrase
	})
	return out
}

func (l *Local) selectDiverse(candidates []*candidate) []string {
	diversity := l.Diversity
	if diversity < 0 {
		diversity = 0
	}
	if diversity > 1 {
		diversity = 1
	}
	maxScore := candidates[0].score

	selected := make([]*candidate, 0, MaxPhrases)
	used := make([]bool, len(candidates))
	for len(selected) < MaxPhrases {
		best := -1
		bestValue := 0.0
		for i, c := range candidates {
			if used[i] {
				continue
			}
			value := (1-diversity)*(c.score/maxScore) - diversity*maxOverlap(c, selected)
			if best == -1 || value > bestValue {
				best, bestValue = i, value
			}
		}
		if best == -1 {
			break
		}
		used[best] = true
		selected = append(selected, candidates[best])
	}

	phrases := make([]string, len(selected))
	for i, c := range selected {
		phrases[i] = c.phrase
	}
	return phrases
}

// maxOverlap is the largest share of c's words already present in a chosen phrase.
func maxOverlap(c *candidate, selected []*candidate) float64 {
	overlap := 0.0
	for _, s := range selected {
		shared := 0
		for _, w := range c.words {
			for _, sw := range s.words {
				if w == sw {
					shared++
					break
				}
			}
		}
		if ratio := float64(shared) / float64(len(c.words)); ratio > overlap {
			overlap = ratio
		}
	}
	return overlap
}

// sentences tokenizes text one sentence at a time so two word phrases never
// straddle a sentence or line break.
func sentences(text string) [][]string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', '!', '?', ';', ':', '\n', '\r':
			return true
		}
		return false
	})
	out := make([][]string, 0, len(parts))
	for _, part := range parts {
		if tokens := analysis.Tokenize(part); len(tokens) > 0 {
			out = append(out, tokens)
		}
	}
	return out
}

func contentWord(token string) bool {
	if len([]rune(token)) < 2 {
		return false
	}
	if _, stop := stopwords[token]; stop {
		return false
	}
	for _, r := range token {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

var stopwords = map[string]struct{}{}

func init() {
	for _, word := range strings.Fields(`
		a about above after again against all am an and any are as at be because been
		before being below between both but by can could did do does doing down during
		each few for from further had has have having he her here hers herself him himself
		his how i if in into is it its itself just let me more most my myself no nor not now
		of off on once only or other our ours ourselves out over own same she should so some
		such than that the their theirs them themselves then there these they this those
		through to too under until up us very was we were what when where which while who
		whom why will with would you your yours yourself yourselves also may might must
		shall one two use used uses using via within without upon per every`) {
		stopwords[word] = struct{}{}
	}
}
