package memory

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Okapi BM25 parameters.
const (
	bm25K1      = 1.2
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases text into alphanumeric runs of at least two
// characters.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, m := range matches {
		if len(m) >= 2 {
			tokens = append(tokens, m)
		}
	}
	return tokens
}

type scoredDoc struct {
	index int
	score float64
}

// rankBM25 scores every document against query and returns the positive
// hits, best first, capped at limit.
func rankBM25(docs []string, query string, limit int) []scoredDoc {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || len(docs) == 0 {
		return nil
	}

	termFreqs := make([]map[string]int, len(docs))
	lengths := make([]float64, len(docs))
	docFreq := make(map[string]int)
	total := 0.0
	for i, doc := range docs {
		tokens := tokenize(doc)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			if tf[tok] == 0 {
				docFreq[tok]++
			}
			tf[tok]++
		}
		termFreqs[i] = tf
		lengths[i] = float64(len(tokens))
		total += lengths[i]
	}
	avgLen := total / float64(len(docs))
	if avgLen == 0 {
		return nil
	}

	n := float64(len(docs))
	idf := func(term string) float64 {
		df := float64(docFreq[term])
		v := math.Log(1 + (n-df+0.5)/(df+0.5))
		if v < 0 {
			return bm25Epsilon
		}
		return v
	}

	var hits []scoredDoc
	for i := range docs {
		score := 0.0
		for _, tok := range queryTokens {
			f := float64(termFreqs[i][tok])
			if f == 0 {
				continue
			}
			score += idf(tok) * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*lengths[i]/avgLen))
		}
		if score > 0 {
			hits = append(hits, scoredDoc{index: i, score: score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
