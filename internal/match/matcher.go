// Package match resolves free-text listing titles to canonical games using
// TF-IDF weighted cosine similarity over normalized titles.
package match

import (
	"math"
	"strings"
)

// Candidate is one canonical game offered to the matcher.
type Candidate struct {
	ID              string
	NormalizedTitle string
}

// Result is the best-scoring candidate for a listing title.
type Result struct {
	GameID string
	Score  float64
}

// Matcher scores listing titles against candidate corpora. It keeps no state
// across calls: IDF weights are recomputed from the candidate set passed to
// each Match call, so identical inputs always produce identical outputs.
type Matcher struct {
	// Threshold is the minimum score for a match to be accepted.
	Threshold float64
	// Epsilon bounds float comparison; candidates scoring within Epsilon of
	// each other tie-break toward the lexicographically smaller ID.
	Epsilon float64
}

// NewMatcher returns a matcher with the given acceptance threshold and
// tie-break epsilon.
func NewMatcher(threshold, epsilon float64) *Matcher {
	return &Matcher{Threshold: threshold, Epsilon: epsilon}
}

// Match scores rawTitle against every candidate and returns the best one.
// The boolean reports acceptance: false means the best score fell below the
// threshold and the listing should be treated as unresolved rather than
// attributed to a low-confidence pick. Result still carries the best score
// so callers can report it.
func (m *Matcher) Match(rawTitle string, candidates []Candidate) (Result, bool) {
	query := terms(NormalizeTitle(rawTitle))
	if len(query) == 0 || len(candidates) == 0 {
		return Result{}, false
	}

	type doc struct {
		id    string
		terms []string
	}
	docs := make([]doc, 0, len(candidates))
	df := make(map[string]int)
	for _, c := range candidates {
		ts := terms(c.NormalizedTitle)
		if len(ts) == 0 {
			continue
		}
		docs = append(docs, doc{id: c.ID, terms: ts})
		for _, t := range unique(ts) {
			df[t]++
		}
	}
	if len(docs) == 0 {
		return Result{}, false
	}

	// Smoothed IDF over the candidate corpus of this call.
	n := len(docs)
	idf := func(term string) float64 {
		return math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	qv := weigh(query, idf)
	best := Result{Score: -1}
	for _, d := range docs {
		score := cosine(qv, weigh(d.terms, idf))
		switch {
		case score > best.Score+m.Epsilon:
			best = Result{GameID: d.id, Score: score}
		case math.Abs(score-best.Score) <= m.Epsilon && d.id < best.GameID:
			best.GameID = d.id
		}
	}
	return best, best.Score >= m.Threshold
}

// terms produces unigrams plus adjacent bigrams; bigrams let sequels
// ("half life 2") outrank their base titles.
func terms(normalized string) []string {
	words := strings.Fields(normalized)
	ts := make([]string, 0, len(words)*2)
	ts = append(ts, words...)
	for i := 0; i+1 < len(words); i++ {
		ts = append(ts, words[i]+" "+words[i+1])
	}
	return ts
}

func unique(ts []string) []string {
	seen := make(map[string]struct{}, len(ts))
	out := ts[:0:0]
	for _, t := range ts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// weigh builds an L2-normalized TF-IDF vector.
func weigh(ts []string, idf func(string) float64) map[string]float64 {
	v := make(map[string]float64, len(ts))
	for _, t := range ts {
		v[t]++
	}
	var norm float64
	for t, tf := range v {
		w := tf * idf(t)
		v[t] = w
		norm += w * w
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for t := range v {
		v[t] /= norm
	}
	return v
}

func cosine(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for t, wa := range a {
		dot += wa * b[t]
	}
	return dot
}
