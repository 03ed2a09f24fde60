package match

import (
	"fmt"

	"github.com/blevesearch/bleve"
)

// Prefilter narrows a large candidate corpus to the most plausible titles
// before exact TF-IDF scoring. It only bounds the set the Matcher sees; the
// final score, tie-break and acceptance decision stay with the Matcher, so
// determinism of the match itself is unaffected.
type Prefilter struct {
	index      bleve.Index
	candidates map[string]Candidate
}

// NewPrefilter builds an in-memory full-text index over the candidates'
// normalized titles. Close must be called when the prefilter is done.
func NewPrefilter(candidates []Candidate) (*Prefilter, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("prefilter index: %w", err)
	}
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		if c.NormalizedTitle == "" {
			continue
		}
		byID[c.ID] = c
		if err := idx.Index(c.ID, map[string]string{"title": c.NormalizedTitle}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("prefilter index %s: %w", c.ID, err)
		}
	}
	return &Prefilter{index: idx, candidates: byID}, nil
}

// Select returns up to limit candidates whose titles share terms with
// rawTitle. When the query yields nothing (or limit is zero) the full
// candidate set is returned so the matcher can still reject explicitly.
func (p *Prefilter) Select(rawTitle string, limit int) []Candidate {
	normalized := NormalizeTitle(rawTitle)
	if normalized == "" || limit <= 0 {
		return p.all()
	}
	query := bleve.NewMatchQuery(normalized)
	query.SetField("title")
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	res, err := p.index.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return p.all()
	}
	out := make([]Candidate, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if c, ok := p.candidates[hit.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Close releases the underlying index.
func (p *Prefilter) Close() error { return p.index.Close() }

func (p *Prefilter) all() []Candidate {
	out := make([]Candidate, 0, len(p.candidates))
	for _, c := range p.candidates {
		out = append(out, c)
	}
	return out
}
