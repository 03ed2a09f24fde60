package match

import (
	"fmt"
	"testing"
)

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Cyberpunk 2077 Ultimate Edition", "cyberpunk 2077"},
		{"The Witcher 3: Wild Hunt — GOTY Edition", "the witcher 3 wild hunt"},
		{"Half-Life 2", "half life 2"},
		{"Doom (2016)", "doom"},
		{"Mass Effect Legendary Edition (PC)", "mass effect legendary"},
		{"   ", ""},
		{"Tetris Ultimate", "tetris"},
	}
	for _, c := range cases {
		if got := NormalizeTitle(c.in); got != c.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMatchPicksSequelOverBaseTitle(t *testing.T) {
	m := NewMatcher(0.55, 1e-9)
	candidates := []Candidate{
		{ID: "A", NormalizedTitle: NormalizeTitle("Half-Life 2")},
		{ID: "B", NormalizedTitle: NormalizeTitle("Half-Life")},
	}

	res, ok := m.Match("Half Life 2 Deluxe", candidates)
	if !ok {
		t.Fatalf("expected accepted match, got score %.3f", res.Score)
	}
	if res.GameID != "A" {
		t.Fatalf("expected candidate A, got %s (score %.3f)", res.GameID, res.Score)
	}
	if res.Score <= 0.55 {
		t.Fatalf("expected score above threshold, got %.3f", res.Score)
	}
}

func TestMatchRejectsUnrelatedTitle(t *testing.T) {
	m := NewMatcher(0.55, 1e-9)
	candidates := []Candidate{
		{ID: "A", NormalizedTitle: NormalizeTitle("Half-Life 2")},
		{ID: "B", NormalizedTitle: NormalizeTitle("Half-Life")},
	}

	if res, ok := m.Match("Tetris Ultimate", candidates); ok {
		t.Fatalf("expected no match, got %s with score %.3f", res.GameID, res.Score)
	}
}

func TestMatchDeterministic(t *testing.T) {
	m := NewMatcher(0.3, 1e-9)
	candidates := []Candidate{
		{ID: "10", NormalizedTitle: "the witcher 3 wild hunt"},
		{ID: "11", NormalizedTitle: "the witcher 2 assassins of kings"},
		{ID: "12", NormalizedTitle: "the witcher"},
	}
	first, firstOK := m.Match("The Witcher 3", candidates)
	for i := 0; i < 20; i++ {
		res, ok := m.Match("The Witcher 3", candidates)
		if res != first || ok != firstOK {
			t.Fatalf("run %d diverged: %+v/%v vs %+v/%v", i, res, ok, first, firstOK)
		}
	}
	if first.GameID != "10" {
		t.Fatalf("expected witcher 3, got %s", first.GameID)
	}
}

func TestMatchTieBreaksOnSmallerID(t *testing.T) {
	m := NewMatcher(0.5, 1e-9)
	// identical titles force an exact score tie
	candidates := []Candidate{
		{ID: "zzz", NormalizedTitle: "stardew valley"},
		{ID: "aaa", NormalizedTitle: "stardew valley"},
	}
	res, ok := m.Match("Stardew Valley", candidates)
	if !ok {
		t.Fatalf("expected accepted match, score %.3f", res.Score)
	}
	if res.GameID != "aaa" {
		t.Fatalf("expected lexicographically smaller id, got %s", res.GameID)
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	m := NewMatcher(0.55, 1e-9)
	if _, ok := m.Match("", []Candidate{{ID: "A", NormalizedTitle: "doom"}}); ok {
		t.Fatal("empty title must not match")
	}
	if _, ok := m.Match("Doom", nil); ok {
		t.Fatal("empty candidate set must not match")
	}
	if _, ok := m.Match("Doom", []Candidate{{ID: "A", NormalizedTitle: ""}}); ok {
		t.Fatal("blank candidates must not match")
	}
}

func TestPrefilterNarrowsCandidates(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 100; i++ {
		candidates = append(candidates, Candidate{
			ID:              fmt.Sprintf("g%03d", i),
			NormalizedTitle: fmt.Sprintf("filler title %d", i),
		})
	}
	candidates = append(candidates, Candidate{ID: "hl2", NormalizedTitle: "half life 2"})

	pf, err := NewPrefilter(candidates)
	if err != nil {
		t.Fatalf("NewPrefilter: %v", err)
	}
	defer pf.Close()

	selected := pf.Select("Half Life 2", 10)
	if len(selected) == 0 || len(selected) > 10 {
		t.Fatalf("expected 1..10 candidates, got %d", len(selected))
	}
	found := false
	for _, c := range selected {
		if c.ID == "hl2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hl2 among prefiltered candidates: %+v", selected)
	}

	// a query hitting nothing falls back to the full set
	if all := pf.Select("qwertyuiop", 10); len(all) != len(candidates) {
		t.Fatalf("fallback should return all %d candidates, got %d", len(candidates), len(all))
	}
}
