package tarot

import (
	"errors"
	"slices"
	"testing"
)

func TestSpreads(t *testing.T) {
	t.Parallel()
	want := []struct {
		id      string
		count   int
		premium bool
	}{
		{"daily", 1, false},
		{"yesno", 1, false},
		{"decisions", 3, false},
		{"love", 6, true},
		{"insight", 6, true},
		{"celtic", 10, true},
	}
	got := Spreads()
	if len(got) != len(want) {
		t.Fatalf("Spreads() = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		s := got[i]
		if s.ID != w.id || s.CardCount != w.count || s.Premium != w.premium {
			t.Errorf("spread[%d] = %s/%d/%v, want %s/%d/%v", i, s.ID, s.CardCount, s.Premium, w.id, w.count, w.premium)
		}
		if len(s.Positions) != s.CardCount {
			t.Errorf("%s: %d positions for %d cards", s.ID, len(s.Positions), s.CardCount)
		}
	}
}

func TestLookupSpread(t *testing.T) {
	t.Parallel()
	s, err := LookupSpread("celtic")
	if err != nil {
		t.Fatal(err)
	}
	if s.Position(0) != "Heart" || s.Position(9) != "Outcome" || s.Position(10) != "Card 11" {
		t.Errorf("positions = %q %q %q", s.Position(0), s.Position(9), s.Position(10))
	}
	s.Positions[0] = "mutated"
	again, _ := LookupSpread("celtic")
	if again.Positions[0] != "Heart" {
		t.Error("LookupSpread leaked its position slice")
	}

	if _, err := LookupSpread("tree-of-life"); !errors.Is(err, ErrUnknownSpread) {
		t.Errorf("err = %v, want ErrUnknownSpread", err)
	}
}

func TestSelection(t *testing.T) {
	t.Parallel()
	spread, _ := LookupSpread("decisions")
	sel := NewSelection(spread, 22)

	steps := []struct {
		index    int
		complete bool
		err      error
	}{
		{5, false, nil},
		{5, false, nil}, // duplicate ignored
		{-1, false, ErrOutOfDeck},
		{22, false, ErrOutOfDeck},
		{0, false, nil},
		{21, true, nil},
		{7, true, ErrSelectionFull},
		{0, true, nil},
	}
	for i, s := range steps {
		complete, err := sel.Pick(s.index)
		if complete != s.complete {
			t.Errorf("step %d: complete = %v, want %v", i, complete, s.complete)
		}
		if !errors.Is(err, s.err) {
			t.Errorf("step %d: err = %v, want %v", i, err, s.err)
		}
	}
	if got := sel.Indices(); !slices.Equal(got, []int{5, 0, 21}) {
		t.Errorf("Indices() = %v", got)
	}

	deck := make([]Card, 22)
	for i := range deck {
		deck[i] = Card{Name: CardNames(DeckRider)[i]}
	}
	cards := sel.Cards(deck)
	if cards[0].Name != "The Hierophant" || cards[1].Name != "The Fool" || cards[2].Name != "The World" {
		t.Errorf("Cards() = %+v", cards)
	}
}
