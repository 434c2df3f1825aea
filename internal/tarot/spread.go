package tarot

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnknownSpread is returned for a spread id outside [Spreads].
	ErrUnknownSpread = errors.New("tarot: unknown spread")

	// ErrSelectionFull is returned when picking past the spread's card count.
	ErrSelectionFull = errors.New("tarot: selection is complete")

	// ErrOutOfDeck is returned for a pick outside the deck.
	ErrOutOfDeck = errors.New("tarot: index outside the deck")
)

// Spread is a layout of positions to fill with cards.
type Spread struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	CardCount   int      `json:"cardCount"`
	Positions   []string `json:"positions"`
	ImageURL    string   `json:"imageUrl"`
	Premium     bool     `json:"isPremium,omitempty"`
}

var spreads = []Spread{
	{"daily", "Daily Inspiration", "A single-card draw.", 1,
		[]string{"Today"}, unsplash("photo-1507525428034-b723cf961d3e"), false},
	{"yesno", "Yes or No Oracle", "Clear binary answer.", 1,
		[]string{"Answer"}, unsplash("photo-1494200483035-db7bc6aa5739"), false},
	{"decisions", "The Crossroads", "Three card decision spread.", 3,
		[]string{"Current", "Path", "Outcome"}, unsplash("photo-1464802686167-b939a67e06a1"), false},
	{"love", "The Love Tarot", "Matters of the heart.", 6,
		[]string{"You", "Them", "Dynamic", "Past", "Future", "Advice"}, unsplash("photo-1518199266791-5375a83190b7"), true},
	{"insight", "The Deep Insight", "Comprehensive look.", 6,
		[]string{"Core", "Hidden", "Immediate", "Soul", "External", "Outcome"}, unsplash("photo-1509114397022-ed747cca3f65"), true},
	{"celtic", "Celtic Cross", "Classic ten card spread.", 10,
		[]string{"Heart", "Crossing", "Root", "Past", "Crown", "Future", "Self", "External", "Hopes", "Outcome"}, unsplash("photo-1433086566608-4670060934f8"), true},
}

func unsplash(photo string) string {
	return "https://images.unsplash.com/" + photo + "?auto=format&fit=crop&w=400&q=80"
}

// Spreads returns every spread in display order.
func Spreads() []Spread {
	out := make([]Spread, len(spreads))
	for i, s := range spreads {
		s.Positions = slices.Clone(s.Positions)
		out[i] = s
	}
	return out
}

// LookupSpread returns the spread with the given id.
func LookupSpread(id string) (Spread, error) {
	for _, s := range spreads {
		if s.ID == id {
			s.Positions = slices.Clone(s.Positions)
			return s, nil
		}
	}
	return Spread{}, fmt.Errorf("%w: %q", ErrUnknownSpread, id)
}

// Position returns the label of the i-th card, or "Card i+1" past the
// spread's positions.
func (s Spread) Position(i int) string {
	if i >= 0 && i < len(s.Positions) {
		return s.Positions[i]
	}
	return fmt.Sprintf("Card %d", i+1)
}

// Selection tracks the deck indices a seeker picks for a spread. The zero
// value is not usable; use [NewSelection].
type Selection struct {
	spread  Spread
	deckLen int
	picked  []int
}

// NewSelection starts picking cards for spread out of a deck of deckLen.
func NewSelection(spread Spread, deckLen int) *Selection {
	return &Selection{spread: spread, deckLen: deckLen}
}

// Pick adds a deck index. Picking an index twice is ignored. It reports
// whether the selection is now complete.
func (s *Selection) Pick(index int) (complete bool, err error) {
	if index < 0 || index >= s.deckLen {
		return s.Complete(), fmt.Errorf("%w: %d", ErrOutOfDeck, index)
	}
	if slices.Contains(s.picked, index) {
		return s.Complete(), nil
	}
	if s.Complete() {
		return true, ErrSelectionFull
	}
	s.picked = append(s.picked, index)
	return s.Complete(), nil
}

// Complete reports whether every position is filled.
func (s *Selection) Complete() bool {
	return len(s.picked) >= s.spread.CardCount
}

// Indices returns the picked deck indices in pick order.
func (s *Selection) Indices() []int {
	return slices.Clone(s.picked)
}

// Cards returns the picked cards of deck in pick order.
func (s *Selection) Cards(deck []Card) []Card {
	out := make([]Card, 0, len(s.picked))
	for _, i := range s.picked {
		if i < len(deck) {
			out = append(out, deck[i])
		}
	}
	return out
}
