// Package tarot draws and reads tarot spreads: decks of the 22 major arcana
// in three traditions, the spread layouts, card selection, generated
// interpretations and card art, soulmate visions and the birthplace
// autocomplete used by the soulmate form.
package tarot

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrUnknownDeck is returned for a deck id outside [Decks].
var ErrUnknownDeck = errors.New("tarot: unknown deck")

// DeckType identifies a tarot tradition.
type DeckType string

const (
	DeckRider     DeckType = "rider"
	DeckMarseille DeckType = "marseille"
	DeckThoth     DeckType = "thoth"
)

// ReversedProbability is the chance of a card being drawn reversed.
const ReversedProbability = 0.3

// Deck describes a tradition as shown to the seeker.
type Deck struct {
	ID          DeckType `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`

	// FullName is how the deck is named to the reader model.
	FullName string `json:"fullName"`

	// Style is the art direction appended to card image prompts.
	Style string `json:"-"`
}

var decks = []Deck{
	{DeckRider, "Rider Waite", "Classic Symbolism", "Rider Waite Smith", "Style: Classic Rider Waite Smith aesthetic."},
	{DeckMarseille, "Marseille", "Ancient Woodcut", "Tarot de Marseille", "Style: Tarot de Marseille, woodcut aesthetic."},
	{DeckThoth, "Thoth", "Esoteric", "Thoth Tarot", "Style: Thoth Tarot, surrealist Crowley style."},
}

// Decks returns every deck in display order.
func Decks() []Deck {
	return append([]Deck(nil), decks...)
}

// LookupDeck returns the deck with the given id.
func LookupDeck(id DeckType) (Deck, error) {
	for _, d := range decks {
		if d.ID == id {
			return d, nil
		}
	}
	return Deck{}, fmt.Errorf("%w: %q", ErrUnknownDeck, id)
}

// deckOrDefault falls back to the Rider Waite deck for unknown ids.
func deckOrDefault(id DeckType) Deck {
	d, err := LookupDeck(id)
	if err != nil {
		return decks[0]
	}
	return d
}

var majorArcana = []string{
	"The Fool", "The Magician", "The High Priestess", "The Empress", "The Emperor",
	"The Hierophant", "The Lovers", "The Chariot", "Strength", "The Hermit",
	"Wheel of Fortune", "Justice", "The Hanged Man", "Death", "Temperance",
	"The Devil", "The Tower", "The Star", "The Moon", "The Sun", "Judgement",
	"The World",
}

var thothRenames = map[string]string{
	"Strength":   "Lust",
	"Justice":    "Adjustment",
	"Temperance": "Art",
	"Judgement":  "The Aeon",
	"The World":  "The Universe",
}

// Card is one drawn card.
type Card struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Image           string `json:"image,omitempty"`
	MeaningUpright  string `json:"meaningUpright"`
	MeaningReversed string `json:"meaningReversed"`
	IsReversed      bool   `json:"isReversed"`
}

// CardNames returns the arcana names of a deck in canonical order.
func CardNames(id DeckType) []string {
	names := make([]string, len(majorArcana))
	for i, n := range majorArcana {
		if id == DeckThoth {
			if renamed, ok := thothRenames[n]; ok {
				n = renamed
			}
		}
		names[i] = n
	}
	return names
}

// NewDeck builds a freshly shuffled deck. Card ids keep their canonical
// position ("card-0" is always the Fool), each card is reversed with
// [ReversedProbability], and the order is a Fisher–Yates shuffle.
func NewDeck(id DeckType, rng *rand.Rand) ([]Card, error) {
	if _, err := LookupDeck(id); err != nil {
		return nil, err
	}
	names := CardNames(id)
	cards := make([]Card, len(names))
	for i, n := range names {
		cards[i] = Card{
			ID:         fmt.Sprintf("card-%d", i),
			Name:       n,
			IsReversed: rng.Float64() < ReversedProbability,
		}
	}
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
	return cards, nil
}
