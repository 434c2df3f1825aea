package server

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/astraloracle/oracle/internal/journal"
	"github.com/astraloracle/oracle/internal/tarot"
)

func (s *Server) handleDecks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tarot.Decks())
}

func (s *Server) handleSpreads(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tarot.Spreads())
}

type shuffleResponse struct {
	Deck  tarot.DeckType `json:"deck"`
	Cards []tarot.Card   `json:"cards"`
}

func (s *Server) handleShuffle(w http.ResponseWriter, r *http.Request) {
	id := tarot.DeckType(r.PathValue("deck"))
	cards, err := s.shuffle(id)
	if errors.Is(err, tarot.ErrUnknownDeck) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, shuffleResponse{Deck: id, Cards: cards})
}

type readingRequest struct {
	Question string         `json:"question"`
	Deck     tarot.DeckType `json:"deck"`
	Spread   string         `json:"spread"`
	Cards    []tarot.Card   `json:"cards"`

	// Reveal asks for card art alongside the interpretation.
	Reveal bool `json:"reveal,omitempty"`
}

func (s *Server) handleReading(w http.ResponseWriter, r *http.Request) {
	var req readingRequest
	if !decode(w, r, maxBodyBytes, &req) {
		return
	}
	spread, err := tarot.LookupSpread(req.Spread)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Deck == "" {
		req.Deck = tarot.DeckRider
	}
	if _, err := tarot.LookupDeck(req.Deck); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Cards) != spread.CardCount {
		writeError(w, http.StatusBadRequest, "spread "+spread.ID+" needs "+strconv.Itoa(spread.CardCount)+" cards")
		return
	}

	cards, err := distinct(spread, req.Cards)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.Reveal {
		cards = s.deps.Reader.Reveal(ctx, cards, req.Deck)
	}
	reading := s.deps.Reader.Interpret(ctx, strings.TrimSpace(req.Question), cards, req.Deck, spread)

	saved, err := s.deps.Journal.SaveReading(ctx, reading)
	if err != nil {
		logger(r).Warn("journal: reading not saved", "err", err)
		saved = reading
	}
	writeJSON(w, http.StatusOK, saved)
}

// distinct draws the request's cards through a [tarot.Selection], so a card
// repeated in the request fills one position only.
func distinct(spread tarot.Spread, cards []tarot.Card) ([]tarot.Card, error) {
	sel := tarot.NewSelection(spread, len(cards))
	for i, c := range cards {
		first := slices.IndexFunc(cards[:i+1], func(o tarot.Card) bool { return cardKey(o) == cardKey(c) })
		if _, err := sel.Pick(first); err != nil {
			return nil, err
		}
	}
	if !sel.Complete() {
		return nil, errors.New("spread " + spread.ID + " needs " + strconv.Itoa(spread.CardCount) + " distinct cards")
	}
	return sel.Cards(cards), nil
}

func cardKey(c tarot.Card) string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(v, journal.MaxRecent)
	}
	readings, err := s.deps.Journal.RecentReadings(r.Context(), n)
	if err != nil {
		logger(r).Error("journal: recent readings", "err", err)
		writeError(w, http.StatusServiceUnavailable, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

type cardImageRequest struct {
	Name string         `json:"name"`
	Deck tarot.DeckType `json:"deck"`
}

type imageResponse struct {
	Image string `json:"image"`
}

// handleCardImage answers with an empty image when painting fails; the
// page then shows the card back.
func (s *Server) handleCardImage(w http.ResponseWriter, r *http.Request) {
	var req cardImageRequest
	if !decode(w, r, maxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{Image: s.deps.Reader.CardImage(r.Context(), req.Name, req.Deck)})
}
