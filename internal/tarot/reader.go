package tarot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/astraloracle/oracle/internal/observe"
	"github.com/astraloracle/oracle/pkg/provider/image"
	"github.com/astraloracle/oracle/pkg/provider/llm"
	"golang.org/x/sync/errgroup"
)

// Texts returned in place of a generated interpretation.
const (
	EmptyInterpretation    = "The mists are too thick. Try again."
	FallbackInterpretation = "I sensed a disturbance in the connection."
)

// ErrNoModel is recorded when no text model is configured.
var ErrNoModel = errors.New("tarot: no text model configured")

const defaultQuestion = "General Outlook"

const readerInstruction = `You are a mystical and wise Tarot Reader.
Interpret the cards based on the tradition of the selected deck.
Structure your response with card-by-card analysis, synthesis, and conclusion.
Use markdown for formatting.`

const (
	interpretTemperature = 0.7
	revealConcurrency    = 4
)

// Reading is an interpreted spread.
type Reading struct {
	ID             string    `json:"id,omitempty"`
	Question       string    `json:"question"`
	Deck           DeckType  `json:"deck"`
	Spread         string    `json:"spread"`
	Cards          []Card    `json:"cards"`
	Interpretation string    `json:"interpretation"`
	CreatedAt      time.Time `json:"createdAt"`

	// Degraded is set when Interpretation is a fallback text.
	Degraded bool `json:"degraded,omitempty"`
}

// Reader writes interpretations and paints card art with generative
// backends. Backend failures never surface as errors: every method degrades
// to the fallback texts or to missing images. Reader is safe for concurrent
// use.
type Reader struct {
	llm       llm.Provider
	images    image.Provider
	llmName   string
	imageName string
	metrics   *observe.Metrics
	now       func() time.Time
}

// ReaderOption configures a [Reader].
type ReaderOption func(*Reader)

// WithProviderNames sets the backend names used as metric labels.
func WithProviderNames(llmName, imageName string) ReaderOption {
	return func(r *Reader) {
		r.llmName = llmName
		r.imageName = imageName
	}
}

// WithReaderMetrics records to m instead of the default instance.
func WithReaderMetrics(m *observe.Metrics) ReaderOption {
	return func(r *Reader) { r.metrics = m }
}

// NewReader returns a reader over the given backends. images may be nil, in
// which case no art is generated.
func NewReader(text llm.Provider, images image.Provider, opts ...ReaderOption) *Reader {
	r := &Reader{
		llm:       text,
		images:    images,
		llmName:   "llm",
		imageName: "image",
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// InterpretPrompt renders the user prompt for a spread.
func InterpretPrompt(question string, cards []Card, deck Deck, spread Spread) string {
	if strings.TrimSpace(question) == "" {
		question = defaultQuestion
	}
	var b strings.Builder
	fmt.Fprintf(&b, "User Question: %q\nSpread: %s\nDeck: %s\n\nCards:", question, spread.Name, deck.FullName)
	for i, c := range cards {
		fmt.Fprintf(&b, "\n%d. **%s**: %s", i+1, spread.Position(i), c.Name)
		if c.IsReversed {
			b.WriteString(" (Reversed)")
		}
	}
	return b.String()
}

// Interpret asks the reader model for an interpretation of cards laid out in
// spread.
func (r *Reader) Interpret(ctx context.Context, question string, cards []Card, deckID DeckType, spread Spread) Reading {
	deck := deckOrDefault(deckID)
	reading := Reading{
		Question:  question,
		Deck:      deck.ID,
		Spread:    spread.ID,
		Cards:     cards,
		CreatedAt: r.now(),
	}

	ctx, span := observe.StartSpan(ctx, "tarot.interpret")
	defer span.End()
	log := observe.Logger(ctx).With("spread", spread.ID, "deck", deck.ID)

	start := time.Now()
	resp, err := r.complete(ctx, llm.CompletionRequest{
		SystemPrompt: readerInstruction,
		Messages:     []llm.Message{{Role: "user", Content: InterpretPrompt(question, cards, deck, spread)}},
		Temperature:  interpretTemperature,
	})
	r.metrics.RecordProviderCall(ctx, r.llmName, "interpret", time.Since(start), err)

	switch {
	case err != nil:
		log.Warn("interpretation failed", "err", err)
		reading.Interpretation = FallbackInterpretation
		reading.Degraded = true
	case strings.TrimSpace(resp.Content) == "":
		reading.Interpretation = EmptyInterpretation
		reading.Degraded = true
	default:
		reading.Interpretation = resp.Content
		r.metrics.RecordReading(ctx, "tarot")
	}
	return reading
}

// complete calls the text model, failing with [ErrNoModel] when none is
// configured.
func (r *Reader) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if r.llm == nil {
		return nil, ErrNoModel
	}
	return r.llm.Complete(ctx, req)
}

// CardImagePrompt renders the art prompt for one card.
func CardImagePrompt(name string, deck Deck) string {
	return fmt.Sprintf("Full tarot card illustration for '%s'. %s Vertical. No text.", name, deck.Style)
}

// CardImage paints one card and returns it as a data URI. It returns "" when
// no art could be generated.
func (r *Reader) CardImage(ctx context.Context, name string, deckID DeckType) string {
	return r.paint(ctx, "card_image", CardImagePrompt(name, deckOrDefault(deckID)))
}

// Reveal paints every card concurrently and returns copies with Image set.
// Cards whose art failed keep an empty Image.
func (r *Reader) Reveal(ctx context.Context, cards []Card, deckID DeckType) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revealConcurrency)
	for i := range out {
		g.Go(func() error {
			out[i].Image = r.CardImage(gctx, out[i].Name, deckID)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Reader) paint(ctx context.Context, kind, prompt string) string {
	if r.images == nil {
		return ""
	}
	ctx, span := observe.StartSpan(ctx, "tarot."+kind)
	defer span.End()

	start := time.Now()
	img, err := r.images.Generate(ctx, image.Request{Prompt: prompt})
	r.metrics.RecordProviderCall(ctx, r.imageName, kind, time.Since(start), err)
	if err != nil {
		observe.Logger(ctx).Warn("image generation failed", "kind", kind, "err", err)
		return ""
	}
	return DataURI(img)
}

// DataURI encodes img as a base64 data URI.
func DataURI(img *image.Image) string {
	if img == nil || len(img.Data) == 0 {
		return ""
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
