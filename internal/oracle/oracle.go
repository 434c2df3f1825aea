// Package oracle holds the roster of oracle personas a seeker can consult:
// their identity, voice, portrait, price and the ritual shown while a live
// session connects.
package oracle

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/astraloracle/oracle/internal/live"
	"github.com/astraloracle/oracle/pkg/provider/s2s"
)

// DefaultStepDuration is how long each ritual step is shown.
const DefaultStepDuration = 800 * time.Millisecond

var (
	// ErrNotFound is returned for an unknown oracle id.
	ErrNotFound = errors.New("oracle: not found")

	// ErrDuplicateID is returned when two profiles share an id.
	ErrDuplicateID = errors.New("oracle: duplicate id")
)

// Ritual names the connection ritual an oracle performs.
type Ritual string

const (
	RitualSolar Ritual = "solar"
	RitualLunar Ritual = "lunar"
)

// IsValid reports whether r is a known ritual.
func (r Ritual) IsValid() bool {
	return r == RitualSolar || r == RitualLunar
}

// Profile describes one oracle persona.
type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Voice       s2s.Voice `json:"voice"`

	// BaseImage is a portrait URL or a data URI set by an upload.
	BaseImage   string   `json:"baseImage"`
	SimliFaceID string   `json:"simliFaceId,omitempty"`
	Price       int      `json:"price"`
	Tags        []string `json:"tags"`
	Ritual      Ritual   `json:"ritual"`
}

// SystemPrompt is the persona instruction given to the speech agent.
func (p Profile) SystemPrompt() string {
	return fmt.Sprintf("Tu es %s, %s. %s Réponds toujours en français, avec sagesse et mystère.",
		p.Name, p.Title, p.Description)
}

// SpeechVoice returns the configured voice, or the voice assigned by id.
func (p Profile) SpeechVoice() s2s.Voice {
	if p.Voice != "" {
		return p.Voice
	}
	return VoiceFor(p.ID)
}

// VoiceFor returns the prebuilt voice for an oracle id.
func VoiceFor(id string) s2s.Voice {
	switch id {
	case "michael":
		return s2s.VoiceCharon
	case "asian-elf":
		return s2s.VoiceKore
	default:
		return s2s.VoicePuck
	}
}

// RitualFor returns the connection steps of p, each lasting step. A
// non-positive step uses [DefaultStepDuration].
func RitualFor(p Profile, step time.Duration) []live.RitualStep {
	if step <= 0 {
		step = DefaultStepDuration
	}
	var labels []string
	switch p.Ritual {
	case RitualLunar:
		labels = []string{
			"Ouverture du Portail Lunaire...",
			"Éveil des racines ancestrales...",
			p.Name + " se manifeste...",
		}
	default:
		labels = []string{
			"Purification du vide cosmique...",
			"Ancrage du pont céleste...",
			p.Name + " arrive...",
		}
	}
	steps := make([]live.RitualStep, len(labels))
	for i, l := range labels {
		steps[i] = live.RitualStep{Label: l, Duration: step}
	}
	return steps
}

// Validate checks the fields every profile needs.
func Validate(p Profile) error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if p.Voice != "" && !p.Voice.IsValid() {
		errs = append(errs, fmt.Errorf("voice %q is not a known prebuilt voice", p.Voice))
	}
	if p.Ritual != "" && !p.Ritual.IsValid() {
		errs = append(errs, fmt.Errorf("ritual %q must be %q or %q", p.Ritual, RitualSolar, RitualLunar))
	}
	if p.Price < 0 {
		errs = append(errs, fmt.Errorf("price %d must not be negative", p.Price))
	}
	return errors.Join(errs...)
}

func unsplash(photo string) string {
	return "https://images.unsplash.com/" + photo + "?auto=format&fit=crop&w=400&q=80"
}

// Defaults returns the built-in roster. Face ids left empty are usually
// filled from configuration.
func Defaults() []Profile {
	return []Profile{
		{
			ID:          "michael",
			Name:        "Michael",
			Title:       "The Cosmic Sentinel",
			Description: "Guardian of universal truths and solar destiny.",
			Voice:       s2s.VoiceCharon,
			BaseImage:   unsplash("photo-1500648767791-00dcc994a43e"),
			Price:       45,
			Tags:        []string{"Solar Wisdom", "Stability", "Destiny"},
			Ritual:      RitualSolar,
		},
		{
			ID:          "asian-elf",
			Name:        "Elara",
			Title:       "The Moon Seer",
			Description: "Bridge between the natural world and the astral plane.",
			Voice:       s2s.VoiceKore,
			BaseImage:   unsplash("photo-1544005313-94ddf0286df2"),
			SimliFaceID: "6de27680-7eb0-4f9c-8968-07612c155624",
			Price:       55,
			Tags:        []string{"Lunar Intuition", "Soul Ties", "Nature"},
			Ritual:      RitualLunar,
		},
		{
			ID:          "serafina",
			Name:        "Serafina",
			Title:       "The Seraphic Weaver",
			Description: "Master of the golden threads that bind two souls.",
			Voice:       s2s.VoicePuck,
			BaseImage:   unsplash("photo-1531123897727-8f129e16fd3c"),
			Price:       65,
			Tags:        []string{"Alchemy", "Harmony", "Eternal Love"},
			Ritual:      RitualSolar,
		},
	}
}

// ── Roster ─────────────────────────────────────────────────────────────────────

// Roster is a thread-safe, ordered set of profiles. It can be replaced
// wholesale on configuration reload.
type Roster struct {
	mu       sync.RWMutex
	order    []string
	profiles map[string]Profile
}

// NewRoster returns a roster holding profiles in order.
func NewRoster(profiles []Profile) (*Roster, error) {
	r := &Roster{}
	if err := r.Replace(profiles); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps the whole roster. Uploaded portraits survive for ids that
// remain and did not change their configured image.
func (r *Roster) Replace(profiles []Profile) error {
	order := make([]string, 0, len(profiles))
	next := make(map[string]Profile, len(profiles))
	var errs []error
	for i, p := range profiles {
		if err := Validate(p); err != nil {
			errs = append(errs, fmt.Errorf("oracle[%d]: %w", i, err))
			continue
		}
		if _, dup := next[p.ID]; dup {
			errs = append(errs, fmt.Errorf("oracle[%d] %q: %w", i, p.ID, ErrDuplicateID))
			continue
		}
		if p.Ritual == "" {
			p.Ritual = RitualSolar
		}
		p.Tags = slices.Clone(p.Tags)
		order = append(order, p.ID)
		next[p.ID] = p
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range next {
		if old, ok := r.profiles[id]; ok && strings.HasPrefix(old.BaseImage, "data:") && !strings.HasPrefix(p.BaseImage, "data:") {
			p.BaseImage = old.BaseImage
			next[id] = p
		}
	}
	r.order = order
	r.profiles = next
	return nil
}

// Get returns the profile with the given id.
func (r *Roster) Get(id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	p.Tags = slices.Clone(p.Tags)
	return p, nil
}

// List returns every profile in roster order.
func (r *Roster) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.order))
	for _, id := range r.order {
		p := r.profiles[id]
		p.Tags = slices.Clone(p.Tags)
		out = append(out, p)
	}
	return out
}

// SetBaseImage replaces the portrait of an oracle, typically with an uploaded
// data URI.
func (r *Roster) SetBaseImage(id, image string) error {
	if image == "" {
		return errors.New("oracle: image must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	p.BaseImage = image
	r.profiles[id] = p
	return nil
}
