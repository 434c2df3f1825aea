package tarot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/astraloracle/oracle/internal/observe"
	"github.com/astraloracle/oracle/pkg/provider/llm"
)

// ErrNoJSON is reported when the soulmate answer holds no JSON object.
var ErrNoJSON = errors.New("tarot: soulmate answer holds no json object")

const (
	soulmateTemperature = 0.8
	portraitSuffix      = ". Portrait, 8k, photorealistic, cinematic lighting, high resolution."
	defaultSoulReading  = "The mists reveal a soul bound to yours..."
)

// SoulmateRequest is the seeker's birth data.
type SoulmateRequest struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Place    string `json:"place"`
	Gender   string `json:"gender"`
	Interest string `json:"interest"`

	// Photo is an optional JPEG of the seeker.
	Photo []byte `json:"photo,omitempty"`
}

// Normalize fills the form defaults.
func (r *SoulmateRequest) Normalize() {
	r.Date = strings.TrimSpace(r.Date)
	r.Place = strings.TrimSpace(r.Place)
	if strings.TrimSpace(r.Time) == "" {
		r.Time = "12:00"
	}
	if strings.TrimSpace(r.Gender) == "" {
		r.Gender = "female"
	}
	if strings.TrimSpace(r.Interest) == "" {
		r.Interest = "male"
	}
}

// Validate checks the fields a vision cannot do without.
func (r SoulmateRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Date) == "" {
		errs = append(errs, errors.New("date must not be empty"))
	} else if _, err := time.Parse(time.DateOnly, strings.TrimSpace(r.Date)); err != nil {
		errs = append(errs, fmt.Errorf("date %q must be YYYY-MM-DD", r.Date))
	}
	if strings.TrimSpace(r.Place) == "" {
		errs = append(errs, errors.New("place must not be empty"))
	}
	return errors.Join(errs...)
}

// SoulmateReading is the vision of the seeker's fated counterpart.
type SoulmateReading struct {
	Reading             string   `json:"reading"`
	VisualPrompt        string   `json:"visualPrompt"`
	ImageURL            string   `json:"imageUrl,omitempty"`
	Initials            string   `json:"initials"`
	InitialsContext     string   `json:"initialsContext"`
	ZodiacSign          string   `json:"zodiacSign"`
	ZodiacCompatibility string   `json:"zodiacCompatibility"`
	AuraColor           string   `json:"auraColor"`
	AuraDescription     string   `json:"auraDescription"`
	PersonalityTraits   []string `json:"personalityTraits"`
	SpiritualAlignment  string   `json:"spiritualAlignment"`
	SpiritAnimal        string   `json:"spiritAnimal"`
	Career              string   `json:"career"`
	CareerMission       string   `json:"careerMission"`
	MeetingTime         string   `json:"meetingTime"`
	MeetingLocation     string   `json:"meetingLocation"`
	MeetingDetails      string   `json:"meetingDetails"`
	PastLifeConnection  string   `json:"pastLifeConnection"`
	TarotCards          []string `json:"tarotCards"`
	AngelNumbers        []string `json:"angelNumbers"`

	// Sources are the places the model consulted to anchor the birthplace.
	Sources []llm.Citation `json:"sources,omitempty"`

	// Degraded is set when this is the fixed fallback vision.
	Degraded bool `json:"degraded,omitempty"`
}

// FallbackSoulmate is the vision returned when the oracle cannot answer.
func FallbackSoulmate(interest string) SoulmateReading {
	return SoulmateReading{
		Reading:             "Through the celestial mists, I glimpse a soul destined for yours. Born under different stars yet drawn by the same cosmic thread.",
		Initials:            "S.M.",
		InitialsContext:     "You will see these letters reflected in the patterns of your daily life.",
		ZodiacSign:          "Leo Sun / Libra Moon",
		ZodiacCompatibility: "Their fiery passion balances your earthy resolve.",
		AuraColor:           "Golden Indigo",
		AuraDescription:     "A shield of protection and a beacon of wisdom.",
		PersonalityTraits:   []string{"Empathetic", "Adventurous", "Wise"},
		SpiritualAlignment:  "Rooted in Ancient Earth Wisdom",
		SpiritAnimal:        "Golden Phoenix",
		Career:              "Healer of Hearts",
		CareerMission:       "Restoring balance to those who have lost their way.",
		MeetingTime:         "Within the turning of seasons",
		MeetingLocation:     "A luminous gathering place where spirits align",
		MeetingDetails:      "A shared glance that feels like coming home.",
		PastLifeConnection:  "You were companions in an ancient city of light.",
		TarotCards:          []string{"The Lovers", "The Star", "Ace of Cups"},
		AngelNumbers:        []string{"111", "222"},
		VisualPrompt:        fmt.Sprintf("Photorealistic 8k portrait of a beautiful %s with soulful eyes.", interest),
		Degraded:            true,
	}
}

// SoulmatePrompt renders the vision prompt for req.
func SoulmatePrompt(req SoulmateRequest) string {
	aura := ""
	if len(req.Photo) > 0 {
		aura = "\n- Seeker Aura: A visual essence (photo) has been provided. Factor this unique energy into their fated counterpart."
	}
	return fmt.Sprintf(`You are the Divine Celestial Oracle. Perform a profound astrological soulmate vision inspired by the deepest spiritual traditions.

SEEKER BIRTH DATA:
- Birth Date: %[1]s
- Birth Time: %[2]s
- Birth Place: "%[3]s"
- Seeker Gender: %[4]s
- Seeking: %[5]s soulmate%[6]s

CRITICAL INSTRUCTIONS:
1. GROUNDING: Use Google Maps to verify "%[3]s". Use its coordinates for precise astrological calculations.
2. VAGUENESS: Do NOT suggest a literal street address or the user's birthplace for the meeting. Instead, suggest poetic, public, or social environments like "a cozy hidden cafe," "a quiet art gallery," "a vibrant professional gathering," or "a serene nature retreat."
3. TONE: Mysterious, supportive, and detailed.
4. JSON ONLY: No preamble, no markdown. Pure JSON.

JSON STRUCTURE:
{
  "reading": "A beautiful 2-paragraph narrative about the bond.",
  "initials": "L.M.",
  "initialsContext": "How these letters will appear as signs (e.g. on a book, a sign, or heard in a crowd).",
  "zodiacSign": "Their primary sign.",
  "zodiacCompatibility": "Why their sign matches the seeker's astrology.",
  "auraColor": "Deep Green",
  "auraDescription": "What their aura color says about their spirit.",
  "personalityTraits": ["Trait 1", "Trait 2", "Trait 3"],
  "spiritualAlignment": "Which chakra or spiritual practice they follow (e.g. Heart Chakra, Nature Yoga).",
  "spiritAnimal": "Their guardian archetype.",
  "career": "Their profession.",
  "careerMission": "The deeper impact of their work.",
  "meetingTime": "A timeframe like 'Next Autumn' or 'In about 9 months'.",
  "meetingLocation": "A poetic description of the environment (e.g. A sun-drenched bistro).",
  "meetingDetails": "The vibe of the first encounter.",
  "pastLifeConnection": "The story of your shared history.",
  "tarotCards": ["Card 1", "Card 2", "Card 3"],
  "angelNumbers": ["444", "777"],
  "visualPrompt": "Detailed physical description (must be %[5]s, photorealistic, 8k portrait, cinematic lighting)."
}`, req.Date, req.Time, req.Place, req.Gender, req.Interest, aura)
}

// ParseSoulmate extracts the vision from a model answer. Code fences are
// stripped and the outermost {...} is decoded; missing reading and
// visualPrompt fields take defaults.
func ParseSoulmate(answer, interest string) (SoulmateReading, error) {
	s := strings.ReplaceAll(answer, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return SoulmateReading{}, ErrNoJSON
	}
	var out SoulmateReading
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return SoulmateReading{}, fmt.Errorf("tarot: decode soulmate: %w", err)
	}
	out.Degraded = false
	out.Sources = nil
	if strings.TrimSpace(out.Reading) == "" {
		out.Reading = defaultSoulReading
	}
	if strings.TrimSpace(out.VisualPrompt) == "" {
		out.VisualPrompt = fmt.Sprintf("Photorealistic 8k portrait of a beautiful %s soulmate", interest)
	}
	return out, nil
}

// Soulmate performs a soulmate vision. It never fails: any backend or format
// error yields [FallbackSoulmate].
func (r *Reader) Soulmate(ctx context.Context, req SoulmateRequest) SoulmateReading {
	req.Normalize()
	ctx, span := observe.StartSpan(ctx, "tarot.soulmate")
	defer span.End()
	log := observe.Logger(ctx)

	creq := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: SoulmatePrompt(req)}},
		Temperature: soulmateTemperature,
		Grounding:   llm.GroundingGoogleMaps,
	}
	if len(req.Photo) > 0 {
		creq.Attachments = []llm.Attachment{{MIMEType: "image/jpeg", Data: req.Photo}}
	}

	start := time.Now()
	resp, err := r.complete(ctx, creq)
	r.metrics.RecordProviderCall(ctx, r.llmName, "soulmate", time.Since(start), err)
	if err != nil {
		log.Warn("soulmate vision failed", "err", err)
		return FallbackSoulmate(req.Interest)
	}

	reading, err := ParseSoulmate(resp.Content, req.Interest)
	if err != nil {
		log.Warn("soulmate vision unreadable", "err", err)
		return FallbackSoulmate(req.Interest)
	}
	reading.Sources = resp.Citations
	r.metrics.RecordReading(ctx, "soulmate")
	return reading
}

// SoulmatePortrait paints the counterpart described by visualPrompt and
// returns a data URI, or "" when no portrait could be painted.
func (r *Reader) SoulmatePortrait(ctx context.Context, visualPrompt string) string {
	if strings.TrimSpace(visualPrompt) == "" {
		return ""
	}
	return r.paint(ctx, "portrait", visualPrompt+portraitSuffix)
}
