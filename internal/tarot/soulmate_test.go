package tarot

import (
	"context"
	"errors"
	"strings"
	"testing"

	imagemock "github.com/astraloracle/oracle/pkg/provider/image/mock"
	"github.com/astraloracle/oracle/pkg/provider/llm"
	llmmock "github.com/astraloracle/oracle/pkg/provider/llm/mock"
)

const visionJSON = `{
  "reading": "Two souls.",
  "initials": "L.M.",
  "zodiacSign": "Taurus",
  "personalityTraits": ["Gentle", "Loyal", "Curious"],
  "tarotCards": ["The Lovers"],
  "angelNumbers": ["444"],
  "visualPrompt": "A man with kind eyes"
}`

func TestParseSoulmate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		answer  string
		reading string
		visual  string
		wantErr error
	}{
		{"plain", visionJSON, "Two souls.", "A man with kind eyes", nil},
		{"fenced", "```json\n" + visionJSON + "\n```", "Two souls.", "A man with kind eyes", nil},
		{"preamble", "Here is your vision:\n" + visionJSON + "\nBlessings.", "Two souls.", "A man with kind eyes", nil},
		{"defaults", `{"initials": "A.B."}`, defaultSoulReading, "Photorealistic 8k portrait of a beautiful male soulmate", nil},
		{"no json", "The stars are silent.", "", "", ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSoulmate(tt.answer, "male")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Reading != tt.reading || got.VisualPrompt != tt.visual {
				t.Errorf("got reading %q visual %q", got.Reading, got.VisualPrompt)
			}
			if got.Degraded {
				t.Error("parsed vision marked degraded")
			}
		})
	}

	if _, err := ParseSoulmate(`{"reading": }`, "male"); err == nil {
		t.Error("malformed json should fail")
	}
}

func TestSoulmatePrompt(t *testing.T) {
	t.Parallel()
	req := SoulmateRequest{Date: "1990-04-12", Time: "07:30", Place: "Lyon, France", Gender: "male", Interest: "female"}
	p := SoulmatePrompt(req)
	for _, want := range []string{
		"- Birth Date: 1990-04-12",
		"- Birth Time: 07:30",
		`- Birth Place: "Lyon, France"`,
		"- Seeking: female soulmate",
		`Use Google Maps to verify "Lyon, France"`,
		"(must be female, photorealistic",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "Seeker Aura") {
		t.Error("aura line present without a photo")
	}
	req.Photo = []byte{0xff, 0xd8}
	if !strings.Contains(SoulmatePrompt(req), "Seeker Aura") {
		t.Error("aura line missing with a photo")
	}
}

func TestSoulmateRequest_NormalizeValidate(t *testing.T) {
	t.Parallel()
	req := SoulmateRequest{Date: " 1990-04-12 ", Place: "Nice"}
	req.Normalize()
	if req.Time != "12:00" || req.Gender != "female" || req.Interest != "male" {
		t.Errorf("Normalize() = %+v", req)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	err := SoulmateRequest{Date: "12/04/1990"}.Validate()
	if err == nil || !strings.Contains(err.Error(), "YYYY-MM-DD") || !strings.Contains(err.Error(), "place") {
		t.Errorf("Validate() = %v, want date and place errors", err)
	}
}

func TestSoulmate(t *testing.T) {
	t.Parallel()
	text := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content:   visionJSON,
		Citations: []llm.Citation{{Title: "Lyon", URI: "https://maps.google.com/?cid=1"}},
	}}
	r, mr := newTestReader(t, text, nil)

	got := r.Soulmate(context.Background(), SoulmateRequest{Date: "1990-04-12", Place: "Lyon", Photo: []byte{1, 2, 3}})
	if got.Degraded || got.Initials != "L.M." {
		t.Fatalf("vision = %+v", got)
	}
	if len(got.Sources) != 1 {
		t.Errorf("sources = %v", got.Sources)
	}

	req := text.Completes()[0].Req
	if req.Temperature != 0.8 || req.Grounding != llm.GroundingGoogleMaps {
		t.Errorf("request temperature=%v grounding=%v", req.Temperature, req.Grounding)
	}
	if len(req.Attachments) != 1 || req.Attachments[0].MIMEType != "image/jpeg" {
		t.Errorf("attachments = %+v", req.Attachments)
	}
	if got := counter(t, mr, "oracle.readings.generated"); got != 1 {
		t.Errorf("readings generated = %d, want 1", got)
	}
}

func TestSoulmate_Fallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text *llmmock.Provider
	}{
		{"backend error", &llmmock.Provider{CompleteErr: errors.New("down")}},
		{"unreadable", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "no json here"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := newTestReader(t, tt.text, nil)
			got := r.Soulmate(context.Background(), SoulmateRequest{Date: "1990-04-12", Place: "Lyon", Interest: "female"})
			if !got.Degraded || got.Initials != "S.M." {
				t.Errorf("vision = %+v, want fallback", got)
			}
			if got.VisualPrompt != "Photorealistic 8k portrait of a beautiful female with soulful eyes." {
				t.Errorf("visual prompt = %q", got.VisualPrompt)
			}
		})
	}
}

func TestSoulmatePortrait(t *testing.T) {
	t.Parallel()
	images := &imagemock.Provider{}
	r, _ := newTestReader(t, &llmmock.Provider{}, images)

	if got := r.SoulmatePortrait(context.Background(), "  "); got != "" {
		t.Errorf("empty prompt painted %q", got)
	}
	if got := r.SoulmatePortrait(context.Background(), "A man with kind eyes"); got == "" {
		t.Fatal("no portrait")
	}
	want := "A man with kind eyes. Portrait, 8k, photorealistic, cinematic lighting, high resolution."
	if p := images.Prompts(); len(p) != 1 || p[0] != want {
		t.Errorf("prompts = %q", p)
	}
}
