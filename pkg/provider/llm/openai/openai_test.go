package openai

import (
	"testing"

	"github.com/astraloracle/oracle/pkg/provider/llm"
)

func TestMessage_Roles(t *testing.T) {
	tests := []struct {
		role string
		ok   func(m llm.Message) bool
	}{
		{"system", func(m llm.Message) bool { p, _ := message(m); return p.OfSystem != nil }},
		{"user", func(m llm.Message) bool { p, _ := message(m); return p.OfUser != nil }},
		{"assistant", func(m llm.Message) bool { p, _ := message(m); return p.OfAssistant != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			if !tt.ok(llm.Message{Role: tt.role, Content: "x"}) {
				t.Errorf("role %q mapped to the wrong union member", tt.role)
			}
		})
	}
	if _, err := message(llm.Message{Role: "oracle"}); err == nil {
		t.Error("expected an error for an unknown role")
	}
}

func TestParams(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "Tu es un maître du Tarot.",
		Messages:     []llm.Message{{Role: "user", Content: "Interprète."}},
		Temperature:  0.7,
		MaxTokens:    256,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(params.Messages) != 2 || params.Messages[0].OfSystem == nil {
		t.Fatalf("messages = %+v", params.Messages)
	}
	if string(params.Model) != "gpt-4o" || params.Temperature.Value != 0.7 || params.MaxCompletionTokens.Value != 256 {
		t.Errorf("params = %+v", params)
	}
}

func TestParams_Attachments(t *testing.T) {
	photo := llm.Attachment{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "Décris mon âme sœur."}},
		Attachments: []llm.Attachment{photo},
	}

	vision := &Provider{model: "gpt-4o", vision: true}
	params, err := vision.params(req)
	if err != nil {
		t.Fatal(err)
	}
	parts := params.Messages[0].OfUser.Content.OfArrayOfContentParts
	if len(parts) != 2 || parts[0].OfImageURL == nil || parts[1].OfText == nil {
		t.Fatalf("parts = %+v, want image then text", parts)
	}
	if got := parts[0].OfImageURL.ImageURL.URL; got != "data:image/jpeg;base64,/9g=" {
		t.Errorf("image url = %q", got)
	}

	blind := &Provider{model: "gpt-3.5-turbo"}
	params, _ = blind.params(req)
	if params.Messages[0].OfUser.Content.OfArrayOfContentParts != nil {
		t.Error("text-only model received image parts")
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected an error for an empty key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected an error for an empty model")
	}
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL("http://localhost:1"), WithTimeout(0))
	if err != nil {
		t.Fatal(err)
	}
	if caps := p.Capabilities(); !caps.SupportsAttachments || caps.MaxOutputTokens != 16_384 || caps.SupportsGrounding {
		t.Errorf("capabilities = %+v", caps)
	}
}
