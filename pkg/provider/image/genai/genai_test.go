package genai

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/astraloracle/oracle/pkg/provider/image"
)

type fakeModels struct {
	gotModel  string
	gotPrompt string
	gotConfig *genai.GenerateContentConfig
	resp      *genai.GenerateContentResponse
	err       error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.gotPrompt = contents[0].Parts[0].Text
	}
	f.gotConfig = config
	return f.resp, f.err
}

func TestGenerate_ReturnsFirstInlineImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	f := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Voici la carte."},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: png}},
			}},
		}},
	}}
	p := &Provider{models: f, model: defaultModel}

	img, err := p.Generate(context.Background(), image.Request{Prompt: "The Star. Style: Thoth Tarot, surrealist Crowley style."})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.MIMEType != "image/png" || string(img.Data) != string(png) {
		t.Errorf("image = %+v", img)
	}
	if f.gotModel != "gemini-2.5-flash-image" {
		t.Errorf("model = %q", f.gotModel)
	}
	if f.gotPrompt != "The Star. Style: Thoth Tarot, surrealist Crowley style." {
		t.Errorf("prompt = %q", f.gotPrompt)
	}
}

func TestGenerate_NoImage(t *testing.T) {
	f := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("no picture", genai.RoleModel)}},
	}}
	p := &Provider{models: f, model: defaultModel}
	if _, err := p.Generate(context.Background(), image.Request{Prompt: "x"}); !errors.Is(err, image.ErrNoImage) {
		t.Fatalf("err = %v; want ErrNoImage", err)
	}
}

func TestGenerate_BackendError(t *testing.T) {
	p := &Provider{models: &fakeModels{err: errors.New("quota")}, model: defaultModel}
	if _, err := p.Generate(context.Background(), image.Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWithModel(t *testing.T) {
	p := &Provider{model: defaultModel}
	WithModel("imagen-lite")(p)
	WithModel("")(p)
	if p.model != "imagen-lite" {
		t.Errorf("model = %q", p.model)
	}
}
