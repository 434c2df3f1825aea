package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astraloracle/oracle/internal/bridge"
	"github.com/astraloracle/oracle/internal/health"
	"github.com/astraloracle/oracle/internal/journal"
	"github.com/astraloracle/oracle/internal/live"
	"github.com/astraloracle/oracle/internal/oracle"
	"github.com/astraloracle/oracle/internal/server"
	"github.com/astraloracle/oracle/internal/tarot"
	avatarmock "github.com/astraloracle/oracle/pkg/provider/avatar/mock"
	imagemock "github.com/astraloracle/oracle/pkg/provider/image/mock"
	"github.com/astraloracle/oracle/pkg/provider/llm"
	llmmock "github.com/astraloracle/oracle/pkg/provider/llm/mock"
	s2smock "github.com/astraloracle/oracle/pkg/provider/s2s/mock"
	"github.com/gorilla/websocket"
)

// ── Harness ────────────────────────────────────────────────────────────────

type fakeLives struct {
	mu       sync.Mutex
	err      error
	opened   []string
	released []string
}

func (f *fakeLives) Open(oracleID string, devices live.Devices, hooks live.Hooks) (*live.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.opened = append(f.opened, oracleID)
	cfg := live.Config{ID: "live-" + oracleID, Oracle: oracleID}
	return live.New(&s2smock.Provider{}, devices, cfg, live.WithHooks(hooks)), nil
}

func (f *fakeLives) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
}

func (f *fakeLives) Active() []server.LiveSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]server.LiveSession, 0, len(f.opened))
	for _, id := range f.opened {
		if !slices.Contains(f.released, "live-"+id) {
			out = append(out, server.LiveSession{SessionID: "live-" + id, Oracle: id, Status: live.StatusInitial})
		}
	}
	return out
}

func (f *fakeLives) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type harness struct {
	srv     *httptest.Server
	text    *llmmock.Provider
	images  *imagemock.Provider
	avatar  *avatarmock.Provider
	journal *journal.MemStore
	lives   *fakeLives
	roster  *oracle.Roster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	roster, err := oracle.NewRoster(oracle.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		text:    &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Le Mat ouvre la voie."}},
		images:  &imagemock.Provider{},
		avatar:  &avatarmock.Provider{SessionID: "simli-1"},
		journal: journal.NewMemStore(0),
		lives:   &fakeLives{},
		roster:  roster,
	}
	s, err := server.New(server.Deps{
		Roster:  roster,
		Reader:  tarot.NewReader(h.text, h.images),
		Cities:  tarot.NewCities(),
		Journal: h.journal,
		Lives:   h.lives,
		Avatar:  h.avatar,
		Health:  health.New(),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics\n") }),
	}, server.WithRand(rand.New(rand.NewPCG(1, 2))))
	if err != nil {
		t.Fatal(err)
	}
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func errorOf(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeInto(t, data, &body)
	return body.Error
}

// ── Catalogue ──────────────────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()
	_, err := server.New(server.Deps{})
	if err == nil {
		t.Fatal("New with no deps should fail")
	}
	for _, want := range []string{"roster", "reader", "cities", "journal"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestCatalogue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		path string
		want int
	}{
		{"/api/decks", 3},
		{"/api/spreads", 6},
		{"/api/oracles", 3},
	}
	for _, tc := range tests {
		resp, data := h.do(t, http.MethodGet, tc.path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d", tc.path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("GET %s content type = %q", tc.path, ct)
		}
		var items []json.RawMessage
		decodeInto(t, data, &items)
		if len(items) != tc.want {
			t.Errorf("GET %s = %d items, want %d", tc.path, len(items), tc.want)
		}
	}
}

func TestShuffle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, data := h.do(t, http.MethodPost, "/api/decks/thoth/shuffle", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var body struct {
		Deck  string       `json:"deck"`
		Cards []tarot.Card `json:"cards"`
	}
	decodeInto(t, data, &body)
	if body.Deck != "thoth" || len(body.Cards) != 22 {
		t.Fatalf("shuffle = %s with %d cards", body.Deck, len(body.Cards))
	}
	names := map[string]bool{}
	for _, c := range body.Cards {
		names[c.Name] = true
	}
	if !names["Lust"] || names["Strength"] {
		t.Error("thoth deck should rename Strength to Lust")
	}

	resp, data = h.do(t, http.MethodPost, "/api/decks/lenormand/shuffle", nil)
	if resp.StatusCode != http.StatusNotFound || errorOf(t, data) == "" {
		t.Errorf("unknown deck = %d %s", resp.StatusCode, data)
	}
}

// ── Readings ───────────────────────────────────────────────────────────────

func TestReading_InterpretsAndJournals(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	cards := []tarot.Card{
		{ID: "card-0", Name: "The Fool"},
		{ID: "card-1", Name: "The Magician", IsReversed: true},
		{ID: "card-2", Name: "The High Priestess"},
	}
	resp, data := h.do(t, http.MethodPost, "/api/readings", map[string]any{
		"question": "Dois-je partir ?",
		"deck":     "marseille",
		"spread":   "decisions",
		"cards":    cards,
		"reveal":   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var reading tarot.Reading
	decodeInto(t, data, &reading)
	if reading.Interpretation != "Le Mat ouvre la voie." || reading.ID == "" {
		t.Errorf("reading = %+v", reading)
	}
	for _, c := range reading.Cards {
		if !strings.HasPrefix(c.Image, "data:image/png;base64,") {
			t.Errorf("card %s not revealed: %q", c.Name, c.Image)
		}
	}
	if got := len(h.images.Prompts()); got != 3 {
		t.Errorf("image prompts = %d, want 3", got)
	}

	calls := h.text.Completes()
	if len(calls) != 1 || !strings.Contains(calls[0].Req.Messages[0].Content, "Deck: Tarot de Marseille") {
		t.Errorf("completion calls = %+v", calls)
	}

	resp, data = h.do(t, http.MethodGet, "/api/readings/recent?n=5", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recent = %d", resp.StatusCode)
	}
	var recent []tarot.Reading
	decodeInto(t, data, &recent)
	if len(recent) != 1 || recent[0].ID != reading.ID {
		t.Errorf("recent = %+v", recent)
	}
}

func TestReading_DegradesOnProviderFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.text.CompleteErr = errors.New("quota exceeded")

	resp, data := h.do(t, http.MethodPost, "/api/readings", map[string]any{
		"spread": "daily",
		"cards":  []tarot.Card{{ID: "card-9", Name: "The Hermit"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var reading tarot.Reading
	decodeInto(t, data, &reading)
	if reading.Interpretation != tarot.FallbackInterpretation || !reading.Degraded {
		t.Errorf("reading = %+v", reading)
	}
	if reading.Deck != tarot.DeckRider {
		t.Errorf("deck = %q, want rider default", reading.Deck)
	}
}

func TestReading_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown spread", map[string]any{"spread": "runes", "cards": []tarot.Card{}}, http.StatusBadRequest},
		{"unknown deck", map[string]any{"spread": "daily", "deck": "lenormand", "cards": []tarot.Card{{Name: "x"}}}, http.StatusBadRequest},
		{"wrong card count", map[string]any{"spread": "celtic", "cards": []tarot.Card{{Name: "x"}}}, http.StatusBadRequest},
		{"unknown field", map[string]any{"spread": "daily", "oops": 1}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := h.do(t, http.MethodPost, "/api/readings", tc.body)
			if resp.StatusCode != tc.want || errorOf(t, data) == "" {
				t.Errorf("status = %d body %s, want %d", resp.StatusCode, data, tc.want)
			}
		})
	}
	if n := len(h.text.Completes()); n != 0 {
		t.Errorf("invalid requests reached the model %d times", n)
	}

	resp, _ := h.do(t, http.MethodGet, "/api/readings/recent?n=zero", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("recent?n=zero = %d", resp.StatusCode)
	}
}

func TestReading_RepeatedCard(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	fool := tarot.Card{ID: "card-0", Name: "The Fool"}
	resp, data := h.do(t, http.MethodPost, "/api/readings", map[string]any{
		"spread": "decisions",
		"cards":  []tarot.Card{fool, {ID: "card-1", Name: "The Magician"}, fool},
	})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(errorOf(t, data), "distinct") {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	if n := len(h.text.Completes()); n != 0 {
		t.Errorf("repeated cards reached the model %d times", n)
	}
	if saved, _ := h.journal.RecentReadings(context.Background(), 5); len(saved) != 0 {
		t.Errorf("journal = %+v, want nothing saved", saved)
	}
}

func TestCardImage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, data := h.do(t, http.MethodPost, "/api/cards/image", map[string]string{"name": "The Star", "deck": "thoth"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct{ Image string }
	decodeInto(t, data, &body)
	if !strings.HasPrefix(body.Image, "data:image/") {
		t.Errorf("image = %q", body.Image)
	}
	if p := h.images.Prompts(); len(p) != 1 || !strings.Contains(p[0], "Crowley") {
		t.Errorf("prompts = %v", p)
	}

	h.images.Err = errors.New("safety filter")
	_, data = h.do(t, http.MethodPost, "/api/cards/image", map[string]string{"name": "The Tower"})
	decodeInto(t, data, &body)
	if body.Image != "" {
		t.Errorf("failed image = %q, want empty", body.Image)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/cards/image", map[string]string{"name": " "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank name = %d", resp.StatusCode)
	}
}

// ── Soulmate ───────────────────────────────────────────────────────────────

func TestSoulmate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.text.CompleteResponse = &llm.CompletionResponse{
		Content:   "```json\n{\"reading\":\"Une âme vous attend.\",\"initials\":\"A.L.\"}\n```",
		Citations: []llm.Citation{{Title: "Lyon", URI: "https://maps.example/lyon"}},
	}

	resp, data := h.do(t, http.MethodPost, "/api/soulmate", map[string]any{
		"date":  "1990-04-12",
		"place": "Lyon, France",
		"photo": []byte{0xff, 0xd8, 0xff},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var vision tarot.SoulmateReading
	decodeInto(t, data, &vision)
	if vision.Reading != "Une âme vous attend." || vision.Initials != "A.L." || len(vision.Sources) != 1 {
		t.Errorf("vision = %+v", vision)
	}
	calls := h.text.Completes()
	if len(calls) != 1 || calls[0].Req.Grounding != llm.GroundingGoogleMaps || len(calls[0].Req.Attachments) != 1 {
		t.Errorf("calls = %+v", calls)
	}

	resp, data = h.do(t, http.MethodPost, "/api/soulmate", map[string]any{"date": "12/04/1990"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid form = %d %s", resp.StatusCode, data)
	}
}

func TestSoulmatePortrait(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, data := h.do(t, http.MethodPost, "/api/soulmate/portrait", map[string]string{"visualPrompt": "A kind stranger"})
	var body struct{ Image string }
	decodeInto(t, data, &body)
	if body.Image == "" {
		t.Error("portrait image empty")
	}
	if p := h.images.Prompts(); len(p) != 1 || !strings.HasSuffix(p[0], "high resolution.") {
		t.Errorf("prompts = %v", p)
	}

	resp, _ := h.do(t, http.MethodPost, "/api/soulmate/portrait", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty prompt = %d", resp.StatusCode)
	}
}

func TestCities(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, data := h.do(t, http.MethodGet, "/api/cities?q=par", nil)
	var out []string
	decodeInto(t, data, &out)
	if len(out) == 0 || out[0] != "Paris, France" {
		t.Errorf("cities(par) = %v", out)
	}

	_, data = h.do(t, http.MethodGet, "/api/cities?q=p", nil)
	decodeInto(t, data, &out)
	if out == nil || len(out) != 0 {
		t.Errorf("cities(p) = %#v, want []", out)
	}
}

// ── Oracles ────────────────────────────────────────────────────────────────

func TestOracleImage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	img := "data:image/png;base64,iVBORw0KGgo="

	resp, data := h.do(t, http.MethodPut, "/api/oracles/serafina/image", map[string]string{"image": img})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	p, _ := h.roster.Get("serafina")
	if p.BaseImage != img {
		t.Errorf("base image = %q", p.BaseImage)
	}

	resp, _ = h.do(t, http.MethodPut, "/api/oracles/nobody/image", map[string]string{"image": img})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown oracle = %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPut, "/api/oracles/serafina/image", map[string]string{"image": "https://example.com/x.png"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non data URI = %d", resp.StatusCode)
	}
}

func TestSimliSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, data := h.do(t, http.MethodPost, "/api/simli/session", map[string]string{"oracle": "asian-elf"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	var body struct {
		SessionID string `json:"sessionId"`
		FaceID    string `json:"faceId"`
	}
	decodeInto(t, data, &body)
	if body.SessionID != "simli-1" || body.FaceID != "6de27680-7eb0-4f9c-8968-07612c155624" {
		t.Errorf("body = %+v", body)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/simli/session", map[string]string{"oracle": "michael"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oracle without face = %d", resp.StatusCode)
	}

	h.avatar.StartErr = errors.New("401")
	resp, _ = h.do(t, http.MethodPost, "/api/simli/session", map[string]string{"faceId": "f"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("vendor failure = %d", resp.StatusCode)
	}
}

// ── Ops ────────────────────────────────────────────────────────────────────

func TestOpsEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, _ := h.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

// ── Live ───────────────────────────────────────────────────────────────────

func wsURL(h *harness, path string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + path
}

func TestLive_UnknownOracle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(h, "/api/live/nobody"), nil)
	if err == nil {
		t.Fatal("dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("resp = %v", resp)
	}
}

func TestLive_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	hdr := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(h, "/api/live/michael"), hdr)
	if err == nil {
		t.Fatal("dial from foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v", resp)
	}
}

func TestLive_ReadyAndRelease(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h, "/api/live/michael"), nil)
	if err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ready struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatal(err)
	}
	if ready.Type != bridge.TypeReady || ready.SessionID != "live-michael" {
		t.Errorf("ready = %+v", ready)
	}

	resp, data := h.do(t, http.MethodGet, "/api/live", nil)
	var open []server.LiveSession
	decodeInto(t, data, &open)
	if resp.StatusCode != http.StatusOK || len(open) != 1 || open[0].Oracle != "michael" {
		t.Errorf("GET /api/live = %d %+v", resp.StatusCode, open)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for len(h.lives.releasedIDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never released")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.lives.releasedIDs(); got[0] != "live-michael" {
		t.Errorf("released = %v", got)
	}
	_, data = h.do(t, http.MethodGet, "/api/live", nil)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("GET /api/live after release = %s", data)
	}
}

func TestLive_Refused(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lives.err = errors.New("too many live sessions")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h, "/api/live/serafina"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("read err = %v, want close 1013", err)
	}
}
