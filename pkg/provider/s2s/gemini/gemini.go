// Package gemini implements the s2s.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio travels as base64-encoded PCM in both directions and is passed through
// without re-encoding.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/astraloracle/oracle/pkg/provider/s2s"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	inputSampleRate  = 16000
	outputSampleRate = 24000
)

// ErrSetup is returned by Connect when the server rejects or never
// acknowledges the setup message.
var ErrSetup = errors.New("gemini: setup not acknowledged")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	log     *slog.Logger
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:      inputSampleRate,
		OutputSampleRate:     outputSampleRate,
		MaxSessionDurationMs: 15 * 60 * 1000,
		Voices:               append([]s2s.Voice(nil), s2s.Voices...),
	}
}

// Connect dials Gemini Live, sends the setup message and waits for the
// server's setupComplete acknowledgement before returning. Messages that
// arrive after the acknowledgement are delivered on the handle's channel.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	// Model audio frames routinely exceed the default 32 KiB read limit.
	conn.SetReadLimit(4 << 20)

	// The session outlives the dial context.
	life, stop := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		conn:     conn,
		messages: make(chan s2s.Message, 64),
		ctx:      life,
		cancel:   stop,
		log:      p.log.With("model", p.model),
	}

	if err := sess.writeJSON(ctx, setupFor(p.model, cfg)); err != nil {
		stop()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := sess.awaitSetupComplete(ctx); err != nil {
		stop()
		conn.Close(websocket.StatusPolicyViolation, "setup rejected")
		return nil, err
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()
	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) err() error {
	msg := "unknown error"
	if e.Message != "" {
		msg = e.Message
	}
	if e.Code != 0 {
		return fmt.Errorf("gemini: %d %s", e.Code, msg)
	}
	return fmt.Errorf("gemini: %s", msg)
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

// session is one BidiGenerateContent connection. ctx lives until Close and
// is what every loop and write selects on.
type session struct {
	conn     *websocket.Conn
	messages chan s2s.Message
	log      *slog.Logger

	mu     sync.Mutex
	err    error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// setupFor builds the opening message: model, audio-only response, the
// oracle's persona and voice, and transcription when asked for.
func setupFor(model string, cfg s2s.SessionConfig) setupMessage {
	modalities := []string{string(s2s.ModalityAudio)}
	if len(cfg.Modalities) > 0 {
		modalities = make([]string, len(cfg.Modalities))
		for i, m := range cfg.Modalities {
			modalities[i] = string(m)
		}
	}
	setup := setupConfig{
		Model:            "models/" + model,
		GenerationConfig: generationConfig{ResponseModalities: modalities},
	}
	if cfg.Instructions != "" {
		setup.SystemInstruction = &systemInstruction{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: string(cfg.Voice)}},
		}
	}
	if cfg.Transcribe {
		setup.InputAudioTranscription = &struct{}{}
		setup.OutputAudioTranscription = &struct{}{}
	}
	return setupMessage{Setup: setup}
}

// awaitSetupComplete blocks until the server acknowledges the setup message,
// reports an error, or ctx ends.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSetup, err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("%w: %w", ErrSetup, msg.Error.err())
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop owns the messages channel and closes it on exit.
func (s *session) receiveLoop() {
	defer close(s.messages)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Local Close, or the server hung up cleanly.
			if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(fmt.Errorf("gemini: read: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if msg.Error != nil {
			s.setErr(msg.Error.err())
			return
		}
		if msg.GoAway != nil {
			s.log.Info("gemini: server announced disconnect")
		}
		if msg.ServerContent != nil && !s.handleServerContent(msg.ServerContent) {
			return
		}
	}
}

// handleServerContent translates one serverContent frame into messages.
// It returns false if the session ended while delivering.
func (s *session) handleServerContent(sc *serverContent) bool {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			blob := &s2s.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}
			if !s.emit(s2s.Message{Audio: blob}) {
				return false
			}
		}
	}

	var msg s2s.Message
	if sc.InputTranscription != nil {
		msg.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		msg.OutputTranscript = sc.OutputTranscription.Text
	}
	msg.TurnComplete = sc.TurnComplete
	msg.Interrupted = sc.Interrupted
	if msg == (s2s.Message{}) {
		return true
	}
	return s.emit(msg)
}

func (s *session) emit(msg s2s.Message) bool {
	select {
	case s.messages <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) keepaliveLoop() {
	t := time.NewTicker(keepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(pctx); err != nil && s.ctx.Err() == nil {
				s.log.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendRealtimeAudio forwards one base64 PCM frame to the model.
func (s *session) SendRealtimeAudio(blob s2s.Blob) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s2s.ErrSessionClosed
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: blob.MIMEType, Data: blob.Data}},
		},
	}
	if err := s.writeJSON(s.ctx, msg); err != nil {
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

// Messages returns the channel on which inbound model events arrive.
func (s *session) Messages() <-chan s2s.Message { return s.messages }

// Err returns the error that ended the session, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close hangs up. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	// A peer that already hung up makes Close fail; the session is gone either way.
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
