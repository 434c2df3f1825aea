// Package simli implements avatar.Provider for the Simli audio-to-video API.
//
// A session is started with an authenticated REST call that returns a
// session id; the stream itself is a WebSocket that accepts binary pcm16
// chunks and answers with binary video frames.
package simli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/astraloracle/oracle/pkg/provider/avatar"
	"github.com/coder/websocket"
)

var _ avatar.Provider = (*Provider)(nil)
var _ avatar.Stream = (*stream)(nil)

const (
	defaultAPIURL    = "https://api.simli.ai"
	defaultStreamURL = "wss://api.simli.ai"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ErrNoSessionID is returned when the start call succeeds without a session id.
var ErrNoSessionID = errors.New("simli: response did not contain a session_id")

// APIError is returned when the Simli REST API answers with a non-2xx status.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("simli: start session: status %d: %s", e.Status, e.Body)
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIURL overrides the REST base URL.
func WithAPIURL(u string) Option {
	return func(p *Provider) { p.apiURL = strings.TrimRight(u, "/") }
}

// WithStreamURL overrides the WebSocket base URL.
func WithStreamURL(u string) Option {
	return func(p *Provider) { p.streamURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.http = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider talks to Simli with one API key.
type Provider struct {
	apiKey    string
	apiURL    string
	streamURL string
	http      *http.Client
}

// New creates a Simli Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		apiURL:    defaultAPIURL,
		streamURL: defaultStreamURL,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type startRequest struct {
	FaceID           string `json:"faceId"`
	APIKey           string `json:"apiKey"`
	IsJPG            bool   `json:"isJPG"`
	SyncAudio        bool   `json:"syncAudio"`
	AudioInputFormat string `json:"audioInputFormat"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// StartSession implements avatar.Provider.
func (p *Provider) StartSession(ctx context.Context, faceID string) (string, error) {
	if faceID == "" {
		return "", fmt.Errorf("simli: faceID must not be empty")
	}
	body, err := json.Marshal(startRequest{
		FaceID:           faceID,
		APIKey:           p.apiKey,
		IsJPG:            true,
		SyncAudio:        true,
		AudioInputFormat: "pcm16",
	})
	if err != nil {
		return "", fmt.Errorf("simli: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/startAudioToVideoSession", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("simli: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("simli: start session: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("simli: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var sr startResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return "", fmt.Errorf("simli: decode response: %w", err)
	}
	if sr.SessionID == "" {
		return "", ErrNoSessionID
	}
	return sr.SessionID, nil
}

// Stream implements avatar.Provider.
func (p *Provider) Stream(ctx context.Context, sessionID string) (avatar.Stream, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("apiKey", p.apiKey)
	wsURL := p.streamURL + "/StartAudioToVideoStream?" + q.Encode()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("simli: dial: %w", err)
	}
	conn.SetReadLimit(8 << 20)

	sctx, cancel := context.WithCancel(context.Background())
	s := &stream{
		conn:   conn,
		frames: make(chan []byte, 32),
		ctx:    sctx,
		cancel: cancel,
	}
	go s.receiveLoop()
	go s.keepaliveLoop()
	return s, nil
}

// ── stream ─────────────────────────────────────────────────────────────────────

type stream struct {
	conn   *websocket.Conn
	frames chan []byte

	mu     sync.Mutex
	errVal error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *stream) receiveLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(fmt.Errorf("simli: read: %w", err))
			return
		}
		select {
		case s.frames <- data:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *stream) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// SendAudio implements avatar.Stream.
func (s *stream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return avatar.ErrStreamClosed
	}
	s.mu.Unlock()
	if err := s.conn.Write(s.ctx, websocket.MessageBinary, pcm); err != nil {
		return fmt.Errorf("simli: send audio: %w", err)
	}
	return nil
}

// Frames implements avatar.Stream.
func (s *stream) Frames() <-chan []byte { return s.frames }

// Err implements avatar.Stream.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements avatar.Stream.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
