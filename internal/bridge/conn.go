package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astraloracle/oracle/internal/live"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned once the WebSocket has gone away.
var ErrClosed = errors.New("bridge: connection closed")

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxMessageSize      = 1 << 20
	outboundQueue       = 256
)

// Controller is the session side of a bridge. [*live.Session] satisfies it.
type Controller interface {
	Start(ctx context.Context) error
	SetMuted(muted bool)
	End() error
	Reset() error
}

var _ Controller = (*live.Session)(nil)

type outbound struct {
	kind int
	data []byte
}

type micAnswer struct {
	granted bool
	reason  string
}

// Conn is one browser connection. It implements [live.Devices] and
// delivers session output to the page. Create it with [New] and drive it
// with [Conn.Serve].
type Conn struct {
	ws           *websocket.Conn
	log          *slog.Logger
	pingInterval time.Duration
	writeTimeout time.Duration

	out       chan outbound
	done      chan struct{}
	closeOnce sync.Once
	writerWG  sync.WaitGroup

	mu      sync.Mutex
	capture *captureContext
	micWait chan micAnswer
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the connection logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.log = l }
}

// WithPingInterval overrides the keepalive ping period.
func WithPingInterval(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithWriteTimeout overrides the per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// New wraps an upgraded WebSocket and starts its writer.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:           ws,
		log:          slog.Default(),
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		out:          make(chan outbound, outboundQueue),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.ws.SetReadLimit(maxMessageSize)
	c.writerWG.Add(1)
	go c.writeLoop()
	return c
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close shuts the connection down. It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.writerWG.Wait()
	return c.ws.Close()
}

// Serve reads client messages and drives ctrl until the page disconnects
// or ctx is cancelled. The session is ended before Serve returns.
func (c *Conn) Serve(ctx context.Context, ctrl Controller) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	var starts sync.WaitGroup
	defer func() {
		// Devices refuse new work from here on, so a start still in flight
		// fails fast instead of waiting for a page that is gone.
		c.closeOnce.Do(func() { close(c.done) })
		if err := ctrl.End(); err != nil {
			c.log.Warn("bridge: end session", "err", err)
		}
		starts.Wait()
		_ = c.Close()
	}()

	pongWait := 3 * c.pingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			return fmt.Errorf("bridge: read: %w", err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("bridge: ignoring malformed message", "err", err)
			continue
		}
		switch msg.Type {
		case TypeStart:
			starts.Add(1)
			go func() {
				defer starts.Done()
				c.start(ctx, ctrl)
			}()
		case TypeMute:
			ctrl.SetMuted(msg.Muted)
		case TypeEnd:
			if err := ctrl.End(); err != nil {
				c.log.Warn("bridge: end session", "err", err)
			}
		case TypeMicGranted, TypeMicDenied:
			c.answerMic(micAnswer{granted: msg.Type == TypeMicGranted, reason: msg.Reason})
		case TypeMic:
			c.feedMic(msg)
		default:
			c.log.Debug("bridge: unknown message type", "type", msg.Type)
		}
	}
}

// start resets a finished session before starting it again, so the page
// can retry after an error without reconnecting.
func (c *Conn) start(ctx context.Context, ctrl Controller) {
	if err := ctrl.Reset(); err != nil {
		c.log.Debug("bridge: start ignored", "err", err)
		return
	}
	if err := ctrl.Start(ctx); err != nil {
		// The failure already reached the page as a state message.
		c.log.Info("bridge: session start failed", "err", err)
	}
}

func (c *Conn) answerMic(a micAnswer) {
	c.mu.Lock()
	wait := c.micWait
	c.micWait = nil
	c.mu.Unlock()
	if wait == nil {
		c.log.Debug("bridge: unsolicited microphone answer")
		return
	}
	wait <- a
}

func (c *Conn) feedMic(msg ClientMessage) {
	pcm, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.log.Debug("bridge: dropping undecodable microphone chunk", "err", err)
		return
	}
	c.mu.Lock()
	cc := c.capture
	c.mu.Unlock()
	if cc != nil {
		cc.feed(msg.SampleRate, pcm)
	}
}

// ── Outbound ───────────────────────────────────────────────────────────────

// Ready tells the page which session it is attached to.
func (c *Conn) Ready(sessionID string) error {
	return c.sendJSON(readyMessage{Type: TypeReady, SessionID: sessionID})
}

// Hooks returns session hooks that forward output to the page. onEnd, if
// non-nil, runs after each session instance ends.
func (c *Conn) Hooks(onEnd func(live.Summary)) live.Hooks {
	return live.Hooks{
		OnState: func(st live.State) {
			if err := c.sendJSON(NewStateMessage(st)); err != nil && !errors.Is(err, ErrClosed) {
				c.log.Warn("bridge: send state", "err", err)
			}
		},
		OnTranscript: func(t live.Transcript) {
			_ = c.sendJSON(TranscriptMessage{Type: TypeTranscript, Role: t.Role, Text: t.Text})
		},
		OnAvatarFrame: func(frame []byte) {
			// Video frames are droppable; never stall the session on them.
			select {
			case c.out <- outbound{kind: websocket.BinaryMessage, data: frame}:
			default:
			}
		},
		OnEnd: onEnd,
	}
}

func (c *Conn) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge: encode: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- outbound{kind: websocket.TextMessage, data: data}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conn) writeLoop() {
	defer c.writerWG.Done()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(c.writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return

		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(msg.kind, msg.data); err != nil {
				c.log.Debug("bridge: write failed", "err", err)
				c.closeOnce.Do(func() { close(c.done) })
				_ = c.ws.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("bridge: ping failed", "err", err)
				c.closeOnce.Do(func() { close(c.done) })
				_ = c.ws.Close()
				return
			}
		}
	}
}
