package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/astraloracle/oracle/internal/live"
	"github.com/astraloracle/oracle/pkg/audio"
)

// ErrMicDenied is returned by [Conn.Microphone] when the page refuses
// microphone access.
var ErrMicDenied = errors.New("bridge: microphone denied by the browser")

var _ live.Devices = (*Conn)(nil)

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// OpenCapture implements [live.Devices]. Microphone chunks from the page
// are resampled to sampleRate.
func (c *Conn) OpenCapture(_ context.Context, sampleRate int) (live.CaptureContext, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("bridge: invalid capture rate %d", sampleRate)
	}
	cc := &captureContext{conn: c, rate: sampleRate}
	c.mu.Lock()
	c.capture = cc
	c.mu.Unlock()
	return cc, nil
}

// OpenPlayback implements [live.Devices]. Its clock starts at zero when
// opened and runs on the server's monotonic clock.
func (c *Conn) OpenPlayback(_ context.Context, sampleRate int) (live.PlaybackContext, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("bridge: invalid playback rate %d", sampleRate)
	}
	return &playbackContext{
		conn:   c,
		rate:   sampleRate,
		start:  time.Now(),
		timers: make(map[*time.Timer]struct{}),
	}, nil
}

// Microphone implements [live.Devices]. It asks the page for microphone
// access and waits for the answer.
func (c *Conn) Microphone(ctx context.Context) (live.Microphone, error) {
	answer := make(chan micAnswer, 1)
	c.mu.Lock()
	c.micWait = answer
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.micWait == answer {
			c.micWait = nil
		}
		c.mu.Unlock()
	}()

	if err := c.sendJSON(signal{Type: TypeMicRequest}); err != nil {
		return nil, err
	}
	select {
	case a := <-answer:
		if !a.granted {
			if a.reason == "" {
				return nil, ErrMicDenied
			}
			return nil, fmt.Errorf("%w: %s", ErrMicDenied, a.reason)
		}
		return microphone{conn: c}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

type microphone struct{ conn *Conn }

func (m microphone) Stop() error {
	if err := m.conn.sendJSON(signal{Type: TypeMicStop}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// ── Capture ────────────────────────────────────────────────────────────────

const captureQueue = 32

type captureContext struct {
	conn *Conn
	rate int

	mu      sync.Mutex
	blocks   chan []float32
	reblock  *audio.Reblocker
	resample *audio.Resampler
	srcRate  int
	dropped  int
	closed  bool
}

func (cc *captureContext) Process(_ live.Microphone, blockSize int) (<-chan []float32, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.closed {
		return nil, ErrClosed
	}
	if cc.blocks != nil {
		return nil, errors.New("bridge: capture already processing")
	}
	cc.blocks = make(chan []float32, captureQueue)
	cc.reblock = audio.NewReblocker(blockSize)
	return cc.blocks, nil
}

// feed converts one chunk from the page and queues every completed block.
// Resampling state carries across chunks until the page's rate changes.
// Blocks are dropped when the session falls behind.
func (cc *captureContext) feed(srcRate int, pcm []byte) {
	if srcRate <= 0 {
		srcRate = cc.rate
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.blocks == nil {
		return
	}
	if cc.resample == nil || srcRate != cc.srcRate {
		cc.resample, cc.srcRate = audio.NewResampler(srcRate, cc.rate), srcRate
	}
	samples := audio.Int16ToFloat32(audio.DecodePCM16(cc.resample.Resample(pcm)))
	for _, block := range cc.reblock.Push(samples) {
		select {
		case cc.blocks <- block:
		default:
			cc.dropped++
			if cc.dropped == 1 || cc.dropped%100 == 0 {
				cc.conn.log.Warn("bridge: capture queue full, dropping blocks", "dropped", cc.dropped)
			}
		}
	}
}

func (cc *captureContext) Disconnect() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.blocks != nil {
		close(cc.blocks)
		cc.blocks = nil
		cc.reblock = nil
	}
	return nil
}

func (cc *captureContext) Close() error {
	_ = cc.Disconnect()
	cc.mu.Lock()
	cc.closed = true
	cc.mu.Unlock()

	c := cc.conn
	c.mu.Lock()
	if c.capture == cc {
		c.capture = nil
	}
	c.mu.Unlock()
	return nil
}

// ── Playback ───────────────────────────────────────────────────────────────

type playbackContext struct {
	conn  *Conn
	rate  int
	start time.Time

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func (p *playbackContext) Now() float64 {
	return time.Since(p.start).Seconds()
}

// Schedule sends buf to the page and reports its end once the session clock
// passes at plus its duration.
func (p *playbackContext) Schedule(buf audio.Buffer, at float64, ended func()) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	rate := buf.SampleRate
	if rate <= 0 {
		rate = p.rate
	}
	msg := AudioMessage{
		Type:       TypeAudio,
		At:         at,
		SampleRate: rate,
		Data:       audio.EncodeFrame(buf.Samples),
	}
	if err := p.conn.sendJSON(msg); err != nil {
		return err
	}

	delay := time.Duration((at + buf.Duration() - p.Now()) * float64(time.Second))
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	var t *time.Timer
	t = time.AfterFunc(max(delay, 0), func() {
		p.mu.Lock()
		_, pending := p.timers[t]
		delete(p.timers, t)
		p.mu.Unlock()
		if pending && ended != nil {
			ended()
		}
	})
	p.timers[t] = struct{}{}
	return nil
}

// Close discards every scheduled buffer, here and on the page.
func (p *playbackContext) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for t := range p.timers {
		t.Stop()
	}
	clear(p.timers)
	p.mu.Unlock()

	if err := p.conn.sendJSON(signal{Type: TypePlaybackStop}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
