package live

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/astraloracle/oracle/internal/observe"
	"github.com/astraloracle/oracle/pkg/audio"
	"github.com/astraloracle/oracle/pkg/provider/s2s"
	s2smock "github.com/astraloracle/oracle/pkg/provider/s2s/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// ── clock ──────────────────────────────────────────────────────────────────────

type fakeTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire delivers one tick and reports whether the loop took it.
func (t *fakeTicker) fire() bool {
	select {
	case t.c <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

type fakeClock struct {
	mu      sync.Mutex
	tickers map[time.Duration]*fakeTicker
	sleeps  []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{tickers: make(map[time.Duration]*fakeTicker)}
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time)}
	c.tickers[d] = t
	return t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) ticker(t *testing.T, d time.Duration) *fakeTicker {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	tk, ok := c.tickers[d]
	if !ok {
		t.Fatalf("no ticker for %v", d)
	}
	return tk
}

// ── devices ────────────────────────────────────────────────────────────────────

type fakeMic struct {
	mu      sync.Mutex
	stops   int
	stopErr error
}

func (m *fakeMic) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.stopErr
}

func (m *fakeMic) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

type fakeCapture struct {
	blocks chan []float32

	mu            sync.Mutex
	blockSize     int
	disconnects   int
	closes        int
	processErr    error
	closeErr      error
	disconnectErr error
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{blocks: make(chan []float32)}
}

func (c *fakeCapture) Process(_ Microphone, blockSize int) (<-chan []float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processErr != nil {
		return nil, c.processErr
	}
	c.blockSize = blockSize
	return c.blocks, nil
}

func (c *fakeCapture) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return c.disconnectErr
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.closeErr
}

func (c *fakeCapture) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// push hands one block to the session and reports whether it was taken.
func (c *fakeCapture) push(block []float32) bool {
	select {
	case c.blocks <- block:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

type scheduledBuffer struct {
	at       float64
	duration float64
	ended    func()
}

type fakePlayback struct {
	mu          sync.Mutex
	now         float64
	scheduled   []scheduledBuffer
	closes      int
	scheduleErr error
}

func (p *fakePlayback) Now() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

func (p *fakePlayback) setNow(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = t
}

func (p *fakePlayback) Schedule(buf audio.Buffer, at float64, ended func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduleErr != nil {
		return p.scheduleErr
	}
	p.scheduled = append(p.scheduled, scheduledBuffer{at: at, duration: buf.Duration(), ended: ended})
	return nil
}

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePlayback) buffers() []scheduledBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scheduledBuffer(nil), p.scheduled...)
}

func (p *fakePlayback) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeDevices struct {
	capture  *fakeCapture
	playback *fakePlayback
	mic      *fakeMic

	captureErr  error
	playbackErr error
	micErr      error

	mu    sync.Mutex
	order []string
	rates []int
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		capture:  newFakeCapture(),
		playback: &fakePlayback{},
		mic:      &fakeMic{},
	}
}

func (d *fakeDevices) record(step string, rate int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = append(d.order, step)
	if rate > 0 {
		d.rates = append(d.rates, rate)
	}
}

func (d *fakeDevices) OpenCapture(_ context.Context, rate int) (CaptureContext, error) {
	d.record("capture", rate)
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	return d.capture, nil
}

func (d *fakeDevices) OpenPlayback(_ context.Context, rate int) (PlaybackContext, error) {
	d.record("playback", rate)
	if d.playbackErr != nil {
		return nil, d.playbackErr
	}
	return d.playback, nil
}

func (d *fakeDevices) Microphone(context.Context) (Microphone, error) {
	d.record("microphone", 0)
	if d.micErr != nil {
		return nil, d.micErr
	}
	return d.mic, nil
}

func (d *fakeDevices) steps() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

// orderedProvider appends "connect" to the device log before delegating.
type orderedProvider struct {
	*s2smock.Provider
	devices *fakeDevices
}

func (p orderedProvider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.devices.record("connect", 0)
	return p.Provider.Connect(ctx, cfg)
}

// ── helpers ────────────────────────────────────────────────────────────────────

type recorder struct {
	mu          sync.Mutex
	states      []State
	transcripts []Transcript
	frames      [][]byte
	ends        []Summary
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnState: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		OnTranscript: func(tr Transcript) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, tr)
		},
		OnAvatarFrame: func(f []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.frames = append(r.frames, f)
		},
		OnEnd: func(s Summary) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ends = append(r.ends, s)
		},
	}
}

func (r *recorder) endSummaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Summary(nil), r.ends...)
}

func (r *recorder) stepLabels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.states {
		if s.Step != "" && (len(out) == 0 || out[len(out)-1] != s.Step) {
			out = append(out, s.Step)
		}
	}
	return out
}

type harness struct {
	session  *Session
	devices  *fakeDevices
	provider *s2smock.Provider
	remote   *s2smock.Session
	clock    *fakeClock
	rec      *recorder
	reader   *sdkmetric.ManualReader
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		devices: newFakeDevices(),
		remote:  s2smock.NewSession(),
		clock:   newFakeClock(),
		rec:     &recorder{},
		reader:  reader,
	}
	h.provider = &s2smock.Provider{Session: h.remote}
	base := []Option{WithClock(h.clock), WithHooks(h.rec.hooks()), WithMetrics(m)}
	h.session = New(orderedProvider{Provider: h.provider, devices: h.devices}, h.devices, cfg, append(base, opts...)...)
	t.Cleanup(func() { _ = h.session.End() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var total int64
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

// speech builds an inbound audio message of the given length at 24 kHz.
func speech(seconds float64) s2s.Message {
	n := int(math.Round(seconds * DefaultPlaybackRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/DefaultPlaybackRate))
	}
	return s2s.Message{Audio: &s2s.Blob{
		MIMEType: audio.PCMMimeType(DefaultPlaybackRate),
		Data:     audio.EncodeFrame(samples),
	}}
}

func block() []float32 {
	b := make([]float32, DefaultBlockSize)
	for i := range b {
		b[i] = 0.25
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func consistently(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !cond() {
			t.Fatalf("condition broke: %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session was not torn down")
	}
}

var errBoom = errors.New("boom")
