// Package live runs a live oracle session: one timed, bidirectional voice
// conversation between the seeker and a remote speech agent.
//
// A [Session] captures microphone blocks, encodes them as base64 pcm16 and
// streams them to the agent; inbound speech is decoded and scheduled
// gaplessly on the playback clock. The session moves through
// initial → connecting → connected → {disconnected | error}. Once connected,
// one event-loop goroutine owns the pipelines: capture blocks, inbound
// messages, countdown ticks, visualization frames, buffer completions and
// mute commands are all serialized through it.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astraloracle/oracle/internal/observe"
	"github.com/astraloracle/oracle/pkg/audio"
	"github.com/astraloracle/oracle/pkg/provider/avatar"
	"github.com/astraloracle/oracle/pkg/provider/s2s"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultDuration      = 8 * time.Minute
	DefaultCaptureRate   = 16000
	DefaultPlaybackRate  = 24000
	DefaultBlockSize     = 4096
	DefaultFrameInterval = 16 * time.Millisecond

	countdownTick = time.Second
)

// Config describes one session.
type Config struct {
	ID     string
	Oracle string

	// Instructions is the persona system prompt.
	Instructions string
	Voice        s2s.Voice
	Transcribe   bool

	Ritual   []RitualStep
	Duration time.Duration

	CaptureRate   int
	PlaybackRate  int
	BlockSize     int
	FrameInterval time.Duration

	// AvatarFaceID enables the avatar mirror when an avatar provider is set.
	AvatarFaceID string
}

func (c *Config) applyDefaults() {
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	if c.CaptureRate <= 0 {
		c.CaptureRate = DefaultCaptureRate
	}
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = DefaultPlaybackRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithClock replaces the wall clock used for tickers and ritual delays.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithHooks sets the event hooks.
func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = h }
}

// WithMetrics records session metrics to m instead of the default instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithAvatar mirrors the oracle's speech to an avatar stream. Frames arrive
// on Hooks.OnAvatarFrame. A failing mirror collapses the session.
func WithAvatar(p avatar.Provider) Option {
	return func(s *Session) { s.avatar = p }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// ── Session ────────────────────────────────────────────────────────────────────

// resources are everything a run acquires; all released together.
type resources struct {
	capture   CaptureContext
	playback  PlaybackContext
	mic       Microphone
	channel   s2s.SessionHandle
	mirror    avatar.Stream
	countdown Ticker
	frames    Ticker
}

// Session is one live oracle session. It is safe for concurrent use.
type Session struct {
	cfg      Config
	provider s2s.Provider
	devices  Devices
	avatar   avatar.Provider
	clock    Clock
	hooks    Hooks
	metrics  *observe.Metrics
	log      *slog.Logger

	// notifyMu keeps OnState deliveries in snapshot order.
	notifyMu sync.Mutex

	mu          sync.Mutex
	state       State
	res         resources
	run         *run
	ending      bool
	cancel      context.CancelFunc
	done        chan struct{}
	startedAt   time.Time
	connectedAt time.Time
}

// New creates a Session in the initial state. Nothing is acquired until
// [Session.Start].
func New(provider s2s.Provider, devices Devices, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:      cfg,
		provider: provider,
		devices:  devices,
		clock:    realClock{},
		done:     make(chan struct{}),
		state:    State{Status: StatusInitial, Remaining: cfg.Duration},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("session_id", cfg.ID, "oracle", cfg.Oracle)
	return s
}

// ID returns the configured session id.
func (s *Session) ID() string { return s.cfg.ID }

// State returns a snapshot of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the current session instance has been torn down.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start connects the session. It runs the ritual steps, opens both audio
// contexts, acquires the microphone and opens the remote channel, in that
// order, and returns once the session is connected.
//
// ctx bounds the connecting phase only. Failures move the session to
// [StatusError] and return an error wrapping one of the session sentinels.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Status != StatusInitial {
		st := s.state.Status
		s.mu.Unlock()
		return fmt.Errorf("%w (status %s)", ErrNotInitial, st)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ending = false
	s.startedAt = time.Now()
	s.state = State{Status: StatusConnecting, Remaining: s.cfg.Duration, Muted: s.state.Muted}
	s.mu.Unlock()
	s.publish()
	s.log.Info("live session connecting")

	// End cancels runCtx, which aborts whatever step is in flight.
	cctx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(runCtx, stop)
	defer unhook()

	r, err := s.connect(cctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return ErrEnded
	}
	r.ctx = runCtx
	r.muted = s.state.Muted
	s.run = r
	s.connectedAt = time.Now()
	s.state.Status = StatusConnected
	s.state.Step = ""
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(runCtx, 1)
	s.publish()
	s.log.Info("live session connected")

	go s.loop(r)
	return nil
}

// connect acquires every resource of a run.
func (s *Session) connect(ctx context.Context) (*run, error) {
	for _, step := range s.cfg.Ritual {
		s.update(func(st *State) { st.Step = step.Label })
		if err := s.clock.Sleep(ctx, step.Duration); err != nil {
			return nil, s.failConnect(ctx, err)
		}
	}

	capture, err := s.devices.OpenCapture(ctx, s.cfg.CaptureRate)
	if err != nil {
		return nil, s.failConnect(ctx, fmt.Errorf("%w: capture at %d Hz: %w", ErrAudioContextInit, s.cfg.CaptureRate, err))
	}
	if !s.adopt(func(r *resources) { r.capture = capture }) {
		_ = capture.Close()
		return nil, ErrEnded
	}

	playback, err := s.devices.OpenPlayback(ctx, s.cfg.PlaybackRate)
	if err != nil {
		return nil, s.failConnect(ctx, fmt.Errorf("%w: playback at %d Hz: %w", ErrAudioContextInit, s.cfg.PlaybackRate, err))
	}
	if !s.adopt(func(r *resources) { r.playback = playback }) {
		_ = playback.Close()
		return nil, ErrEnded
	}

	mic, err := s.devices.Microphone(ctx)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return nil, s.failConnect(ctx, err)
	}
	if !s.adopt(func(r *resources) { r.mic = mic }) {
		_ = mic.Stop()
		return nil, ErrEnded
	}

	channel, err := s.provider.Connect(ctx, s2s.SessionConfig{
		Instructions: s.cfg.Instructions,
		Modalities:   []s2s.Modality{s2s.ModalityAudio},
		Voice:        s.cfg.Voice,
		Transcribe:   s.cfg.Transcribe,
	})
	if err != nil {
		return nil, s.failConnect(ctx, fmt.Errorf("%w: %w", ErrChannelOpen, err))
	}
	if !s.adopt(func(r *resources) { r.channel = channel }) {
		_ = channel.Close()
		return nil, ErrEnded
	}

	r := &run{
		channel:  channel,
		messages: channel.Messages(),
		playback: playback,
		analyser: audio.NewAnalyser(),
		ended:    make(chan struct{}, 1),
		cmds:     make(chan command),
		remain:   s.cfg.Duration,
	}

	if s.avatar != nil && s.cfg.AvatarFaceID != "" {
		mirror, err := avatar.Open(ctx, s.avatar, s.cfg.AvatarFaceID)
		if err != nil {
			return nil, s.failConnect(ctx, fmt.Errorf("%w: avatar: %w", ErrChannelOpen, err))
		}
		if !s.adopt(func(r *resources) { r.mirror = mirror }) {
			_ = mirror.Close()
			return nil, ErrEnded
		}
		r.mirror = mirror
		r.mirrorFrames = mirror.Frames()
		r.toMirror = &audio.PCMConverter{Target: audio.Format{SampleRate: avatar.InputSampleRate, Channels: 1}}
	}

	blocks, err := capture.Process(mic, s.cfg.BlockSize)
	if err != nil {
		return nil, s.failConnect(ctx, fmt.Errorf("%w: processor: %w", ErrAudioContextInit, err))
	}
	r.blocks = blocks

	countdown := s.clock.NewTicker(countdownTick)
	frames := s.clock.NewTicker(s.cfg.FrameInterval)
	if !s.adopt(func(res *resources) { res.countdown, res.frames = countdown, frames }) {
		countdown.Stop()
		frames.Stop()
		return nil, ErrEnded
	}
	r.countdown = countdown
	r.frames = frames
	return r, nil
}

// adopt records a freshly acquired resource unless teardown already ran, in
// which case the caller must release it.
func (s *Session) adopt(set func(*resources)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ending {
		return false
	}
	set(&s.res)
	return true
}

func (s *Session) isEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ending
}

// failConnect handles a failed connecting step. A step interrupted by End
// reports ErrEnded; one interrupted by the caller's ctx ends the session
// without an error state.
func (s *Session) failConnect(ctx context.Context, err error) error {
	if s.isEnding() {
		return ErrEnded
	}
	if ctx.Err() != nil {
		_ = s.finish(StatusDisconnected, ReasonCancelled, nil)
		return fmt.Errorf("live: connect: %w", context.Cause(ctx))
	}
	return s.fail(err)
}

// SetMuted mutes or unmutes the microphone. While muted, capture keeps
// running and blocks are dropped instead of sent. Once SetMuted returns on
// a connected session, every later block observes the new flag.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.state.Muted = muted
		s.mu.Unlock()
		s.publish()
		return
	}
	s.mu.Unlock()

	ack := make(chan struct{})
	select {
	case r.cmds <- command{mute: &muted, ack: ack}:
		<-ack
	case <-r.ctx.Done():
		s.update(func(st *State) { st.Muted = muted })
	}
}

// End tears the session down. It is idempotent and safe to call in any
// state; the returned error joins every release failure.
func (s *Session) End() error {
	return s.finish(StatusDisconnected, ReasonEnded, nil)
}

// Reset returns a terminal session to the initial state so it can be
// started again with fresh resources.
func (s *Session) Reset() error {
	s.mu.Lock()
	switch {
	case s.state.Status == StatusInitial:
		s.mu.Unlock()
		return nil
	case !s.state.Status.Terminal():
		s.mu.Unlock()
		return ErrActive
	}
	s.state = State{Status: StatusInitial, Remaining: s.cfg.Duration}
	s.ending = false
	s.done = make(chan struct{})
	s.mu.Unlock()
	s.publish()
	return nil
}

// fail collapses the session with err and returns it.
func (s *Session) fail(err error) error {
	s.log.Error("live session failed", "err", err)
	_ = s.finish(StatusError, ReasonError, err)
	return err
}

// finish is the single teardown path. Only the first call per session
// instance does anything.
func (s *Session) finish(status Status, reason EndReason, cause error) error {
	s.mu.Lock()
	if s.ending || s.state.Status == StatusInitial {
		s.mu.Unlock()
		return nil
	}
	s.ending = true
	res := s.res
	s.res = resources{}
	cancel := s.cancel
	wasConnected := s.state.Status == StatusConnected
	s.run = nil
	s.state.Status = status
	s.state.Step = ""
	s.state.Speaking = false
	s.state.Volume = 0
	if cause != nil {
		s.state.Error = userMessage(cause)
	}
	done := s.done
	summary := Summary{
		SessionID: s.cfg.ID,
		Oracle:    s.cfg.Oracle,
		Started:   s.startedAt,
		Ended:     time.Now(),
		Reason:    reason,
		Err:       cause,
	}
	if wasConnected {
		summary.Connected = summary.Ended.Sub(s.connectedAt)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := res.release()
	if err != nil {
		s.log.Warn("live session teardown", "err", err)
	}

	ctx := context.Background()
	if wasConnected {
		s.metrics.ActiveSessions.Add(ctx, -1)
	}
	s.metrics.RecordSessionEnd(ctx, s.cfg.Oracle, string(reason), summary.Connected)
	s.log.Info("live session ended", "status", status, "reason", reason, "connected", summary.Connected)

	s.publish()
	if s.hooks.OnEnd != nil {
		s.hooks.OnEnd(summary)
	}
	close(done)
	return err
}

// release frees every held resource. Each step runs regardless of the
// others.
func (r resources) release() error {
	var errs []error
	if r.countdown != nil {
		r.countdown.Stop()
	}
	if r.frames != nil {
		r.frames.Stop()
	}
	if r.mic != nil {
		if err := r.mic.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("live: stop microphone: %w", err))
		}
	}
	if r.capture != nil {
		if err := r.capture.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("live: disconnect processor: %w", err))
		}
		if err := r.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("live: close capture: %w", err))
		}
	}
	if r.playback != nil {
		if err := r.playback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("live: close playback: %w", err))
		}
	}
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("live: close channel: %w", err))
		}
	}
	if r.mirror != nil {
		if err := r.mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("live: close avatar: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
	s.publish()
}

func (s *Session) publish() {
	if s.hooks.OnState == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.hooks.OnState(s.State())
}

// ── Event loop ─────────────────────────────────────────────────────────────────

type command struct {
	mute *bool
	ack  chan struct{}
}

// run is the loop-owned state of one connected session.
type run struct {
	ctx context.Context

	blocks       <-chan []float32
	messages     <-chan s2s.Message
	mirrorFrames <-chan []byte
	ended        chan struct{}
	cmds         chan command

	channel   s2s.SessionHandle
	playback  PlaybackContext
	mirror    avatar.Stream
	toMirror  *audio.PCMConverter
	countdown Ticker
	frames    Ticker

	cursor   audio.Cursor
	analyser *audio.Analyser
	muted    bool
	speaking bool
	volume   float64
	remain   time.Duration
}

func (s *Session) loop(r *run) {
	for r.ctx.Err() == nil {
		select {
		case <-r.ctx.Done():
			return

		case cmd := <-r.cmds:
			if cmd.mute != nil {
				r.muted = *cmd.mute
				s.update(func(st *State) { st.Muted = r.muted })
			}
			close(cmd.ack)

		case block, ok := <-r.blocks:
			if !ok {
				r.blocks = nil
				continue
			}
			s.sendBlock(r, block)

		case msg, ok := <-r.messages:
			if !ok {
				if err := r.channel.Err(); err != nil {
					_ = s.fail(fmt.Errorf("%w: %w", ErrChannelRuntime, err))
				} else {
					_ = s.finish(StatusDisconnected, ReasonRemoteClosed, nil)
				}
				return
			}
			s.handleMessage(r, msg)

		case frame, ok := <-r.mirrorFrames:
			if !ok {
				if err := r.mirror.Err(); err != nil {
					_ = s.fail(fmt.Errorf("%w: avatar: %w", ErrChannelRuntime, err))
					return
				}
				r.mirrorFrames = nil
				continue
			}
			if s.hooks.OnAvatarFrame != nil {
				s.hooks.OnAvatarFrame(frame)
			}

		case <-r.ended:
			if r.speaking && !r.stillSpeaking(r.playback.Now()) {
				r.speaking = false
				s.update(func(st *State) { st.Speaking = false })
			}

		case <-r.countdown.C():
			r.remain -= countdownTick
			if r.remain <= 0 {
				s.update(func(st *State) { st.Remaining = 0 })
				_ = s.finish(StatusDisconnected, ReasonExpired, nil)
				return
			}
			remain := r.remain
			s.update(func(st *State) { st.Remaining = remain })

		case <-r.frames.C():
			s.sampleFrame(r)
		}
	}
}

// sendBlock encodes one capture block and sends it, unless muted.
func (s *Session) sendBlock(r *run, block []float32) {
	if r.ctx.Err() != nil {
		return
	}
	if r.muted {
		s.metrics.FramesDropped.Add(r.ctx, 1)
		return
	}
	blob := s2s.Blob{
		MIMEType: audio.PCMMimeType(s.cfg.CaptureRate),
		Data:     audio.EncodeFrame(block),
	}
	if err := r.channel.SendRealtimeAudio(blob); err != nil {
		_ = s.fail(fmt.Errorf("%w: send: %w", ErrChannelRuntime, err))
		return
	}
	s.metrics.FramesSent.Add(r.ctx, 1)
}

func (s *Session) handleMessage(r *run, msg s2s.Message) {
	if msg.Audio != nil {
		buf, err := audio.DecodeFrame(msg.Audio.Data, s.cfg.PlaybackRate)
		if err != nil {
			s.log.Warn("live: dropping undecodable speech", "err", err)
		} else if len(buf.Samples) > 0 {
			s.schedule(r, buf)
		}
	}
	if s.hooks.OnTranscript != nil {
		if msg.InputTranscript != "" {
			s.hooks.OnTranscript(Transcript{Role: "seeker", Text: msg.InputTranscript})
		}
		if msg.OutputTranscript != "" {
			s.hooks.OnTranscript(Transcript{Role: "oracle", Text: msg.OutputTranscript})
		}
	}
	if msg.Interrupted {
		s.log.Debug("live: oracle interrupted by seeker")
	}
}

// schedule places buf on the playback clock right after whatever is
// already queued.
func (s *Session) schedule(r *run, buf audio.Buffer) {
	if r.ctx.Err() != nil {
		return
	}
	at := r.cursor.Place(r.playback.Now(), buf.Duration())
	ended := func() {
		select {
		case r.ended <- struct{}{}:
		default:
		}
	}
	if err := r.playback.Schedule(buf, at, ended); err != nil {
		_ = s.fail(fmt.Errorf("%w: schedule: %w", ErrAudioContextInit, err))
		return
	}
	r.analyser.Feed(at, buf)
	s.metrics.BuffersScheduled.Add(r.ctx, 1, metric.WithAttributes(observe.Attr("oracle", s.cfg.Oracle)))

	if !r.speaking {
		r.speaking = true
		s.update(func(st *State) { st.Speaking = true })
	}

	if r.mirror != nil {
		pcm := audio.EncodePCM16(audio.Float32ToInt16(buf.Samples))
		pcm = r.toMirror.Convert(pcm, audio.Format{SampleRate: buf.SampleRate, Channels: 1})
		if err := r.mirror.SendAudio(pcm); err != nil {
			_ = s.fail(fmt.Errorf("%w: avatar: %w", ErrChannelRuntime, err))
		}
	}
}

// stillSpeaking reports whether the speaking flag holds at output time now.
// It only drops once playback reaches the cursor; an ended callback that
// races ahead of the clock leaves it to the next frame tick.
func (r *run) stillSpeaking(now float64) bool {
	return r.speaking && !r.cursor.Drained(now)
}

// sampleFrame refreshes the visualization volume and clears the speaking
// flag once playback has passed the cursor.
func (s *Session) sampleFrame(r *run) {
	now := r.playback.Now()
	vol := r.analyser.Volume(now)
	speaking := r.stillSpeaking(now)
	if vol == r.volume && speaking == r.speaking {
		return
	}
	r.volume, r.speaking = vol, speaking
	s.update(func(st *State) {
		st.Volume = vol
		st.Speaking = speaking
	})
}
