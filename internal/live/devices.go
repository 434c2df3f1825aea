package live

import (
	"context"
	"time"

	"github.com/astraloracle/oracle/pkg/audio"
)

// Devices opens the audio endpoints of one session. Every call returns an
// exclusive resource owned by the session that requested it.
type Devices interface {
	// OpenCapture opens the capture audio context at sampleRate.
	OpenCapture(ctx context.Context, sampleRate int) (CaptureContext, error)

	// OpenPlayback opens the playback audio context at sampleRate.
	OpenPlayback(ctx context.Context, sampleRate int) (PlaybackContext, error)

	// Microphone acquires the microphone. Any error is treated as the seeker
	// refusing access.
	Microphone(ctx context.Context) (Microphone, error)
}

// Microphone is an acquired microphone stream.
type Microphone interface {
	// Stop stops every capture track of the stream.
	Stop() error
}

// CaptureContext turns a microphone stream into fixed-size sample blocks.
type CaptureContext interface {
	// Process routes mic through a block processor and returns the channel of
	// mono float blocks of exactly blockSize samples, in capture order.
	Process(mic Microphone, blockSize int) (<-chan []float32, error)

	// Disconnect detaches the block processor. It is safe to call when
	// Process was never called.
	Disconnect() error

	// Close releases the context.
	Close() error
}

// PlaybackContext is the output audio graph with its own clock.
type PlaybackContext interface {
	// Now returns the output clock in seconds.
	Now() float64

	// Schedule plays buf starting at output time at. ended is called once
	// playback of buf finishes; it may be called from any goroutine.
	Schedule(buf audio.Buffer, at float64, ended func()) error

	// Close releases the context. Scheduled buffers are discarded.
	Close() error
}

// ── Clock ──────────────────────────────────────────────────────────────────────

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies the wall-clock timers of a session: the countdown and
// visualization tickers and the ritual step delays.
type Clock interface {
	NewTicker(d time.Duration) Ticker
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
