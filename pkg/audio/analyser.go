package audio

import (
	"math"
	"sort"
	"sync"
)

// Analyser defaults, chosen to match the browser AnalyserNode the oracle UI
// was designed against.
const (
	DefaultFFTSize         = 64
	DefaultSmoothing       = 0.8
	DefaultMinDecibels     = -100.0
	DefaultMaxDecibels     = -30.0
	defaultAnalyserHistory = 64
)

// scheduled is a buffer placed at a start time on the playback clock.
type scheduled struct {
	start   float64
	samples []float32
	rate    int
}

func (s scheduled) end() float64 {
	return s.start + float64(len(s.samples))/float64(s.rate)
}

// Analyser computes a smoothed byte frequency spectrum of whatever audio is
// playing at a given output time. Buffers are fed with the start time they
// were scheduled at; Volume reads the window of FFTSize samples ending at
// now and reports the average bin magnitude in [0, 255].
//
// Analyser is safe for concurrent use.
type Analyser struct {
	mu        sync.Mutex
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64
	window    []float64
	smoothed  []float64
	buffers   []scheduled
}

// AnalyserOption configures an [Analyser].
type AnalyserOption func(*Analyser)

// WithFFTSize sets the analysis window length. Values that are not a power
// of two of at least 32 are ignored.
func WithFFTSize(n int) AnalyserOption {
	return func(a *Analyser) {
		if n >= 32 && n&(n-1) == 0 {
			a.fftSize = n
		}
	}
}

// WithSmoothing sets the time-smoothing constant in [0, 1).
func WithSmoothing(s float64) AnalyserOption {
	return func(a *Analyser) {
		if s >= 0 && s < 1 {
			a.smoothing = s
		}
	}
}

// NewAnalyser returns an Analyser with browser-compatible defaults.
func NewAnalyser(opts ...AnalyserOption) *Analyser {
	a := &Analyser{
		fftSize:   DefaultFFTSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
	}
	for _, o := range opts {
		o(a)
	}
	a.window = blackman(a.fftSize)
	a.smoothed = make([]float64, a.fftSize/2)
	return a
}

// BinCount returns the number of frequency bins, FFTSize/2.
func (a *Analyser) BinCount() int { return a.fftSize / 2 }

// Feed registers a buffer scheduled to start at start seconds on the
// playback clock.
func (a *Analyser) Feed(start float64, b Buffer) {
	if len(b.Samples) == 0 || b.SampleRate <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers = append(a.buffers, scheduled{start: start, samples: b.Samples, rate: b.SampleRate})
	sort.SliceStable(a.buffers, func(i, j int) bool { return a.buffers[i].start < a.buffers[j].start })
	if len(a.buffers) > defaultAnalyserHistory {
		a.buffers = a.buffers[len(a.buffers)-defaultAnalyserHistory:]
	}
}

// ByteFrequencyData returns the smoothed spectrum at output time now, one
// byte per bin.
func (a *Analyser) ByteFrequencyData(now float64) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frequencyLocked(now)
}

// Volume returns the mean of ByteFrequencyData at now, in [0, 255].
func (a *Analyser) Volume(now float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	data := a.frequencyLocked(now)
	if len(data) == 0 {
		return 0
	}
	var sum int
	for _, v := range data {
		sum += int(v)
	}
	return float64(sum) / float64(len(data))
}

func (a *Analyser) frequencyLocked(now float64) []byte {
	a.pruneLocked(now)
	frame := a.windowLocked(now)

	n := a.fftSize
	bins := n / 2
	out := make([]byte, bins)
	for k := range bins {
		var re, im float64
		for i, x := range frame {
			angle := 2 * math.Pi * float64(k*i) / float64(n)
			re += x * math.Cos(angle)
			im -= x * math.Sin(angle)
		}
		mag := math.Hypot(re, im) / float64(n)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		scaled := 255 * (db - a.minDB) / (a.maxDB - a.minDB)
		switch {
		case math.IsNaN(scaled) || scaled < 0:
			out[k] = 0
		case scaled > 255:
			out[k] = 255
		default:
			out[k] = byte(scaled)
		}
	}
	return out
}

// windowLocked returns the Blackman-weighted FFTSize samples ending at now.
// Gaps between scheduled buffers read as silence.
func (a *Analyser) windowLocked(now float64) []float64 {
	frame := make([]float64, a.fftSize)
	for _, b := range a.buffers {
		if b.start > now || b.end() <= now-float64(a.fftSize)/float64(b.rate) {
			continue
		}
		// Index of the sample playing at now.
		head := int((now - b.start) * float64(b.rate))
		for i := range a.fftSize {
			idx := head - (a.fftSize - 1 - i)
			if idx < 0 || idx >= len(b.samples) {
				continue
			}
			frame[i] = float64(b.samples[idx])
		}
	}
	for i := range frame {
		frame[i] *= a.window[i]
	}
	return frame
}

// pruneLocked drops buffers that finished more than one window before now.
func (a *Analyser) pruneLocked(now float64) {
	keep := a.buffers[:0]
	for _, b := range a.buffers {
		if b.end()+float64(a.fftSize)/float64(b.rate) >= now {
			keep = append(keep, b)
		}
	}
	a.buffers = keep
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	w := make([]float64, n)
	for i := range n {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
