package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// PCMConverter brings little-endian int16 PCM chunks to a target format. It
// logs a warning on the first format mismatch and on the first corrupt chunk.
// Create one per stream; not designed for shared use across goroutines.
type PCMConverter struct {
	Target         Format
	resample       *Resampler
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts pcm captured at src to the target format. If the source
// format already matches the target, pcm is returned unchanged. Chunks with
// an odd byte count are dropped (nil is returned).
// Conversion order: downmix first, then resample.
func (c *PCMConverter) Convert(pcm []byte, src Format) []byte {
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("pcm converter: odd byte count, dropping chunk",
				"bytes", len(pcm),
				"sampleRate", src.SampleRate,
			)
		})
		return nil
	}

	if src.SampleRate == c.Target.SampleRate && src.Channels == c.Target.Channels {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("pcm format mismatch: converting",
			"from", formatString(src.SampleRate, src.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	// Downmix before resampling so only one channel is interpolated.
	if src.Channels == 2 && c.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
	}
	if src.SampleRate != c.Target.SampleRate {
		if c.resample == nil || c.resample.from != src.SampleRate {
			c.resample = NewResampler(src.SampleRate, c.Target.SampleRate)
		}
		pcm = c.resample.Resample(pcm)
	}
	return pcm
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// Resampler converts a stream of 16-bit little-endian mono PCM from one
// sample rate to another by linear interpolation. The read position and the
// last input sample carry over between chunks, so a stream converted chunk
// by chunk equals the same stream converted at once.
//
// Not safe for concurrent use.
type Resampler struct {
	from int

	// src and dst are the rates reduced by their gcd. pos is the next
	// output position in 1/dst input samples, where 0 is prev and 1 the
	// first sample of the next chunk.
	src, dst int
	pos      int
	prev     int16
}

// NewResampler returns a Resampler from srcRate to dstRate. If either rate
// is not positive, or they are equal, chunks pass through unchanged.
func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{from: srcRate, src: 1, dst: 1, pos: 1}
	if srcRate > 0 && dstRate > 0 {
		g := gcd(srcRate, dstRate)
		r.src, r.dst, r.pos = srcRate/g, dstRate/g, dstRate/g
	}
	return r
}

// Resample converts the next chunk of the stream. A trailing odd byte is
// ignored.
func (r *Resampler) Resample(pcm []byte) []byte {
	n := len(pcm) / 2
	if r.src == r.dst || n == 0 {
		return pcm
	}
	at := func(i int) int {
		if i == 0 {
			return int(r.prev)
		}
		return int(int16(binary.LittleEndian.Uint16(pcm[(i-1)*2:])))
	}

	out := make([]byte, 0, (n*r.dst/r.src+1)*2)
	limit := n * r.dst
	for ; r.pos <= limit; r.pos += r.src {
		i, frac := r.pos/r.dst, r.pos%r.dst
		s0, s1 := at(i), at(i)
		if i < n {
			s1 = at(i + 1)
		}
		v := s0 + (s1-s0)*frac/r.dst
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
	}
	r.pos -= limit
	r.prev = int16(binary.LittleEndian.Uint16(pcm[(n-1)*2:]))
	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Reblocker slices an arbitrary stream of samples into fixed-size blocks,
// carrying the remainder over to the next Push.
type Reblocker struct {
	size    int
	pending []float32
}

// NewReblocker returns a Reblocker emitting blocks of size samples. Sizes
// below 1 are treated as 1.
func NewReblocker(size int) *Reblocker {
	if size < 1 {
		size = 1
	}
	return &Reblocker{size: size}
}

// Push appends samples and returns every complete block now available.
// Returned blocks do not alias the input.
func (r *Reblocker) Push(samples []float32) [][]float32 {
	r.pending = append(r.pending, samples...)
	var blocks [][]float32
	for len(r.pending) >= r.size {
		block := make([]float32, r.size)
		copy(block, r.pending[:r.size])
		blocks = append(blocks, block)
		r.pending = r.pending[r.size:]
	}
	if len(r.pending) == 0 {
		r.pending = nil
	}
	return blocks
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
