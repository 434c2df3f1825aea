// Package audio holds the sample-level plumbing shared by the live oracle
// session and its transports: PCM encoding, resampling, the gapless
// playback cursor, and the frequency analyser that drives the speaking
// pulse in the UI.
//
// Everything here is pure and allocation-explicit; nothing in this package
// touches a device or a network connection.
package audio

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Buffer is a block of mono float samples in the range [-1, 1] at a fixed
// sample rate. It is the unit scheduled on a playback clock.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of b in seconds. A buffer with a
// non-positive sample rate has zero duration.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}
