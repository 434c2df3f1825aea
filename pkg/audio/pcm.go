package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Float32ToInt16 converts float samples to 16-bit signed PCM. Samples are
// clamped to [-1, 1]; negative values scale by 32768 and positive values by
// 32767 so that both extremes map exactly onto the int16 range.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// Int16ToFloat32 converts 16-bit signed PCM to float samples in [-1, 1).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// EncodePCM16 serialises samples as little-endian int16 bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16 reinterprets little-endian bytes as int16 samples. A trailing
// odd byte is ignored.
func DecodePCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// EncodeFrame converts a block of float samples into the base64 s16le
// payload expected by realtime speech channels.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(Float32ToInt16(samples)))
}

// DecodeFrame decodes a base64 s16le payload into a playable buffer at
// sampleRate.
func DecodeFrame(payload string, sampleRate int) (Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode frame: %w", err)
	}
	return Buffer{
		Samples:    Int16ToFloat32(DecodePCM16(raw)),
		SampleRate: sampleRate,
	}, nil
}

// PCMMimeType returns the mime descriptor for raw s16le audio at rate,
// e.g. "audio/pcm;rate=16000".
func PCMMimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}
