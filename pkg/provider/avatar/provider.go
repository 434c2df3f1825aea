// Package avatar defines the Provider interface for lip-synced video avatar
// services. An avatar session receives the oracle's speech as 16 kHz pcm16
// and answers with video frames of a face speaking it.
package avatar

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Stream.SendAudio after Close.
var ErrStreamClosed = errors.New("avatar: stream closed")

// InputSampleRate is the pcm16 rate avatar streams expect.
const InputSampleRate = 16000

// Stream is an open audio-to-video stream.
type Stream interface {
	// SendAudio forwards raw pcm16 little-endian mono audio at InputSampleRate.
	SendAudio(pcm []byte) error

	// Frames returns the channel of encoded video frames. It is closed when
	// the stream ends; Err then reports why.
	Frames() <-chan []byte

	// Err returns the error that ended the stream, or nil for a clean close.
	Err() error

	// Close ends the stream. Idempotent.
	Close() error
}

// Provider starts avatar sessions.
type Provider interface {
	// StartSession asks the service for a new session on the given face and
	// returns its id.
	StartSession(ctx context.Context, faceID string) (string, error)

	// Stream opens the audio/video channel of a started session. ctx bounds
	// the dial only.
	Stream(ctx context.Context, sessionID string) (Stream, error)
}

// Open starts a session for faceID and opens its stream.
func Open(ctx context.Context, p Provider, faceID string) (Stream, error) {
	id, err := p.StartSession(ctx, faceID)
	if err != nil {
		return nil, err
	}
	return p.Stream(ctx, id)
}
