// Package mock provides test doubles for the avatar package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/astraloracle/oracle/pkg/provider/avatar"
)

// Provider is a mock implementation of avatar.Provider.
type Provider struct {
	mu sync.Mutex

	// SessionID is returned by StartSession. Defaults to "mock-session".
	SessionID string

	// StartErr, if non-nil, is returned by StartSession.
	StartErr error

	// StreamErr, if non-nil, is returned by Stream.
	StreamErr error

	// StreamValue is returned by Stream. If nil a fresh NewStream() is used.
	StreamValue *Stream

	// Faces records faceIDs passed to StartSession.
	Faces []string
}

// StartSession records the face and returns SessionID, StartErr.
func (p *Provider) StartSession(_ context.Context, faceID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Faces = append(p.Faces, faceID)
	if p.StartErr != nil {
		return "", p.StartErr
	}
	if p.SessionID == "" {
		return "mock-session", nil
	}
	return p.SessionID, nil
}

// Stream returns StreamValue, StreamErr.
func (p *Provider) Stream(_ context.Context, _ string) (avatar.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}
	if p.StreamValue == nil {
		p.StreamValue = NewStream()
	}
	return p.StreamValue, nil
}

var _ avatar.Provider = (*Provider)(nil)

// Stream is a mock avatar.Stream.
type Stream struct {
	mu     sync.Mutex
	frames chan []byte
	closed bool
	err    error

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	// Sent records every pcm chunk passed to SendAudio.
	Sent [][]byte
}

// NewStream returns an open Stream with a buffered frame channel.
func NewStream() *Stream {
	return &Stream{frames: make(chan []byte, 16)}
}

// SendAudio records the chunk.
func (s *Stream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return avatar.ErrStreamClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, append([]byte(nil), pcm...))
	return nil
}

// PushFrame delivers a frame unless the stream is closed.
func (s *Stream) PushFrame(f []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.frames <- f
	}
}

// Fail ends the stream with err.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}

// Frames implements avatar.Stream.
func (s *Stream) Frames() <-chan []byte { return s.frames }

// Err implements avatar.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements avatar.Stream.
func (s *Stream) Close() error {
	s.Fail(nil)
	return nil
}

// SentCount returns the number of chunks sent. Thread-safe.
func (s *Stream) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

var _ avatar.Stream = (*Stream)(nil)
