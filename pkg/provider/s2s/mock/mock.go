// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to push inbound messages, end the session from the "remote"
// side, and inspect which frames were sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(s2s.Message{TurnComplete: true})
//	sess.Finish(errors.New("remote failure"))
package mock

import (
	"context"
	"sync"

	"github.com/astraloracle/oracle/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session from NewSession.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, if non-nil, makes Connect wait until Block is closed or ctx ends.
	// A ctx that ends first makes Connect return ctx.Err().
	Block chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a snapshot of ConnectCalls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu       sync.Mutex
	messages chan s2s.Message
	done     chan struct{}
	ended    bool
	err      error

	// SendErr, if non-nil, is returned by every SendRealtimeAudio call.
	SendErr error

	// CloseErr, if non-nil, is returned by the first Close.
	CloseErr error

	// Sent records every blob passed to SendRealtimeAudio in order.
	Sent []s2s.Blob

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnSend, if set, is invoked after each successful send with the blob.
	OnSend func(s2s.Blob)
}

// NewSession returns a Session with a buffered message channel.
func NewSession() *Session {
	return &Session{
		messages: make(chan s2s.Message, 64),
		done:     make(chan struct{}),
	}
}

// Push delivers msg on the Messages channel. It returns false if the session
// already ended.
func (s *Session) Push(msg s2s.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.messages <- msg
	return true
}

// Finish ends the session from the remote side with err (nil for a normal
// close) and closes the Messages channel.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.messages)
	close(s.done)
}

// SendRealtimeAudio records the blob and returns SendErr.
func (s *Session) SendRealtimeAudio(blob s2s.Blob) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return s2s.ErrSessionClosed
	}
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	s.Sent = append(s.Sent, blob)
	hook := s.OnSend
	s.mu.Unlock()

	if hook != nil {
		hook(blob)
	}
	return nil
}

// Messages returns the inbound message channel.
func (s *Session) Messages() <-chan s2s.Message { return s.messages }

// Err returns the error passed to Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session normally and records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.ended {
		return nil
	}
	s.endLocked(nil)
	return s.CloseErr
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// SentCount returns the number of recorded sends. Thread-safe.
func (s *Session) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
