package live

import (
	"errors"
	"time"
)

// Session failures. All are terminal for the session instance.
var (
	ErrPermissionDenied = errors.New("live: microphone permission denied")
	ErrAudioContextInit = errors.New("live: audio context init failed")
	ErrChannelOpen      = errors.New("live: channel open failed")
	ErrChannelRuntime   = errors.New("live: channel runtime error")
)

var (
	// ErrNotInitial is returned by Start on a session that already started.
	ErrNotInitial = errors.New("live: session is not in the initial state")

	// ErrEnded is returned by Start when End interrupted the connection.
	ErrEnded = errors.New("live: session ended while connecting")

	// ErrActive is returned by Reset while the session is connecting or connected.
	ErrActive = errors.New("live: session is still active")
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusInitial      Status = "initial"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Terminal reports whether s ends a session instance.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// EndReason says why a session was torn down.
type EndReason string

const (
	ReasonEnded        EndReason = "ended"
	ReasonExpired      EndReason = "expired"
	ReasonRemoteClosed EndReason = "remote_closed"
	ReasonCancelled    EndReason = "cancelled"
	ReasonError        EndReason = "error"
)

// State is a snapshot of what the seeker's UI shows.
type State struct {
	Status Status

	// Error is the human-readable failure message in StatusError.
	Error string

	// Step is the current ritual step label while connecting.
	Step string

	Remaining time.Duration
	Muted     bool

	// Speaking is true while the oracle's speech is playing.
	Speaking bool

	// Volume is the mean byte frequency magnitude of the output, 0..255.
	Volume float64
}

// Transcript is one line of the conversation.
type Transcript struct {
	// Role is "seeker" or "oracle".
	Role string
	Text string
}

// Summary describes a finished session.
type Summary struct {
	SessionID string
	Oracle    string
	Started   time.Time
	Ended     time.Time

	// Connected is how long the session stayed connected; zero if it never
	// connected.
	Connected time.Duration
	Reason    EndReason
	Err       error
}

// Hooks receive session events. Hooks must not call Start, End, Reset or
// SetMuted.
type Hooks struct {
	OnState       func(State)
	OnTranscript  func(Transcript)
	OnAvatarFrame func([]byte)
	OnEnd         func(Summary)
}

// RitualStep is one presentational delay shown while connecting.
type RitualStep struct {
	Label    string
	Duration time.Duration
}

// userMessage maps a failure to the text shown to the seeker.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "L'accès au microphone a été refusé."
	case errors.Is(err, ErrChannelRuntime):
		return "Interruption astrale."
	default:
		return "Les étoiles sont voilées."
	}
}
