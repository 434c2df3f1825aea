// Package s2s defines the Provider interface for speech-to-speech backends.
//
// An S2S provider wraps a realtime voice model that accepts a continuous
// stream of microphone audio and answers with synthesised speech over a
// single, stateful duplex channel. The oracle's live consultation is built
// entirely on this abstraction.
//
// The central abstraction is SessionHandle: an open channel that carries
// outbound audio frames and inbound [Message] values (model audio,
// transcripts, turn markers). Sessions are long-lived (minutes) and end when
// either side closes them.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SessionHandle methods called after Close.
var ErrSessionClosed = errors.New("s2s: session closed")

// Modality is a response modality requested from the model.
type Modality string

// ModalityAudio asks the model to answer with speech.
const ModalityAudio Modality = "AUDIO"

// Voice is the name of a prebuilt voice offered by the speech model.
type Voice string

// Prebuilt voices available on the realtime model.
const (
	VoiceAoede  Voice = "Aoede"
	VoiceCharon Voice = "Charon"
	VoiceFenrir Voice = "Fenrir"
	VoiceKore   Voice = "Kore"
	VoicePuck   Voice = "Puck"
)

// Voices lists every known prebuilt voice.
var Voices = []Voice{VoiceAoede, VoiceCharon, VoiceFenrir, VoiceKore, VoicePuck}

// IsValid reports whether v names a known prebuilt voice.
func (v Voice) IsValid() bool {
	for _, known := range Voices {
		if v == known {
			return true
		}
	}
	return false
}

// Blob is an inline media payload: a mime descriptor such as
// "audio/pcm;rate=16000" and base64-encoded bytes.
type Blob struct {
	MIMEType string
	Data     string
}

// Message is one inbound event from the remote model. Any subset of the
// fields may be set on a single message.
type Message struct {
	// Audio carries a chunk of synthesised speech, base64 s16le at the
	// model's output rate. Nil when the message carries no audio.
	Audio *Blob

	// InputTranscript is recognised text of what the user said.
	InputTranscript string

	// OutputTranscript is the text version of what the model is saying.
	OutputTranscript string

	// TurnComplete marks the end of a model turn.
	TurnComplete bool

	// Interrupted reports that the user barged in and the model dropped the
	// rest of its turn.
	Interrupted bool
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Instructions is the system-level prompt that gives the model its
	// persona and language.
	Instructions string

	// Modalities lists the requested response modalities. Empty means audio.
	Modalities []Modality

	// Voice selects the prebuilt voice for synthesised output. Empty leaves
	// the choice to the provider.
	Voice Voice

	// Transcribe asks the provider to emit input and output transcripts.
	Transcribe bool
}

// Capabilities describes static properties of the S2S provider.
type Capabilities struct {
	// InputSampleRate is the rate, in Hz, the provider expects for outbound
	// microphone audio.
	InputSampleRate int

	// OutputSampleRate is the rate, in Hz, of synthesised audio.
	OutputSampleRate int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the voices available for this provider.
	Voices []Voice
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendRealtimeAudio delivers one outbound audio frame. Returns
	// [ErrSessionClosed] after Close, or a transport error.
	SendRealtimeAudio(blob Blob) error

	// Messages returns the channel of inbound model events. The channel is
	// closed when the session ends for any reason; call Err afterwards to
	// learn whether the end was clean.
	Messages() <-chan Message

	// Err returns the error that ended the session, or nil if it closed
	// normally (locally, or by a normal remote close).
	Err() error

	// Close terminates the session and closes the Messages channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect opens a new session and returns once the remote side has
	// acknowledged it. The supplied ctx bounds the connection attempt only.
	// The caller owns the SessionHandle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}
