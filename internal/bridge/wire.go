// Package bridge carries a live session over a browser WebSocket.
//
// The browser owns the real microphone and speakers. A [Conn] stands in for
// them on the server side: it implements [live.Devices] by exchanging JSON
// messages with the page, and it forwards the session's state, transcript
// and avatar frames back to it.
//
// Client to server (text frames):
//
//	{"type":"start"}
//	{"type":"mute","muted":true}
//	{"type":"end"}
//	{"type":"mic_granted"}
//	{"type":"mic_denied","reason":"NotAllowedError"}
//	{"type":"mic","sample_rate":48000,"data":"<base64 s16le mono>"}
//
// Server to client (text frames unless noted):
//
//	{"type":"ready","session_id":"…"}
//	{"type":"state","status":"connected","remaining_seconds":480,…}
//	{"type":"mic_request"} / {"type":"mic_stop"}
//	{"type":"audio","at":1.25,"sample_rate":24000,"data":"<base64 s16le>"}
//	{"type":"playback_stop"}
//	{"type":"transcript","role":"oracle","text":"…"}
//	avatar video frames as binary frames
package bridge

import (
	"math"

	"github.com/astraloracle/oracle/internal/live"
)

// Inbound message types.
const (
	TypeStart      = "start"
	TypeMute       = "mute"
	TypeEnd        = "end"
	TypeMicGranted = "mic_granted"
	TypeMicDenied  = "mic_denied"
	TypeMic        = "mic"
)

// Outbound message types.
const (
	TypeReady        = "ready"
	TypeState        = "state"
	TypeMicRequest   = "mic_request"
	TypeMicStop      = "mic_stop"
	TypeAudio        = "audio"
	TypePlaybackStop = "playback_stop"
	TypeTranscript   = "transcript"
)

// ClientMessage is any message the page sends.
type ClientMessage struct {
	Type       string `json:"type"`
	Muted      bool   `json:"muted,omitempty"`
	Reason     string `json:"reason,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Data       string `json:"data,omitempty"`
}

// StateMessage mirrors [live.State] for the page.
type StateMessage struct {
	Type             string  `json:"type"`
	Status           string  `json:"status"`
	Error            string  `json:"error,omitempty"`
	Step             string  `json:"step,omitempty"`
	RemainingSeconds int     `json:"remaining_seconds"`
	Muted            bool    `json:"muted"`
	Speaking         bool    `json:"speaking"`
	Volume           float64 `json:"volume"`
}

// NewStateMessage converts a session snapshot. Remaining time is rounded up
// to whole seconds so the page never shows 0:00 on a live session.
func NewStateMessage(st live.State) StateMessage {
	return StateMessage{
		Type:             TypeState,
		Status:           string(st.Status),
		Error:            st.Error,
		Step:             st.Step,
		RemainingSeconds: int(math.Ceil(st.Remaining.Seconds())),
		Muted:            st.Muted,
		Speaking:         st.Speaking,
		Volume:           math.Round(st.Volume*100) / 100,
	}
}

// AudioMessage is one buffer of oracle speech to play at At seconds on the
// session clock.
type AudioMessage struct {
	Type       string  `json:"type"`
	At         float64 `json:"at"`
	SampleRate int     `json:"sample_rate"`
	Data       string  `json:"data"`
}

// TranscriptMessage is one line of the conversation.
type TranscriptMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type readyMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type signal struct {
	Type string `json:"type"`
}
