package llm

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Attachment is inline media sent alongside the prompt, such as a photo.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Grounding selects an optional retrieval tool the model may consult.
type Grounding int

const (
	// GroundingNone disables retrieval.
	GroundingNone Grounding = iota

	// GroundingGoogleMaps lets the model consult Google Maps places, used to
	// anchor location-based readings.
	GroundingGoogleMaps

	// GroundingGoogleSearch lets the model consult Google Search.
	GroundingGoogleSearch
)

// String returns the human-readable name of the grounding mode.
func (g Grounding) String() string {
	switch g {
	case GroundingNone:
		return "none"
	case GroundingGoogleMaps:
		return "google_maps"
	case GroundingGoogleSearch:
		return "google_search"
	default:
		return "unknown"
	}
}

// Citation is a source the model consulted through grounding.
type Citation struct {
	Title string
	URI   string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsGrounding indicates the backend honours [CompletionRequest.Grounding].
	SupportsGrounding bool

	// SupportsAttachments indicates the model accepts [Attachment] inputs.
	SupportsAttachments bool
}
