package transport

// Wire message types exchanged with the backend.
const (
	// Incoming
	msgSessionStart = "tts_start"
	msgChunk        = "tts_chunk"
	msgSessionEnd   = "tts_end"
	msgGreeting     = "greeting"
	msgStatus       = "status"

	// Outgoing
	msgAudio     = "audio"
	msgInterrupt = "interrupt"
)

// Backend status values carried in a status message.
const (
	statusAnalysisStarted  = "vision_processing"
	statusAnalysisFinished = "vision_ready"
)

// envelope is the single wire format: a type tag plus the union of all
// per-type fields.
type envelope struct {
	Type string `json:"type"`

	// tts_chunk
	AudioChunk string `json:"audio_chunk,omitempty"`
	Format     string `json:"format,omitempty"`

	// status
	Status string `json:"status,omitempty"`

	// audio (outgoing)
	AudioData string `json:"audio_data,omitempty"`
}
