package asr

// Chunk represents a speech-to-text result from an ASR provider.
// Both interim and final chunks use this type; IsFinal distinguishes them.
type Chunk struct {
	// SpeakerID identifies the diarized speaker (e.g., "SPEAKER_00").
	// Empty if diarization is disabled or the provider returned no words.
	SpeakerID string `json:"speaker_id"`

	// Text is the transcribed speech content.
	Text string `json:"text"`

	// IsFinal indicates whether this is a final (authoritative) or interim result.
	IsFinal bool `json:"is_final"`

	// Start and End are the utterance boundaries in seconds from stream start.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64 `json:"confidence"`

	// Words contains per-word detail when available. May be nil for providers
	// that do not support word-level output.
	Words []WordSpan `json:"words,omitempty"`
}

// WordSpan holds per-word metadata from ASR providers that support it.
// Timestamps are in seconds from stream start.
type WordSpan struct {
	Text       string      `json:"text"`
	Start      float64     `json:"start"`
	End        float64     `json:"end"`
	Confidence float64     `json:"confidence"`

	// Alternatives lists competing hypotheses for this word, populated only
	// when the primary confidence is low. Ordered best-first.
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Alternative is a competing recognition hypothesis for a single word.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// EventType classifies non-transcript notifications emitted by a session.
type EventType string

const (
	// EventSpeechStarted fires when the provider's VAD detects speech onset.
	EventSpeechStarted EventType = "speech_started"

	// EventUtteranceEnd fires when the provider decides an utterance is over
	// (silence gap exceeded). Carries the timestamp of the last spoken word.
	EventUtteranceEnd EventType = "utterance_end"
)

// Event is a non-transcript notification from the ASR stream.
type Event struct {
	Type EventType

	// Timestamp is the stream-relative time of the event in seconds.
	Timestamp float64
}
