// Package asr defines the Provider interface for streaming speech recognition
// backends.
//
// An ASR provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// a single ordered stream of Chunk values, interleaving low-latency interim
// results with authoritative finals. Keeping interim and final results on one
// channel preserves their arrival order, which downstream consolidation
// depends on.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package asr

import "context"

// StreamConfig describes the audio format and recognition hints for a new ASR
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "es-419").
	// An empty string uses the provider default.
	Language string

	// SampleRate is the audio sample rate in Hz. Courtroom capture uses 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// ASR providers).
	Channels int

	// Keyterms is a list of vocabulary hints that increase recognition
	// probability for domain terms such as legal jargon and proper nouns.
	// Providers with a term limit truncate the list.
	Keyterms []string
}

// SessionHandle represents an open ASR streaming session. It is an interface
// so that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the SampleRate and Channels agreed
	// in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Chunks returns a read-only channel that emits transcription results in
	// arrival order: interim results (IsFinal false) interleaved with
	// authoritative finals (IsFinal true). The channel is closed when the
	// session ends.
	Chunks() <-chan Chunk

	// Events returns a read-only channel of non-transcript notifications
	// (speech onset, utterance end). The channel is closed when the session
	// ends.
	Events() <-chan Event

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns the Chunks and Events
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any streaming ASR backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per hearing).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
