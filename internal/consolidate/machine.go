// Package consolidate turns the raw interleaved stream of ASR chunks into
// clean per-speaker transcript segments.
//
// The core type is Machine: a state machine that accumulates final ASR chunks
// into a per-speaker buffer and decides when the buffered speech forms a
// complete thought. Flush triggers, in priority order:
//
//   - speaker change: a final chunk from a different speaker flushes the
//     pending buffer first, preserving utterance order;
//   - hard length cutoff: the buffer is flushed once it grows past
//     MaxBufferWords;
//   - local heuristic: short responses, terminal punctuation, and run-on
//     length (see LooksIncomplete);
//   - semantic oracle: for mid-length ambiguous buffers, an LLM is asked
//     whether the thought is finished.
//
// Every buffered word is flushed exactly once; nothing is dropped and nothing
// is emitted twice. Sequence numbering and persistence happen upstream in the
// session layer.
package consolidate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/escriba-ai/escriba/internal/dictionary"
	"github.com/escriba-ai/escriba/pkg/asr"
)

// Flush reasons recorded on finalized segments.
const (
	FlushSpeakerChange   = "speaker_change"
	FlushLengthCutoff    = "length_cutoff"
	FlushComplete        = "complete"
	FlushOracleConfirmed = "oracle_confirmed"
	FlushSessionEnd      = "session_end"
)

// Config holds the consolidation tunables.
type Config struct {
	// MaxBufferWords is the hard cutoff: a buffer exceeding this many words
	// is flushed unconditionally. Default 50.
	MaxBufferWords int

	// OracleMinWords is the buffer size above which the semantic oracle is
	// consulted for ambiguous buffers. Default 20.
	OracleMinWords int

	// OracleWordDelta is the minimum word growth between consecutive oracle
	// consultations on the same buffer. Default 5.
	OracleWordDelta int

	// WindowSize bounds the rolling context shared with the oracle.
	// Default DefaultWindowSize.
	WindowSize int
}

// withDefaults fills zero fields with the standard tunables.
func (c Config) withDefaults() Config {
	if c.MaxBufferWords <= 0 {
		c.MaxBufferWords = 50
	}
	if c.OracleMinWords <= 0 {
		c.OracleMinWords = 20
	}
	if c.OracleWordDelta <= 0 {
		c.OracleWordDelta = 5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	return c
}

// Provisional is a low-latency interim view of the utterance being
// accumulated, suitable for live display but never for the record.
type Provisional struct {
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
}

// Segment is a finalized transcript segment produced by a flush.
type Segment struct {
	SpeakerID    string         `json:"speaker_id"`
	RawText      string         `json:"raw_text"`
	EnhancedText string         `json:"enhanced_text"`
	IsQuestion   bool           `json:"is_question"`

	// Confidence is the mean per-word ASR confidence, falling back to the
	// mean chunk confidence when word detail is absent.
	Confidence float64 `json:"confidence"`

	// EnhanceConfidence is the oracle's (or fallback formatter's) confidence
	// in EnhancedText.
	EnhanceConfidence float64 `json:"enhance_confidence"`

	// Start and End are stream-relative bounds in seconds.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	Words       []asr.WordSpan `json:"words,omitempty"`
	FlushReason string         `json:"flush_reason"`

	// Corrections are the dictionary substitutions applied during
	// enhancement.
	Corrections []dictionary.Correction `json:"corrections,omitempty"`

	// OracleFallback is true when enhancement ran in degraded (local) mode.
	OracleFallback bool `json:"oracle_fallback,omitempty"`
}

// Output is what Process emits for a single input chunk: at most one
// provisional update plus zero or more finalized segments.
type Output struct {
	Provisional *Provisional
	Segment     *Segment
}

// buffer accumulates final chunks for a single speaker between flushes.
type buffer struct {
	speakerID  string
	texts      []string
	words      []asr.WordSpan
	start      float64
	end        float64
	confSum    float64
	chunkCount int

	// lastCheckedWords is the buffer word count at the most recent oracle
	// consultation, used to throttle repeat checks.
	lastCheckedWords int
}

func (b *buffer) empty() bool { return len(b.texts) == 0 }

func (b *buffer) text() string { return strings.Join(b.texts, " ") }

// reset clears accumulated speech but keeps the speaker attribution, so a
// follow-up chunk from the same speaker does not look like a change.
func (b *buffer) reset() {
	b.texts = nil
	b.words = nil
	b.start = 0
	b.end = 0
	b.confSum = 0
	b.chunkCount = 0
	b.lastCheckedWords = 0
}

// Machine consolidates one hearing's chunk stream. It is deliberately not
// safe for concurrent use: each hearing runs a single processing goroutine,
// which is what guarantees segment ordering.
type Machine struct {
	cfg    Config
	oracle Finalizer
	window *ContextWindow
	log    *slog.Logger

	buf buffer
}

// NewMachine creates a consolidation machine. oracle must be non-nil; use the
// finalizer package's degraded mode rather than passing nil. A nil logger
// falls back to slog.Default.
func NewMachine(oracle Finalizer, cfg Config, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Machine{
		cfg:    cfg,
		oracle: oracle,
		window: NewContextWindow(cfg.WindowSize),
		log:    log,
	}
}

// Window exposes the rolling context, shared with callers that want to seed
// or inspect it.
func (m *Machine) Window() *ContextWindow { return m.window }

// Process feeds one ASR chunk through the state machine and returns the
// resulting outputs in emission order. Malformed final chunks (empty text or
// missing speaker) are dropped with a warning.
func (m *Machine) Process(ctx context.Context, chunk asr.Chunk) []Output {
	text := strings.TrimSpace(chunk.Text)
	if text == "" {
		if chunk.IsFinal {
			m.log.Warn("dropping final chunk with empty text",
				"speaker", chunk.SpeakerID)
		}
		return nil
	}

	if !chunk.IsFinal {
		return []Output{{Provisional: m.provisional(chunk, text)}}
	}

	if chunk.SpeakerID == "" {
		m.log.Warn("dropping final chunk without speaker attribution",
			"text_words", WordCount(text))
		return nil
	}

	var outputs []Output

	// A different speaker's final chunk closes the pending utterance first,
	// so segments always leave in speaking order.
	if !m.buf.empty() && chunk.SpeakerID != m.buf.speakerID {
		outputs = append(outputs, Output{Segment: m.flush(ctx, FlushSpeakerChange)})
	}

	m.append(chunk, text)

	joined := m.buf.text()
	words := WordCount(joined)

	switch {
	case words > m.cfg.MaxBufferWords:
		outputs = append(outputs, Output{Segment: m.flush(ctx, FlushLengthCutoff)})

	case !LooksIncomplete(joined):
		outputs = append(outputs, Output{Segment: m.flush(ctx, FlushComplete)})

	case words > m.cfg.OracleMinWords && words-m.buf.lastCheckedWords >= m.cfg.OracleWordDelta:
		m.buf.lastCheckedWords = words
		res := m.oracle.ConfirmCompletion(ctx, m.buf.speakerID, joined, m.window.Snapshot())
		if res.IsComplete && !res.ShouldContinue {
			outputs = append(outputs, Output{Segment: m.flush(ctx, FlushOracleConfirmed)})
		}
	}

	// When the chunk accumulated without closing the utterance, the client
	// still gets the growing buffer as a provisional update.
	if !m.buf.empty() {
		outputs = append(outputs, Output{Provisional: &Provisional{
			SpeakerID: m.buf.speakerID,
			Text:      m.buf.text(),
		}})
	}

	return outputs
}

// FlushPending finalizes whatever remains in the buffer. Called when the
// hearing ends so no trailing speech is lost. Returns nil when the buffer is
// empty.
func (m *Machine) FlushPending(ctx context.Context) *Segment {
	if m.buf.empty() {
		return nil
	}
	return m.flush(ctx, FlushSessionEnd)
}

// provisional builds the live view: pending buffered text plus the interim
// tail.
func (m *Machine) provisional(chunk asr.Chunk, text string) *Provisional {
	speaker := chunk.SpeakerID
	pending := text
	if !m.buf.empty() {
		if speaker == "" || speaker == m.buf.speakerID {
			speaker = m.buf.speakerID
			pending = m.buf.text() + " " + text
		}
	}
	return &Provisional{SpeakerID: speaker, Text: pending}
}

// append merges a final chunk into the buffer.
func (m *Machine) append(chunk asr.Chunk, text string) {
	if m.buf.empty() {
		m.buf.speakerID = chunk.SpeakerID
		m.buf.start = chunk.Start
	}
	m.buf.texts = append(m.buf.texts, text)
	m.buf.words = append(m.buf.words, chunk.Words...)
	if chunk.End > m.buf.end {
		m.buf.end = chunk.End
	}
	m.buf.confSum += chunk.Confidence
	m.buf.chunkCount++
}

// flush finalizes the buffer into a Segment, running enhancement and feeding
// the raw text into the rolling context.
func (m *Machine) flush(ctx context.Context, reason string) *Segment {
	raw := m.buf.text()
	speaker := m.buf.speakerID

	enhanced := m.oracle.Enhance(ctx, speaker, raw, m.window.Snapshot())

	confidence := 0.0
	if n := len(m.buf.words); n > 0 {
		var sum float64
		for _, w := range m.buf.words {
			sum += w.Confidence
		}
		confidence = sum / float64(n)
	} else if m.buf.chunkCount > 0 {
		confidence = m.buf.confSum / float64(m.buf.chunkCount)
	}

	seg := &Segment{
		SpeakerID:         speaker,
		RawText:           raw,
		EnhancedText:      enhanced.Text,
		IsQuestion:        enhanced.IsQuestion,
		Confidence:        confidence,
		EnhanceConfidence: enhanced.Confidence,
		Start:             m.buf.start,
		End:               m.buf.end,
		Words:             m.buf.words,
		FlushReason:       reason,
		Corrections:       enhanced.Corrections,
		OracleFallback:    enhanced.Fallback,
	}

	m.window.Add(Utterance{SpeakerID: speaker, Text: raw})
	m.buf.reset()

	if enhanced.Fallback {
		m.log.Warn("segment enhanced in degraded mode",
			"speaker", speaker, "flush_reason", reason)
	}

	return seg
}
