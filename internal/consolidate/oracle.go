package consolidate

import (
	"context"

	"github.com/escriba-ai/escriba/internal/dictionary"
)

// CompletionResult is the oracle's verdict on whether a buffered utterance is
// a finished thought.
type CompletionResult struct {
	// IsComplete reports whether the utterance reads as a finished thought.
	IsComplete bool

	// ShouldContinue reports whether the speaker appears to be mid-sentence
	// and more speech should be awaited even if IsComplete is true.
	ShouldContinue bool

	// Confidence is the oracle's self-reported confidence (0.0–1.0).
	Confidence float64

	// Reason is a short human-readable justification.
	Reason string

	// Fallback is true when the oracle was unavailable and the result comes
	// from the local heuristic instead.
	Fallback bool
}

// EnhanceResult is the cleaned-up form of a segment about to be finalized.
type EnhanceResult struct {
	// Text is the enhanced transcript text.
	Text string

	// IsQuestion reports whether the utterance is an interrogative.
	IsQuestion bool

	// Confidence is the enhancement confidence (0.0–1.0).
	Confidence float64

	// Corrections lists the dictionary corrections applied before
	// enhancement, if any.
	Corrections []dictionary.Correction

	// Fallback is true when the oracle was unavailable and Text was produced
	// by the local formatter instead.
	Fallback bool
}

// Finalizer is the semantic oracle consulted by the state machine. Both
// methods degrade internally rather than failing: a result is always
// returned, with Fallback set when the oracle could not be reached. The
// consolidation loop never blocks on an error path.
type Finalizer interface {
	// ConfirmCompletion asks whether text, spoken by speakerID against the
	// recent conversational context, is a finished thought.
	ConfirmCompletion(ctx context.Context, speakerID, text string, recent []Utterance) CompletionResult

	// Enhance produces the final formatted form of text: dictionary
	// corrections, punctuation, capitalization, and question detection.
	Enhance(ctx context.Context, speakerID, text string, recent []Utterance) EnhanceResult
}
