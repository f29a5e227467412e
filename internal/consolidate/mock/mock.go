// Package mock provides a test double for the consolidate.Finalizer
// interface. Responses are configurable per call via function fields; the
// zero value behaves as an always-available oracle that echoes text back.
package mock

import (
	"context"
	"sync"

	"github.com/escriba-ai/escriba/internal/consolidate"
)

// ConfirmCall records a single invocation of ConfirmCompletion.
type ConfirmCall struct {
	SpeakerID string
	Text      string
	Recent    []consolidate.Utterance
}

// EnhanceCall records a single invocation of Enhance.
type EnhanceCall struct {
	SpeakerID string
	Text      string
	Recent    []consolidate.Utterance
}

// Finalizer is a mock implementation of consolidate.Finalizer.
type Finalizer struct {
	mu sync.Mutex

	// ConfirmResult is returned by ConfirmCompletion when ConfirmFunc is nil.
	ConfirmResult consolidate.CompletionResult

	// ConfirmFunc, if non-nil, computes the result per call.
	ConfirmFunc func(speakerID, text string) consolidate.CompletionResult

	// EnhanceFunc, if non-nil, computes the result per call. When nil,
	// Enhance echoes the input text with confidence 1.
	EnhanceFunc func(speakerID, text string) consolidate.EnhanceResult

	// ConfirmCalls and EnhanceCalls record every invocation in order.
	ConfirmCalls []ConfirmCall
	EnhanceCalls []EnhanceCall
}

// ConfirmCompletion records the call and returns the configured result.
func (f *Finalizer) ConfirmCompletion(_ context.Context, speakerID, text string, recent []consolidate.Utterance) consolidate.CompletionResult {
	f.mu.Lock()
	f.ConfirmCalls = append(f.ConfirmCalls, ConfirmCall{SpeakerID: speakerID, Text: text, Recent: recent})
	fn := f.ConfirmFunc
	res := f.ConfirmResult
	f.mu.Unlock()

	if fn != nil {
		return fn(speakerID, text)
	}
	return res
}

// Enhance records the call and returns the configured result.
func (f *Finalizer) Enhance(_ context.Context, speakerID, text string, recent []consolidate.Utterance) consolidate.EnhanceResult {
	f.mu.Lock()
	f.EnhanceCalls = append(f.EnhanceCalls, EnhanceCall{SpeakerID: speakerID, Text: text, Recent: recent})
	fn := f.EnhanceFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(speakerID, text)
	}
	return consolidate.EnhanceResult{Text: text, Confidence: 1}
}

// ConfirmCallCount returns the number of ConfirmCompletion calls. Thread-safe.
func (f *Finalizer) ConfirmCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ConfirmCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (f *Finalizer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConfirmCalls = nil
	f.EnhanceCalls = nil
}

// Ensure Finalizer implements consolidate.Finalizer at compile time.
var _ consolidate.Finalizer = (*Finalizer)(nil)
