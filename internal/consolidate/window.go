package consolidate

import "sync"

// DefaultWindowSize is the number of finalized segments retained as rolling
// context for the semantic oracle.
const DefaultWindowSize = 25

// Utterance is one finalized segment as seen by the context window: who said
// it and the raw text. Raw text is deliberate — feeding the oracle its own
// prior output would compound enhancement drift.
type Utterance struct {
	SpeakerID string
	Text      string
}

// ContextWindow is a bounded FIFO of recent utterances shared with the
// semantic oracle so it can judge completion against the flow of the hearing.
//
// All methods are safe for concurrent use.
type ContextWindow struct {
	mu      sync.RWMutex
	entries []Utterance
	maxSize int
}

// NewContextWindow creates a window retaining at most maxSize utterances.
// A maxSize of zero or less falls back to DefaultWindowSize.
func NewContextWindow(maxSize int) *ContextWindow {
	if maxSize <= 0 {
		maxSize = DefaultWindowSize
	}
	return &ContextWindow{
		entries: make([]Utterance, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends an utterance, evicting the oldest entry once the window is full.
func (w *ContextWindow) Add(u Utterance) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, u)
	if len(w.entries) > w.maxSize {
		// Copy to a fresh backing array so evicted entries do not pin memory
		// for the lifetime of the hearing.
		fresh := make([]Utterance, w.maxSize, w.maxSize)
		copy(fresh, w.entries[len(w.entries)-w.maxSize:])
		w.entries = fresh
	}
}

// Snapshot returns the current window contents in chronological order
// (oldest first). The returned slice is a copy.
func (w *ContextWindow) Snapshot() []Utterance {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Utterance, len(w.entries))
	copy(out, w.entries)
	return out
}

// Len returns the number of utterances currently retained.
func (w *ContextWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}
