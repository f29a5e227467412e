// Package store defines the persistence contract for finalized transcript
// segments. The canonical implementation is [postgres.Store]; [memstore.Store]
// backs tests and storage-less deployments.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/escriba-ai/escriba/pkg/asr"
)

// SourceStreaming marks segments produced by the real-time consolidation
// path. Batch re-transcription jobs use their own source value.
const SourceStreaming = "streaming"

// Segment is a finalized transcript segment as persisted.
type Segment struct {
	// ID uniquely identifies the segment.
	ID uuid.UUID `json:"id"`

	// HearingID identifies the hearing this segment belongs to.
	HearingID string `json:"hearing_id"`

	// Sequence is the gapless per-hearing ordinal, counting from 1.
	Sequence int `json:"sequence"`

	// SpeakerID is the diarized speaker label (e.g. "SPEAKER_01").
	SpeakerID string `json:"speaker_id"`

	// RawText is the consolidated text exactly as transcribed.
	RawText string `json:"raw_text"`

	// EnhancedText is the oracle-enhanced form of RawText.
	EnhancedText string `json:"enhanced_text"`

	// StartTime and EndTime are offsets in seconds from the start of the
	// hearing audio.
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`

	// Confidence is the mean ASR confidence over the merged chunks.
	Confidence float64 `json:"confidence"`

	// IsQuestion reports whether the segment is an interrogative.
	IsQuestion bool `json:"is_question"`

	// FlushReason records why consolidation finalized this segment.
	FlushReason string `json:"flush_reason"`

	// WordSpans carries per-word timing and confidence, when available.
	WordSpans []asr.WordSpan `json:"word_spans,omitempty"`

	// Source distinguishes streaming segments from batch re-transcriptions.
	Source string `json:"source"`

	// CreatedAt is set by the store on write.
	CreatedAt time.Time `json:"created_at"`
}

// SegmentStore persists finalized segments. Implementations must be safe for
// concurrent use and must treat (HearingID, Sequence) as the idempotency key:
// writing the same pair twice is not an error and must not duplicate rows.
type SegmentStore interface {
	// WriteSegment persists seg.
	WriteSegment(ctx context.Context, seg Segment) error

	// ListSegments returns all segments for hearingID ordered by sequence.
	ListSegments(ctx context.Context, hearingID string) ([]Segment, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
