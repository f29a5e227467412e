// Package memstore provides an in-memory [store.SegmentStore] for tests and
// deployments that run without PostgreSQL.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/escriba-ai/escriba/internal/store"
)

var _ store.SegmentStore = (*Store)(nil)

// Store keeps segments per hearing in memory. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	hearings map[string]map[int]store.Segment

	// WriteErr, when set, is returned by every WriteSegment call. Tests use
	// it to exercise persistence failure paths.
	WriteErr error
}

// New returns an empty Store.
func New() *Store {
	return &Store{hearings: make(map[string]map[int]store.Segment)}
}

// WriteSegment implements [store.SegmentStore]. A duplicate
// (hearing_id, sequence) pair is skipped, mirroring the PostgreSQL
// ON CONFLICT DO NOTHING behavior.
func (s *Store) WriteSegment(_ context.Context, seg store.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return s.WriteErr
	}

	byseq, ok := s.hearings[seg.HearingID]
	if !ok {
		byseq = make(map[int]store.Segment)
		s.hearings[seg.HearingID] = byseq
	}
	if _, exists := byseq[seg.Sequence]; exists {
		return nil
	}
	if seg.Source == "" {
		seg.Source = store.SourceStreaming
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now()
	}
	byseq[seg.Sequence] = seg
	return nil
}

// ListSegments implements [store.SegmentStore].
func (s *Store) ListSegments(_ context.Context, hearingID string) ([]store.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byseq := s.hearings[hearingID]
	maxSeq := -1
	for seq := range byseq {
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	segments := make([]store.Segment, 0, len(byseq))
	for seq := 0; seq <= maxSeq; seq++ {
		if seg, ok := byseq[seq]; ok {
			segments = append(segments, seg)
		}
	}
	return segments, nil
}

// Ping implements [store.SegmentStore]. It never fails.
func (s *Store) Ping(context.Context) error { return nil }
