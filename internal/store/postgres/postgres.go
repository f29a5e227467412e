// Package postgres provides the PostgreSQL-backed [store.SegmentStore].
//
// A single [pgxpool.Pool] serves all operations. [Migrate] is idempotent and
// runs on every [New], so a fresh database needs no manual schema setup.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escriba-ai/escriba/internal/store"
	"github.com/escriba-ai/escriba/pkg/asr"
)

var _ store.SegmentStore = (*Store)(nil)

const ddlHearingSegments = `
CREATE TABLE IF NOT EXISTS hearing_segments (
    id            UUID         PRIMARY KEY,
    hearing_id    TEXT         NOT NULL,
    sequence      INTEGER      NOT NULL,
    speaker_id    TEXT         NOT NULL DEFAULT '',
    raw_text      TEXT         NOT NULL,
    enhanced_text TEXT         NOT NULL DEFAULT '',
    start_time    DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_time      DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_question   BOOLEAN      NOT NULL DEFAULT FALSE,
    flush_reason  TEXT         NOT NULL DEFAULT '',
    word_spans    JSONB        NOT NULL DEFAULT '[]',
    source        TEXT         NOT NULL DEFAULT 'streaming',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (hearing_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_hearing_segments_hearing_id
    ON hearing_segments (hearing_id);

CREATE INDEX IF NOT EXISTS idx_hearing_segments_created_at
    ON hearing_segments (created_at);

CREATE INDEX IF NOT EXISTS idx_hearing_segments_fts
    ON hearing_segments USING GIN (to_tsvector('spanish', enhanced_text));
`

// Store is the PostgreSQL-backed segment store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database at dsn, verifies
// connectivity, and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("segment store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("segment store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("segment store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("segment store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates or ensures the hearing_segments table and its indexes
// exist. It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlHearingSegments); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// WriteSegment implements [store.SegmentStore]. A conflicting
// (hearing_id, sequence) pair is silently skipped, so retried writes after a
// partial failure do not duplicate segments.
func (s *Store) WriteSegment(ctx context.Context, seg store.Segment) error {
	spans, err := json.Marshal(seg.WordSpans)
	if err != nil {
		return fmt.Errorf("segment store: marshal word spans: %w", err)
	}

	const q = `
		INSERT INTO hearing_segments
		    (id, hearing_id, sequence, speaker_id, raw_text, enhanced_text,
		     start_time, end_time, confidence, is_question, flush_reason,
		     word_spans, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (hearing_id, sequence) DO NOTHING`

	source := seg.Source
	if source == "" {
		source = store.SourceStreaming
	}

	_, err = s.pool.Exec(ctx, q,
		seg.ID,
		seg.HearingID,
		seg.Sequence,
		seg.SpeakerID,
		seg.RawText,
		seg.EnhancedText,
		seg.StartTime,
		seg.EndTime,
		seg.Confidence,
		seg.IsQuestion,
		seg.FlushReason,
		spans,
		source,
	)
	if err != nil {
		return fmt.Errorf("segment store: write segment: %w", err)
	}
	return nil
}

// ListSegments implements [store.SegmentStore]. Segments are returned in
// sequence order.
func (s *Store) ListSegments(ctx context.Context, hearingID string) ([]store.Segment, error) {
	const q = `
		SELECT id, hearing_id, sequence, speaker_id, raw_text, enhanced_text,
		       start_time, end_time, confidence, is_question, flush_reason,
		       word_spans, source, created_at
		FROM   hearing_segments
		WHERE  hearing_id = $1
		ORDER  BY sequence`

	rows, err := s.pool.Query(ctx, q, hearingID)
	if err != nil {
		return nil, fmt.Errorf("segment store: list segments: %w", err)
	}
	return collectSegments(rows)
}

// Ping implements [store.SegmentStore].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("segment store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectSegments scans pgx rows into a slice of Segment values.
func collectSegments(rows pgx.Rows) ([]store.Segment, error) {
	segments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Segment, error) {
		var (
			seg   store.Segment
			spans []byte
		)
		if err := row.Scan(
			&seg.ID,
			&seg.HearingID,
			&seg.Sequence,
			&seg.SpeakerID,
			&seg.RawText,
			&seg.EnhancedText,
			&seg.StartTime,
			&seg.EndTime,
			&seg.Confidence,
			&seg.IsQuestion,
			&seg.FlushReason,
			&spans,
			&seg.Source,
			&seg.CreatedAt,
		); err != nil {
			return store.Segment{}, err
		}
		if len(spans) > 0 {
			var ws []asr.WordSpan
			if err := json.Unmarshal(spans, &ws); err != nil {
				return store.Segment{}, err
			}
			seg.WordSpans = ws
		}
		return seg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("segment store: scan rows: %w", err)
	}
	if segments == nil {
		segments = []store.Segment{}
	}
	return segments, nil
}
