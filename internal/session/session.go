// Package session runs the per-hearing processing loop: one goroutine per
// hearing reads the ASR chunk stream, drives the consolidation machine,
// assigns gapless sequence numbers, and fans finalized segments out to the
// client sink and the segment store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/escriba-ai/escriba/internal/consolidate"
	"github.com/escriba-ai/escriba/internal/observe"
	"github.com/escriba-ai/escriba/internal/store"
	"github.com/escriba-ai/escriba/pkg/asr"
)

// storeWriteTimeout bounds each persistence attempt so a slow database never
// stalls the processing loop for long.
const storeWriteTimeout = 5 * time.Second

// Sink receives live output for a hearing, typically a websocket connection.
// Implementations must not block for long; the processing loop calls them
// inline.
type Sink interface {
	// SendProvisional delivers a low-latency interim view.
	SendProvisional(p consolidate.Provisional)

	// SendFinal delivers a finalized, sequence-numbered segment.
	SendFinal(seg store.Segment)

	// SendEvent delivers a speech activity event.
	SendEvent(ev asr.Event)
}

// Config holds the dependencies for a single hearing session.
type Config struct {
	HearingID string
	Handle    asr.SessionHandle
	Oracle    consolidate.Finalizer
	Sink      Sink

	// Store is optional; when nil, segments are only delivered to the sink.
	Store store.SegmentStore

	// Recorder is optional; when set, all audio sent through SendAudio is
	// archived.
	Recorder *Recorder

	Consolidation consolidate.Config
	Logger        *slog.Logger
	Metrics       *observe.Metrics
}

// Session is one live hearing. All consolidation state is owned by a single
// goroutine started in run, which is what guarantees that segments are
// emitted and numbered in speaking order.
type Session struct {
	hearingID string
	handle    asr.SessionHandle
	machine   *consolidate.Machine
	sink      Sink
	store     store.SegmentStore
	recorder  *Recorder
	log       *slog.Logger
	metrics   *observe.Metrics

	// seq is the last assigned sequence number (segments count from 1).
	// Only touched by the processing goroutine.
	seq int

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New assembles a Session. Call Run to start processing.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("hearing_id", cfg.HearingID))

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Session{
		hearingID: cfg.HearingID,
		handle:    cfg.Handle,
		machine:   consolidate.NewMachine(cfg.Oracle, cfg.Consolidation, log),
		sink:      cfg.Sink,
		store:     cfg.Store,
		recorder:  cfg.Recorder,
		log:       log,
		metrics:   metrics,
		done:      make(chan struct{}),
	}
}

// HearingID returns the hearing identifier.
func (s *Session) HearingID() string { return s.hearingID }

// SendAudio forwards a PCM frame to the ASR stream and, when recording is
// enabled, to the audio archive.
func (s *Session) SendAudio(data []byte) error {
	if s.recorder != nil {
		if err := s.recorder.Write(data); err != nil {
			s.log.Warn("audio archive write failed", "error", err)
		}
	}
	if err := s.handle.SendAudio(data); err != nil {
		return fmt.Errorf("session %s: send audio: %w", s.hearingID, err)
	}
	return nil
}

// Run processes the hearing until the ASR stream closes or ctx is canceled.
// It owns all consolidation state and must be the only goroutine calling into
// the machine. Whatever remains buffered at shutdown is flushed as a final
// segment, so no speech is lost.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	chunks := s.handle.Chunks()
	events := s.handle.Events()

	for {
		select {
		case <-ctx.Done():
			s.finishPending(context.WithoutCancel(ctx))
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.sink.SendEvent(ev)

		case chunk, ok := <-chunks:
			if !ok {
				s.finishPending(context.WithoutCancel(ctx))
				return
			}
			s.handleChunk(ctx, chunk)
		}
	}
}

// Close shuts the ASR stream down and waits for the processing loop to flush
// and exit. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.handle.Close()
		<-s.done
		if s.recorder != nil {
			if err := s.recorder.Close(); err != nil {
				s.log.Warn("audio archive close failed", "error", err)
			}
		}
	})
	return s.closeErr
}

// Done is closed when the processing loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) handleChunk(ctx context.Context, chunk asr.Chunk) {
	start := time.Now()
	outputs := s.machine.Process(ctx, chunk)
	s.metrics.ChunkProcessDuration.Record(ctx, time.Since(start).Seconds())

	// A well-formed final chunk always yields at least a provisional; zero
	// outputs means the machine discarded it as malformed.
	if chunk.IsFinal && len(outputs) == 0 {
		reason := "missing_speaker"
		if strings.TrimSpace(chunk.Text) == "" {
			reason = "empty_text"
		}
		s.metrics.RecordChunkDropped(ctx, reason)
	}

	for _, out := range outputs {
		if out.Provisional != nil {
			s.sink.SendProvisional(*out.Provisional)
		}
		if out.Segment != nil {
			s.finalize(ctx, out.Segment)
		}
	}
}

// finishPending flushes whatever the machine still buffers at shutdown.
func (s *Session) finishPending(ctx context.Context) {
	if seg := s.machine.FlushPending(ctx); seg != nil {
		s.finalize(ctx, seg)
	}
}

// finalize assigns the next sequence number, delivers the segment to the
// sink, and persists it. Persistence failures are logged but never interrupt
// the hearing: the sink already has the segment, and the write is retryable
// thanks to the (hearing_id, sequence) idempotency key.
func (s *Session) finalize(ctx context.Context, seg *consolidate.Segment) {
	s.seq++
	persisted := store.Segment{
		ID:           uuid.New(),
		HearingID:    s.hearingID,
		Sequence:     s.seq,
		SpeakerID:    seg.SpeakerID,
		RawText:      seg.RawText,
		EnhancedText: seg.EnhancedText,
		StartTime:    seg.Start,
		EndTime:      seg.End,
		Confidence:   seg.Confidence,
		IsQuestion:   seg.IsQuestion,
		FlushReason:  seg.FlushReason,
		WordSpans:    seg.Words,
		Source:       store.SourceStreaming,
	}

	s.sink.SendFinal(persisted)
	s.metrics.RecordSegmentFinalized(ctx, seg.FlushReason)

	if s.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
	defer cancel()
	if err := s.store.WriteSegment(wctx, persisted); err != nil {
		s.log.Warn("segment persistence failed",
			"sequence", persisted.Sequence,
			"flush_reason", persisted.FlushReason,
			"error", err,
		)
	}
}
