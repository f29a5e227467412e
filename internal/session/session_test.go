package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/escriba-ai/escriba/internal/consolidate"
	"github.com/escriba-ai/escriba/internal/observe"
	consolidatemock "github.com/escriba-ai/escriba/internal/consolidate/mock"
	"github.com/escriba-ai/escriba/internal/session"
	"github.com/escriba-ai/escriba/internal/store"
	"github.com/escriba-ai/escriba/internal/store/memstore"
	"github.com/escriba-ai/escriba/pkg/asr"
	asrmock "github.com/escriba-ai/escriba/pkg/asr/mock"
)

// captureSink records everything the session emits.
type captureSink struct {
	mu           sync.Mutex
	provisionals []consolidate.Provisional
	finals       []store.Segment
	events       []asr.Event
}

func (c *captureSink) SendProvisional(p consolidate.Provisional) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provisionals = append(c.provisionals, p)
}

func (c *captureSink) SendFinal(seg store.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, seg)
}

func (c *captureSink) SendEvent(ev asr.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) finalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.finals)
}

func (c *captureSink) provisionalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.provisionals)
}

func (c *captureSink) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

var _ session.Sink = (*captureSink)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func finalChunk(speaker, text string) asr.Chunk {
	return asr.Chunk{
		SpeakerID:  speaker,
		Text:       text,
		IsFinal:    true,
		Confidence: 0.9,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// newTestSession wires a session to a mock ASR handle and starts its loop.
func newTestSession(t *testing.T, st store.SegmentStore) (*session.Session, *asrmock.Session, *captureSink) {
	t.Helper()

	handle := &asrmock.Session{
		ChunksCh: make(chan asr.Chunk, 32),
		EventsCh: make(chan asr.Event, 8),
	}
	sink := &captureSink{}
	sess := session.New(session.Config{
		HearingID: "audiencia-1",
		Handle:    handle,
		Oracle:    &consolidatemock.Finalizer{},
		Sink:      sink,
		Store:     st,
		Logger:    testLogger(),
	})
	go sess.Run(context.Background())
	t.Cleanup(func() { _ = sess.Close() })

	return sess, handle, sink
}

func TestGaplessSequenceNumbers(t *testing.T) {
	st := memstore.New()
	sess, handle, sink := newTestSession(t, st)

	utterances := []string{
		"buenos días, señoría.",
		"se da inicio a la audiencia.",
		"tiene la palabra la defensa.",
	}
	for _, u := range utterances {
		handle.ChunksCh <- finalChunk("SPEAKER_00", u)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := sink.finalCount(); got != 3 {
		t.Fatalf("finals = %d, want 3", got)
	}
	for i, seg := range sink.finals {
		if seg.Sequence != i+1 {
			t.Errorf("final %d has sequence %d, want %d", i, seg.Sequence, i+1)
		}
		if seg.HearingID != "audiencia-1" {
			t.Errorf("final %d has hearing ID %q", i, seg.HearingID)
		}
		if seg.ID == uuid.Nil {
			t.Errorf("final %d has zero UUID", i)
		}
		if seg.Source != store.SourceStreaming {
			t.Errorf("final %d has source %q", i, seg.Source)
		}
	}

	persisted, err := st.ListSegments(context.Background(), "audiencia-1")
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(persisted) != 3 {
		t.Fatalf("persisted = %d, want 3", len(persisted))
	}
	for i, seg := range persisted {
		if seg.RawText != utterances[i] {
			t.Errorf("persisted %d raw text = %q, want %q", i, seg.RawText, utterances[i])
		}
	}
}

func TestTrailingSpeechFlushedOnClose(t *testing.T) {
	st := memstore.New()
	sess, handle, sink := newTestSession(t, st)

	handle.ChunksCh <- finalChunk("SPEAKER_01", "el testigo dijo que")
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := sink.finalCount(); got != 1 {
		t.Fatalf("finals = %d, want 1", got)
	}
	seg := sink.finals[0]
	if seg.FlushReason != consolidate.FlushSessionEnd {
		t.Errorf("FlushReason = %q, want %q", seg.FlushReason, consolidate.FlushSessionEnd)
	}
	if seg.RawText != "el testigo dijo que" {
		t.Errorf("RawText = %q", seg.RawText)
	}
}

func TestPersistenceFailureDoesNotBlockHearing(t *testing.T) {
	st := memstore.New()
	st.WriteErr = errors.New("database unavailable")
	sess, handle, sink := newTestSession(t, st)

	handle.ChunksCh <- finalChunk("SPEAKER_00", "primera intervención completa.")
	handle.ChunksCh <- finalChunk("SPEAKER_00", "segunda intervención completa.")
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := sink.finalCount(); got != 2 {
		t.Fatalf("finals = %d, want 2: persistence failures must not drop sink delivery", got)
	}
	if sink.finals[1].Sequence != 2 {
		t.Errorf("sequence = %d, want 2", sink.finals[1].Sequence)
	}
}

func TestAccumulatingFinalYieldsProvisional(t *testing.T) {
	_, handle, sink := newTestSession(t, nil)

	// An incomplete final chunk accumulates, but the client must still see
	// the growing buffer.
	handle.ChunksCh <- finalChunk("SPEAKER_00", "el testigo dijo que")
	waitFor(t, func() bool { return sink.provisionalCount() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.provisionals[0].Text != "el testigo dijo que" {
		t.Errorf("provisional text = %q", sink.provisionals[0].Text)
	}
	if len(sink.finals) != 0 {
		t.Errorf("finals = %d, want 0 while accumulating", len(sink.finals))
	}
}

func TestMalformedChunkCountedAsDropped(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	handle := &asrmock.Session{
		ChunksCh: make(chan asr.Chunk, 32),
		EventsCh: make(chan asr.Event, 8),
	}
	sink := &captureSink{}
	sess := session.New(session.Config{
		HearingID: "audiencia-1",
		Handle:    handle,
		Oracle:    &consolidatemock.Finalizer{},
		Sink:      sink,
		Logger:    testLogger(),
		Metrics:   metrics,
	})
	go sess.Run(context.Background())
	t.Cleanup(func() { _ = sess.Close() })

	handle.ChunksCh <- asr.Chunk{Text: "sin hablante asignado aquí", IsFinal: true}
	// A well-formed chunk behind it proves the loop got past the drop.
	handle.ChunksCh <- finalChunk("SPEAKER_00", "conforme.")
	waitFor(t, func() bool { return sink.finalCount() == 1 })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var dropped int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "escriba.chunks.dropped" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("chunks.dropped is not an int64 sum")
			}
			for _, dp := range sum.DataPoints {
				dropped += dp.Value
			}
		}
	}
	if dropped != 1 {
		t.Errorf("chunks dropped = %d, want 1", dropped)
	}
}

func TestProvisionalForwarded(t *testing.T) {
	_, handle, sink := newTestSession(t, nil)

	handle.ChunksCh <- asr.Chunk{SpeakerID: "SPEAKER_00", Text: "buenos días a", IsFinal: false}
	waitFor(t, func() bool { return sink.provisionalCount() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.provisionals[0].Text != "buenos días a" {
		t.Errorf("provisional text = %q", sink.provisionals[0].Text)
	}
}

func TestEventsForwarded(t *testing.T) {
	_, handle, sink := newTestSession(t, nil)

	handle.EventsCh <- asr.Event{Type: asr.EventSpeechStarted, Timestamp: 1.5}
	waitFor(t, func() bool { return sink.eventCount() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.events[0].Type != asr.EventSpeechStarted {
		t.Errorf("event type = %q", sink.events[0].Type)
	}
}

func TestSendAudioForwardsToHandle(t *testing.T) {
	sess, handle, _ := newTestSession(t, nil)

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if got := handle.SendAudioCallCount(); got != 1 {
		t.Errorf("SendAudio calls = %d, want 1", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sess, _, _ := newTestSession(t, nil)

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
