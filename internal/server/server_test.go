package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/escriba-ai/escriba/internal/dictionary"
	"github.com/escriba-ai/escriba/internal/server"
	"github.com/escriba-ai/escriba/internal/session"
	"github.com/escriba-ai/escriba/internal/store"
	"github.com/escriba-ai/escriba/internal/store/memstore"
	asrmock "github.com/escriba-ai/escriba/pkg/asr/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDictionary(t *testing.T) *dictionary.Dictionary {
	t.Helper()
	d, err := dictionary.New([]dictionary.Entry{
		{Canonical: "sobreseimiento", Category: "procesal", Variants: []string{"sobrecimiento"}},
		{Canonical: "flagrancia", Category: "penal", Variants: []string{"fragancia"}},
	})
	if err != nil {
		t.Fatalf("dictionary.New: %v", err)
	}
	return d
}

func newTestServer(t *testing.T, st store.SegmentStore) *server.Server {
	t.Helper()
	mgr := session.NewManager(session.ManagerConfig{
		Provider:   &asrmock.Provider{},
		Language:   "es-419",
		SampleRate: 16000,
		Logger:     testLogger(),
	})
	t.Cleanup(mgr.StopAll)
	return server.New(server.Config{
		Manager:    mgr,
		Dictionary: testDictionary(t),
		Store:      st,
		Logger:     testLogger(),
	})
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzChecksStore(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Checks["database"] != "ok" {
		t.Errorf("database check = %q, want ok", body.Checks["database"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDictionarySearch(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dictionary/search?q=sobreseimiento", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Query   string             `json:"query"`
		Results []dictionary.Entry `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Query != "sobreseimiento" {
		t.Errorf("query = %q", body.Query)
	}
	if len(body.Results) == 0 {
		t.Fatal("expected at least one result")
	}
	if body.Results[0].Canonical != "sobreseimiento" {
		t.Errorf("top result = %q, want sobreseimiento", body.Results[0].Canonical)
	}
}

func TestDictionarySearchRequiresQuery(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dictionary/search", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDictionarySearchRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, memstore.New())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dictionary/search?q=juez&limit=zero", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListSegments(t *testing.T) {
	st := memstore.New()
	for i, text := range []string{"Se abre la audiencia.", "¿Nombre completo?"} {
		seg := store.Segment{
			ID:           uuid.New(),
			HearingID:    "exp-2026-101",
			Sequence:     i + 1,
			SpeakerID:    "SPEAKER_00",
			RawText:      text,
			EnhancedText: text,
			FlushReason:  "complete",
		}
		if err := st.WriteSegment(context.Background(), seg); err != nil {
			t.Fatalf("seed segment %d: %v", i, err)
		}
	}
	srv := newTestServer(t, st)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hearings/exp-2026-101/segments", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		HearingID string          `json:"hearing_id"`
		Segments  []store.Segment `json:"segments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.HearingID != "exp-2026-101" {
		t.Errorf("hearing_id = %q", body.HearingID)
	}
	if len(body.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(body.Segments))
	}
	if body.Segments[0].Sequence != 1 || body.Segments[1].Sequence != 2 {
		t.Errorf("segments out of order: %+v", body.Segments)
	}
}

func TestListSegmentsWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hearings/exp-2026-101/segments", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
