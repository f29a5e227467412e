package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/escriba-ai/escriba/internal/consolidate"
	"github.com/escriba-ai/escriba/internal/dictionary"
	"github.com/escriba-ai/escriba/internal/observe"
	"github.com/escriba-ai/escriba/internal/store"
	"github.com/escriba-ai/escriba/pkg/asr"
)

// ManagerConfig holds the shared dependencies for all hearings.
type ManagerConfig struct {
	Provider asr.Provider
	Oracle   consolidate.Finalizer

	// Store is optional.
	Store store.SegmentStore

	// Dictionary is optional; when set, its canonical terms seed the ASR
	// keyterm boost for every stream.
	Dictionary *dictionary.Dictionary

	// AudioDir is optional; when set, each hearing's audio is archived as
	// <AudioDir>/<hearing_id>.wav.
	AudioDir string

	Language      string
	SampleRate    int
	Consolidation consolidate.Config
	Logger        *slog.Logger
	Metrics       *observe.Metrics
}

// Manager owns the set of live hearings. All exported methods are safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc

	provider asr.Provider
	oracle   consolidate.Finalizer
	store    store.SegmentStore
	dict     *dictionary.Dictionary
	audioDir string

	language   string
	sampleRate int
	ccfg       consolidate.Config
	log        *slog.Logger
	metrics    *observe.Metrics
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		sessions:   make(map[string]*Session),
		cancels:    make(map[string]context.CancelFunc),
		provider:   cfg.Provider,
		oracle:     cfg.Oracle,
		store:      cfg.Store,
		dict:       cfg.Dictionary,
		audioDir:   cfg.AudioDir,
		language:   cfg.Language,
		sampleRate: cfg.SampleRate,
		ccfg:       cfg.Consolidation,
		log:        log,
		metrics:    metrics,
	}
}

// Start opens an ASR stream for hearingID and launches its processing
// goroutine, delivering output to sink. It fails when the hearing is already
// live.
func (m *Manager) Start(ctx context.Context, hearingID string, sink Sink) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[hearingID]; exists {
		return nil, fmt.Errorf("manager: hearing %s is already live", hearingID)
	}

	streamCfg := asr.StreamConfig{
		Language:   m.language,
		SampleRate: m.sampleRate,
	}
	if m.dict != nil {
		streamCfg.Keyterms = m.dict.Keyterms()
	}

	handle, err := m.provider.StartStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("manager: start stream for %s: %w", hearingID, err)
	}

	var rec *Recorder
	if m.audioDir != "" {
		path := filepath.Join(m.audioDir, hearingID+".wav")
		rec, err = NewRecorder(path, m.sampleRate)
		if err != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("manager: open audio archive for %s: %w", hearingID, err)
		}
	}

	sess := New(Config{
		HearingID:     hearingID,
		Handle:        handle,
		Oracle:        m.oracle,
		Sink:          sink,
		Store:         m.store,
		Recorder:      rec,
		Consolidation: m.ccfg,
		Logger:        m.log,
		Metrics:       m.metrics,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.sessions[hearingID] = sess
	m.cancels[hearingID] = cancel
	m.metrics.ActiveHearings.Add(ctx, 1)

	go func() {
		sess.Run(runCtx)
		m.reap(hearingID, sess)
	}()

	m.log.Info("hearing started",
		"hearing_id", hearingID,
		"keyterms", len(streamCfg.Keyterms),
		"recording", rec != nil,
	)
	return sess, nil
}

// Get returns the live session for hearingID.
func (m *Manager) Get(hearingID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[hearingID]
	return sess, ok
}

// Count returns the number of live hearings.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop closes the hearing's ASR stream, waits for the trailing flush, and
// removes it from the live set.
func (m *Manager) Stop(hearingID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[hearingID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("manager: hearing %s is not live", hearingID)
	}

	err := sess.Close()
	m.reap(hearingID, sess)
	if err != nil {
		return fmt.Errorf("manager: stop %s: %w", hearingID, err)
	}
	return nil
}

// StopAll stops every live hearing, logging per-hearing failures. Hearings
// are stopped concurrently: each Stop blocks on that hearing's trailing
// flush, and one slow oracle call must not delay the rest of the shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Stop(id); err != nil {
				m.log.Warn("hearing stop failed", "hearing_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// reap removes a finished session from the live set. Idempotent: the run
// goroutine and Stop may both call it.
func (m *Manager) reap(hearingID string, sess *Session) {
	<-sess.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[hearingID]; !ok || current != sess {
		return
	}
	delete(m.sessions, hearingID)
	if cancel, ok := m.cancels[hearingID]; ok {
		cancel()
		delete(m.cancels, hearingID)
	}
	m.metrics.ActiveHearings.Add(context.Background(), -1)
	m.log.Info("hearing stopped", "hearing_id", hearingID)
}
