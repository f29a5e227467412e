// Command escriba is the main entry point for the Escriba hearing
// transcription server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/escriba-ai/escriba/internal/config"
	"github.com/escriba-ai/escriba/internal/consolidate"
	"github.com/escriba-ai/escriba/internal/dictionary"
	"github.com/escriba-ai/escriba/internal/finalizer"
	"github.com/escriba-ai/escriba/internal/observe"
	"github.com/escriba-ai/escriba/internal/resilience"
	"github.com/escriba-ai/escriba/internal/server"
	"github.com/escriba-ai/escriba/internal/session"
	"github.com/escriba-ai/escriba/internal/store"
	"github.com/escriba-ai/escriba/internal/store/postgres"
	"github.com/escriba-ai/escriba/pkg/asr"
	"github.com/escriba-ai/escriba/pkg/asr/deepgram"
	"github.com/escriba-ai/escriba/pkg/provider/llm"
	"github.com/escriba-ai/escriba/pkg/provider/llm/anyllm"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "escriba: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "escriba: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("escriba starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "escriba",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Dictionary ────────────────────────────────────────────────────────────
	var dict *dictionary.Dictionary
	if cfg.Dictionary.TermsPath != "" {
		dict, err = dictionary.Load(cfg.Dictionary.TermsPath)
		if err != nil {
			slog.Error("failed to load dictionary", "err", err)
			return 1
		}
		slog.Info("dictionary loaded", "path", cfg.Dictionary.TermsPath, "terms", dict.Len())
	}

	// ── ASR provider ──────────────────────────────────────────────────────────
	recognizer, err := buildRecognizer(cfg)
	if err != nil {
		slog.Error("failed to create ASR provider", "err", err)
		return 1
	}

	// ── Semantic oracle ───────────────────────────────────────────────────────
	oracleLLM, err := buildOracle(cfg)
	if err != nil {
		slog.Error("failed to create oracle provider", "err", err)
		return 1
	}

	finalizerOpts := []finalizer.Option{finalizer.WithLogger(logger)}
	if dict != nil {
		finalizerOpts = append(finalizerOpts, finalizer.WithDictionary(dict))
	}
	if cfg.Oracle.TimeoutSeconds > 0 {
		finalizerOpts = append(finalizerOpts, finalizer.WithTimeout(time.Duration(cfg.Oracle.TimeoutSeconds)*time.Second))
	}
	oracle := finalizer.New(oracleLLM, finalizerOpts...)

	// ── Segment store ─────────────────────────────────────────────────────────
	var segStore store.SegmentStore
	if cfg.Storage.PostgresDSN != "" {
		pg, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to segment store", "err", err)
			return 1
		}
		defer pg.Close()
		segStore = pg
		slog.Info("segment store connected")
	}

	// ── Audio archive directory ───────────────────────────────────────────────
	if cfg.Audio.StoragePath != "" {
		if err := os.MkdirAll(cfg.Audio.StoragePath, 0o755); err != nil {
			slog.Error("failed to create audio storage directory", "err", err)
			return 1
		}
	}

	// ── Hearing manager and server ────────────────────────────────────────────
	manager := session.NewManager(session.ManagerConfig{
		Provider:   recognizer,
		Oracle:     oracle,
		Store:      segStore,
		Dictionary: dict,
		AudioDir:   cfg.Audio.StoragePath,
		Language:   cfg.ASR.Language,
		SampleRate: cfg.ASR.SampleRate,
		Consolidation: consolidate.Config{
			MaxBufferWords:  cfg.Consolidation.MaxBufferWords,
			OracleMinWords:  cfg.Consolidation.OracleMinWords,
			OracleWordDelta: cfg.Consolidation.OracleWordDelta,
			WindowSize:      cfg.Consolidation.ContextWindow,
		},
		Logger: logger,
	})

	srv := server.New(server.Config{
		ListenAddr: cfg.Server.ListenAddr,
		Manager:    manager,
		Dictionary: dict,
		Store:      segStore,
		Logger:     logger,
	})

	printStartupSummary(cfg, dict)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	// Closing the manager flushes pending speech on every live hearing and
	// persists the trailing segments before the store is released.
	manager.StopAll()

	slog.Info("goodbye")
	return 0
}

// buildRecognizer creates the configured ASR provider.
func buildRecognizer(cfg *config.Config) (asr.Provider, error) {
	switch cfg.ASR.Provider {
	case "deepgram":
		return deepgram.New(cfg.ASR.APIKey,
			deepgram.WithModel(cfg.ASR.Model),
			deepgram.WithLanguage(cfg.ASR.Language),
			deepgram.WithSampleRate(cfg.ASR.SampleRate),
		)
	default:
		return nil, fmt.Errorf("unsupported asr provider %q", cfg.ASR.Provider)
	}
}

// buildOracle creates the oracle LLM stack: the primary provider plus an
// optional fallback, each behind its own circuit breaker. Returns nil when no
// oracle is configured; the finalizer then runs on local heuristics only.
func buildOracle(cfg *config.Config) (llm.Provider, error) {
	if cfg.Oracle.Provider == "" {
		return nil, nil
	}

	primary, err := newOracleBackend(cfg.Oracle.OracleEntry)
	if err != nil {
		return nil, fmt.Errorf("oracle primary: %w", err)
	}

	group := resilience.NewLLMFallback(primary, cfg.Oracle.Provider, resilience.FallbackConfig{})
	if cfg.Oracle.Fallback != nil {
		fb, err := newOracleBackend(*cfg.Oracle.Fallback)
		if err != nil {
			return nil, fmt.Errorf("oracle fallback: %w", err)
		}
		group.AddFallback(cfg.Oracle.Fallback.Provider, fb)
		slog.Info("oracle fallback configured",
			"primary", cfg.Oracle.Provider,
			"fallback", cfg.Oracle.Fallback.Provider,
		)
	}
	return group, nil
}

// newOracleBackend creates a single any-llm backend from an oracle entry.
func newOracleBackend(entry config.OracleEntry) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Provider, entry.Model, opts...)
}

// printStartupSummary logs the effective configuration at a glance.
func printStartupSummary(cfg *config.Config, dict *dictionary.Dictionary) {
	oracleName := cfg.Oracle.Provider
	if oracleName == "" {
		oracleName = "none (local formatting only)"
	}
	terms := 0
	if dict != nil {
		terms = dict.Len()
	}
	slog.Info("configuration summary",
		"asr", cfg.ASR.Provider,
		"asr_model", cfg.ASR.Model,
		"language", cfg.ASR.Language,
		"sample_rate", cfg.ASR.SampleRate,
		"oracle", oracleName,
		"dictionary_terms", terms,
		"persistence", cfg.Storage.PostgresDSN != "",
		"audio_archive", cfg.Audio.StoragePath != "",
	)
}

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
