package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":    {"deepgram"},
	"oracle": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills empty fields with the standard values.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.ASR.Model == "" {
		cfg.ASR.Model = DefaultASRModel
	}
	if cfg.ASR.Language == "" {
		cfg.ASR.Language = DefaultLanguage
	}
	if cfg.ASR.SampleRate == 0 {
		cfg.ASR.SampleRate = DefaultSampleRate
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// ASR
	if cfg.ASR.Provider == "" {
		errs = append(errs, errors.New("asr.provider is required"))
	} else {
		validateProviderName("asr", cfg.ASR.Provider)
		if cfg.ASR.APIKey == "" {
			errs = append(errs, fmt.Errorf("asr.api_key is required for provider %q", cfg.ASR.Provider))
		}
	}
	if cfg.ASR.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("asr.sample_rate %d must be positive", cfg.ASR.SampleRate))
	} else if cfg.ASR.SampleRate != 0 && cfg.ASR.SampleRate != DefaultSampleRate {
		slog.Warn("non-standard sample rate; clients must stream matching PCM",
			"sample_rate", cfg.ASR.SampleRate,
		)
	}

	// Oracle
	if cfg.Oracle.Provider == "" {
		slog.Warn("oracle is not configured; utterance completion and enhancement run on local heuristics only")
		if cfg.Oracle.Fallback != nil {
			errs = append(errs, errors.New("oracle.fallback requires a primary oracle provider"))
		}
	} else {
		validateProviderName("oracle", cfg.Oracle.Provider)
		if cfg.Oracle.Model == "" {
			errs = append(errs, fmt.Errorf("oracle.model is required for provider %q", cfg.Oracle.Provider))
		}
		if cfg.Oracle.Fallback != nil {
			validateProviderName("oracle", cfg.Oracle.Fallback.Provider)
			if cfg.Oracle.Fallback.Provider == "" || cfg.Oracle.Fallback.Model == "" {
				errs = append(errs, errors.New("oracle.fallback requires both provider and model"))
			}
		}
	}
	if cfg.Oracle.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("oracle.timeout_seconds %d must not be negative", cfg.Oracle.TimeoutSeconds))
	}

	// Dictionary / storage availability warnings
	if cfg.Dictionary.TermsPath == "" {
		slog.Warn("dictionary.terms_path is empty; lexical correction and keyterm boosting are disabled")
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; finalized segments will not be persisted")
	}

	// Consolidation
	c := cfg.Consolidation
	for _, field := range []struct {
		name  string
		value int
	}{
		{"consolidation.max_buffer_words", c.MaxBufferWords},
		{"consolidation.oracle_min_words", c.OracleMinWords},
		{"consolidation.oracle_word_delta", c.OracleWordDelta},
		{"consolidation.context_window", c.ContextWindow},
	} {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", field.name, field.value))
		}
	}
	if c.MaxBufferWords > 0 && c.OracleMinWords >= c.MaxBufferWords {
		errs = append(errs, fmt.Errorf("consolidation.oracle_min_words %d must be below max_buffer_words %d", c.OracleMinWords, c.MaxBufferWords))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
