// Package finalizer implements the semantic oracle consulted during
// consolidation: a language-model-backed completion judge and segment
// enhancer for Spanish-language hearing transcripts.
//
// Both operations degrade rather than fail. When the model is unreachable or
// returns garbage, ConfirmCompletion falls back to a trailing-connector
// heuristic and Enhance to a local formatter, and the result carries the
// Fallback flag so downstream consumers can tell oracle output from the
// degraded path. The consolidation loop therefore never blocks on an oracle
// outage.
package finalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/escriba-ai/escriba/internal/consolidate"
	"github.com/escriba-ai/escriba/internal/dictionary"
	"github.com/escriba-ai/escriba/internal/observe"
	"github.com/escriba-ai/escriba/pkg/provider/llm"
)

const (
	confirmTemperature = 0.1
	confirmMaxTokens   = 200
	enhanceTemperature = 0.3
	enhanceMaxTokens   = 500

	defaultTimeout = 8 * time.Second

	// heuristicConfidence is reported when the trailing-connector rule
	// substitutes for the oracle's completion verdict.
	heuristicConfidence = 0.6

	// localFormatConfidence is reported when the local formatter substitutes
	// for the oracle's enhancement.
	localFormatConfidence = 0.5

	// enhanceConfidence is reported for successful oracle enhancements.
	enhanceConfidence = 0.95
)

const confirmSystemPrompt = `Eres un asistente de transcripción de audiencias judiciales peruanas.

Tu tarea: determinar si la intervención de un hablante es un pensamiento completo o si el hablante sigue a mitad de frase.

Considera el contexto reciente de la audiencia. Responde SOLO con un objeto JSON en este formato exacto (sin markdown, sin prosa):
{
  "is_complete": <true|false>,
  "should_continue": <true|false>,
  "confidence": <0.0-1.0>,
  "reason": "<justificación breve>"
}

"is_complete" indica si la intervención se lee como un pensamiento terminado.
"should_continue" indica si el hablante parece estar a mitad de frase y conviene esperar más habla.`

const enhanceSystemPrompt = `Eres un asistente de transcripción de audiencias judiciales peruanas.

Tu tarea: mejorar el texto transcrito de una intervención sin alterar su contenido.

Reglas:
- Corrige la puntuación y el uso de mayúsculas.
- NO cambies las palabras del hablante; no agregues ni elimines contenido.
- Conserva la terminología jurídica exactamente como fue dicha.
- Si la intervención es una pregunta, enciérrala entre signos de interrogación (¿...?).
- Responde ÚNICAMENTE con el texto mejorado, sin comillas ni explicaciones.`

// oracleVerdict is the expected JSON structure of a completion check.
type oracleVerdict struct {
	IsComplete     bool    `json:"is_complete"`
	ShouldContinue bool    `json:"should_continue"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
}

// Option is a functional option for configuring a [Service].
type Option func(*Service)

// WithDictionary enables a lexical correction pre-pass: before enhancement
// the raw text is run through the dictionary and high-confidence corrections
// are applied.
func WithDictionary(d *dictionary.Dictionary) Option {
	return func(s *Service) { s.dict = d }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTimeout bounds each oracle call. Default: 8s.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Service implements [consolidate.Finalizer] on top of an [llm.Provider].
// It is safe for concurrent use. A nil provider is allowed and routes every
// call through the local fallback path, which lets a deployment run without
// any LLM configured.
type Service struct {
	llm     llm.Provider
	dict    *dictionary.Dictionary
	log     *slog.Logger
	metrics *observe.Metrics
	timeout time.Duration
}

var _ consolidate.Finalizer = (*Service)(nil)

// New returns a [Service] backed by the given provider. provider may be nil
// to force local-only operation.
func New(provider llm.Provider, opts ...Option) *Service {
	s := &Service{
		llm:     provider,
		log:     slog.Default(),
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ConfirmCompletion asks the oracle whether text is a finished thought,
// falling back to the trailing-connector heuristic when the oracle is
// unreachable or returns an unparseable verdict.
func (s *Service) ConfirmCompletion(ctx context.Context, speakerID, text string, recent []consolidate.Utterance) consolidate.CompletionResult {
	start := time.Now()
	defer func() {
		s.metrics.OracleConfirmDuration.Record(ctx, time.Since(start).Seconds())
	}()

	if s.llm == nil {
		return heuristicConfirm(text)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.llm.Complete(cctx, llm.CompletionRequest{
		SystemPrompt: confirmSystemPrompt,
		Temperature:  confirmTemperature,
		MaxTokens:    confirmMaxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: buildConfirmMessage(speakerID, text, recent)},
		},
	})
	if err != nil || resp == nil {
		s.log.WarnContext(ctx, "completion oracle unavailable, using connector heuristic",
			slog.String("speaker", speakerID),
			slog.Any("error", err),
		)
		s.metrics.RecordOracleError(ctx, "confirm")
		return heuristicConfirm(text)
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		s.log.WarnContext(ctx, "unparseable completion verdict, using connector heuristic",
			slog.String("speaker", speakerID),
			slog.Any("error", err),
		)
		s.metrics.RecordOracleError(ctx, "confirm_parse")
		return heuristicConfirm(text)
	}

	return consolidate.CompletionResult{
		IsComplete:     verdict.IsComplete,
		ShouldContinue: verdict.ShouldContinue,
		Confidence:     verdict.Confidence,
		Reason:         verdict.Reason,
	}
}

// Enhance produces the final formatted form of text. The dictionary pre-pass
// runs regardless of oracle availability, so lexical corrections survive an
// outage; only the punctuation and capitalization work degrades to the local
// formatter.
func (s *Service) Enhance(ctx context.Context, speakerID, text string, recent []consolidate.Utterance) consolidate.EnhanceResult {
	start := time.Now()
	defer func() {
		s.metrics.OracleEnhanceDuration.Record(ctx, time.Since(start).Seconds())
	}()

	corrected := text
	var corrections []dictionary.Correction
	if s.dict != nil {
		dstart := time.Now()
		corrected, corrections = s.dict.Apply(text)
		s.metrics.DictionaryCheckDuration.Record(ctx, time.Since(dstart).Seconds())
		for _, c := range corrections {
			s.metrics.RecordDictionaryCorrection(ctx, c.Category)
		}
	}

	if s.llm == nil {
		return s.localEnhance(ctx, corrected, corrections)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.llm.Complete(cctx, llm.CompletionRequest{
		SystemPrompt: enhanceSystemPrompt,
		Temperature:  enhanceTemperature,
		MaxTokens:    enhanceMaxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: buildEnhanceMessage(speakerID, corrected, recent)},
		},
	})
	if err != nil || resp == nil {
		s.log.WarnContext(ctx, "enhancement oracle unavailable, using local formatter",
			slog.String("speaker", speakerID),
			slog.Any("error", err),
		)
		s.metrics.RecordOracleError(ctx, "enhance")
		return s.localEnhance(ctx, corrected, corrections)
	}

	content := stripMarkdown(resp.Content)
	if content == "" {
		s.metrics.RecordOracleError(ctx, "enhance_empty")
		return s.localEnhance(ctx, corrected, corrections)
	}

	enhanced := Clean(content)
	return consolidate.EnhanceResult{
		Text:        enhanced,
		IsQuestion:  IsQuestion(enhanced),
		Confidence:  enhanceConfidence,
		Corrections: corrections,
	}
}

// localEnhance is the degraded enhancement path.
func (s *Service) localEnhance(ctx context.Context, text string, corrections []dictionary.Correction) consolidate.EnhanceResult {
	s.metrics.EnhanceFallbacks.Add(ctx, 1)
	formatted := localFormat(text)
	return consolidate.EnhanceResult{
		Text:        formatted,
		IsQuestion:  IsQuestion(formatted),
		Confidence:  localFormatConfidence,
		Corrections: corrections,
		Fallback:    true,
	}
}

// heuristicConfirm is the degraded completion check: a trailing connector
// means the speaker is mid-sentence.
func heuristicConfirm(text string) consolidate.CompletionResult {
	trailing := consolidate.EndsWithConnector(text)
	reason := "heurística local: sin conector final"
	if trailing {
		reason = "heurística local: la intervención termina en conector"
	}
	return consolidate.CompletionResult{
		IsComplete:     !trailing,
		ShouldContinue: trailing,
		Confidence:     heuristicConfidence,
		Reason:         reason,
		Fallback:       true,
	}
}

// buildConfirmMessage assembles the user message for a completion check:
// recent context first, then the intervention under judgment.
func buildConfirmMessage(speakerID, text string, recent []consolidate.Utterance) string {
	var sb strings.Builder
	writeContext(&sb, recent)
	fmt.Fprintf(&sb, "Intervención en curso de %s:\n%s", speakerID, text)
	return sb.String()
}

// buildEnhanceMessage assembles the user message for an enhancement request.
func buildEnhanceMessage(speakerID, text string, recent []consolidate.Utterance) string {
	var sb strings.Builder
	writeContext(&sb, recent)
	fmt.Fprintf(&sb, "Intervención de %s a mejorar:\n%s", speakerID, text)
	return sb.String()
}

func writeContext(sb *strings.Builder, recent []consolidate.Utterance) {
	if len(recent) == 0 {
		return
	}
	sb.WriteString("Contexto reciente de la audiencia:\n")
	for _, u := range recent {
		sb.WriteString(u.SpeakerID)
		sb.WriteString(": ")
		sb.WriteString(u.Text)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
}

// parseVerdict unmarshals the oracle's JSON verdict, stripping optional
// markdown fences first. Confidence is clamped to [0, 1].
func parseVerdict(content string) (oracleVerdict, error) {
	var v oracleVerdict
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &v); err != nil {
		return oracleVerdict{}, fmt.Errorf("finalizer: parse verdict: %w", err)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around their output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
