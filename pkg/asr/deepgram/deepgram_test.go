package deepgram

import (
	"net/url"
	"testing"

	"github.com/escriba-ai/escriba/pkg/asr"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(asr.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "es-419", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "diarize", "true", q.Get("diarize"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "vad_events", "true", q.Get("vad_events"))
	assertEqual(t, "utterance_end_ms", "3500", q.Get("utterance_end_ms"))
	assertEqual(t, "endpointing", "500", q.Get("endpointing"))
	assertEqual(t, "filler_words", "false", q.Get("filler_words"))
}

func TestBuildURL_ConfigOverridesDefaults(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("es"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(asr.StreamConfig{Language: "es-PE", SampleRate: 8000, Channels: 2})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "es-PE", q.Get("language"))
	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
	assertEqual(t, "channels", "2", q.Get("channels"))
}

func TestBuildURL_Keyterms(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := asr.StreamConfig{
		Keyterms: []string{"sobreseimiento", "flagrancia"},
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	terms := u.Query()["keyterm"]
	if len(terms) != 2 {
		t.Fatalf("expected 2 keyterms, got %d: %v", len(terms), terms)
	}

	found := map[string]bool{}
	for _, kt := range terms {
		found[kt] = true
	}
	if !found["sobreseimiento"] || !found["flagrancia"] {
		t.Errorf("missing expected keyterms, got %v", terms)
	}
}

func TestBuildURL_KeytermCap(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	terms := make([]string, 150)
	for i := range terms {
		terms[i] = "term"
	}

	rawURL, err := p.buildURL(asr.StreamConfig{Keyterms: terms})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	if got := len(u.Query()["keyterm"]); got != maxKeyterms {
		t.Errorf("expected keyterms capped at %d, got %d", maxKeyterms, got)
	}
}

// ---- JSON parsing tests ----

func TestParseMessage_FinalWithSpeaker(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 2.0,
		"duration": 1.5,
		"channel": {
			"alternatives": [{
				"transcript": "solicito el sobreseimiento",
				"confidence": 0.95,
				"words": [
					{"word": "solicito", "start": 2.0, "end": 2.4, "confidence": 0.97, "speaker": 1},
					{"word": "el", "start": 2.5, "end": 2.6, "confidence": 0.99, "speaker": 1},
					{"word": "sobreseimiento", "start": 2.7, "end": 3.5, "confidence": 0.91, "speaker": 1}
				]
			}]
		}
	}`)

	chunk, _, kind := parseMessage(raw)
	if kind != msgChunk {
		t.Fatal("expected a chunk for valid Results message")
	}

	if !chunk.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "solicito el sobreseimiento", chunk.Text)
	assertEqual(t, "speaker", "SPEAKER_01", chunk.SpeakerID)
	if chunk.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", chunk.Confidence)
	}
	if chunk.Start != 2.0 || chunk.End != 3.5 {
		t.Errorf("unexpected bounds: start=%f end=%f", chunk.Start, chunk.End)
	}
	if len(chunk.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(chunk.Words))
	}
	assertEqual(t, "word[0]", "solicito", chunk.Words[0].Text)
}

func TestParseMessage_Interim(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {
			"alternatives": [{
				"transcript": "solicito",
				"confidence": 0.7,
				"words": []
			}]
		}
	}`)

	chunk, _, kind := parseMessage(raw)
	if kind != msgChunk {
		t.Fatal("expected a chunk")
	}
	if chunk.IsFinal {
		t.Error("expected IsFinal=false for interim result")
	}
	if chunk.SpeakerID != "" {
		t.Errorf("expected empty speaker without words, got %q", chunk.SpeakerID)
	}
}

func TestParseMessage_LowConfidenceAlternatives(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [
				{
					"transcript": "sobresemiento",
					"confidence": 0.6,
					"words": [{"word": "sobresemiento", "start": 1.0, "end": 1.8, "confidence": 0.6, "speaker": 0}]
				},
				{
					"transcript": "sobreseimiento",
					"confidence": 0.4,
					"words": [{"word": "sobreseimiento", "start": 1.02, "end": 1.8, "confidence": 0.4}]
				},
				{
					"transcript": "lejos",
					"confidence": 0.2,
					"words": [{"word": "lejos", "start": 5.0, "end": 5.5, "confidence": 0.2}]
				}
			]
		}
	}`)

	chunk, _, kind := parseMessage(raw)
	if kind != msgChunk {
		t.Fatal("expected a chunk")
	}
	if len(chunk.Words) != 1 {
		t.Fatalf("expected 1 word, got %d", len(chunk.Words))
	}

	alts := chunk.Words[0].Alternatives
	if len(alts) != 1 {
		t.Fatalf("expected 1 alternative (time-aligned only), got %d: %v", len(alts), alts)
	}
	assertEqual(t, "alternative", "sobreseimiento", alts[0].Text)
}

func TestParseMessage_HighConfidenceSkipsAlternatives(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [
				{
					"transcript": "juez",
					"confidence": 0.99,
					"words": [{"word": "juez", "start": 1.0, "end": 1.3, "confidence": 0.99}]
				},
				{
					"transcript": "juz",
					"confidence": 0.3,
					"words": [{"word": "juz", "start": 1.0, "end": 1.3, "confidence": 0.3}]
				}
			]
		}
	}`)

	chunk, _, kind := parseMessage(raw)
	if kind != msgChunk {
		t.Fatal("expected a chunk")
	}
	if len(chunk.Words[0].Alternatives) != 0 {
		t.Errorf("expected no alternatives above threshold, got %v", chunk.Words[0].Alternatives)
	}
}

func TestParseMessage_UtteranceEnd(t *testing.T) {
	raw := []byte(`{"type":"UtteranceEnd","last_word_end":12.4}`)

	_, event, kind := parseMessage(raw)
	if kind != msgEvent {
		t.Fatal("expected an event")
	}
	if event.Type != asr.EventUtteranceEnd {
		t.Errorf("expected utterance_end, got %q", event.Type)
	}
	if event.Timestamp != 12.4 {
		t.Errorf("expected timestamp 12.4, got %f", event.Timestamp)
	}
}

func TestParseMessage_SpeechStarted(t *testing.T) {
	raw := []byte(`{"type":"SpeechStarted","timestamp":3.1}`)

	_, event, kind := parseMessage(raw)
	if kind != msgEvent {
		t.Fatal("expected an event")
	}
	if event.Type != asr.EventSpeechStarted {
		t.Errorf("expected speech_started, got %q", event.Type)
	}
}

func TestParseMessage_Ignored(t *testing.T) {
	cases := map[string][]byte{
		"metadata":           []byte(`{"type":"Metadata","request_id":"abc"}`),
		"empty alternatives": []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`),
		"empty transcript":   []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`),
		"invalid JSON":       []byte(`{invalid`),
	}
	for name, raw := range cases {
		if _, _, kind := parseMessage(raw); kind != msgIgnore {
			t.Errorf("%s: expected message to be ignored", name)
		}
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
