// Package deepgram provides a Deepgram-backed ASR provider using the Deepgram
// streaming WebSocket API. It implements the asr.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/escriba-ai/escriba/pkg/asr"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "es-419"
	defaultSampleRate = 16000

	// Deepgram rejects requests with more than 100 keyterms.
	maxKeyterms = 100

	// Words below this confidence get their competing hypotheses attached.
	lowConfidenceThreshold = 0.85

	// Alternative word hypotheses must start within this many seconds of the
	// primary word to be considered the same slot.
	altStartTolerance = 0.1
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "es-419").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements asr.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Language, and cfg.Keyterms.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:   conn,
		chunks: make(chan asr.Chunk, 64),
		events: make(chan asr.Event, 16),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg asr.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("punctuate", "true")
	q.Set("numerals", "true")
	q.Set("paragraphs", "true")
	q.Set("filler_words", "false")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	q.Set("utterance_end_ms", "3500")
	q.Set("endpointing", "500")

	terms := cfg.Keyterms
	if len(terms) > maxKeyterms {
		terms = terms[:maxKeyterms]
	}
	for _, kt := range terms {
		q.Add("keyterm", kt)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure of a Deepgram WebSocket message.
// Transcription results arrive as type "Results"; VAD notifications as
// "SpeechStarted" and "UtteranceEnd".
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`

	// UtteranceEnd messages carry the end time of the last spoken word.
	LastWordEnd float64 `json:"last_word_end"`
	// SpeechStarted messages carry the onset timestamp.
	Timestamp float64 `json:"timestamp"`

	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
				Speaker    *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements asr.SessionHandle.
type session struct {
	conn   *websocket.Conn
	chunks chan asr.Chunk
	events chan asr.Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Chunks returns the ordered channel of transcription results.
func (s *session) Chunks() <-chan asr.Chunk { return s.chunks }

// Events returns the channel of VAD notifications.
func (s *session) Events() <-chan asr.Event { return s.events }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Tell Deepgram to flush pending audio before disconnecting.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches transcripts
// and VAD events to their channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.chunks)
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		chunk, event, kind := parseMessage(msg)
		switch kind {
		case msgChunk:
			select {
			case s.chunks <- chunk:
			case <-s.done:
			}
		case msgEvent:
			select {
			case s.events <- event:
			case <-s.done:
			}
		}
	}
}

type msgKind int

const (
	msgIgnore msgKind = iota
	msgChunk
	msgEvent
)

// parseMessage parses a raw Deepgram WebSocket message into either a Chunk or
// an Event. Results with an empty transcript are ignored.
func parseMessage(data []byte) (asr.Chunk, asr.Event, msgKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return asr.Chunk{}, asr.Event{}, msgIgnore
	}

	switch resp.Type {
	case "SpeechStarted":
		return asr.Chunk{}, asr.Event{Type: asr.EventSpeechStarted, Timestamp: resp.Timestamp}, msgEvent
	case "UtteranceEnd":
		return asr.Chunk{}, asr.Event{Type: asr.EventUtteranceEnd, Timestamp: resp.LastWordEnd}, msgEvent
	case "Results":
	default:
		return asr.Chunk{}, asr.Event{}, msgIgnore
	}

	if len(resp.Channel.Alternatives) == 0 {
		return asr.Chunk{}, asr.Event{}, msgIgnore
	}

	primary := resp.Channel.Alternatives[0]
	if primary.Transcript == "" {
		return asr.Chunk{}, asr.Event{}, msgIgnore
	}

	chunk := asr.Chunk{
		Text:       primary.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: primary.Confidence,
		Start:      resp.Start,
		End:        resp.Start + resp.Duration,
	}

	for _, w := range primary.Words {
		span := asr.WordSpan{
			Text:       w.Word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		}
		if w.Confidence < lowConfidenceThreshold {
			span.Alternatives = collectAlternatives(&resp, w.Start, w.Word)
		}
		chunk.Words = append(chunk.Words, span)
	}

	// Diarization tags every word; the speaker of the first word labels the
	// whole chunk. Mixed-speaker results are split upstream by Deepgram's
	// endpointing before they would matter here.
	if len(primary.Words) > 0 && primary.Words[0].Speaker != nil {
		chunk.SpeakerID = fmt.Sprintf("SPEAKER_%02d", *primary.Words[0].Speaker)
	}

	return chunk, asr.Event{}, msgChunk
}

// collectAlternatives gathers competing word hypotheses from the non-primary
// alternatives whose start time lines up with the primary word.
func collectAlternatives(resp *deepgramResponse, start float64, primaryWord string) []asr.Alternative {
	var alts []asr.Alternative
	limit := len(resp.Channel.Alternatives)
	if limit > 4 {
		limit = 4
	}
	for _, alt := range resp.Channel.Alternatives[1:limit] {
		for _, w := range alt.Words {
			if w.Start < start-altStartTolerance || w.Start > start+altStartTolerance {
				continue
			}
			if w.Word == primaryWord {
				continue
			}
			alts = append(alts, asr.Alternative{Text: w.Word, Confidence: w.Confidence})
			break
		}
	}
	return alts
}
