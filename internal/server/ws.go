package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/escriba-ai/escriba/internal/consolidate"
	"github.com/escriba-ai/escriba/internal/store"
	"github.com/escriba-ai/escriba/pkg/asr"
)

const wsWriteTimeout = 5 * time.Second

// Inbound message types.
const (
	msgAudioChunk = "audio_chunk"
	msgStop       = "stop"
)

// clientMessage is a frame sent by the recording client.
type clientMessage struct {
	Type string `json:"type"`

	// Data carries base64-encoded PCM audio for audio_chunk frames.
	Data string `json:"data,omitempty"`
}

type statusMessage struct {
	Type      string `json:"type"`
	HearingID string `json:"hearing_id"`
	Message   string `json:"message"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type provisionalMessage struct {
	Type      string `json:"type"`
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
}

type segmentMessage struct {
	Type    string        `json:"type"`
	Segment store.Segment `json:"segment"`
}

type eventMessage struct {
	Type      string  `json:"type"`
	Event     string  `json:"event"`
	Timestamp float64 `json:"timestamp"`
}

// wsSink pushes session output frames to a websocket client. The hearing
// loop, the manager, and the read loop may all emit concurrently, so every
// write goes through one mutex.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

func (s *wsSink) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("websocket frame encoding failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		// The client is gone or stalled; the read loop will notice and
		// tear the hearing down.
		s.log.Debug("websocket write failed", "error", err)
	}
}

func (s *wsSink) SendProvisional(p consolidate.Provisional) {
	s.send(provisionalMessage{Type: "provisional", SpeakerID: p.SpeakerID, Text: p.Text})
}

func (s *wsSink) SendFinal(seg store.Segment) {
	s.send(segmentMessage{Type: "segment", Segment: seg})
}

func (s *wsSink) SendEvent(ev asr.Event) {
	s.send(eventMessage{Type: "event", Event: string(ev.Type), Timestamp: ev.Timestamp})
}

// handleHearingSocket serves GET /ws/hearings/{hearingID}. The client streams
// base64 PCM frames in and receives provisional, segment, and event frames
// out. A stop frame (or dropping the connection) ends the hearing; pending
// speech is flushed and delivered before the close handshake.
func (s *Server) handleHearingSocket(w http.ResponseWriter, r *http.Request) {
	hearingID := r.PathValue("hearingID")
	log := s.log.With("hearing_id", hearingID)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "hearing handler exited")

	sink := &wsSink{conn: conn, log: log}

	sess, err := s.manager.Start(r.Context(), hearingID, sink)
	if err != nil {
		sink.send(errorMessage{Type: "error", Message: err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "hearing not started")
		return
	}
	stopped := false
	defer func() {
		if !stopped {
			if err := s.manager.Stop(hearingID); err != nil {
				log.Warn("hearing stop failed", "error", err)
			}
		}
	}()

	sink.send(statusMessage{Type: "status", HearingID: hearingID, Message: "listening"})

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			// Client disconnected; the deferred Stop flushes pending speech.
			log.Info("websocket closed", "error", err)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sink.send(errorMessage{Type: "error", Message: "malformed frame"})
			continue
		}

		switch msg.Type {
		case msgAudioChunk:
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				sink.send(errorMessage{Type: "error", Message: "audio data is not valid base64"})
				continue
			}
			if err := sess.SendAudio(pcm); err != nil {
				log.Warn("audio forwarding failed", "error", err)
			}

		case msgStop:
			// Stop blocks until the hearing loop has flushed, so the final
			// segment frames are already on the wire before the ack.
			if err := s.manager.Stop(hearingID); err != nil {
				log.Warn("hearing stop failed", "error", err)
			}
			stopped = true
			sink.send(statusMessage{Type: "status", HearingID: hearingID, Message: "stopped"})
			conn.Close(websocket.StatusNormalClosure, "hearing stopped")
			return

		default:
			sink.send(errorMessage{Type: "error", Message: "unknown message type: " + msg.Type})
		}
	}
}
