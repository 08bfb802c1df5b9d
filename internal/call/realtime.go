package call

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/prepvoice/internal/reliability"
)

type RealtimeConfig struct {
	APIKey    string
	WSBaseURL string
}

// RealtimeClient drives interview calls over the vendor realtime websocket.
type RealtimeClient struct {
	cfg RealtimeConfig
}

func NewRealtimeClient(cfg RealtimeConfig) *RealtimeClient {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://realtime.vapi.ai"
	}
	return &RealtimeClient{cfg: cfg}
}

func (c *RealtimeClient) Start(ctx context.Context, req StartRequest) (Session, <-chan Event, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	u, err := url.Parse(strings.TrimRight(c.cfg.WSBaseURL, "/") + "/v1/call/web")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	if req.SessionID != "" {
		q.Set("session_id", req.SessionID)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial call websocket: %w", err)
	}

	start := map[string]any{
		"message_type":    "start",
		"variable_values": req.Variables,
	}
	if req.WorkflowID != "" {
		start["workflow_id"] = req.WorkflowID
	} else {
		start["assistant"] = map[string]any{
			"name":          req.Assistant.Name,
			"prompt":        req.Assistant.Prompt,
			"voice_id":      req.Assistant.VoiceID,
			"model_id":      req.Assistant.ModelID,
			"first_message": req.Assistant.FirstMessage,
		}
	}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("send start frame: %w", err)
	}

	events := make(chan Event, 256)
	s := &realtimeSession{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

type realtimeSession struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	connOnce sync.Once
	events   chan Event
}

func (s *realtimeSession) Stop(_ context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(map[string]any{"message_type": "stop"})
}

// readLoop is the only sender on events and the only place that closes it,
// so a concurrent Close can never race a send against the channel close.
func (s *realtimeSession) readLoop() {
	defer close(s.events)
	defer s.closeConn()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "call_started":
			s.events <- Event{Type: EventCallStart, Timestamp: time.Now().UnixMilli()}
		case "call_ended":
			s.events <- Event{Type: EventCallEnd, Timestamp: time.Now().UnixMilli()}
			return
		case "transcript":
			s.events <- Event{
				Type:           EventMessage,
				Role:           asString(raw["role"]),
				Transcript:     asString(raw["transcript"]),
				TranscriptType: TranscriptType(asString(raw["transcript_type"])),
				Timestamp:      time.Now().UnixMilli(),
			}
		case "speech_started":
			s.events <- Event{Type: EventSpeechStart, Timestamp: time.Now().UnixMilli()}
		case "speech_stopped":
			s.events <- Event{Type: EventSpeechEnd, Timestamp: time.Now().UnixMilli()}
		case "", "start", "pong":
			// ignore control echoes
		default:
			s.events <- Event{
				Type:      EventError,
				Code:      messageType,
				Detail:    asString(raw["error"]),
				Retryable: reliability.IsRetryableRealtimeMessageType(messageType),
				Timestamp: time.Now().UnixMilli(),
			}
		}
	}
}

// Close tears down the transport. readLoop notices the dead connection and
// closes the event channel itself.
func (s *realtimeSession) Close() error {
	var retErr error
	s.connOnce.Do(func() {
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *realtimeSession) closeConn() {
	s.connOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
