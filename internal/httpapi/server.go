package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/prepvoice/internal/config"
	"github.com/antoniostano/prepvoice/internal/interview"
	"github.com/antoniostano/prepvoice/internal/observability"
	"github.com/antoniostano/prepvoice/internal/protocol"
	"github.com/antoniostano/prepvoice/internal/transcript"
)

type Server struct {
	cfg      config.Config
	sessions *interview.Manager
	store    transcript.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *interview.Manager, store transcript.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive a candidate's
				// interview session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/interview/session", s.handleCreateSession)
	r.Post("/v1/interview/session/{id}/end", s.handleEndSession)
	r.Get("/v1/interview/session/ws", s.handleSessionWS)
	r.Get("/v1/interview/{id}/transcript", s.handleTranscript)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req interview.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserName) == "" {
		req.UserName = "candidate"
	}
	switch req.Mode {
	case interview.ModeGenerate, interview.ModeNormal:
	case "":
		req.Mode = interview.ModeNormal
	default:
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be generate or normal")
		return
	}

	sess := s.sessions.Create(interview.Params{
		UserName:    req.UserName,
		UserID:      strings.TrimSpace(req.UserID),
		InterviewID: strings.TrimSpace(req.InterviewID),
		FeedbackID:  strings.TrimSpace(req.FeedbackID),
		Mode:        req.Mode,
		Questions:   req.Questions,
	})
	s.metrics.ActiveCalls.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, interview.CreateResponse{
		SessionID:       sess.ID,
		Status:          interview.StatusInactive,
		Mode:            req.Mode,
		CreatedAt:       sess.CreatedAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveCalls.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_interview_id", "missing interview id")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	records, err := s.store.History(r.Context(), id, 500)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"interview_id": id,
		"turns":        records,
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	ctrl, err := s.sessions.Controller(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-ctrl.Updates():
				if !ok {
					return
				}
				msg := updateMessage(sessionID, upd)
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = s.sessions.Touch(sessionID)
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = conn.WriteJSON(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}
		control, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(control.Type)).Inc()

		switch control.Action {
		case "start":
			if err := ctrl.Start(ctx); err != nil {
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = conn.WriteJSON(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "call_start_failed",
					Detail:    err.Error(),
				})
			} else {
				s.metrics.ActiveCalls.Set(float64(s.sessions.ActiveCount()))
			}
		case "stop":
			_ = ctrl.Stop(ctx)
			s.metrics.ActiveCalls.Set(float64(s.sessions.ActiveCount()))
		}
	}

	cancel()
	<-writerDone

	// The browser going away ends the call, like closing the interview tab.
	_ = ctrl.Stop(context.Background())
	s.metrics.ActiveCalls.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func updateMessage(sessionID string, upd interview.Update) any {
	switch upd.Kind {
	case interview.UpdateStatus:
		return protocol.CallStatus{Type: protocol.TypeCallStatus, SessionID: sessionID, Status: string(upd.Status)}
	case interview.UpdateMessage:
		return protocol.TranscriptMessage{Type: protocol.TypeTranscriptMessage, SessionID: sessionID, Role: upd.Message.Role, Content: upd.Message.Content}
	case interview.UpdateSpeaking:
		return protocol.Speaking{Type: protocol.TypeSpeaking, SessionID: sessionID, Speaking: upd.Speaking}
	case interview.UpdateRedirect:
		return protocol.Redirect{Type: protocol.TypeRedirect, SessionID: sessionID, Route: upd.Route}
	case interview.UpdateError:
		return protocol.ErrorEvent{Type: protocol.TypeErrorEvent, SessionID: sessionID, Code: upd.Code, Detail: upd.Detail}
	default:
		return protocol.ErrorEvent{Type: protocol.TypeErrorEvent, SessionID: sessionID, Code: "unknown_update"}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.CallStatus:
		return m.Type, true
	case protocol.TranscriptMessage:
		return m.Type, true
	case protocol.Speaking:
		return m.Type, true
	case protocol.Redirect:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
