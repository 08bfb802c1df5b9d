// Command perfcall drives a full interview call against a running
// prepvoice server and reports timing for every call stage: session
// create, start to active, first transcript, stop to redirect. It is
// meant to be run against the mock provider for repeatable numbers,
// but works against a real provider too.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/prepvoice/internal/protocol"
)

type options struct {
	baseURL      string
	userName     string
	userID       string
	interviewID  string
	mode         string
	questions    []string
	transcripts  int
	callTimeout  time.Duration
	startTimeout time.Duration
	verbose      bool
}

type createSessionRequest struct {
	UserName    string   `json:"user_name,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	InterviewID string   `json:"interview_id,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	Questions   []string `json:"questions,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Route   string `json:"route,omitempty"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type callTimings struct {
	createSession   time.Duration
	startToActive   time.Duration
	firstTranscript time.Duration
	stopToRedirect  time.Duration
	transcripts     int
	route           string
}

var defaultQuestions = []string{
	"Tell me about a production incident you handled end to end.",
	"How would you shard a write heavy Postgres workload?",
	"What does graceful shutdown mean for a websocket server?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfcall: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfcall: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var questionsCSV string

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	flag.StringVar(&cfg.userName, "user-name", "perfcall", "candidate display name")
	flag.StringVar(&cfg.userID, "user-id", "perfcall-user", "candidate user id")
	flag.StringVar(&cfg.interviewID, "interview-id", "", "interview id (normal mode feedback target)")
	flag.StringVar(&cfg.mode, "mode", "normal", "session mode: normal or generate")
	flag.StringVar(&questionsCSV, "questions", "", "semicolon separated interview questions (normal mode)")
	flag.IntVar(&cfg.transcripts, "transcripts", 2, "transcript messages to await before stopping the call")
	flag.DurationVar(&cfg.startTimeout, "start-timeout", 15*time.Second, "timeout waiting for the call to become active")
	flag.DurationVar(&cfg.callTimeout, "call-timeout", 2*time.Minute, "overall call timeout")
	flag.BoolVar(&cfg.verbose, "v", false, "log every websocket message")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("-base-url is required")
	}
	switch cfg.mode {
	case "normal", "generate":
	default:
		return options{}, fmt.Errorf("invalid -mode %q (expected normal or generate)", cfg.mode)
	}
	if cfg.transcripts < 1 {
		return options{}, fmt.Errorf("-transcripts must be >= 1")
	}

	if strings.TrimSpace(questionsCSV) != "" {
		for _, q := range strings.Split(questionsCSV, ";") {
			q = strings.TrimSpace(q)
			if q != "" {
				cfg.questions = append(cfg.questions, q)
			}
		}
	}
	if len(cfg.questions) == 0 && cfg.mode == "normal" {
		cfg.questions = defaultQuestions
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.callTimeout)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	createStart := time.Now()
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	timings := callTimings{createSession: time.Since(createStart)}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("perfcall: session=%s mode=%s questions=%d\n", sessionID, cfg.mode, len(cfg.questions))
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	msgCh := make(chan wsEnvelope, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, msgCh, readErrCh, cfg.verbose)

	startAt := time.Now()
	if err := sendControl(conn, sessionID, "start"); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	if err := awaitActive(msgCh, readErrCh, cfg.startTimeout, startAt, &timings); err != nil {
		return err
	}

	if err := awaitTranscripts(ctx, msgCh, readErrCh, cfg.transcripts, &timings); err != nil {
		return err
	}

	stopAt := time.Now()
	if err := sendControl(conn, sessionID, "stop"); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}
	if err := awaitRedirect(ctx, msgCh, readErrCh, stopAt, &timings); err != nil {
		return err
	}

	report(timings)
	return nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{
		UserName:    cfg.userName,
		UserID:      cfg.userID,
		InterviewID: cfg.interviewID,
		Mode:        cfg.mode,
		Questions:   cfg.questions,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/interview/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/interview/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/interview/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, msgCh chan<- wsEnvelope, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErrCh <- err
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if verbose {
			fmt.Printf("perfcall: recv %s\n", strings.TrimSpace(string(data)))
		}
		msgCh <- env
	}
}

func sendControl(conn *websocket.Conn, sessionID, action string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    action,
	})
}

func awaitActive(msgCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration, startAt time.Time, t *callTimings) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case env := <-msgCh:
			switch env.Type {
			case string(protocol.TypeCallStatus):
				if env.Status == "active" {
					t.startToActive = time.Since(startAt)
					return nil
				}
			case string(protocol.TypeErrorEvent):
				return fmt.Errorf("call start failed: %s (%s)", env.Code, env.Detail)
			}
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		case <-deadline.C:
			return fmt.Errorf("timed out after %s waiting for active call", timeout)
		}
	}
}

func awaitTranscripts(ctx context.Context, msgCh <-chan wsEnvelope, readErrCh <-chan error, want int, t *callTimings) error {
	activeAt := time.Now()
	for t.transcripts < want {
		select {
		case env := <-msgCh:
			if env.Type == string(protocol.TypeTranscriptMessage) {
				if t.transcripts == 0 {
					t.firstTranscript = time.Since(activeAt)
				}
				t.transcripts++
			}
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("timed out with %d/%d transcript messages", t.transcripts, want)
		}
	}
	return nil
}

func awaitRedirect(ctx context.Context, msgCh <-chan wsEnvelope, readErrCh <-chan error, stopAt time.Time, t *callTimings) error {
	for {
		select {
		case env := <-msgCh:
			switch env.Type {
			case string(protocol.TypeTranscriptMessage):
				t.transcripts++
			case string(protocol.TypeRedirect):
				t.stopToRedirect = time.Since(stopAt)
				t.route = env.Route
				return nil
			}
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for redirect")
		}
	}
}

func report(t callTimings) {
	fmt.Printf("create_session     %s\n", t.createSession.Round(time.Millisecond))
	fmt.Printf("start_to_active    %s\n", t.startToActive.Round(time.Millisecond))
	fmt.Printf("first_transcript   %s\n", t.firstTranscript.Round(time.Millisecond))
	fmt.Printf("stop_to_redirect   %s\n", t.stopToRedirect.Round(time.Millisecond))
	fmt.Printf("transcripts        %d\n", t.transcripts)
	fmt.Printf("route              %s\n", t.route)
}
