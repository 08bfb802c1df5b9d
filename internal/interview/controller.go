package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/prepvoice/internal/call"
	"github.com/antoniostano/prepvoice/internal/observability"
	"github.com/antoniostano/prepvoice/internal/policy"
	"github.com/antoniostano/prepvoice/internal/transcript"
)

// Config carries the externally-provided interview setup shared by all
// controllers.
type Config struct {
	// WorkflowID is the preconfigured interview script used by generate mode.
	WorkflowID string
	// Interviewer is the inline assistant used by normal mode.
	Interviewer *call.AssistantConfig
	// LandingRoute is where completion redirects when no feedback route applies.
	LandingRoute string
}

var (
	ErrSessionLive              = errors.New("a call is already live for this session")
	ErrSessionClosed            = errors.New("session is closed")
	ErrWorkflowNotConfigured    = errors.New("generate mode requires a configured workflow id")
	ErrInterviewerNotConfigured = errors.New("normal mode requires an interviewer configuration")
)

type UpdateKind string

const (
	UpdateStatus   UpdateKind = "status"
	UpdateMessage  UpdateKind = "message"
	UpdateSpeaking UpdateKind = "speaking"
	UpdateRedirect UpdateKind = "redirect"
	UpdateError    UpdateKind = "error"
)

// Update is pushed to the session's subscriber whenever observable state
// changes. Only the fields relevant to Kind are set.
type Update struct {
	Kind     UpdateKind
	Status   CallStatus
	Message  Message
	Speaking bool
	Route    string
	Code     string
	Detail   string
}

// Outcome is the navigation decision produced once per finished call.
type Outcome struct {
	Route string
}

const (
	transcriptSaveTimeout = 2 * time.Second
	feedbackCreateTimeout = 45 * time.Second
	updateQueueSize       = 256
)

// Controller translates user intent and vendor call events into call-status
// transitions, transcript accumulation and the one-shot completion decision.
// All event reduction happens on the single run goroutine; user-facing
// methods synchronize through the mutex.
type Controller struct {
	id      string
	client  call.Client
	creator FeedbackCreator
	store   transcript.Store
	metrics *observability.Metrics
	cfg     Config
	params  Params

	mu            sync.Mutex
	starting      bool
	status        CallStatus
	messages      []Message
	speaking      bool
	session       call.Session
	loopDone      chan struct{}
	connectAt     time.Time
	startedAt     time.Time
	completed     bool
	closed        bool
	updatesClosed bool
	outcome       *Outcome
	updates       chan Update
}

func NewController(
	id string,
	client call.Client,
	creator FeedbackCreator,
	store transcript.Store,
	metrics *observability.Metrics,
	cfg Config,
	params Params,
) *Controller {
	if strings.TrimSpace(cfg.LandingRoute) == "" {
		cfg.LandingRoute = "/"
	}
	return &Controller{
		id:      id,
		client:  client,
		creator: creator,
		store:   store,
		metrics: metrics,
		cfg:     cfg,
		params:  params,
		status:  StatusInactive,
		updates: make(chan Update, updateQueueSize),
	}
}

func (c *Controller) ID() string     { return c.id }
func (c *Controller) Params() Params { return c.params }

// Updates exposes the subscriber stream. The channel is closed by Close.
func (c *Controller) Updates() <-chan Update { return c.updates }

func (c *Controller) Status() CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Transcript returns a copy of the accumulated final messages in arrival order.
func (c *Controller) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Outcome reports the completion decision, once one exists.
func (c *Controller) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return Outcome{}, false
	}
	return *c.outcome, true
}

// Start connects a new vendor call. The mode branch is resolved before any
// vendor contact: a missing workflow id or interviewer config fails
// synchronously and leaves the status inactive.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	switch c.status {
	case StatusConnecting, StatusActive:
		c.mu.Unlock()
		return ErrSessionLive
	}
	if c.starting {
		c.mu.Unlock()
		return ErrSessionLive
	}
	c.starting = true
	prevSession := c.session
	prevDone := c.loopDone
	c.session = nil
	c.loopDone = nil
	c.mu.Unlock()

	// Fully drain the previous call before touching any state. Events still
	// buffered from the old session must reduce against the old call, not
	// re-claim a completion the new call has reset.
	if prevSession != nil {
		_ = prevSession.Close()
	}
	if prevDone != nil {
		<-prevDone
	}

	c.mu.Lock()
	if c.closed {
		c.starting = false
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.completed = false
	c.outcome = nil
	c.setStatusLocked(StatusConnecting)
	req, err := c.startRequestLocked()
	if err != nil {
		c.setStatusLocked(StatusInactive)
		c.starting = false
		c.mu.Unlock()
		return err
	}
	c.connectAt = time.Now()
	c.mu.Unlock()

	sess, events, err := c.client.Start(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.setStatusLocked(StatusInactive)
		c.starting = false
		c.mu.Unlock()
		// The caller surfaces this to the browser; no error update here.
		return fmt.Errorf("start call: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.starting = false
		c.mu.Unlock()
		_ = sess.Close()
		return ErrSessionClosed
	}
	c.session = sess
	done := make(chan struct{})
	c.loopDone = done
	c.starting = false
	c.mu.Unlock()

	go c.run(events, done)
	return nil
}

func (c *Controller) startRequestLocked() (call.StartRequest, error) {
	vars := map[string]string{
		"username": c.params.UserName,
		"userid":   c.params.UserID,
	}
	if c.params.Mode == ModeGenerate {
		if strings.TrimSpace(c.cfg.WorkflowID) == "" {
			return call.StartRequest{}, ErrWorkflowNotConfigured
		}
		return call.StartRequest{
			SessionID:  c.id,
			WorkflowID: c.cfg.WorkflowID,
			Variables:  vars,
		}, nil
	}
	if c.cfg.Interviewer == nil || strings.TrimSpace(c.cfg.Interviewer.Prompt) == "" {
		return call.StartRequest{}, ErrInterviewerNotConfigured
	}
	vars["questions"] = FormatQuestions(c.params.Questions)
	assistant := *c.cfg.Interviewer
	return call.StartRequest{
		SessionID: c.id,
		Assistant: &assistant,
		Variables: vars,
	}, nil
}

// Stop requests vendor termination and optimistically marks the call
// finished without waiting for the trailing call-end event. The late
// call-end then reduces to a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.status == StatusInactive || c.status == StatusFinished {
		c.mu.Unlock()
		return nil
	}
	sess := c.session
	c.finishLocked()
	need, snapshot := c.completionLocked()
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Stop(ctx)
	}
	if need {
		c.finalize(snapshot)
	}
	return nil
}

// Close tears the session down: no event arriving after Close mutates state.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.session
	done := c.loopDone
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	if !c.updatesClosed {
		c.updatesClosed = true
		close(c.updates)
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) run(events <-chan call.Event, done chan struct{}) {
	defer close(done)
	for evt := range events {
		if need, snapshot := c.reduce(evt); need {
			c.finalize(snapshot)
		}
	}
}

// reduce applies one vendor event to the state machine. It returns whether
// the completion handler must run, with a transcript snapshot taken under
// the lock.
func (c *Controller) reduce(evt call.Event) (bool, []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, nil
	}
	if c.metrics != nil {
		c.metrics.CallEvents.WithLabelValues(string(evt.Type)).Inc()
	}

	switch evt.Type {
	case call.EventCallStart:
		if c.status != StatusConnecting {
			return false, nil
		}
		c.startedAt = time.Now()
		if c.metrics != nil && !c.connectAt.IsZero() {
			c.metrics.ObserveCallStage(observability.StageStartToCallStart, time.Since(c.connectAt))
		}
		c.setStatusLocked(StatusActive)

	case call.EventCallEnd:
		if c.status != StatusConnecting && c.status != StatusActive {
			return false, nil
		}
		c.finishLocked()
		return c.completionLocked()

	case call.EventMessage:
		if evt.TranscriptType != call.TranscriptFinal {
			return false, nil
		}
		msg := Message{Role: evt.Role, Content: evt.Transcript}
		c.messages = append(c.messages, msg)
		if c.metrics != nil {
			c.metrics.TranscriptMessages.Inc()
		}
		c.publishLocked(Update{Kind: UpdateMessage, Message: msg})

	case call.EventSpeechStart:
		c.speaking = true
		c.publishLocked(Update{Kind: UpdateSpeaking, Speaking: true})

	case call.EventSpeechEnd:
		c.speaking = false
		c.publishLocked(Update{Kind: UpdateSpeaking, Speaking: false})

	case call.EventError:
		// Runtime vendor errors do not change call state.
		log.Printf("session %s: call error code=%q detail=%q retryable=%v", c.id, evt.Code, evt.Detail, evt.Retryable)
		c.publishLocked(Update{Kind: UpdateError, Code: evt.Code, Detail: evt.Detail})
	}
	return false, nil
}

func (c *Controller) finishLocked() {
	c.setStatusLocked(StatusFinished)
	c.speaking = false
	if c.metrics != nil && !c.startedAt.IsZero() {
		c.metrics.ObserveCallDuration(time.Since(c.startedAt))
	}
}

// completionLocked claims the one-shot completion, returning whether the
// caller won the claim and the transcript snapshot to complete with.
func (c *Controller) completionLocked() (bool, []Message) {
	if c.completed {
		return false, nil
	}
	c.completed = true
	snapshot := make([]Message, len(c.messages))
	copy(snapshot, c.messages)
	return true, snapshot
}

// finalize runs the completion handler: persist the transcript, resolve the
// navigation route, and publish the redirect. Runs off the lock; at most
// once per finished call.
func (c *Controller) finalize(snapshot []Message) {
	finishedAt := time.Now()
	c.persistTranscript(snapshot)

	route := c.cfg.LandingRoute
	if c.params.Mode == ModeNormal && c.params.InterviewID != "" && c.params.UserID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), feedbackCreateTimeout)
		res, err := c.creator.Create(ctx, FeedbackRequest{
			InterviewID: c.params.InterviewID,
			UserID:      c.params.UserID,
			Transcript:  snapshot,
			FeedbackID:  c.params.FeedbackID,
		})
		cancel()
		switch {
		case err != nil:
			log.Printf("session %s: feedback creation failed: %v", c.id, err)
			c.countFeedback("error")
		case res.Success && res.FeedbackID != "":
			route = "/interview/" + c.params.InterviewID + "/feedback"
			c.countFeedback("success")
		default:
			c.countFeedback("rejected")
		}
	}

	c.mu.Lock()
	c.outcome = &Outcome{Route: route}
	c.publishLocked(Update{Kind: UpdateRedirect, Route: route})
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveCallStage(observability.StageFinishToRedirect, time.Since(finishedAt))
	}
}

func (c *Controller) persistTranscript(snapshot []Message) {
	if c.store == nil || c.params.InterviewID == "" || len(snapshot) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
	defer cancel()
	for _, m := range snapshot {
		content := m.Content
		redacted := false
		if m.Role == "user" {
			content, redacted = policy.RedactPII(content)
		}
		rec := transcript.Record{
			InterviewID: c.params.InterviewID,
			SessionID:   c.id,
			Role:        m.Role,
			Content:     content,
			PIIRedacted: redacted,
		}
		if err := c.store.SaveTurn(ctx, rec); err != nil {
			log.Printf("session %s: transcript save failed: %v", c.id, err)
			return
		}
	}
}

func (c *Controller) countFeedback(outcome string) {
	if c.metrics != nil {
		c.metrics.FeedbackSubmissions.WithLabelValues(outcome).Inc()
	}
}

func (c *Controller) setStatusLocked(status CallStatus) {
	if c.status == status {
		return
	}
	c.status = status
	c.publishLocked(Update{Kind: UpdateStatus, Status: status})
}

func (c *Controller) publishLocked(u Update) {
	if c.updatesClosed {
		return
	}
	select {
	case c.updates <- u:
	default:
		// Keep the reducer non-blocking; drop if the subscriber is saturated.
	}
}
