package call

import (
	"context"
	"errors"
)

type EventType string

const (
	EventCallStart   EventType = "call-start"
	EventCallEnd     EventType = "call-end"
	EventMessage     EventType = "message"
	EventSpeechStart EventType = "speech-start"
	EventSpeechEnd   EventType = "speech-end"
	EventError       EventType = "error"
)

type TranscriptType string

const (
	TranscriptPartial TranscriptType = "partial"
	TranscriptFinal   TranscriptType = "final"
)

// Event is the single tagged variant delivered for everything the call
// vendor reports during a live session. Message events carry Role,
// Transcript and TranscriptType; error events carry Code, Detail and
// Retryable; the remaining kinds are bare markers.
type Event struct {
	Type           EventType
	Role           string
	Transcript     string
	TranscriptType TranscriptType
	Code           string
	Detail         string
	Retryable      bool
	Timestamp      int64
}

// AssistantConfig is the inline interviewer configuration used when no
// preconfigured workflow drives the call.
type AssistantConfig struct {
	Name         string
	Prompt       string
	VoiceID      string
	ModelID      string
	FirstMessage string
}

// StartRequest selects one of the two supported start shapes: a workflow
// identifier, or a full inline assistant. Exactly one must be set.
type StartRequest struct {
	SessionID  string
	WorkflowID string
	Assistant  *AssistantConfig
	Variables  map[string]string
}

var (
	ErrNoStartShape   = errors.New("start request needs a workflow id or an assistant config")
	ErrBothStartShape = errors.New("start request cannot carry both a workflow id and an assistant config")
)

// Validate checks the one-of constraint on the start shapes.
func (r StartRequest) Validate() error {
	hasWorkflow := r.WorkflowID != ""
	hasAssistant := r.Assistant != nil
	if !hasWorkflow && !hasAssistant {
		return ErrNoStartShape
	}
	if hasWorkflow && hasAssistant {
		return ErrBothStartShape
	}
	return nil
}

// Session is one live vendor call. Stop requests termination; Close tears
// down the transport and closes the event channel.
type Session interface {
	Stop(ctx context.Context) error
	Close() error
}

// Client starts vendor call sessions. Implementations deliver all session
// activity on the returned event channel and close it when the session is
// over.
type Client interface {
	Start(ctx context.Context, req StartRequest) (Session, <-chan Event, error)
}
