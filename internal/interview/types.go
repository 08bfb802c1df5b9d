package interview

import (
	"context"
	"strings"
	"time"
)

// Mode selects how a session is started: generate mode drives a server-side
// preconfigured workflow, normal mode runs the inline interviewer assistant.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeNormal   Mode = "normal"
)

type CallStatus string

const (
	StatusInactive   CallStatus = "inactive"
	StatusConnecting CallStatus = "connecting"
	StatusActive     CallStatus = "active"
	StatusFinished   CallStatus = "finished"
)

// Message is one finalized transcript turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the immutable inputs of one interview session.
type Params struct {
	UserName    string   `json:"user_name"`
	UserID      string   `json:"user_id"`
	InterviewID string   `json:"interview_id,omitempty"`
	FeedbackID  string   `json:"feedback_id,omitempty"`
	Mode        Mode     `json:"mode"`
	Questions   []string `json:"questions,omitempty"`
}

// FormatQuestions renders the question list as the dash-prefixed block bound
// into the interviewer prompt. An empty list renders as the empty string.
func FormatQuestions(questions []string) string {
	if len(questions) == 0 {
		return ""
	}
	var b strings.Builder
	for i, q := range questions {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(q)
	}
	return b.String()
}

// FeedbackRequest is handed to the feedback backend once a normal-mode call
// finishes. FeedbackID carries the prior id for upsert semantics.
type FeedbackRequest struct {
	InterviewID string    `json:"interview_id"`
	UserID      string    `json:"user_id"`
	Transcript  []Message `json:"transcript"`
	FeedbackID  string    `json:"feedback_id,omitempty"`
}

type FeedbackResult struct {
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedback_id,omitempty"`
}

// CreateRequest defines the payload for creating a new interview session.
type CreateRequest struct {
	UserName    string   `json:"user_name"`
	UserID      string   `json:"user_id"`
	InterviewID string   `json:"interview_id"`
	FeedbackID  string   `json:"feedback_id"`
	Mode        Mode     `json:"mode"`
	Questions   []string `json:"questions"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string     `json:"session_id"`
	Status          CallStatus `json:"status"`
	Mode            Mode       `json:"mode"`
	CreatedAt       time.Time  `json:"created_at"`
	InactivityTTLMS int64      `json:"inactivity_ttl_ms"`
}

// FeedbackCreator produces interview feedback from a finished transcript.
type FeedbackCreator interface {
	Create(ctx context.Context, req FeedbackRequest) (FeedbackResult, error)
}
