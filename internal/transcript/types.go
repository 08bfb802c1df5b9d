package transcript

import (
	"context"
	"time"
)

// Record stores one finalized transcript turn of an interview call.
type Record struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interview_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves interview transcripts.
type Store interface {
	SaveTurn(ctx context.Context, record Record) error
	History(ctx context.Context, interviewID string, limit int) ([]Record, error)
	Close() error
}
