package call

import (
	"context"
	"testing"
	"time"
)

func collectUntil(t *testing.T, events <-chan Event, stop func(Event) bool) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, evt)
			if stop(evt) {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out collecting events, got %d so far", len(out))
		}
	}
}

func TestMockClientPlaysQuestions(t *testing.T) {
	c := &MockClient{TurnInterval: 5 * time.Millisecond}
	sess, events, err := c.Start(context.Background(), StartRequest{
		SessionID: "s-1",
		Assistant: &AssistantConfig{Prompt: "p"},
		Variables: map[string]string{"questions": "- first question\n- second question"},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Close()

	var finals []string
	got := collectUntil(t, events, func(evt Event) bool {
		if evt.Type == EventMessage && evt.TranscriptType == TranscriptFinal {
			finals = append(finals, evt.Transcript)
		}
		return len(finals) == 3
	})
	if got[0].Type != EventCallStart {
		t.Fatalf("first event = %q, want %q", got[0].Type, EventCallStart)
	}
	if finals[1] != "first question" || finals[2] != "second question" {
		t.Fatalf("scripted turns = %q", finals)
	}

	if err := sess.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	collectUntil(t, events, func(evt Event) bool { return evt.Type == EventCallEnd })
}

func TestMockClientRejectsInvalidStart(t *testing.T) {
	c := NewMockClient()
	if _, _, err := c.Start(context.Background(), StartRequest{}); err == nil {
		t.Fatal("expected validation error for empty start request")
	}
}

func TestMockSessionCloseEndsStream(t *testing.T) {
	c := &MockClient{TurnInterval: time.Hour}
	sess, events, err := c.Start(context.Background(), StartRequest{WorkflowID: "wf-1"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed after Close()")
		}
	}
}
