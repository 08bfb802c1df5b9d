package call

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockClient is a local fallback client used when no vendor API key is
// configured. It plays a short scripted interview so the full session
// flow can be exercised without a real call backend.
type MockClient struct {
	// TurnInterval controls the pacing of scripted assistant turns.
	TurnInterval time.Duration
}

func NewMockClient() *MockClient { return &MockClient{TurnInterval: 2 * time.Second} }

func (c *MockClient) Start(_ context.Context, req StartRequest) (Session, <-chan Event, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	script := []string{"Hello, thanks for joining. Tell me about yourself."}
	if req.Assistant != nil {
		for _, line := range strings.Split(req.Variables["questions"], "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
			if line != "" {
				script = append(script, line)
			}
		}
	}

	interval := c.TurnInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	events := make(chan Event, 64)
	s := &mockSession{events: events, done: make(chan struct{})}
	go s.play(script, interval)
	return s, events, nil
}

type mockSession struct {
	mu     sync.Mutex
	events chan Event
	done   chan struct{}
	closed bool
}

func (s *mockSession) play(script []string, interval time.Duration) {
	s.emit(Event{Type: EventCallStart, Timestamp: time.Now().UnixMilli()})
	for _, line := range script {
		select {
		case <-s.done:
			return
		case <-time.After(interval):
		}
		s.emit(Event{Type: EventSpeechStart, Timestamp: time.Now().UnixMilli()})
		s.emit(Event{
			Type:           EventMessage,
			Role:           "assistant",
			Transcript:     line,
			TranscriptType: TranscriptFinal,
			Timestamp:      time.Now().UnixMilli(),
		})
		s.emit(Event{Type: EventSpeechEnd, Timestamp: time.Now().UnixMilli()})
	}
	<-s.done
}

func (s *mockSession) emit(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- evt
}

func (s *mockSession) Stop(_ context.Context) error {
	s.emit(Event{Type: EventCallEnd, Timestamp: time.Now().UnixMilli()})
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
	return nil
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	close(s.events)
	return nil
}
