package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(time.Minute, func(id string, params Params) *Controller {
		return normalController(client, nil, params)
	})

	s := m.Create(Params{UserName: "Dana", UserID: "u1", Mode: ModeNormal})
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Params.UserID != "u1" || got.Params.Mode != ModeNormal {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ctrl, err := m.Controller(s.ID)
	if err != nil {
		t.Fatalf("Controller() error = %v", err)
	}
	if ctrl.Status() != StatusInactive {
		t.Fatalf("controller status = %q, want %q", ctrl.Status(), StatusInactive)
	}

	if _, err := m.End(context.Background(), s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after End error = %v, want ErrNotFound", err)
	}
}

func TestManagerActiveCount(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(time.Minute, func(id string, params Params) *Controller {
		return normalController(client, nil, params)
	})

	a := m.Create(Params{UserName: "Dana", Mode: ModeNormal})
	m.Create(Params{UserName: "Sam", Mode: ModeNormal})
	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 before any call", got)
	}

	ctrl, err := m.Controller(a.ID)
	if err != nil {
		t.Fatalf("Controller() error = %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1 with one connecting call", got)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(30*time.Millisecond, func(id string, params Params) *Controller {
		return normalController(client, nil, params)
	})

	var mu sync.Mutex
	var expired []string
	m.SetExpireHook(func(s *Session) {
		mu.Lock()
		expired = append(expired, s.ID)
		mu.Unlock()
	})

	s := m.Create(Params{UserName: "Dana", Mode: ModeNormal})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	waitFor(t, "session expiry", func() bool {
		_, err := m.Get(s.ID)
		return errors.Is(err, ErrNotFound)
	})
	waitFor(t, "expire hook", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1 && expired[0] == s.ID
	})
}

func TestManagerTouchDefersExpiry(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(80*time.Millisecond, func(id string, params Params) *Controller {
		return normalController(client, nil, params)
	})
	s := m.Create(Params{UserName: "Dana", Mode: ModeNormal})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		if err := m.Touch(s.ID); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
	}
	if _, err := m.Get(s.ID); err != nil {
		t.Fatalf("touched session expired early: %v", err)
	}
}
