package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/prepvoice/internal/interview"
)

func TestHTTPCreatorCreate(t *testing.T) {
	var got interview.FeedbackRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(interview.FeedbackResult{Success: true, FeedbackID: "f1"})
	}))
	defer ts.Close()

	c := NewHTTPCreator(ts.URL, 5*time.Second)
	res, err := c.Create(context.Background(), interview.FeedbackRequest{
		InterviewID: "iv-1",
		UserID:      "u1",
		Transcript:  []interview.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !res.Success || res.FeedbackID != "f1" {
		t.Fatalf("result = %+v", res)
	}
	if got.InterviewID != "iv-1" || got.UserID != "u1" || len(got.Transcript) != 1 {
		t.Fatalf("backend received %+v", got)
	}
}

func TestHTTPCreatorRetriesRetryableStatus(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(interview.FeedbackResult{Success: true, FeedbackID: "f2"})
	}))
	defer ts.Close()

	c := NewHTTPCreator(ts.URL, 10*time.Second)
	res, err := c.Create(context.Background(), interview.FeedbackRequest{InterviewID: "iv-1", UserID: "u1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !res.Success || res.FeedbackID != "f2" {
		t.Fatalf("result = %+v", res)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("backend calls = %d, want 2", n)
	}
}

func TestHTTPCreatorNoRetryOnClientError(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	c := NewHTTPCreator(ts.URL, 5*time.Second)
	if _, err := c.Create(context.Background(), interview.FeedbackRequest{InterviewID: "iv-1", UserID: "u1"}); err == nil {
		t.Fatal("expected error for 422 response")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("backend calls = %d, want 1 (no retry)", n)
	}
}

func TestHTTPCreatorRequiresURL(t *testing.T) {
	c := NewHTTPCreator("", time.Second)
	if _, err := c.Create(context.Background(), interview.FeedbackRequest{}); err == nil {
		t.Fatal("expected error when backend url is empty")
	}
}
