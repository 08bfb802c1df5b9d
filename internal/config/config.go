package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview session service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	CallProvider  string
	CallAPIKey    string
	CallWSBaseURL string

	// WorkflowID identifies the server-side preconfigured interview script
	// used by generate mode. Normal mode never reads it.
	WorkflowID string

	InterviewerPrompt  string
	InterviewerVoiceID string
	InterviewerModelID string

	FeedbackAPIURL  string
	FeedbackTimeout time.Duration

	LandingRoute string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "prepvoice"),
		AllowAnyOrigin:   false,
		CallProvider:     envOrDefault("CALL_PROVIDER", "auto"),
		CallAPIKey:       stringsTrimSpace("CALL_API_KEY"),
		CallWSBaseURL:    envOrDefault("CALL_WS_BASE_URL", "wss://realtime.vapi.ai"),
		WorkflowID:       stringsTrimSpace("INTERVIEW_WORKFLOW_ID"),
		// Default interviewer persona for normal mode. The prompt receives the
		// formatted question block through the {{questions}} variable binding.
		InterviewerPrompt: envOrDefault("INTERVIEWER_PROMPT",
			"You are a professional job interviewer conducting a real-time voice interview. "+
				"Ask the candidate the following questions one at a time and follow up briefly:\n{{questions}}"),
		InterviewerVoiceID: envOrDefault("INTERVIEWER_VOICE_ID", "sarah"),
		InterviewerModelID: envOrDefault("INTERVIEWER_MODEL_ID", "gpt-4"),
		FeedbackAPIURL:     stringsTrimSpace("FEEDBACK_API_URL"),
		LandingRoute:       envOrDefault("LANDING_ROUTE", "/"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		// Mirrors the browser session: an interview left idle this long is
		// treated as abandoned and expired.
		SessionInactivityTimeout: 10 * time.Minute,
		FeedbackTimeout:          30 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FeedbackTimeout, err = durationFromEnv("FEEDBACK_TIMEOUT", cfg.FeedbackTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.FeedbackTimeout <= 0 {
		return Config{}, fmt.Errorf("FEEDBACK_TIMEOUT must be positive")
	}
	if !strings.HasPrefix(cfg.LandingRoute, "/") {
		return Config{}, fmt.Errorf("LANDING_ROUTE must start with /")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.CallProvider)) {
	case "auto", "realtime", "mock":
	default:
		return Config{}, fmt.Errorf("invalid CALL_PROVIDER: %q (expected auto|realtime|mock)", cfg.CallProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
