package app

import (
	"context"
	"fmt"

	"github.com/antoniostano/prepvoice/internal/call"
	"github.com/antoniostano/prepvoice/internal/config"
	"github.com/antoniostano/prepvoice/internal/feedback"
	"github.com/antoniostano/prepvoice/internal/httpapi"
	"github.com/antoniostano/prepvoice/internal/interview"
	"github.com/antoniostano/prepvoice/internal/observability"
	"github.com/antoniostano/prepvoice/internal/transcript"
)

type CallInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *interview.Manager
	Metrics  *observability.Metrics
	Call     CallInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	callSetup, err := resolveCallClient(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	creator := feedback.NewHTTPCreator(cfg.FeedbackAPIURL, cfg.FeedbackTimeout)

	controllerCfg := interview.Config{
		WorkflowID: cfg.WorkflowID,
		Interviewer: &call.AssistantConfig{
			Name:         "Interviewer",
			Prompt:       cfg.InterviewerPrompt,
			VoiceID:      cfg.InterviewerVoiceID,
			ModelID:      cfg.InterviewerModelID,
			FirstMessage: "Hello! Thank you for taking the time to speak with me today.",
		},
		LandingRoute: cfg.LandingRoute,
	}

	sessions := interview.NewManager(cfg.SessionInactivityTimeout, func(id string, params interview.Params) *interview.Controller {
		return interview.NewController(id, callSetup.client, creator, store, metrics, controllerCfg, params)
	})
	sessions.SetExpireHook(func(_ *interview.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveCalls.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, store, metrics)

	cleanup := func() error {
		return store.Close()
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Call: CallInfo{
			Provider: callSetup.resolvedProvider,
			Detail:   callSetup.detail,
		},
		Cleanup: cleanup,
	}, nil
}
