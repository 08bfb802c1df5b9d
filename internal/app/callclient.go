package app

import (
	"fmt"
	"strings"

	"github.com/antoniostano/prepvoice/internal/call"
	"github.com/antoniostano/prepvoice/internal/config"
)

type callSetup struct {
	client           call.Client
	resolvedProvider string
	detail           string
}

func resolveCallClient(cfg config.Config) (callSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.CallProvider))
	if mode == "" {
		mode = "auto"
	}

	tryRealtime := func() (callSetup, bool) {
		if strings.TrimSpace(cfg.CallAPIKey) == "" {
			return callSetup{}, false
		}
		c := call.NewRealtimeClient(call.RealtimeConfig{
			APIKey:    cfg.CallAPIKey,
			WSBaseURL: cfg.CallWSBaseURL,
		})
		return callSetup{
			client:           c,
			resolvedProvider: "realtime",
			detail:           "vendor realtime websocket",
		}, true
	}

	switch mode {
	case "realtime":
		if setup, ok := tryRealtime(); ok {
			return setup, nil
		}
		return callSetup{}, fmt.Errorf("CALL_PROVIDER=realtime but CALL_API_KEY is not set")
	case "mock":
		return callSetup{
			client:           call.NewMockClient(),
			resolvedProvider: "mock",
			detail:           "scripted mock interviewer",
		}, nil
	case "auto":
		if setup, ok := tryRealtime(); ok {
			return setup, nil
		}
		return callSetup{
			client:           call.NewMockClient(),
			resolvedProvider: "mock",
			detail:           "scripted mock interviewer (no vendor api key)",
		}, nil
	default:
		return callSetup{}, fmt.Errorf("invalid CALL_PROVIDER: %q (expected auto|realtime|mock)", cfg.CallProvider)
	}
}
