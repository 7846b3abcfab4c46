package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	pkgerrors "github.com/fernandofuc/tistis-platform-sub016/pkg/errors"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

// Engine is the conversational backend behind the gateway. Implemented
// over HTTP in production and faked in tests.
type Engine interface {
	Converse(ctx context.Context, event *CallEvent) (*EngineReply, error)
}

// Client talks to the orchestration engine's /v1/converse endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logg       *logger.Logger
}

func NewClient(cfg config.OrchestrationConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("orchestration base URL is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logg:       logg,
	}, nil
}

func (c *Client) Converse(ctx context.Context, event *CallEvent) (*EngineReply, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode call event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/converse", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build engine request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call orchestration engine")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read engine response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("orchestration engine returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var reply EngineReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode engine reply")
	}
	if reply.Text == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "engine reply has no text")
	}
	return &reply, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
