// Package llm talks to the language-model sidecar used for prompt parsing
// and repair proposals.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

// Client is the language-model capability consumed by the router, the
// self-healing engine and the adaptive agent.
type Client interface {
	// ParseIntent turns a natural-language prompt into a structured intent.
	ParseIntent(ctx context.Context, prompt string) (*models.Intent, error)
	// ProposeRepair asks for a replacement selector/action for a drifted step.
	ProposeRepair(ctx context.Context, rc RepairContext) (*RepairSuggestion, error)
	// NextAction asks for the agent's next step toward a goal.
	NextAction(ctx context.Context, goal string, history []AgentStep, dom string) (*AgentStep, error)
}

// RepairContext carries everything the model needs to diagnose a drifted step.
type RepairContext struct {
	Description string `json:"description"`
	Kind        string `json:"kind"`
	OldSelector string `json:"old_selector"`
	FailureMsg  string `json:"failure_msg"`
	DOMSnapshot string `json:"dom_snapshot,omitempty"`
	Screenshot  []byte `json:"screenshot,omitempty"`
}

// RepairSuggestion is the model's proposed patch.
type RepairSuggestion struct {
	Selector   string  `json:"selector"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// AgentStep is one planned action in an adaptive agent run.
type AgentStep struct {
	Kind     string `json:"kind"`
	Selector string `json:"selector,omitempty"`
	Input    string `json:"input,omitempty"`
	Done     bool   `json:"done"`
	Result   string `json:"result,omitempty"`
}

// HTTPClient is an HTTP implementation of Client.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient creates a new HTTPClient for the sidecar at url. Every call
// is bounded by the given timeout on top of the caller's context.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: status code %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ParseIntent extracts site, intent tag and variables from a prompt. When
// the sidecar fails, the local heuristic parser takes over so routing can
// still degrade to the agent.
func (c *HTTPClient) ParseIntent(ctx context.Context, prompt string) (*models.Intent, error) {
	var intent models.Intent
	err := c.post(ctx, "/parse", map[string]string{"prompt": prompt}, &intent)
	if err != nil {
		return heuristicParse(prompt), nil
	}
	return &intent, nil
}

// ProposeRepair asks the sidecar for a replacement selector/action.
func (c *HTTPClient) ProposeRepair(ctx context.Context, rc RepairContext) (*RepairSuggestion, error) {
	var suggestion RepairSuggestion
	if err := c.post(ctx, "/repair", rc, &suggestion); err != nil {
		return nil, err
	}
	return &suggestion, nil
}

// NextAction asks the sidecar for the agent's next step.
func (c *HTTPClient) NextAction(ctx context.Context, goal string, history []AgentStep, dom string) (*AgentStep, error) {
	req := map[string]any{
		"goal":    goal,
		"history": history,
		"dom":     dom,
	}
	var step AgentStep
	if err := c.post(ctx, "/next_action", req, &step); err != nil {
		return nil, err
	}
	return &step, nil
}
