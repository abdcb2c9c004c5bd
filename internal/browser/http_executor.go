package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPExecutor talks to the browser sidecar over JSON/HTTP. Each session
// maps to one browser context held open by the sidecar.
type HTTPExecutor struct {
	url    string
	client *http.Client
}

// NewHTTPExecutor creates an HTTPExecutor for the sidecar at url.
func NewHTTPExecutor(url string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// OpenSession asks the sidecar for a fresh browser context.
func (e *HTTPExecutor) OpenSession(ctx context.Context) (Session, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := e.post(ctx, "/sessions", nil, &out); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &httpSession{exec: e, id: out.SessionID}, nil
}

func (e *HTTPExecutor) post(ctx context.Context, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+path, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: status code %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

type httpSession struct {
	exec *HTTPExecutor
	id   string
}

func (s *httpSession) Perform(ctx context.Context, action Action) (*Observation, error) {
	var obs Observation
	if err := s.exec.post(ctx, "/sessions/"+s.id+"/act", action, &obs); err != nil {
		return nil, err
	}
	return &obs, nil
}

func (s *httpSession) Snapshot(ctx context.Context) (*Observation, error) {
	var obs Observation
	if err := s.exec.post(ctx, "/sessions/"+s.id+"/snapshot", nil, &obs); err != nil {
		return nil, err
	}
	return &obs, nil
}

func (s *httpSession) Close(ctx context.Context) error {
	return s.exec.post(ctx, "/sessions/"+s.id+"/close", nil, nil)
}
