package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DAGBackend ставит запуск DAG через REST API планировщика.
// dag_run_id = ключ идемпотентности, поэтому повтор с тем же ключом получает 409 и считается успехом.
type DAGBackend struct {
	baseURL string
	client  *http.Client
}

func NewDAGBackend(baseURL string, client *http.Client) *DAGBackend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DAGBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *DAGBackend) Name() string { return "dag" }

type dagRunRequest struct {
	DagRunID string         `json:"dag_run_id,omitempty"`
	Conf     map[string]any `json:"conf"`
}

type dagRunResponse struct {
	DagRunID string `json:"dag_run_id"`
	State    string `json:"state"`
}

func (d *DAGBackend) Submit(ctx context.Context, workflow string, args map[string]any, opts SubmitOptions) (*Handle, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(dagRunRequest{DagRunID: opts.IdempotencyKey, Conf: args})
	if err != nil {
		return nil, fmt.Errorf("dag: encode: %w", err)
	}

	endpoint := d.baseURL + "/api/v1/dags/" + url.PathEscape(workflow) + "/dagRuns"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dag: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}
	if opts.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", opts.IdempotencyKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dag: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusConflict:
		return &Handle{Backend: d.Name(), Workflow: workflow, RunID: opts.IdempotencyKey, Status: "duplicate"}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("dag: status %d", resp.StatusCode),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("dag: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out dagRunResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("dag: decode response: %w", err)
		}
	}
	h := &Handle{Backend: d.Name(), Workflow: workflow, RunID: out.DagRunID, Status: out.State}
	if h.RunID == "" {
		h.RunID = opts.IdempotencyKey
	}
	if h.Status == "" {
		h.Status = "queued"
	}
	return h, nil
}

func (d *DAGBackend) runURL(h *Handle) string {
	return d.baseURL + "/api/v1/dags/" + url.PathEscape(h.Workflow) + "/dagRuns/" + url.PathEscape(h.RunID)
}

func (d *DAGBackend) Status(ctx context.Context, h *Handle) (*Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.runURL(h), nil)
	if err != nil {
		return nil, fmt.Errorf("dag: request: %w", err)
	}
	var out dagRunResponse
	if err := d.do(req, &out); err != nil {
		return nil, err
	}
	res := *h
	if out.State != "" {
		res.Status = out.State
	}
	return &res, nil
}

// Cancel переводит запуск в failed: у планировщика нет отдельного состояния отмены.
func (d *DAGBackend) Cancel(ctx context.Context, h *Handle) error {
	body, _ := json.Marshal(map[string]string{"state": "failed"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, d.runURL(h), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dag: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req, nil)
}

func (d *DAGBackend) do(req *http.Request, out any) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dag: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("dag: %w", ErrRunNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("dag: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("dag: decode response: %w", err)
		}
	}
	return nil
}

func (d *DAGBackend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dag: health: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dag: health status %d", resp.StatusCode)
	}
	return nil
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}
