// Package provider invokes the externally hosted detection workflows. Each
// call returns a normalized Result carrying either detections or a typed
// failure; the adapter never panics or throws past its boundary.
package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/croplens/croplens/internal/detection"
	"github.com/croplens/croplens/internal/imageref"
)

// DefaultAPIURL is the hosted serverless inference endpoint.
const DefaultAPIURL = "https://serverless.roboflow.com"

// Spec identifies one detection workflow. Configuration data, never mutated
// at runtime.
type Spec struct {
	Name       string
	WorkflowID string
}

// Config holds the client settings shared by both workflows.
type Config struct {
	APIURL    string
	APIKey    string
	Workspace string
	// Timeout bounds each workflow call; the call is cancelled, not merely
	// ignored, when exceeded.
	Timeout time.Duration
}

// Result is the outcome of invoking one workflow for one image. Exactly one
// of Detections/Err carries the outcome; MaxConfidence is 0 on failure or
// when nothing was detected.
type Result struct {
	Provider      string
	Detections    []detection.Detection
	MaxConfidence float64
	Dropped       int
	Raw           json.RawMessage
	Duration      time.Duration
	Err           *CallError
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Client calls hosted workflows over HTTP. Construct with NewClient and pass
// by reference; it holds no per-request mutable state.
type Client struct {
	http      *resty.Client
	workspace string
	apiKey    string
	timeout   time.Duration
}

// NewClient creates a workflow client.
func NewClient(cfg Config) *Client {
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:      httpClient,
		workspace: cfg.Workspace,
		apiKey:    cfg.APIKey,
		timeout:   timeout,
	}
}

// Close releases the client's transport resources.
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

type workflowImage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type workflowRequest struct {
	APIKey   string                   `json:"api_key"`
	UseCache bool                     `json:"use_cache"`
	Inputs   map[string]workflowImage `json:"inputs"`
}

// Invoke runs one workflow on one image. Failures come back as a typed
// Result, never as a returned error, so the caller can proceed with the
// sibling workflow's result.
func (c *Client) Invoke(ctx context.Context, img imageref.Image, spec Spec, useCache bool) Result {
	start := time.Now()

	res := Result{Provider: spec.Name}
	fail := func(kind FailureKind, err error) Result {
		res.Duration = time.Since(start)
		res.Err = &CallError{Provider: spec.Name, Kind: kind, Err: err}
		return res
	}

	if img.Data() == nil && !img.IsURL() {
		return fail(FailureInvalidResponse, errors.New("empty image input"))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := workflowRequest{
		APIKey:   c.apiKey,
		UseCache: useCache,
		Inputs:   map[string]workflowImage{"image": imagePayload(img)},
	}

	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(body).
		SetPathParams(map[string]string{
			"workspace": c.workspace,
			"workflow":  spec.WorkflowID,
		}).
		Post("/infer/workflows/{workspace}/{workflow}")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return fail(FailureTimeout, fmt.Errorf("workflow %s timed out after %v", spec.WorkflowID, c.timeout))
		}
		return fail(FailureUnreachable, err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 500:
		return fail(FailureUnreachable, fmt.Errorf("workflow %s returned status %d", spec.WorkflowID, status))
	case status >= 400:
		return fail(FailureInvalidResponse, fmt.Errorf("workflow %s rejected request with status %d", spec.WorkflowID, status))
	}

	raw := resp.Body()
	dets, dropped, err := detection.Normalize(raw)
	if err != nil {
		return fail(FailureInvalidResponse, err)
	}
	if dropped > 0 {
		slog.Warn("dropped malformed detections",
			"provider", spec.Name, "workflow", spec.WorkflowID, "dropped", dropped)
	}

	res.Detections = dets
	res.MaxConfidence = detection.MaxConfidence(dets)
	res.Dropped = dropped
	res.Raw = json.RawMessage(raw)
	res.Duration = time.Since(start)
	return res
}

// imagePayload encodes the image for the workflow request body: a URL
// reference as-is, raw bytes as base64.
func imagePayload(img imageref.Image) workflowImage {
	if img.IsURL() {
		return workflowImage{Type: "url", Value: img.URL()}
	}
	return workflowImage{
		Type:  "base64",
		Value: base64.StdEncoding.EncodeToString(img.Data()),
	}
}
