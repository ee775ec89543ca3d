// Package runtimeapi is a thin client for the platform's local invocation
// API: long-poll for the next event, post the result, post an error. The
// client carries no retry logic of its own; the event loop owns retries.
package runtimeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Response header names on the next-invocation call.
const (
	HeaderRequestID          = "Lambda-Runtime-Aws-Request-Id"
	HeaderDeadlineMS         = "Lambda-Runtime-Deadline-Ms"
	HeaderTraceID            = "Lambda-Runtime-Trace-Id"
	HeaderClientContext      = "Lambda-Runtime-Client-Context"
	HeaderCognitoIdentity    = "Lambda-Runtime-Cognito-Identity"
	HeaderInvokedFunctionARN = "Lambda-Runtime-Invoked-Function-Arn"

	// HeaderFunctionErrorType is sent on error posts, "category.type".
	HeaderFunctionErrorType = "Lambda-Runtime-Function-Error-Type"
)

const apiVersion = "2018-06-01"

// Invocation is one unit of work pulled from the control plane: every
// response header, verbatim, plus the raw event payload.
type Invocation struct {
	Headers map[string]string
	Payload []byte
}

// RequestID returns the request id header, empty if absent.
func (inv *Invocation) RequestID() string {
	return inv.Headers[HeaderRequestID]
}

// FunctionError is the wire shape of a reported handler failure.
type FunctionError struct {
	Message string `json:"errorMessage"`
	Type    string `json:"errorType"`
}

// Client talks to the invocation API over a persistent keep-alive
// connection. There is no per-request timeout: the poll blocks until the
// platform has work, and the platform enforces the real deadlines.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// New creates a client for the given control plane endpoint (host:port).
func New(runtimeAPI, runtimeVersion string) *Client {
	return &Client{
		baseURL:   "http://" + runtimeAPI + "/" + apiVersion + "/runtime",
		userAgent: "pulsar-powershell/" + runtimeVersion,
		http:      &http.Client{},
	}
}

// Next long-polls for the next invocation. All response headers are
// captured; multi-valued headers keep their first value.
func (c *Client) Next(ctx context.Context) (*Invocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/invocation/next", nil)
	if err != nil {
		return nil, fmt.Errorf("build next request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll next invocation: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read invocation payload: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("next invocation: unexpected status %d", resp.StatusCode)
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	return &Invocation{Headers: headers, Payload: body}, nil
}

// PostResult reports a successful invocation. The body is transmitted
// exactly as produced by the invoker; no re-encoding happens here.
func (c *Client) PostResult(ctx context.Context, requestID string, body []byte) error {
	url := c.baseURL + "/invocation/" + requestID + "/response"
	return c.post(ctx, url, body, nil)
}

// PostError reports a failed invocation. The error category and type travel
// both in the JSON body and in the function-error-type header.
func (c *Client) PostError(ctx context.Context, requestID string, ferr *FunctionError) error {
	body, err := json.Marshal(ferr)
	if err != nil {
		return fmt.Errorf("encode function error: %w", err)
	}
	url := c.baseURL + "/invocation/" + requestID + "/error"
	extra := map[string]string{
		HeaderFunctionErrorType: "Unhandled." + ferr.Type,
	}
	return c.post(ctx, url, body, extra)
}

func (c *Client) post(ctx context.Context, url string, body []byte, extra map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build post request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post to control plane: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("control plane rejected post: status %d", resp.StatusCode)
	}
	return nil
}
