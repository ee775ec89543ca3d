// Package invocation builds the per-invocation context exposed to handler
// code and manages the request-scoped process environment. A Context is
// constructed from the invocation response headers immediately before the
// handler runs and is never mutated.
package invocation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/runtimeapi"
)

// Context is the immutable view of one invocation handed to the handler.
// The JSON shape is what crosses the pipe into the PowerShell host.
type Context struct {
	RequestID          string `json:"request_id"`
	FunctionName       string `json:"function_name"`
	FunctionVersion    string `json:"function_version"`
	InvokedFunctionARN string `json:"invoked_function_arn"`
	MemoryLimitMB      int    `json:"memory_limit_mb"`
	LogGroupName       string `json:"log_group_name"`
	LogStreamName      string `json:"log_stream_name"`

	// Opaque pass-through blobs, absent for most invocations.
	ClientContext   string `json:"client_context,omitempty"`
	CognitoIdentity string `json:"cognito_identity,omitempty"`

	TraceID string `json:"trace_id,omitempty"`

	// DeadlineMS is the absolute deadline as Unix epoch milliseconds.
	DeadlineMS int64 `json:"deadline_ms"`

	deadline time.Time
}

// Build derives a Context from the function identity (set once at cold
// start) and the per-invocation response headers. A missing or malformed
// deadline header fails the build; that failure is fatal for the
// invocation, not for the process.
func Build(cfg *config.RuntimeConfig, headers map[string]string) (*Context, error) {
	raw, ok := headers[runtimeapi.HeaderDeadlineMS]
	if !ok {
		return nil, fmt.Errorf("invocation is missing the %s header", runtimeapi.HeaderDeadlineMS)
	}
	deadlineMS, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse deadline %q: %w", raw, err)
	}

	return &Context{
		RequestID:          headers[runtimeapi.HeaderRequestID],
		FunctionName:       cfg.FunctionName,
		FunctionVersion:    cfg.FunctionVersion,
		InvokedFunctionARN: headers[runtimeapi.HeaderInvokedFunctionARN],
		MemoryLimitMB:      cfg.MemoryLimitMB,
		LogGroupName:       cfg.LogGroupName,
		LogStreamName:      cfg.LogStreamName,
		ClientContext:      headers[runtimeapi.HeaderClientContext],
		CognitoIdentity:    headers[runtimeapi.HeaderCognitoIdentity],
		TraceID:            headers[runtimeapi.HeaderTraceID],
		DeadlineMS:         deadlineMS,
		deadline:           time.UnixMilli(deadlineMS),
	}, nil
}

// Deadline returns the absolute instant the platform will kill the
// invocation.
func (c *Context) Deadline() time.Time {
	return c.deadline
}

// RemainingTime computes deadline minus now at call time. A passed
// deadline yields a negative duration; nothing is clamped.
func (c *Context) RemainingTime() time.Duration {
	return time.Until(c.deadline)
}

// RemainingTimeMillis is RemainingTime as a millisecond count.
func (c *Context) RemainingTimeMillis() int64 {
	return c.RemainingTime().Milliseconds()
}
