package invocation

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/runtimeapi"
)

func testConfig() *config.RuntimeConfig {
	return &config.RuntimeConfig{
		FunctionName:    "my-function",
		FunctionVersion: "$LATEST",
		MemoryLimitMB:   512,
		LogGroupName:    "/aws/lambda/my-function",
		LogStreamName:   "2026/08/29/[$LATEST]abc",
	}
}

func TestBuild(t *testing.T) {
	deadline := time.Now().Add(30 * time.Second).UnixMilli()
	headers := map[string]string{
		runtimeapi.HeaderRequestID:          "req-42",
		runtimeapi.HeaderDeadlineMS:         itoa(deadline),
		runtimeapi.HeaderInvokedFunctionARN: "arn:aws:lambda:us-east-1:123:function:my-function",
		runtimeapi.HeaderTraceID:            "Root=1-abc;Parent=def;Sampled=1",
	}

	ctx, err := Build(testConfig(), headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.RequestID != "req-42" {
		t.Fatalf("unexpected request id: %s", ctx.RequestID)
	}
	if ctx.FunctionName != "my-function" || ctx.MemoryLimitMB != 512 {
		t.Fatalf("identity not carried over: %+v", ctx)
	}
	if ctx.InvokedFunctionARN != "arn:aws:lambda:us-east-1:123:function:my-function" {
		t.Fatalf("arn not taken from header: %s", ctx.InvokedFunctionARN)
	}
	if ctx.Deadline().UnixMilli() != deadline {
		t.Fatalf("deadline mismatch: %d vs %d", ctx.Deadline().UnixMilli(), deadline)
	}
}

func TestBuild_MalformedDeadline(t *testing.T) {
	for _, raw := range []string{"", "not-a-number", "12.5x"} {
		headers := map[string]string{runtimeapi.HeaderDeadlineMS: raw}
		if raw == "" {
			headers = map[string]string{}
		}
		if _, err := Build(testConfig(), headers); err == nil {
			t.Fatalf("deadline %q should fail the build", raw)
		}
	}
}

func TestRemainingTime_TracksDeadline(t *testing.T) {
	deadline := time.Now().Add(10 * time.Second).UnixMilli()
	ctx, err := Build(testConfig(), map[string]string{
		runtimeapi.HeaderDeadlineMS: itoa(deadline),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantMS := deadline - time.Now().UnixMilli()
	gotMS := ctx.RemainingTimeMillis()
	if diff := wantMS - gotMS; diff < -100 || diff > 100 {
		t.Fatalf("remaining time off by %dms", diff)
	}

	first := ctx.RemainingTimeMillis()
	second := ctx.RemainingTimeMillis()
	if diff := first - second; diff < 0 || diff > 100 {
		t.Fatalf("successive reads should differ by <100ms, got %dms", diff)
	}

	// Duration accessor and millisecond accessor must agree.
	if d := ctx.RemainingTime().Milliseconds() - ctx.RemainingTimeMillis(); d < -5 || d > 5 {
		t.Fatalf("accessors disagree by %dms", d)
	}
}

func TestRemainingTime_PastDeadlineIsNegative(t *testing.T) {
	past := time.Now().Add(-5 * time.Second).UnixMilli()
	ctx, err := Build(testConfig(), map[string]string{
		runtimeapi.HeaderDeadlineMS: itoa(past),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms := ctx.RemainingTimeMillis(); ms >= 0 {
		t.Fatalf("expected negative remaining time, got %dms", ms)
	}
}

func TestScope_AppliesAndClears(t *testing.T) {
	t.Setenv(EnvTraceID, "stale-from-previous-invocation")

	s := ApplyScope(map[string]string{
		runtimeapi.HeaderTraceID: "Root=1-new",
	})
	if got := os.Getenv(EnvTraceID); got != "Root=1-new" {
		t.Fatalf("trace id not applied: %q", got)
	}

	s.Clear()
	if _, set := os.LookupEnv(EnvTraceID); set {
		t.Fatal("trace id should be cleared after the invocation")
	}
}

func TestScope_AbsentHeaderUnsets(t *testing.T) {
	t.Setenv(EnvTraceID, "stale")

	ApplyScope(map[string]string{})
	if _, set := os.LookupEnv(EnvTraceID); set {
		t.Fatal("stale trace id must not survive into the next invocation")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
