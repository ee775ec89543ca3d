// Package loop is the bootstrap orchestrator: one-time cold-start
// initialization followed by the steady-state polling loop. The loop never
// returns to cold start; the only way out is process termination.
package loop

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/handler"
	"github.com/oriys/pulsar/internal/invocation"
	"github.com/oriys/pulsar/internal/invoker"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/modpath"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/runtimeapi"
)

// runtimeVersion is the PowerShell language version this bootstrap ships,
// reported in the control plane user agent.
const runtimeVersion = "7.4.6"

// Poll failures retry with bounded backoff. They are never surfaced to a
// handler or to the control plane.
const (
	pollBackoffMin = 50 * time.Millisecond
	pollBackoffMax = 1 * time.Second
)

// Invoker is the handler-execution dependency of the loop.
type Invoker interface {
	Invoke(payload []byte, ictx *invocation.Context) ([]byte, error)
}

// Runtime is the assembled bootstrap, ready to poll.
type Runtime struct {
	cfg     *config.RuntimeConfig
	client  *runtimeapi.Client
	invoker Invoker
	metrics *metrics.Metrics

	backoff time.Duration
}

// New wires a Runtime from its parts. Most callers want ColdStart.
func New(cfg *config.RuntimeConfig, client *runtimeapi.Client, inv Invoker, m *metrics.Metrics) *Runtime {
	return &Runtime{cfg: cfg, client: client, invoker: inv, metrics: m}
}

// ColdStart performs the one-time initialization sequence: publish the
// module search path, resolve the handler, load it into the host process.
// Any failure is fatal; the environment must not reach the polling state
// half-initialized.
func ColdStart(ctx context.Context, cfg *config.RuntimeConfig) (*Runtime, error) {
	start := time.Now()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		m.Serve(cfg.MetricsAddr)
	}

	if err := observability.Init(ctx, observability.Config{
		Endpoint:    cfg.TracingEndpoint,
		ServiceName: cfg.FunctionName,
		SampleRate:  cfg.TracingSample,
	}); err != nil {
		return nil, err
	}

	assembler := modpath.New(cfg.TaskRoot)
	entries, err := assembler.Assemble()
	if err != nil {
		return nil, err
	}
	if err := assembler.Publish(entries); err != nil {
		return nil, err
	}

	descriptor, err := handler.Resolve(cfg.Handler, cfg.TaskRoot)
	if err != nil {
		return nil, err
	}

	inv := invoker.New(descriptor)
	if err := inv.Start(); err != nil {
		return nil, err
	}

	client := runtimeapi.New(cfg.RuntimeAPI, runtimeVersion)

	m.RecordColdStart(time.Since(start))
	logging.Op().Info("cold start complete",
		"handler", cfg.Handler,
		"kind", descriptor.Kind.String(),
		"tracing", observability.Enabled(),
		"duration_ms", time.Since(start).Milliseconds())

	return New(cfg, client, inv, m), nil
}

// Close releases the runtime's resources, stopping the handler host
// process when the invoker owns one.
func (r *Runtime) Close() {
	if c, ok := r.invoker.(interface{ Close() }); ok {
		c.Close()
	}
}

// Run polls forever. The context exists for tests and the emulator; on the
// platform it is background and Run only returns on process death.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			r.metrics.RecordPollFailure()
			logging.Op().Warn("poll failed, retrying", "error", err, "backoff", r.backoff)
			r.sleepBackoff(ctx)
			continue
		}
		r.backoff = 0
	}
}

// RunOnce serves a single poll cycle. A returned error always means the
// poll itself failed; invocation failures are reported to the control
// plane and do not surface here.
func (r *Runtime) RunOnce(ctx context.Context) error {
	env, err := r.client.Next(ctx)
	if err != nil {
		return err
	}

	requestID := env.RequestID()
	if requestID == "" {
		// Nothing to serve yet; poll again.
		return nil
	}

	scope := invocation.ApplyScope(env.Headers)
	defer scope.Clear()

	log := logging.Invocation(requestID)

	ictx, err := invocation.Build(r.cfg, env.Headers)
	if err != nil {
		log.Error("invocation context rejected", "error", err)
		r.report(ctx, requestID, nil, &runtimeapi.FunctionError{
			Message: err.Error(),
			Type:    "InvalidInvocationException",
		}, 0)
		return nil
	}

	octx, endSpan := observability.StartInvocation(ctx, requestID, r.cfg.FunctionName)
	start := time.Now()
	body, invokeErr := r.invoker.Invoke(env.Payload, ictx)
	duration := time.Since(start)
	endSpan(invokeErr)

	if invokeErr != nil {
		log.Error("handler failed", "error", invokeErr, "duration_ms", duration.Milliseconds())
		r.report(octx, requestID, nil, toFunctionError(invokeErr), duration)
		return nil
	}

	log.Info("handler succeeded", "duration_ms", duration.Milliseconds(), "response_bytes", len(body))
	r.report(octx, requestID, body, nil, duration)
	return nil
}

// report posts the invocation outcome. A transport failure here is logged
// and absorbed: the outcome is lost from the control plane's perspective,
// but the loop must keep serving.
func (r *Runtime) report(ctx context.Context, requestID string, body []byte, ferr *runtimeapi.FunctionError, duration time.Duration) {
	var postErr error
	outcome := metrics.OutcomeSuccess
	if ferr != nil {
		outcome = metrics.OutcomeError
		postErr = r.client.PostError(ctx, requestID, ferr)
	} else {
		postErr = r.client.PostResult(ctx, requestID, body)
	}

	if postErr != nil {
		outcome = metrics.OutcomeLost
		logging.Invocation(requestID).Error("failed to post invocation outcome", "error", postErr)
	}
	r.metrics.RecordInvocation(outcome, duration)
}

func toFunctionError(err error) *runtimeapi.FunctionError {
	var herr *invoker.HandlerError
	if errors.As(err, &herr) {
		return &runtimeapi.FunctionError{Message: herr.Message, Type: herr.Type}
	}
	return &runtimeapi.FunctionError{Message: err.Error(), Type: "RuntimeException"}
}

func (r *Runtime) sleepBackoff(ctx context.Context) {
	if r.backoff == 0 {
		r.backoff = pollBackoffMin
	} else if r.backoff < pollBackoffMax {
		r.backoff *= 2
		if r.backoff > pollBackoffMax {
			r.backoff = pollBackoffMax
		}
	}
	select {
	case <-time.After(r.backoff):
	case <-ctx.Done():
	}
}
