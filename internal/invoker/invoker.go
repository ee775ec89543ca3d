// Package invoker executes user handlers in a PowerShell host process.
// The host is started once, at cold start, so dot-sourced scripts and
// imported modules load exactly once; per-invocation work is a single
// request/response exchange over the host's stdin/stdout.
package invoker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/oriys/pulsar/internal/handler"
	"github.com/oriys/pulsar/internal/invocation"
	"github.com/oriys/pulsar/internal/logging"
)

// EnvPwshPath overrides the PowerShell binary the invoker launches.
const EnvPwshPath = "PULSAR_PWSH_PATH"

// HandlerError is a failure raised by handler code (or by event parsing on
// its behalf). The event loop reports it through the error path of the
// control plane; it never crashes the process.
type HandlerError struct {
	Message string
	Type    string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Invoker dispatches invocations for one resolved handler descriptor.
type Invoker struct {
	descriptor *handler.Descriptor
	pwshPath   string
	driverPath string
	env        []string
	worker     *worker
}

// New prepares an invoker for the descriptor. Nothing is executed yet.
func New(descriptor *handler.Descriptor) *Invoker {
	pwsh := os.Getenv(EnvPwshPath)
	if pwsh == "" {
		pwsh = "pwsh"
	}
	return &Invoker{descriptor: descriptor, pwshPath: pwsh}
}

// Start performs the cold-start half of handler execution: write the
// driver script to scratch space and launch the host process, which loads
// the handler before acknowledging. Errors here are fatal to cold start.
func (i *Invoker) Start() error {
	scratch, err := os.MkdirTemp("", "pulsar-host-*")
	if err != nil {
		return fmt.Errorf("create host scratch dir: %w", err)
	}
	i.driverPath = filepath.Join(scratch, "driver.ps1")
	if err := os.WriteFile(i.driverPath, []byte(driverScript), 0644); err != nil {
		return fmt.Errorf("write driver script: %w", err)
	}

	i.env = append(os.Environ(),
		"PULSAR_HANDLER_KIND="+i.descriptor.Kind.String(),
		"PULSAR_HANDLER_SCRIPT="+i.descriptor.ScriptPath,
		"PULSAR_HANDLER_FUNCTION="+i.descriptor.FunctionName,
		"PULSAR_HANDLER_MODULE="+i.descriptor.ModuleName,
	)

	w, err := startWorker(i.pwshPath, i.driverPath, i.env)
	if err != nil {
		return fmt.Errorf("start handler host: %w", err)
	}
	i.worker = w
	logging.Op().Info("handler loaded",
		"kind", i.descriptor.Kind.String(),
		"script", i.descriptor.ScriptPath,
		"module", i.descriptor.ModuleName,
		"function", i.descriptor.FunctionName)
	return nil
}

// Invoke runs the handler for one event and returns the normalized
// response body. Handler failures come back as *HandlerError; transport
// failures toward the host process come back as plain errors.
func (i *Invoker) Invoke(payload []byte, ictx *invocation.Context) ([]byte, error) {
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, &HandlerError{
			Message: "invocation payload is not valid JSON",
			Type:    "InvalidEventDataException",
		}
	}

	if i.worker == nil || !i.worker.alive() {
		logging.Op().Warn("host process is gone, restarting")
		w, err := startWorker(i.pwshPath, i.driverPath, i.env)
		if err != nil {
			return nil, fmt.Errorf("restart handler host: %w", err)
		}
		i.worker = w
	}

	req := &workerRequest{
		ID:      uuid.New().String()[:8],
		Input:   json.RawMessage(payload),
		Context: ictx,
	}
	resp, err := i.worker.call(req)
	if err != nil {
		return nil, err
	}

	if resp.Error != "" {
		errType := resp.ErrorType
		if errType == "" {
			errType = "RuntimeException"
		}
		return nil, &HandlerError{Message: resp.Error, Type: errType}
	}

	return normalizeOutput(resp.Output), nil
}

// Close stops the host process on orderly runtime shutdown. The platform
// normally just kills the environment.
func (i *Invoker) Close() {
	if i.worker != nil {
		i.worker.close()
	}
}

// normalizeOutput applies the response contract: a handler that returned a
// string is transmitted byte-for-byte with no re-encoding, null and empty
// returns become an empty payload, everything else stays the serialized
// JSON the host produced.
func normalizeOutput(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}
