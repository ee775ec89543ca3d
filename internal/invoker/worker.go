package invoker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/oriys/pulsar/internal/invocation"
	"github.com/oriys/pulsar/internal/logging"
)

// workerRequest is one invocation sent to the host process.
type workerRequest struct {
	ID      string              `json:"id"`
	Input   json.RawMessage     `json:"input"`
	Context *invocation.Context `json:"context"`
}

// workerResponse is a protocol line from the host process. Ready is only
// set on the handshake line emitted after the handler has loaded.
type workerResponse struct {
	ID        string          `json:"id"`
	Output    json.RawMessage `json:"output"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"errorType,omitempty"`
	Ready     bool            `json:"ready,omitempty"`
}

// worker owns the long-lived PowerShell host process and its NDJSON pipe
// protocol. There is exactly one invocation in flight at a time; the mutex
// guards against misuse, not concurrent callers.
type worker struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.Writer
	out   *bufio.Reader
	dead  bool
}

// startWorker launches the host process with the driver script and waits
// for the ready handshake. A handler that fails to load surfaces here.
func startWorker(pwshPath, driverPath string, env []string) (*worker, error) {
	cmd := exec.Command(pwshPath, "-NoProfile", "-NonInteractive", "-File", driverPath)
	cmd.Env = env
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open host stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open host stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start host process %s: %w", pwshPath, err)
	}

	w := &worker{
		cmd:   cmd,
		stdin: stdin,
		out:   bufio.NewReader(stdout),
	}

	resp, err := w.readProtocolLine()
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("host process handshake: %w", err)
	}
	if !resp.Ready {
		cmd.Process.Kill()
		cmd.Wait()
		if resp.Error != "" {
			return nil, fmt.Errorf("handler failed to load: %s (%s)", resp.Error, resp.ErrorType)
		}
		return nil, fmt.Errorf("host process sent unexpected handshake")
	}

	logging.Op().Info("host process started", "pid", cmd.Process.Pid)
	return w, nil
}

// newWorkerIO builds a worker over explicit pipes. Tests drive the protocol
// without a real PowerShell installation.
func newWorkerIO(stdin io.Writer, stdout io.Reader) *worker {
	return &worker{stdin: stdin, out: bufio.NewReader(stdout)}
}

// call sends one invocation and blocks for its response. Any pipe failure
// marks the worker dead; the caller restarts it on the next invocation.
func (w *worker) call(req *workerRequest) (*workerResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dead {
		return nil, fmt.Errorf("host process is not running")
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode invocation request: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.stdin.Write(line); err != nil {
		w.dead = true
		return nil, fmt.Errorf("write to host process: %w", err)
	}

	resp, err := w.readProtocolLine()
	if err != nil {
		w.dead = true
		return nil, fmt.Errorf("read from host process: %w", err)
	}
	if resp.ID != req.ID {
		w.dead = true
		return nil, fmt.Errorf("host process answered request %q, expected %q", resp.ID, req.ID)
	}
	return resp, nil
}

// readProtocolLine reads stdout until a marker-prefixed line appears.
// Unmarked lines are handler console output and pass through to stderr.
func (w *worker) readProtocolLine() (*workerResponse, error) {
	for {
		line, err := w.out.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, protocolMarker) {
			fmt.Fprintln(os.Stderr, line)
			continue
		}

		var resp workerResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, protocolMarker)), &resp); err != nil {
			return nil, fmt.Errorf("malformed protocol line: %w", err)
		}
		return &resp, nil
	}
}

// alive reports whether the worker can still take invocations.
func (w *worker) alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.dead
}

// close tears the host process down. Only used on abnormal paths; in
// steady state the worker lives as long as the execution environment.
func (w *worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dead = true
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
		w.cmd.Wait()
	}
}
