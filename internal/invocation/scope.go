package invocation

import (
	"os"

	"github.com/oriys/pulsar/internal/runtimeapi"
)

// EnvTraceID is the request-scoped trace variable. The handler host
// process maintains its own copy per invocation, from the trace id in the
// Context it receives.
const EnvTraceID = "_X_AMZN_TRACE_ID"

// Scope is the request-scoped slice of the bootstrap's own process
// environment, for anything running in-process alongside the event loop.
// The loop applies a fresh scope before every invocation and clears it
// after, so nothing here can observe values left over from the previous
// request.
type Scope struct {
	traceID string
}

// ApplyScope sets the per-invocation environment from the response
// headers. A header absent from this invocation unsets the variable
// rather than leaving the previous value in place.
func ApplyScope(headers map[string]string) *Scope {
	s := &Scope{traceID: headers[runtimeapi.HeaderTraceID]}
	if s.traceID != "" {
		os.Setenv(EnvTraceID, s.traceID)
	} else {
		os.Unsetenv(EnvTraceID)
	}
	return s
}

// Clear removes the request-scoped environment once the invocation's
// outcome has been posted.
func (s *Scope) Clear() {
	os.Unsetenv(EnvTraceID)
}
