// Package emulator implements a minimal local control plane speaking the
// invocation API the bootstrap polls. It exists for development and for
// end-to-end tests; it is not the platform.
package emulator

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/runtimeapi"
)

// Event is one queued invocation.
type Event struct {
	Name      string `yaml:"name"`
	Payload   string `yaml:"payload"`
	RequestID string `yaml:"requestId,omitempty"`
	// TimeoutS overrides the server default for this event.
	TimeoutS int `yaml:"timeout,omitempty"`
}

// Outcome is what the runtime posted back for one request.
type Outcome struct {
	RequestID string
	Body      []byte
	// IsError is true when the runtime used the error path.
	IsError   bool
	ErrorType string
}

// Server queues events and records outcomes. It serves the three
// invocation API endpoints; polls block until an event is enqueued.
type Server struct {
	FunctionName string
	// DefaultTimeout bounds each invocation's advertised deadline.
	DefaultTimeout time.Duration

	queue chan *pendingEvent

	mu       sync.Mutex
	outcomes map[string]chan Outcome
}

type pendingEvent struct {
	event     Event
	requestID string
}

// NewServer creates an emulator control plane.
func NewServer(functionName string) *Server {
	return &Server{
		FunctionName:   functionName,
		DefaultTimeout: 30 * time.Second,
		queue:          make(chan *pendingEvent, 64),
		outcomes:       make(map[string]chan Outcome),
	}
}

// Enqueue adds an event to the invocation queue and returns its request id.
func (s *Server) Enqueue(event Event) string {
	id := event.RequestID
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	s.outcomes[id] = make(chan Outcome, 1)
	s.mu.Unlock()

	s.queue <- &pendingEvent{event: event, requestID: id}
	return id
}

// Wait blocks until the runtime posts an outcome for the request.
func (s *Server) Wait(requestID string) (Outcome, bool) {
	s.mu.Lock()
	ch, ok := s.outcomes[requestID]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, false
	}
	return <-ch, true
}

// Handler returns the HTTP handler implementing the invocation API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2018-06-01/runtime/invocation/next", s.handleNext)
	mux.HandleFunc("POST /2018-06-01/runtime/invocation/{id}/response", s.handleResponse)
	mux.HandleFunc("POST /2018-06-01/runtime/invocation/{id}/error", s.handleError)
	return mux
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	select {
	case p := <-s.queue:
		timeout := s.DefaultTimeout
		if p.event.TimeoutS > 0 {
			timeout = time.Duration(p.event.TimeoutS) * time.Second
		}
		deadline := time.Now().Add(timeout).UnixMilli()

		w.Header().Set(runtimeapi.HeaderRequestID, p.requestID)
		w.Header().Set(runtimeapi.HeaderDeadlineMS, strconv.FormatInt(deadline, 10))
		w.Header().Set(runtimeapi.HeaderInvokedFunctionARN,
			"arn:aws:lambda:local:000000000000:function:"+s.FunctionName)
		io.WriteString(w, p.event.Payload)

	case <-r.Context().Done():
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, _ := io.ReadAll(r.Body)
	logging.Op().Info("invocation result", "request_id", id, "bytes", len(body))
	s.deliver(Outcome{RequestID: id, Body: body})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, _ := io.ReadAll(r.Body)

	var ferr runtimeapi.FunctionError
	json.Unmarshal(body, &ferr)
	logging.Op().Warn("invocation error",
		"request_id", id, "error_type", ferr.Type, "error", ferr.Message)

	s.deliver(Outcome{RequestID: id, Body: body, IsError: true, ErrorType: ferr.Type})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) deliver(outcome Outcome) {
	s.mu.Lock()
	ch, ok := s.outcomes[outcome.RequestID]
	s.mu.Unlock()
	if ok {
		ch <- outcome
	}
}
