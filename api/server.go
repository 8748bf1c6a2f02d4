// ABOUTME: HTTP transport over runtime.GraphRuntime: chi router, JSON request/response bodies.
// ABOUTME: Grounded on the teacher's editor/server.go (chi.Router field, NewServer wiring, ServeHTTP delegation).
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/graphrun/bus"
	"github.com/2389-research/graphrun/core"
	"github.com/2389-research/graphrun/graph"
	"github.com/2389-research/graphrun/runtime"
)

// Server exposes runtime.GraphRuntime over HTTP: start/cancel/fork a run,
// list runs, and stream one run's events over SSE.
type Server struct {
	router  chi.Router
	runtime *runtime.GraphRuntime
	bus     *bus.EventBus
}

// NewServer builds a Server with all routes registered.
func NewServer(rt *runtime.GraphRuntime, eventBus *bus.EventBus) *Server {
	s := &Server{runtime: rt, bus: eventBus}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestIDHeader)

	r.Post("/runs", s.handleStartRun)
	r.Get("/runs", s.handleListRuns)
	r.Post("/runs/{runId}/cancel", s.handleCancelRun)
	r.Post("/runs/{runId}/fork", s.handleForkRun)
	r.Get("/runs/{runId}/events", s.handleRunEvents)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler, delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestIDHeader stamps a uuid-based idempotency key on every response when
// the caller didn't supply one, mirroring the X-Request-ID convention used
// across the providers' HTTP adapters.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type startRunRequest struct {
	Graph json.RawMessage `json:"graph"`
	Input any             `json:"input"`
}

type runResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	def, err := graph.LoadJSON(req.Graph)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	handle, err := s.runtime.StartRun(r.Context(), def, req.Input)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{RunID: handle.RunID.String()})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runtime.ListRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.runtime.CancelRun(runID); err != nil {
		writeRunError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type forkRunRequest struct {
	Graph         json.RawMessage `json:"graph"`
	FromStepID    string          `json:"from_step_id"`
	OverrideInput any             `json:"override_input,omitempty"`
}

func (s *Server) handleForkRun(w http.ResponseWriter, r *http.Request) {
	parentID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req forkRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fromStepID, err := ulid.Parse(req.FromStepID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	def, err := graph.LoadJSON(req.Graph)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	handle, err := s.runtime.ForkRun(r.Context(), def, parentID, fromStepID, req.OverrideInput)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{RunID: handle.RunID.String()})
}

// handleRunEvents streams one run's committed events as Server-Sent Events,
// one `event:` line per core.EventPayload.EventPayloadType().
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.runtime.Handle(runID); !ok {
		writeError(w, http.StatusNotFound, core.ErrRunNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub := s.bus.Subscribe(func(ev core.Event) bool { return ev.RunID == runID }, nil)
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := core.MarshalEventPayload(ev.Payload)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + ev.Payload.EventPayloadType() + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func parseRunID(r *http.Request) (ulid.ULID, error) {
	return ulid.Parse(chi.URLParam(r, "runId"))
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, core.ErrStepNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, core.ErrNonMonotonicTransition):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusUnprocessableEntity, err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
