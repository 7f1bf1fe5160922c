// Package server is the Ingress Façade: the HTTP surface routing
// requests in spec §6.1 to the Workflow Engine, with no domain logic of
// its own.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/poolbroker/pkg/apierr"
	"github.com/cuemby/poolbroker/pkg/broadcast"
	"github.com/cuemby/poolbroker/pkg/log"
	"github.com/cuemby/poolbroker/pkg/metrics"
	"github.com/cuemby/poolbroker/pkg/operations"
	"github.com/cuemby/poolbroker/pkg/store"
	"github.com/cuemby/poolbroker/pkg/workflow"
)

// Server is the HTTP façade over one Engine.
type Server struct {
	engine *workflow.Engine
	store  store.Store
	ops    *operations.Registry
	bus    *broadcast.Bus
	mux    *http.ServeMux
}

// New builds a Server and registers every route in spec §6.1.
func New(engine *workflow.Engine) *Server {
	s := &Server{
		engine: engine,
		store:  engine.Store,
		ops:    engine.Registry,
		bus:    engine.Bus,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the root http.Handler, instrumented per request.
func (s *Server) Handler() http.Handler {
	return instrument(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/borrow", s.handleBorrow)
	s.mux.HandleFunc("/return", s.handleReturn)
	s.mux.HandleFunc("/submit", s.handleSubmit)
	s.mux.HandleFunc("/operations/", s.handleOperations)
	s.mux.HandleFunc("/admin/items", s.handleAdminItems)
	s.mux.HandleFunc("/admin/borrowed", s.handleAdminBorrowed)
	s.mux.HandleFunc("/admin/force-return", s.handleAdminForceReturn)
	s.mux.HandleFunc("/admin/operations", s.handleAdminOperationsList)
	s.mux.HandleFunc("/admin/operations/", s.handleAdminOperationByID)
	s.mux.HandleFunc("/admin/stats", s.handleAdminStats)
	s.mux.Handle("/static/", http.StripPrefix("/static/", staticHandler()))
	s.mux.HandleFunc("/admin", s.handleAdminUI)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := routeLabel(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, route)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/operations/") && strings.HasSuffix(path, "/events"):
		return "/operations/{id}/events"
	case strings.HasPrefix(path, "/operations/"):
		return "/operations/{id}"
	case strings.HasPrefix(path, "/admin/operations/"):
		return "/admin/operations/{id}"
	default:
		return path
	}
}

// --- borrow/return/submit ---

type borrowResponse struct {
	Item        json.RawMessage `json:"item"`
	BorrowToken string          `json:"borrow_token"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}

	var waitSeconds *int
	if raw := r.URL.Query().Get("wait"); raw != "" {
		secs, err := parseWait(raw)
		if err != nil {
			writeError(w, apierr.New(apierr.Validation, "invalid wait parameter"))
			return
		}
		waitSeconds = &secs
	}

	res, err := s.engine.Borrow(r.Context(), waitSeconds, nil)
	if err != nil {
		metrics.BorrowRequestsTotal.WithLabelValues(outcomeFor(err)).Inc()
		writeError(w, err)
		return
	}
	metrics.BorrowRequestsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, borrowResponse{Item: res.Item, BorrowToken: res.BorrowToken})
}

func outcomeFor(err error) string {
	if e, ok := apierr.As(err); ok {
		return string(e.Kind)
	}
	return "error"
}

func parseWait(raw string) (int, error) {
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, apierr.New(apierr.Validation, "invalid wait parameter")
	}
	return secs, nil
}

type returnRequest struct {
	Item        json.RawMessage `json:"item"`
	BorrowToken string          `json:"borrow_token"`
}

type acceptedResponse struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.Validation, "malformed request body", err))
		return
	}

	id, err := s.engine.Return(r.Context(), req.Item, req.BorrowToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{OperationID: id, Status: "accepted"})
}

type submitRequest struct {
	Item json.RawMessage `json:"item"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.Validation, "malformed request body", err))
		return
	}

	id, err := s.engine.Submit(r.Context(), req.Item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{OperationID: id, Status: "accepted"})
}

// --- operations ---

type operationStatusResponse struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/operations/")
	if strings.HasSuffix(rest, "/events") {
		id := strings.TrimSuffix(rest, "/events")
		s.handleOperationEvents(w, r, id)
		return
	}
	s.handleOperationStatus(w, r, rest)
}

func (s *Server) handleOperationStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	op, ok := s.ops.Get(id)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "unknown operation id"))
		return
	}
	writeJSON(w, http.StatusOK, operationStatusResponse{
		OperationID: op.ID,
		Status:      strings.ToLower(string(op.Status)),
		Message:     op.Message,
	})
}

func (s *Server) handleOperationEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.StoreError, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	listener := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, listener)
	metrics.SSEListenersTotal.Inc()
	defer metrics.SSEListenersTotal.Dec()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(w, flusher, broadcast.Heartbeat())
		case msg, ok := <-listener:
			if !ok {
				return
			}
			writeSSE(w, flusher, msg)
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, msg broadcast.Message) {
	body, err := broadcast.Encode(msg)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}

// --- responses ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusFor(err)
	log.WithComponent("server").Debug().Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
