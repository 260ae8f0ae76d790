package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/aura-net/mcast-acceptor/store"
	"github.com/aura-net/mcast-acceptor/types"
)

const defaultHistoryLimit = 20

// Status is the live view of the acceptor served at /status.
type Status struct {
	Version    string           `json:"version"`
	RunID      string           `json:"run_id,omitempty"`
	Phase      types.Phase      `json:"phase"`
	Running    bool             `json:"running"`
	Runs       int              `json:"runs"`
	LastStatus types.RunStatus  `json:"last_status,omitempty"`
	LastRun    *types.RunResult `json:"last_run,omitempty"`
}

// StatusProvider reports what the acceptor is doing right now.
type StatusProvider interface {
	CurrentStatus() Status
}

// HistoryProvider lists previous runs. store.Store satisfies it.
type HistoryProvider interface {
	RecentRuns(ctx context.Context, limit int) ([]store.Run, error)
}

type StatusServer struct {
	server  *http.Server
	status  StatusProvider
	history HistoryProvider
	log     log.Logger
}

// NewStatusServer builds the server for addr without listening yet.
func NewStatusServer(addr string, status StatusProvider, history HistoryProvider, logger log.Logger) *StatusServer {
	s := &StatusServer{
		status:  status,
		history: history,
		log:     logger,
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes of the status server.
func (s *StatusServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

// ListenAndServe blocks until the server fails or is shut down. It returns
// http.ErrServerClosed once Shutdown was called, also when Shutdown came first.
func (s *StatusServer) ListenAndServe() error {
	return s.server.ListenAndServe()
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.CurrentStatus())
}

func (s *StatusServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "run history is not configured", http.StatusNotFound)
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.history.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("failed to list runs", "err", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
