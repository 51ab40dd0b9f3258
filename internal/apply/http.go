package apply

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hyperengineering/brigade/internal/api"
)

// Server exposes the sync protocol over HTTP. Used with httptest in the
// client tests and as the handler for embedded Go servers.
type Server struct {
	reconciler *Reconciler
	snapshots  *SnapshotBuilder
}

// NewServer builds the HTTP surface over the applier.
func NewServer(reconciler *Reconciler, snapshots *SnapshotBuilder) *Server {
	return &Server{reconciler: reconciler, snapshots: snapshots}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/sync/push", s.handlePush)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/sync/pull", s.handlePull)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Version: "1.0"})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	if tenant == "" {
		http.Error(w, "tenant required", http.StatusBadRequest)
		return
	}

	var req api.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp := s.reconciler.Apply(tenant, req.Changes)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	if tenant == "" {
		http.Error(w, "tenant required", http.StatusBadRequest)
		return
	}

	snapshot, err := s.snapshots.Build(tenant)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, api.PullResponse{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Data:      snapshot,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
