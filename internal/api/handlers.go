package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBrokers lists every registered broker, available or not.
func (s *Server) handleBrokers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ListBrokersResponse{Brokers: s.svc.reg.List()})
}

// handleBroker returns the metadata of one broker key.
func (s *Server) handleBroker(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.reg.BrokerInfo(chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.reg.Stats())
}

// handleAccounts lists configured accounts and their session state.
func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"accounts": s.svc.accounts.Status()})
}

// handleCompare ranks the requested accounts by estimated cost.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Kind: "validation"})
		return
	}
	cmp, err := s.svc.Compare(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errorKind(err)
	status := httpStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
