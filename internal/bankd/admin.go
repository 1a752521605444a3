package bankd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

type maintenanceBody struct {
	Reason string `json:"reason"`
}

type healthBody struct {
	Status      string `json:"status"`
	Maintenance bool   `json:"maintenance"`
	Reason      string `json:"reason,omitempty"`
}

// AdminRouter serves the operator endpoints:
//
//	GET    /health            liveness, always 200
//	GET    /v1/health/ready   200 when serving customers, 503 in maintenance
//	PUT    /maintenance       enter maintenance, optional {"reason": "..."}
//	DELETE /maintenance       leave maintenance
func (b *Bank) AdminRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", b.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/health/ready", b.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/maintenance", b.handleMaintenanceOn).Methods(http.MethodPut)
	r.HandleFunc("/maintenance", b.handleMaintenanceOff).Methods(http.MethodDelete)
	return r
}

func (b *Bank) handleHealth(w http.ResponseWriter, _ *http.Request) {
	down, reason := b.Maintenance()
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", Maintenance: down, Reason: reason})
}

func (b *Bank) handleReady(w http.ResponseWriter, _ *http.Request) {
	down, reason := b.Maintenance()
	if down {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{Status: "maintenance", Maintenance: true, Reason: reason})
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ready"})
}

func (b *Bank) handleMaintenanceOn(w http.ResponseWriter, r *http.Request) {
	var body maintenanceBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "Scheduled maintenance"
	}
	b.SetMaintenance(true, reason)
	writeJSON(w, http.StatusOK, healthBody{Status: "maintenance", Maintenance: true, Reason: reason})
}

func (b *Bank) handleMaintenanceOff(w http.ResponseWriter, _ *http.Request) {
	b.SetMaintenance(false, "")
	writeJSON(w, http.StatusOK, healthBody{Status: "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
