package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nordbrew/standing-orders/pkg/batch"
)

// runLockKey names the batch single-flight lock; runLockTTL bounds how long
// a crashed run can hold it. Runs over large customer bases take hours under
// the outbound pacing, so the TTL is sized well past a normal run.
const (
	runLockKey = "standing-orders:run"
	runLockTTL = 6 * time.Hour
)

var validate = validator.New()

// saveRequest is the proxy POST body.
type saveRequest struct {
	CustomerID int64           `json:"customer_id" validate:"required"`
	Data       json.RawMessage `json:"data" validate:"required"`
}

// runResponse wraps a batch report for the job endpoint.
type runResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	*batch.Report
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "standing-orders service")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "shop": s.shop})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !s.verifier.Verify(query, query.Get("signature")) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	customerID, err := strconv.ParseInt(query.Get("customer_id"), 10, 64)
	if err != nil || customerID <= 0 {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	doc, err := s.prefs.Get(r.Context(), customerID)
	if err != nil {
		s.logger.Error().Int64("customer_id", customerID).Err(err).Msg("preference fetch failed")
		writeError(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": doc})
}

func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !s.verifier.Verify(query, query.Get("signature")) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "customer_id and data are required")
		return
	}
	// A literal JSON null decodes to a non-empty RawMessage and would slip
	// past the required check; treat it as a missing document.
	if string(bytes.TrimSpace(req.Data)) == "null" {
		writeError(w, http.StatusBadRequest, "customer_id and data are required")
		return
	}

	if err := s.prefs.Save(r.Context(), req.CustomerID, req.Data); err != nil {
		s.logger.Error().Int64("customer_id", req.CustomerID).Err(err).Msg("preference save failed")
		writeError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	release, ok, err := s.locker.Acquire(r.Context(), runLockKey, runLockTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("run lock acquisition failed")
		writeError(w, http.StatusInternalServerError, "failed to acquire run lock")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "a standing-order run is already in progress")
		return
	}
	defer release()

	// The run must outlive the trigger connection: a scheduler-side timeout
	// or disconnect cannot be allowed to cancel a multi-hour run partway
	// through, since created drafts are never rolled back.
	report, err := s.orch.RunDaily(context.WithoutCancel(r.Context()))
	if err != nil {
		// The report still carries everything the partial run created;
		// already-created draft orders are never rolled back.
		writeJSON(w, http.StatusInternalServerError, runResponse{Error: err.Error(), Report: report})
		return
	}

	writeJSON(w, http.StatusOK, runResponse{OK: true, Report: report})
}
