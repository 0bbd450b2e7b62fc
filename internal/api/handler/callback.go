package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"querydock/internal/api/response"
	"querydock/internal/store"
	"querydock/pkg/models"
)

// NewJobCallbackHandler returns an http.HandlerFunc for
// POST /callbacks/job-result, the internal endpoint the classification
// service reports job outcomes to. Re-delivery of an identical callback is
// acknowledged; a conflicting one is rejected with 409 so the sender's retry
// loop surfaces the bug instead of silently overwriting the ledger.
func NewJobCallbackHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID          string                  `json:"jobId"`
			ErrorResult    *models.ErrorResult     `json:"errorResult"`
			ClassifyResult []models.ClassifyResult `json:"classifyResult"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if req.JobID == "" {
			response.Error(w, http.StatusBadRequest, "jobId is required")
			return
		}
		if req.ErrorResult != nil && len(req.ClassifyResult) > 0 {
			response.Error(w, http.StatusBadRequest, "errorResult and classifyResult are mutually exclusive")
			return
		}

		outcome := store.CallbackOutcome{
			ClassifyResults: req.ClassifyResult,
			ErrorResult:     req.ErrorResult,
		}
		if err := st.ApplyJobCallback(r.Context(), req.JobID, outcome); err != nil {
			switch {
			case errors.Is(err, store.ErrUnknownJob):
				response.Error(w, http.StatusNotFound, "unknown job id")
			case errors.Is(err, store.ErrDuplicateCallback):
				response.Error(w, http.StatusConflict, "conflicting callback for already-reported job")
			default:
				response.Error(w, http.StatusInternalServerError, "failed to record job result")
			}
			return
		}

		response.OK(w, nil)
	}
}
