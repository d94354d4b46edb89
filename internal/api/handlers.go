package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/choirstage/worker/internal/models"
	"github.com/choirstage/worker/internal/worker"
)

type Handler struct {
	worker *worker.Worker
}

func NewHandler(w *worker.Worker) *Handler {
	return &Handler{worker: w}
}

// Health handles GET / and GET /health — the liveness payload callers poll.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "worker running",
		Service: "choir-worker",
	})
}

// SubmitOffset handles POST /worker/offset. Payloads on this endpoint
// predate the job_type field, so it is implied.
func (h *Handler) SubmitOffset(w http.ResponseWriter, r *http.Request) {
	contract, err := models.ParseContract(r.Body, models.JobTypeOffsetDetection)
	if err != nil {
		respondValidation(w, err)
		return
	}
	if contract.JobType != models.JobTypeOffsetDetection {
		respondError(w, http.StatusBadRequest, "job_type must be offset_detection on this endpoint")
		return
	}

	respondJSON(w, http.StatusOK, h.worker.ProcessOffset(r.Context(), contract))
}

// SubmitJob handles POST /, keyed by the contract's job_type.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	contract, err := models.ParseContract(r.Body, "")
	if err != nil {
		respondValidation(w, err)
		return
	}

	switch contract.JobType {
	case models.JobTypeOffsetDetection:
		respondJSON(w, http.StatusOK, h.worker.ProcessOffset(r.Context(), contract))
	case models.JobTypeChoirRender:
		// Render failures come back as a structured error payload, not a 5xx:
		// the job ran, it just didn't succeed.
		respondJSON(w, http.StatusOK, h.worker.ProcessRender(r.Context(), contract))
	default:
		respondError(w, http.StatusBadRequest, "unknown job_type: "+string(contract.JobType))
	}
}

func respondValidation(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		respondError(w, http.StatusBadRequest, vErr.Msg)
		return
	}
	respondError(w, http.StatusBadRequest, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
