package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/app"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/calendar"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/domain"
	"github.com/jeongwoo1020/MADCAMP-W2-Backend/internal/store"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error      string             `json:"error"`
	Code       string             `json:"code"`
	Retryable  bool               `json:"retryable,omitempty"`
	Submission *domain.Submission `json:"submission,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondWithServiceError maps engine and store errors onto HTTP statuses.
func respondWithServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var dup *app.DuplicateSubmissionError
	switch {
	case errors.As(err, &dup):
		respondWithJSON(w, http.StatusConflict, errorResponse{
			Error:      err.Error(),
			Code:       "duplicate_submission",
			Submission: dup.Existing,
		})
	case errors.Is(err, app.ErrInvalidRequest),
		errors.Is(err, calendar.ErrInvalidWeekday),
		errors.Is(err, calendar.ErrInvalidCutoff):
		respondWithError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, app.ErrNotAMember):
		respondWithError(w, http.StatusForbidden, "not_a_member", err.Error())
	case errors.Is(err, app.ErrNotSubmissionOwner):
		respondWithError(w, http.StatusForbidden, "not_submission_owner", err.Error())
	case errors.Is(err, store.ErrCommunityNotFound):
		respondWithError(w, http.StatusNotFound, "community_not_found", err.Error())
	case errors.Is(err, store.ErrSubmissionNotFound):
		respondWithError(w, http.StatusNotFound, "submission_not_found", err.Error())
	case errors.Is(err, store.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, app.ErrDuplicateSubmission):
		respondWithError(w, http.StatusConflict, "duplicate_submission", err.Error())
	case errors.Is(err, app.ErrAlreadyMember):
		respondWithError(w, http.StatusConflict, "already_member", err.Error())
	case errors.Is(err, store.ErrCommunitySlugTaken):
		respondWithError(w, http.StatusConflict, "slug_taken", err.Error())
	case errors.Is(err, app.ErrConcurrencyConflict):
		respondWithJSON(w, http.StatusConflict, errorResponse{
			Error:     app.ErrConcurrencyConflict.Error(),
			Code:      "concurrency_conflict",
			Retryable: true,
		})
	case errors.Is(err, app.ErrSweepInProgress):
		respondWithError(w, http.StatusLocked, "sweep_in_progress", err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
	}
}
