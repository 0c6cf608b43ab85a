package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

// retryAfter is the Retry-After hint, in seconds, sent with retryable errors.
const retryAfter = 5

type ErrorResponse struct {
	Detail string `json:"detail"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logx.Error().Err(err).Msg("failed to encode response")
	}
}

// respondError writes the single error envelope. Untyped errors are reported
// as internal failures without their details.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := errx.StatusOf(err)
	message := errx.SystemErrorMessage
	var appErr *errx.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	event := logx.Warn()
	if status >= http.StatusInternalServerError {
		event = logx.Error()
	}
	event.Err(err).
		Str("kind", string(errx.KindOf(err))).
		Int("status", status).
		Str("request_id", chimiddleware.GetReqID(r.Context())).
		Msg("request failed")

	if errx.IsRetryable(err) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	respondJSON(w, status, ErrorResponse{Detail: "Error processing request: " + message})
}
