package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"studydesk/internal/domain"
	"studydesk/internal/httputil"
	"studydesk/internal/service/tree"
)

// handleError converts domain errors to RFC 7807 responses.
// Gateway failures are checked first: a remote "not found" is still a 502.
func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}

	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "internal server error"
	}
	httputil.RespondProblem(w, status, code, detail)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrGatewayFailure):
		return http.StatusBadGateway, "gateway_failure"
	case errors.Is(err, domain.ErrInvalidName):
		return http.StatusBadRequest, "invalid_name"
	case errors.Is(err, domain.ErrInvalidParent):
		return http.StatusBadRequest, "invalid_parent"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrCycleDetected):
		return http.StatusUnprocessableEntity, "cycle_detected"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, tree.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
