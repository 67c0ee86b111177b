package handler

import (
	"net/http"
	"time"

	"studydesk/internal/httputil"
)

// SessionCounter reports how many owner sessions are open
type SessionCounter interface {
	Len() int
}

// HealthCheck returns a simple health check endpoint
// GET /health
func HealthCheck(sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"time":     time.Now(),
			"sessions": sessions.Len(),
		})
	}
}
