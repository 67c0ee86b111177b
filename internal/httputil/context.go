package httputil

import (
	"context"
	"net/http"
)

type contextKey string

const ownerIDKey contextKey = "ownerID"

// OwnerHeader carries the id of the owner whose tree a request acts on
const OwnerHeader = "X-Owner-ID"

// WithOwnerID adds ownerID to the request context
func WithOwnerID(r *http.Request, ownerID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ownerIDKey, ownerID))
}

// GetOwnerID retrieves the owner id from context, returns empty string if not found
func GetOwnerID(r *http.Request) string {
	ownerID, _ := r.Context().Value(ownerIDKey).(string)
	return ownerID
}
