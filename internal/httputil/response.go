package httputil

import (
	"encoding/json"
	"net/http"
)

// RespondJSON writes data as JSON. The body is encoded before the status line
// goes out, so an encoding failure still yields a clean 500.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

// Problem is an RFC 7807 body. Code is the machine-readable error class the
// tree client switches on (not_found, cycle_detected, gateway_failure, ...).
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

// RespondError writes a problem with no code
func RespondError(w http.ResponseWriter, status int, detail string) {
	RespondProblem(w, status, "", detail)
}

// RespondProblem writes an application/problem+json response
func RespondProblem(w http.ResponseWriter, status int, code, detail string) {
	payload, err := json.Marshal(Problem{
		Type:   problemType(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	})
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	w.Write(payload)
}

const rfc9110 = "https://datatracker.ietf.org/doc/html/rfc9110#section-"

var problemSections = map[int]string{
	http.StatusBadRequest:          "15.5.1",
	http.StatusNotFound:            "15.5.5",
	http.StatusUnprocessableEntity: "15.5.21",
	http.StatusInternalServerError: "15.6.1",
	http.StatusBadGateway:          "15.6.3",
	http.StatusServiceUnavailable:  "15.6.4",
	http.StatusGatewayTimeout:      "15.6.5",
}

func problemType(status int) string {
	if s, ok := problemSections[status]; ok {
		return rfc9110 + s
	}
	return "about:blank"
}
