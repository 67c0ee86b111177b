package middleware

import (
	"net/http"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"studydesk/internal/httputil"
)

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)

// Owner reads the owner id from the X-Owner-ID header and stores it in the
// request context. Requests without a usable owner are rejected with 400.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(httputil.OwnerHeader)
		err := validation.Validate(ownerID,
			validation.Required.Error("header is required"),
			validation.Length(1, 128),
			validation.Match(ownerPattern),
		)
		if err != nil {
			httputil.RespondProblem(w, http.StatusBadRequest, "invalid_owner", httputil.OwnerHeader+": "+err.Error())
			return
		}

		next.ServeHTTP(w, httputil.WithOwnerID(r, ownerID))
	})
}
