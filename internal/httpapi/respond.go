package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"huddle.org/internal/auth"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeAuthError maps the auth failure taxonomy to HTTP responses. Internal
// failures (storage, cache, mail) surface as a generic 500 with no detail.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrChallengeInvalid):
		writeError(w, http.StatusBadRequest, "verification code missing or incorrect")
	case errors.Is(err, auth.ErrDuplicateUser):
		writeError(w, http.StatusBadRequest, "user already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "invalid username or password")
	case errors.Is(err, auth.ErrEmailMismatch):
		writeError(w, http.StatusBadRequest, "please use the email you registered with")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "session invalid, please re-authenticate")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
