package api

import (
	"encoding/json"
	"net/http"

	"github.com/openrunner/openrunner/internal/apperr"
)

// apiError is the standard error response body.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// jsonResponse writes a 200 JSON response.
func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// jsonResponseStatus writes a JSON response with an explicit status code.
func jsonResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// jsonError writes a plain error message at the given status.
func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Error: message})
}

// handleError inspects err for a typed *apperr.Error and writes the matching
// HTTP status. Any other error (for example a failed transaction returned
// as is by several Config Store updates) is written with status 500 and its
// own raw message.
func handleError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if apperr.As(err, &appErr) {
		jsonError(w, appErr.Error(), appErr.HTTPStatus())
		return
	}
	jsonError(w, err.Error(), http.StatusInternalServerError)
}

// noContent writes a 204 response.
func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON decodes the request body into v, returning a *apperr.Error on
// failure.
func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Parse("decode request body", err)
	}
	return nil
}
