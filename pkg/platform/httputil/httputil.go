// Package httputil centralizes JSON encoding and domain error translation for
// the HTTP transport, so every handler produces the same error envelope.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "smartop/pkg/domain-errors"
)

const maxRequestBody = 1 << 20

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope. Internal
// failures never leak their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		body["error_description"] = dErrors.MessageOf(err)
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Decode reads a JSON request body into T. On failure it writes an
// invalid_input response and returns false; the handler should return.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.DebugContext(r.Context(), "request decode failed", "error", err)
		WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed request body"))
		return req, false
	}
	return req, true
}
