package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the uniform JSON error body every gateway endpoint
// returns, quota denials excepted (those carry a structured payload).
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithError writes message as a JSON error body. Handlers keep
// these messages generic; rasterizer stderr never reaches clients
// through this path.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithJSON writes payload as JSON with the given status.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}
