package api

import (
	"encoding/json"
	"net/http"

	"bds-warehouse/utils"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// respondJSON writes a JSON response with the given status code and data.
func respondJSON(w http.ResponseWriter, logger *utils.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("[api] Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code and error message.
func respondError(w http.ResponseWriter, logger *utils.Logger, status int, err error) {
	respondJSON(w, logger, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}
