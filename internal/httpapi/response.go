package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

// SendJSON sends a JSON response with the given status code
func SendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// SendError sends an error response
func SendError(w http.ResponseWriter, message string, statusCode int) {
	SendJSON(w, statusCode, model.Response{
		Success: false,
		Message: message,
	})
}

// SendSuccess sends a success response
func SendSuccess(w http.ResponseWriter, data interface{}) {
	SendJSON(w, http.StatusOK, model.Response{
		Success: true,
		Data:    data,
	})
}
