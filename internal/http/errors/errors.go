package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   bool   `json:"error"`
}

// Response is the envelope of API calls that return a message.
type Response struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

// Write sends an error envelope with message.
func Write(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Message: message, Error: true})
}

// OK sends a success envelope.
func OK(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{Message: message, Success: true, Data: data})
}

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	// Return generic error to client
	Write(w, http.StatusInternalServerError, "Internal server error")
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	logger(r).Warn("bad request", "error", err)
	Write(w, http.StatusBadRequest, clientMessage)
}

func LogError(r *http.Request, message string, err error) {
	logger(r).Error(message, "error", err)
}

func LogInfo(r *http.Request, message string, args ...any) {
	logger(r).Info(message, args...)
}

func logger(r *http.Request) *slog.Logger {
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		return slog.Default().With("request_id", requestID)
	}
	return slog.Default()
}
