// Package response provides the uniform JSON envelope used by all handlers.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the shape of every response body: a human-readable message and
// an optional data payload.
type Envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// JSON writes an envelope with the given status, message and data. A nil data
// payload is rendered as an empty object rather than null.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	if data == nil {
		data = struct{}{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Message: message, Data: data}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// OK writes a 200 envelope with message "ok".
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, "ok", data)
}

// Created writes a 201 envelope with message "created".
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, "created", data)
}

// Error writes an error envelope with an empty data object.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, message, nil)
}
