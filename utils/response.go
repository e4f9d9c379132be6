package utils

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

// Page is the data of a paginated list response.
type Page[T any] struct {
	Count    int64   `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

func statusText(code int) string {
	if code >= 200 && code < 300 {
		return "success"
	}
	return "error"
}

// WriteJSON writes data wrapped in the envelope. An empty message becomes
// "Success" or "Error" depending on code.
func WriteJSON(w http.ResponseWriter, code int, message string, data any) {
	writeEnvelope(w, code, Envelope{Status: statusText(code), Message: message, Data: data})
}

// WriteError writes an error envelope; errs, when non-nil, carries field errors.
func WriteError(w http.ResponseWriter, code int, message string, errs any) {
	writeEnvelope(w, code, Envelope{Status: statusText(code), Message: message, Errors: errs})
}

func writeEnvelope(w http.ResponseWriter, code int, env Envelope) {
	if env.Message == "" {
		if env.Status == "success" {
			env.Message = "Success"
		} else {
			env.Message = "Error"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(env)
}
