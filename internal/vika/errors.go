package vika

import "fmt"

// APIError is a failure reported by the Vika API, either through the HTTP
// status or through an unsuccessful response envelope.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("vika API error %d (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vika API error (HTTP %d): %s", e.StatusCode, e.Message)
}
