package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrModelNotFound reports that the requested model identifier is unknown
	// or not available to the API key.
	ErrModelNotFound = errors.New("gemini: model not found")
	// ErrRateLimited reports that the quota for the key is exhausted.
	ErrRateLimited = errors.New("gemini: rate limited")
)

// APIError is a non-2xx response from the Generative Language API.
type APIError struct {
	StatusCode int
	Status     string // e.g. RESOURCE_EXHAUSTED
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini: %d: %s", e.StatusCode, e.Message)
}

// Is maps HTTP status codes onto the sentinel errors so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrModelNotFound:
		return e.StatusCode == http.StatusNotFound || e.Status == "NOT_FOUND"
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED"
	}
	return false
}

func newAPIError(statusCode int, raw []byte) *APIError {
	e := &APIError{StatusCode: statusCode}
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		e.Message = body.Error.Message
		e.Status = body.Error.Status
		return e
	}
	e.Message = http.StatusText(statusCode)
	if len(raw) > 0 && len(raw) < 512 {
		e.Message = string(raw)
	}
	return e
}
