package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is an error response from the API. Operator routes answer with
// RFC 7807 problem documents; health probes with a status envelope.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "" && e.Title != "":
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	default:
		return http.StatusText(e.StatusCode)
	}
}

// IsAuthError reports a missing, invalid or under-scoped token.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict is true when a maintenance cycle is already running.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsUnavailable is true when the daemon is not ready or operator routes
// are disabled.
func (e *APIError) IsUnavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

func parseError(status int, body []byte) error {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if json.Unmarshal(body, &problem) == nil {
		apiErr.Title = problem.Title
		apiErr.Detail = problem.Detail
		if apiErr.Detail == "" {
			apiErr.Detail = problem.Error
		}
	}
	if apiErr.Title == "" && apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	return apiErr
}
