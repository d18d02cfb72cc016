package b2api

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the JSON error body B2 returns on any non-2xx response.
type APIError struct {
	Op      string `json:"-"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed: %d %s", e.Op, e.Status, e.Code)
	}
	return fmt.Sprintf("%s failed: %d %s: %s", e.Op, e.Status, e.Code, e.Message)
}

// StatusCode returns the HTTP status of err if it carries one, else 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsAuthExpired reports whether err means the account token must be renewed.
func IsAuthExpired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status != http.StatusUnauthorized {
		return false
	}
	switch apiErr.Code {
	case "expired_auth_token", "bad_auth_token":
		return true
	}
	return false
}
