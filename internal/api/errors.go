package api

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a structured error returned by the HTTP API.
type APIError struct {
	Status    int
	Code      string
	ErrorCode int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	switch {
	case e.Code != "" && msg != "":
		msg = e.Code + ": " + msg
	case msg == "" && e.Status > 0:
		msg = fmt.Sprintf("api error: %d", e.Status)
	case msg == "":
		msg = "api error"
	}
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is an API 401.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
