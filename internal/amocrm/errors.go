package amocrm

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for API operations
var (
	// ErrNoContent indicates the API answered 204 No Content (empty page or missing record)
	ErrNoContent = errors.New("no content")

	// ErrUnauthorized indicates the access token was rejected
	ErrUnauthorized = errors.New("access token rejected")
)

// APIError describes any failure talking to the amoCRM API: transport errors,
// authorization failures, validation errors and empty responses.
type APIError struct {
	StatusCode int    // 0 for transport failures
	Title      string // problem+json title, if any
	Detail     string // problem+json detail or raw body
	Err        error  // underlying cause
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("amocrm request failed: %v", e.Err)
	case e.Title != "" && e.Detail != "":
		return fmt.Sprintf("amocrm error %d: %s: %s", e.StatusCode, e.Title, e.Detail)
	case e.Title != "":
		return fmt.Sprintf("amocrm error %d: %s", e.StatusCode, e.Title)
	case e.Detail != "":
		return fmt.Sprintf("amocrm error %d: %s", e.StatusCode, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("amocrm error %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("amocrm error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// problem is the application/problem+json body amoCRM returns on errors.
type problem struct {
	Title            string `json:"title"`
	Type             string `json:"type"`
	Status           int    `json:"status"`
	Detail           string `json:"detail"`
	ValidationErrors []struct {
		RequestID string `json:"request_id"`
		Errors    []struct {
			Code   string `json:"code"`
			Path   string `json:"path"`
			Detail string `json:"detail"`
		} `json:"errors"`
	} `json:"validation-errors"`
}

// IsAPIError reports whether err is (or wraps) an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
