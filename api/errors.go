package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrAuthExpired means the 401-refresh-retry path has been exhausted: there
// was no refresh token, or the refresh call itself failed. The token store
// has already been cleared by the time a caller sees this.
var ErrAuthExpired = errors.New("authentication expired")

// APIError is any non-2xx response that carried a response envelope.
type APIError struct {
	Status  int
	Message string
	// Errors holds field-level validation messages when the server
	// rejected the request body.
	Errors map[string]string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("api error %d: %s %v", e.Status, e.Message, e.Errors)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsValidation reports whether err is a server-side validation failure with
// field errors attached.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && len(apiErr.Errors) > 0
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}
