package nexia

import (
	"fmt"
	"strings"
)

// AuthenticationError covers bad credentials, an exhausted login-attempt
// budget and redirects into the account-recovery flow.  It is fatal to the
// current login attempt and is never retried beyond the documented 302 path.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

// HTTPError is any non-2xx response other than the internally handled
// 302 (session expiry) and 304 (no change) cases.  The response body is
// carried for diagnostics.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// ProtocolError means a response decoded fine but the expected envelope
// shape was missing, i.e. the vendor broke its own contract.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// ValidationError is raised before any network call when a requested
// setpoint, mode or sensor selection is out of range.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports an unknown identifier along with the identifiers
// that would have been valid, to aid debugging.
type NotFoundError struct {
	Kind     string
	ID       string
	ValidIDs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s ID (%s) not found, valid IDs: %s",
		e.Kind, e.ID, strings.Join(e.ValidIDs, ", "))
}

// ConfigurationError indicates a gap in our endpoint modelling, such as a
// vendor action link asking for an HTTP method we do not implement.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}
