package panorama

import (
	"fmt"
)

// ConnectivityError means the management endpoint failed the reachability
// probe. No API call is attempted after it.
type ConnectivityError struct {
	Addr string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("unable to connect to panorama at %s: %v", e.Addr, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// APIError is a failed fetch: a non-200 status, an error status in the
// response body, or a body that is not a valid API response.
type APIError struct {
	Call       string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api call %s failed", e.Call)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }
