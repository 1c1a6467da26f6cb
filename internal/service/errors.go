package service

import (
	"fmt"
	"net/http"
)

// NotConfiguredError is returned by every upstream-dependent operation until
// the client has been configured.
type NotConfiguredError struct{}

func (NotConfiguredError) Error() string {
	return "vika client not initialized"
}

func (e NotConfiguredError) Status() (int, string) {
	return http.StatusServiceUnavailable, e.Error()
}

var ErrNotConfigured = NotConfiguredError{}

// UpstreamError wraps a failed call to the Vika API with the operation that
// was attempted.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Status() (int, string) {
	return http.StatusInternalServerError, e.Error()
}

// InvalidConfigError rejects a client configuration.
type InvalidConfigError struct {
	Err error
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *InvalidConfigError) Unwrap() error {
	return e.Err
}

func (e *InvalidConfigError) Status() (int, string) {
	return http.StatusBadRequest, e.Error()
}
