package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

//go:generate mockgen -source=api.go -destination=mock_manager/mock_api.go -package=mock_manager

// KernelModel describes a running kernel as reported by the lifecycle API.
type KernelModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
	LastActivity   string `json:"last_activity,omitempty"`
	Connections    int    `json:"connections,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Traceback      string `json:"traceback,omitempty"`
}

func (m KernelModel) String() string {
	return fmt.Sprintf("KernelModel[id=%s, name=%s, state=%s]", m.ID, m.Name, m.ExecutionState)
}

// KernelAPI is the lifecycle (REST) API of the server that hosts the kernels.
//
// Implementations return a *NetworkError when the server could not be reached and a
// *ResponseError when it answered with an unexpected status.
type KernelAPI interface {
	// ListRunning returns the running kernels, in the order the server lists them.
	ListRunning(ctx context.Context) ([]KernelModel, error)

	// StartNew starts a kernel of the named kernelspec. An empty name selects the server default.
	StartNew(ctx context.Context, name string) (KernelModel, error)

	// Shutdown shuts the kernel down.
	Shutdown(ctx context.Context, id string) error

	// Get returns the model of one kernel.
	Get(ctx context.Context, id string) (KernelModel, error)
}

// NetworkError indicates that a lifecycle request never received a response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ResponseError indicates that the server answered a lifecycle request with an unexpected status.
type ResponseError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with status %d (%s)", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsNetworkFailure returns true if err means the server is unreachable: a *NetworkError, or a
// *ResponseError with status 503 (Service Unavailable) or 424 (Failed Dependency).
func IsNetworkFailure(err error) bool {
	var networkErr *NetworkError
	if errors.As(err, &networkErr) {
		return true
	}

	var responseErr *ResponseError
	if errors.As(err, &responseErr) {
		return responseErr.StatusCode == http.StatusServiceUnavailable || responseErr.StatusCode == http.StatusFailedDependency
	}

	return false
}

func isNotFound(err error) bool {
	var responseErr *ResponseError
	return errors.As(err, &responseErr) && responseErr.StatusCode == http.StatusNotFound
}
