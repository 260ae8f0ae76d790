package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ConnectionError means a node could not be reached. It is fatal for that
// node only.
type ConnectionError struct {
	Node string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to node %s failed: %v", e.Node, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError means a service did not reach the desired state in time.
type TimeoutError struct {
	Node     string
	Service  string
	Desired  ServiceState
	Observed ServiceState
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("service %s on node %s did not reach %s within %s (last observed %s)",
		e.Service, e.Node, e.Desired, e.Timeout, e.Observed)
}

// ServiceError means a remote control command reported failure.
type ServiceError struct {
	Node     string
	Service  string
	Op       Operation
	ExitCode int
	Stderr   string
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("%s of service %s on node %s failed with exit code %d", e.Op, e.Service, e.Node, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// NotFoundError means a remote artifact does not exist.
type NotFoundError struct {
	Node string
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file %s not found on node %s", e.Path, e.Node)
}

// PartialTransferError means the local copy size differs from the remote size.
type PartialTransferError struct {
	Node     string
	Path     string
	Expected int64
	Actual   int64
}

func (e *PartialTransferError) Error() string {
	return fmt.Sprintf("partial transfer of %s from node %s: expected %d bytes, got %d",
		e.Path, e.Node, e.Expected, e.Actual)
}

// ParseError describes a malformed log line. It is never fatal.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// ErrorKind is the recorded class of an infrastructure error.
type ErrorKind string

const (
	ErrorKindConnection      ErrorKind = "connection"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindService         ErrorKind = "service"
	ErrorKindNotFound        ErrorKind = "not_found"
	ErrorKindPartialTransfer ErrorKind = "partial_transfer"
	ErrorKindCancelled       ErrorKind = "cancelled"
	ErrorKindSkipped         ErrorKind = "skipped"
	ErrorKindInternal        ErrorKind = "internal"
)

// ErrSkipped marks work that was not attempted because a prerequisite failed.
var ErrSkipped = errors.New("skipped")

// ClassifyError maps an error onto the recorded taxonomy.
func ClassifyError(err error) ErrorKind {
	var (
		connErr    *ConnectionError
		timeoutErr *TimeoutError
		svcErr     *ServiceError
		nfErr      *NotFoundError
		partialErr *PartialTransferError
	)
	switch {
	case errors.As(err, &connErr):
		return ErrorKindConnection
	case errors.As(err, &timeoutErr):
		return ErrorKindTimeout
	case errors.As(err, &svcErr):
		return ErrorKindService
	case errors.As(err, &nfErr):
		return ErrorKindNotFound
	case errors.As(err, &partialErr):
		return ErrorKindPartialTransfer
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrSkipped):
		return ErrorKindSkipped
	default:
		return ErrorKindInternal
	}
}

// ErrorRecord is an error attached to a run result.
type ErrorRecord struct {
	Node    string    `json:"node,omitempty"`
	Phase   Phase     `json:"phase"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
