package types

import (
	"fmt"
	"time"
)

// ServiceState is the observed or desired state of a remote service.
type ServiceState string

const (
	ServiceStateUnknown ServiceState = "unknown"
	ServiceStateRunning ServiceState = "running"
	ServiceStateStopped ServiceState = "stopped"
)

// Operation is a typed service control operation.
type Operation int

const (
	OpStart Operation = iota
	OpStop
)

func (o Operation) String() string {
	switch o {
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// TargetState returns the state a service is in after the operation succeeds.
func (o Operation) TargetState() ServiceState {
	if o == OpStart {
		return ServiceStateRunning
	}
	return ServiceStateStopped
}

// OperationFor returns the operation that drives a service into the desired state.
func OperationFor(desired ServiceState) (Operation, error) {
	switch desired {
	case ServiceStateRunning:
		return OpStart, nil
	case ServiceStateStopped:
		return OpStop, nil
	default:
		return 0, fmt.Errorf("no operation reaches service state %q", desired)
	}
}

// ServiceHandle tracks one service on one node. It is mutated by the remote
// executor and owned by the run controller.
type ServiceHandle struct {
	Node     Node          `json:"node"`
	Service  string        `json:"service"`
	Desired  ServiceState  `json:"desired"`
	Observed ServiceState  `json:"observed"`
	Changed  bool          `json:"changed"` // a transition command was issued
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// Reached reports whether the observed state matches the desired state.
func (h *ServiceHandle) Reached() bool {
	return h != nil && h.Observed == h.Desired
}
