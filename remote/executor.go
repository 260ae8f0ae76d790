package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/aura-net/mcast-acceptor/metrics"
	"github.com/aura-net/mcast-acceptor/types"
)

const DefaultPollInterval = 500 * time.Millisecond

// Executor drives services on nodes into a desired state. Each service name is
// bound to the ServiceController that knows how to control it.
type Executor struct {
	log          log.Logger
	pollInterval time.Duration

	mu          sync.RWMutex
	controllers map[string]ServiceController
}

// NewExecutor creates an executor. A non-positive poll interval uses
// DefaultPollInterval.
func NewExecutor(logger log.Logger, pollInterval time.Duration) *Executor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Executor{
		log:          logger.New("component", "executor"),
		pollInterval: pollInterval,
		controllers:  make(map[string]ServiceController),
	}
}

// Register binds a service name to its controller.
func (e *Executor) Register(service string, ctrl ServiceController) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.controllers[service] = ctrl
}

func (e *Executor) controller(service string) (ServiceController, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ctrl, ok := e.controllers[service]
	if !ok {
		return nil, fmt.Errorf("no controller registered for service %s", service)
	}
	return ctrl, nil
}

// SetServiceState drives service on node into desired within timeout. It is
// idempotent: when the service is already in the desired state no command is
// issued and the returned handle has Changed=false. The handle is always
// returned, also on error, with the last observed state.
func (e *Executor) SetServiceState(ctx context.Context, node types.Node, service string, desired types.ServiceState, timeout time.Duration) (*types.ServiceHandle, error) {
	start := time.Now()
	handle := &types.ServiceHandle{
		Node:     node,
		Service:  service,
		Desired:  desired,
		Observed: types.ServiceStateUnknown,
	}

	err := e.setServiceState(ctx, handle, timeout)
	handle.Elapsed = time.Since(start)
	metrics.RecordServiceTransition(node.ID, service, desired, err, handle.Elapsed)

	logger := e.log.New("node", node.ID, "service", service, "desired", desired)
	if err != nil {
		logger.Warn("Service did not reach desired state", "observed", handle.Observed, "elapsed", handle.Elapsed, "err", err)
		return handle, err
	}
	logger.Debug("Service reached desired state", "changed", handle.Changed, "elapsed", handle.Elapsed)
	return handle, nil
}

func (e *Executor) setServiceState(ctx context.Context, handle *types.ServiceHandle, timeout time.Duration) error {
	op, err := types.OperationFor(handle.Desired)
	if err != nil {
		return err
	}
	ctrl, err := e.controller(handle.Service)
	if err != nil {
		return err
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	// Parent cancellation is reported as is; only our own deadline becomes a
	// TimeoutError.
	wrap := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &types.TimeoutError{
				Node:     handle.Node.ID,
				Service:  handle.Service,
				Desired:  handle.Desired,
				Observed: handle.Observed,
				Timeout:  timeout,
			}
		}
		return err
	}

	state, err := ctrl.Status(callCtx, handle.Node, handle.Service)
	if err != nil {
		return wrap(err)
	}
	handle.Observed = state
	if handle.Reached() {
		return nil
	}

	handle.Changed = true
	if err := ctrl.Apply(callCtx, handle.Node, handle.Service, op); err != nil {
		return wrap(err)
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		state, err := ctrl.Status(callCtx, handle.Node, handle.Service)
		if err != nil {
			return wrap(err)
		}
		handle.Observed = state
		if handle.Reached() {
			return nil
		}

		select {
		case <-callCtx.Done():
			return wrap(callCtx.Err())
		case <-ticker.C:
		}
	}
}
