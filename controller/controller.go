// Package controller orchestrates a multicast run: start receivers, start the
// transmitter, wait, stop everything, collect logs and compare them.
package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aura-net/mcast-acceptor/metrics"
	"github.com/aura-net/mcast-acceptor/types"
)

const (
	DefaultRunDuration    = time.Minute
	DefaultServiceTimeout = 30 * time.Second
	LogsDir               = "logs"
)

// Executor changes the state of a service on a node.
type Executor interface {
	SetServiceState(ctx context.Context, node types.Node, service string, desired types.ServiceState, timeout time.Duration) (*types.ServiceHandle, error)
}

// Fetcher retrieves a file from a node.
type Fetcher interface {
	Fetch(ctx context.Context, node types.Node, remotePath, localPath string) (int64, error)
}

// Comparator compares the transmit log with one client's receive log.
type Comparator interface {
	CompareFiles(ctx context.Context, client, transmitPath, receivePath string) (*types.ComparisonResult, error)
}

type Config struct {
	RunID    string
	Topology string
	// OutputDir receives logs/<node>.log for every fetched log.
	OutputDir      string
	RunDuration    time.Duration
	ServiceTimeout time.Duration
	// MaxParallel bounds concurrent node tasks per phase. Zero means one task
	// per node.
	MaxParallel int
	Log         log.Logger
}

// Controller runs one multicast test. A Controller is single use.
type Controller struct {
	cfg        Config
	plan       Plan
	executor   Executor
	fetcher    Fetcher
	comparator Comparator
	log        log.Logger
	tracer     trace.Tracer

	mu        sync.RWMutex
	phase     types.Phase
	observers []func(types.Phase)
}

func New(cfg Config, plan Plan, executor Executor, fetcher Fetcher, comparator Comparator) (*Controller, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if cfg.RunID == "" {
		return nil, errors.New("run id is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.RunDuration <= 0 {
		cfg.RunDuration = DefaultRunDuration
	}
	if cfg.ServiceTimeout <= 0 {
		cfg.ServiceTimeout = DefaultServiceTimeout
	}
	return &Controller{
		cfg:        cfg,
		plan:       plan,
		executor:   executor,
		fetcher:    fetcher,
		comparator: comparator,
		log:        cfg.Log.New("component", "controller", "run", cfg.RunID),
		tracer:     otel.Tracer("run controller"),
		phase:      types.PhaseIdle,
	}, nil
}

// OnPhase registers fn to be called on every phase transition. It must be
// called before Run.
func (c *Controller) OnPhase(fn func(types.Phase)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Phase returns the current phase.
func (c *Controller) Phase() types.Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// RunID returns the identifier of the run.
func (c *Controller) RunID() string {
	return c.cfg.RunID
}

// LogPath returns where the log of node is stored locally.
func (c *Controller) LogPath(nodeID string) string {
	return filepath.Join(c.cfg.OutputDir, LogsDir, nodeID+".log")
}

// Run executes the whole lifecycle and always returns a result in phase Done.
// Cancelling ctx ends the run early: services that were started are still
// stopped, collection and comparison are skipped.
func (c *Controller) Run(ctx context.Context) *types.RunResult {
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("run %s", c.cfg.RunID))
	defer span.End()

	result := types.NewRunResult(c.cfg.RunID, time.Now(), c.plan.Nodes()...)
	result.Topology = c.cfg.Topology
	c.log.Info("Starting run",
		"server", c.plan.Server.ID,
		"clients", len(c.plan.Clients),
		"duration", c.cfg.RunDuration)

	aborted := false
	c.enter(ctx, result, types.PhaseStarting)
	instructed, err := c.start(ctx, result)
	if err != nil {
		aborted = true
		c.log.Error("Start failed, cleaning up", "err", err)
		if ctx.Err() != nil {
			result.MarkCancelled(ctx.Err())
		}
	} else {
		c.enter(ctx, result, types.PhaseRunning)
		if err := wait(ctx, c.cfg.RunDuration); err != nil {
			aborted = true
			c.log.Warn("Run cancelled while running", "err", err)
			result.MarkCancelled(err)
		}
	}

	// Cleanup must happen even when the run was cancelled.
	c.enter(ctx, result, types.PhaseStopping)
	c.stop(context.WithoutCancel(ctx), result, instructed)

	if !aborted {
		c.enter(ctx, result, types.PhaseCollecting)
		logs := c.collect(ctx, result)
		if ctx.Err() != nil {
			result.MarkCancelled(ctx.Err())
		} else {
			c.enter(ctx, result, types.PhaseComparing)
			c.compare(ctx, result, logs)
			if ctx.Err() != nil {
				result.MarkCancelled(ctx.Err())
			}
		}
	}

	c.enter(ctx, result, types.PhaseDone)
	result.Finalize(time.Now())
	metrics.RecordRun(c.cfg.Topology, c.cfg.RunID, result.Status(), result.Duration)

	span.SetAttributes(
		attribute.Bool("passed", result.Passed),
		attribute.String("status", string(result.Status())),
	)
	if !result.Passed {
		span.SetStatus(codes.Error, string(result.Status()))
	}
	c.log.Info("Run finished",
		"status", result.Status(),
		"passed", result.Passed,
		"errors", len(result.Errors),
		"duration", result.Duration)
	return result
}

func (c *Controller) enter(ctx context.Context, result *types.RunResult, next types.Phase) {
	c.mu.Lock()
	prev := c.phase
	if !prev.CanTransition(next) {
		c.log.Error("Unexpected phase transition", "from", prev, "to", next)
	}
	c.phase = next
	observers := append([]func(types.Phase){}, c.observers...)
	c.mu.Unlock()

	result.EnterPhase(next, time.Now())
	metrics.RecordPhase(next)
	trace.SpanFromContext(ctx).AddEvent(string(next))
	c.log.Info("Entering phase", "phase", next, "from", prev)

	for _, fn := range observers {
		fn(next)
	}
}

// forEach runs fn for every node concurrently and waits for all of them.
func (c *Controller) forEach(ctx context.Context, nodes []types.Node, fn func(ctx context.Context, node types.Node)) {
	p := pool.New()
	if c.cfg.MaxParallel > 0 {
		p = p.WithMaxGoroutines(c.cfg.MaxParallel)
	}
	cp := p.WithContext(ctx)
	for _, node := range nodes {
		cp.Go(func(ctx context.Context) error {
			fn(ctx, node)
			return nil
		})
	}
	_ = cp.Wait()
}

// setState drives one service and records the outcome on the node.
func (c *Controller) setState(ctx context.Context, result *types.RunResult, phase types.Phase, node types.Node, service string, desired types.ServiceState) error {
	handle, err := c.executor.SetServiceState(ctx, node, service, desired, c.cfg.ServiceTimeout)
	result.UpdateNode(node.ID, func(o *types.NodeOutcome) {
		o.Service = service
		if desired == types.ServiceStateRunning {
			o.Start = handle
		} else {
			o.Stop = handle
		}
	})
	if err != nil {
		result.RecordError(node.ID, phase, err)
		metrics.RecordErrorKind(string(phase), err)
	}
	return err
}

// instructedSet tracks the nodes a start was issued to.
type instructedSet struct {
	mu    sync.Mutex
	nodes map[string]bool
}

func (s *instructedSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = true
}

func (s *instructedSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id]
}

func (c *Controller) start(ctx context.Context, result *types.RunResult) (*instructedSet, error) {
	ctx, span := c.tracer.Start(ctx, "phase starting")
	defer span.End()

	instructed := &instructedSet{nodes: make(map[string]bool)}

	var mu sync.Mutex
	var failed []string
	c.forEach(ctx, c.plan.Clients, func(ctx context.Context, node types.Node) {
		instructed.add(node.ID)
		if err := c.setState(ctx, result, types.PhaseStarting, node, c.plan.Receiver.Name, types.ServiceStateRunning); err != nil {
			mu.Lock()
			failed = append(failed, node.ID)
			mu.Unlock()
		}
	})
	if len(failed) > 0 {
		reason := fmt.Sprintf("receiver failed to start on %d of %d clients", len(failed), len(c.plan.Clients))
		result.MarkFatal(reason)
		span.SetStatus(codes.Error, reason)
		return instructed, errors.New(reason)
	}

	instructed.add(c.plan.Server.ID)
	if err := c.setState(ctx, result, types.PhaseStarting, c.plan.Server, c.plan.Transmitter.Name, types.ServiceStateRunning); err != nil {
		reason := "transmitter failed to start"
		result.MarkFatal(reason)
		span.SetStatus(codes.Error, reason)
		return instructed, fmt.Errorf("%s: %w", reason, err)
	}
	return instructed, nil
}

// stop stops the transmitter first so receivers see the whole stream, then
// every receiver in parallel. Only services a start was issued to are stopped.
func (c *Controller) stop(ctx context.Context, result *types.RunResult, instructed *instructedSet) {
	ctx, span := c.tracer.Start(ctx, "phase stopping")
	defer span.End()

	if instructed.has(c.plan.Server.ID) {
		_ = c.setState(ctx, result, types.PhaseStopping, c.plan.Server, c.plan.Transmitter.Name, types.ServiceStateStopped)
	}

	var clients []types.Node
	for _, node := range c.plan.Clients {
		if instructed.has(node.ID) {
			clients = append(clients, node)
		}
	}
	c.forEach(ctx, clients, func(ctx context.Context, node types.Node) {
		_ = c.setState(ctx, result, types.PhaseStopping, node, c.plan.Receiver.Name, types.ServiceStateStopped)
	})
}

// collect fetches the transmit log and every receive log. It returns the local
// path of every log that was fetched completely, keyed by node ID.
func (c *Controller) collect(ctx context.Context, result *types.RunResult) map[string]string {
	ctx, span := c.tracer.Start(ctx, "phase collecting")
	defer span.End()

	var mu sync.Mutex
	fetched := make(map[string]string)

	c.forEach(ctx, c.plan.Nodes(), func(ctx context.Context, node types.Node) {
		spec := c.plan.Receiver
		if node.ID == c.plan.Server.ID {
			spec = c.plan.Transmitter
		}
		remotePath := spec.LogPathFor(node)
		localPath := c.LogPath(node.ID)

		n, err := c.fetcher.Fetch(ctx, node, remotePath, localPath)
		if err != nil {
			result.RecordError(node.ID, types.PhaseCollecting, err)
			metrics.RecordErrorKind(string(types.PhaseCollecting), err)
			c.log.Warn("Failed to fetch log", "node", node.ID, "path", remotePath, "err", err)
			return
		}
		result.UpdateNode(node.ID, func(o *types.NodeOutcome) {
			o.LogPath = localPath
			o.LogBytes = n
		})
		mu.Lock()
		fetched[node.ID] = localPath
		mu.Unlock()
	})
	return fetched
}

// compare runs the comparator once per client whose receive log was fetched.
// Without a transmit log nothing can be compared.
func (c *Controller) compare(ctx context.Context, result *types.RunResult, logs map[string]string) {
	ctx, span := c.tracer.Start(ctx, "phase comparing")
	defer span.End()

	txPath, ok := logs[c.plan.Server.ID]
	if !ok {
		for _, node := range c.plan.Clients {
			result.RecordError(node.ID, types.PhaseComparing, fmt.Errorf("transmit log unavailable: %w", types.ErrSkipped))
		}
		return
	}

	c.forEach(ctx, c.plan.Clients, func(ctx context.Context, node types.Node) {
		rxPath, ok := logs[node.ID]
		if !ok {
			result.RecordError(node.ID, types.PhaseComparing, fmt.Errorf("receive log unavailable: %w", types.ErrSkipped))
			return
		}
		cr, err := c.comparator.CompareFiles(ctx, node.ID, txPath, rxPath)
		if err != nil {
			result.RecordError(node.ID, types.PhaseComparing, err)
			return
		}
		result.SetComparison(cr)
		metrics.RecordComparison(cr)
		if !cr.Passed {
			c.log.Warn("Comparison failed", "client", node.ID, "reasons", cr.FailureReasons)
		}
	})
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
