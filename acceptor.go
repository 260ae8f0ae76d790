// Package acceptor runs multicast acceptance tests: it loads a topology,
// drives the run controller once or periodically, and publishes the results.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/aura-net/mcast-acceptor/comparator"
	"github.com/aura-net/mcast-acceptor/controller"
	"github.com/aura-net/mcast-acceptor/metrics"
	"github.com/aura-net/mcast-acceptor/reporting"
	"github.com/aura-net/mcast-acceptor/service"
	"github.com/aura-net/mcast-acceptor/store"
	"github.com/aura-net/mcast-acceptor/topology"
	"github.com/aura-net/mcast-acceptor/types"
)

// storeTimeout bounds how long saving a result to the run history may take.
const storeTimeout = 30 * time.Second

// acceptor implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &acceptor{}

// acceptor is the run-test service: it runs multicast tests against a
// topology and reports their results.
type acceptor struct {
	config     *Config
	version    string
	topology   *topology.Topology
	executor   controller.Executor
	fetcher    controller.Fetcher
	comparator controller.Comparator
	scheduler  RunScheduler
	store      store.Store
	status     *service.Service
	metricsSrv *httputil.HTTPServer
	out        io.Writer

	mu         sync.RWMutex
	current    *controller.Controller
	lastResult *types.RunResult
	runs       int

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*acceptor, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config.Log is required")
	}

	config.Log.Debug("Creating acceptor with config",
		"topology", config.TopologyFile,
		"output", config.OutputDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	topo, err := topology.Load(config.TopologyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}
	p, err := policy(topo, config)
	if err != nil {
		return nil, err
	}

	runner := newCommandRunner(topo)
	pollInterval := durationOr(config.PollInterval, topo.Run.PollInterval.Std())
	exec, err := newExecutor(topo, runner, pollInterval, config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	a := &acceptor{
		config:           config,
		version:          version,
		topology:         topo,
		executor:         exec,
		fetcher:          newCollector(topo, runner, config.Log),
		comparator:       comparator.New(p, config.Log),
		scheduler:        NewDefaultRunScheduler(config.RunInterval, config.RunOnce, config.Log),
		out:              os.Stdout,
		shutdownCallback: shutdownCallback,
	}

	if config.ResultsDB != "" {
		s, err := store.New(ctx, config.ResultsDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open results db: %w", err)
		}
		a.store = s
	}

	config.Log.Info("acceptor.New: loaded topology",
		"name", topo.Name,
		"clients", len(topo.Clients()),
		"runDuration", a.runDuration(),
		"policy", fmt.Sprintf("%+v", p))
	return a, nil
}

// Start runs multicast tests once or at the configured interval.
// Start implements the cliapp.Lifecycle interface.
func (a *acceptor) Start(ctx context.Context) error {
	a.running.Store(true)

	if err := a.startServers(ctx); err != nil {
		return NewRuntimeError(err)
	}

	if a.config.RunOnce {
		a.config.Log.Info("Starting run-test in run-once mode")
	} else {
		a.config.Log.Info("Starting run-test in continuous mode", "interval", a.config.RunInterval)
	}

	a.scheduler.RegisterCallback(a.executeRun)
	err := a.scheduler.Start(ctx)

	if a.config.RunOnce {
		if err != nil {
			a.config.Log.Warn("Run-once run did not pass", "err", err)
			return err
		}
		a.config.Log.Info("Run completed, exiting (run-once mode)")
		go func() {
			a.shutdownCallback(nil)
		}()
		return nil
	}
	if err != nil {
		return NewRuntimeError(err)
	}
	a.config.Log.Debug("run-test started successfully")
	return nil
}

func (a *acceptor) startServers(ctx context.Context) error {
	if a.config.MetricsConfig.Enabled {
		m := a.config.MetricsConfig
		a.config.Log.Info("Starting metrics server", "addr", m.ListenAddr, "port", m.ListenPort)
		srv, err := opmetrics.StartServer(metrics.Registry, m.ListenAddr, m.ListenPort)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		a.config.Log.Info("Started metrics server", "endpoint", srv.Addr())
		a.metricsSrv = srv
	}
	if a.config.StatusEnabled {
		var history service.HistoryProvider
		if a.store != nil {
			history = a.store
		}
		a.status = service.New(a.config.StatusAddr, a.config.StatusPort, a, history, a.config.Log)
		a.status.Start(ctx)
	}
	return nil
}

// executeRun performs one run and publishes its result. The returned error
// carries the verdict: nil for a pass, a ComparisonFailureError or a
// RuntimeError otherwise.
func (a *acceptor) executeRun(ctx context.Context) error {
	runID := uuid.New().String()
	outDir := a.runDir(runID)

	ctrl, err := controller.New(controller.Config{
		RunID:          runID,
		Topology:       a.topology.Name,
		OutputDir:      outDir,
		RunDuration:    a.runDuration(),
		ServiceTimeout: durationOr(a.config.ServiceTimeout, a.topology.Run.ServiceTimeout.Std()),
		MaxParallel:    intOr(a.config.MaxParallel, a.topology.Run.MaxParallel),
		Log:            a.config.Log,
	}, a.topology.Plan(), a.executor, a.fetcher, a.comparator)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create run controller: %w", err))
	}
	ctrl.OnPhase(func(p types.Phase) {
		a.config.Log.Info("Run phase", "run_id", runID, "phase", p)
	})

	a.mu.Lock()
	a.current = ctrl
	a.runs++
	a.mu.Unlock()

	a.config.Log.Info("Starting run", "run_id", runID, "output", outDir)
	result := ctrl.Run(ctx)

	a.mu.Lock()
	a.current = nil
	a.lastResult = result
	a.mu.Unlock()

	publishErr := a.publish(ctx, outDir, result)
	a.config.Log.Info("Run completed", "run_id", runID, "status", result.Status(), "duration", result.Duration)
	if publishErr != nil {
		return NewRuntimeError(publishErr)
	}
	return verdict(result)
}

// publish writes result.json and summary.log, prints the results table and
// records the run in the history when configured. Only a failure to write
// result.json is an error.
func (a *acceptor) publish(ctx context.Context, outDir string, result *types.RunResult) error {
	path, err := reporting.WriteResult(outDir, result)
	if err != nil {
		return err
	}
	a.config.Log.Info("Wrote result", "path", path)

	if _, err := reporting.WriteSummary(outDir, result); err != nil {
		a.config.Log.Warn("Failed to write summary", "err", err)
	}
	reporting.PrintResultsTable(a.out, result)
	fmt.Fprintln(a.out, result.String())

	if a.store != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if err := a.store.SaveRun(storeCtx, result); err != nil {
			a.config.Log.Error("Failed to save run to results db", "run_id", result.RunID, "err", err)
			metrics.RecordErrorDetails("store", err)
		}
	}
	return nil
}

// verdict turns a finished run into the error that selects the exit code.
// Infrastructure failures take precedence over comparison failures.
func verdict(result *types.RunResult) error {
	if result.InfrastructureFailed() {
		return NewRuntimeError(errors.New(infraSummary(result)))
	}
	if !result.Passed {
		failed := result.FailedComparisons()
		if len(failed) == 0 {
			return NewComparisonFailureError(fmt.Sprintf("run %s produced no comparisons", result.RunID))
		}
		return NewComparisonFailureError(fmt.Sprintf("run %s: clients %s failed comparison", result.RunID, strings.Join(failed, ", ")))
	}
	return nil
}

func infraSummary(result *types.RunResult) string {
	if result.FatalReason != "" {
		return fmt.Sprintf("run %s aborted: %s", result.RunID, result.FatalReason)
	}
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		msgs = append(msgs, fmt.Sprintf("%s/%s: %s", e.Node, e.Phase, e.Message))
	}
	return fmt.Sprintf("run %s had %d infrastructure errors: %s", result.RunID, len(result.Errors), strings.Join(msgs, "; "))
}

// runDir is the output directory itself for a single run, and a per-run
// subdirectory in continuous mode.
func (a *acceptor) runDir(runID string) string {
	if a.config.RunOnce {
		return a.config.OutputDir
	}
	return filepath.Join(a.config.OutputDir, "run-"+runID)
}

func (a *acceptor) runDuration() time.Duration {
	return durationOr(a.config.RunDuration, a.topology.RunDuration())
}

// CurrentStatus implements service.StatusProvider.
func (a *acceptor) CurrentStatus() service.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := service.Status{
		Version: a.version,
		Phase:   types.PhaseIdle,
		Running: a.current != nil,
		Runs:    a.runs,
		LastRun: a.lastResult,
	}
	if a.current != nil {
		s.RunID = a.current.RunID()
		s.Phase = a.current.Phase()
	}
	if a.lastResult != nil {
		s.LastStatus = a.lastResult.Status()
	}
	return s
}

// Stop stops the run-test service.
// Stop implements the cliapp.Lifecycle interface.
func (a *acceptor) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping run-test")

	if !a.running.Load() {
		a.config.Log.Debug("Service already stopped, nothing to do")
		return a.closeResources(ctx)
	}
	a.running.Store(false)

	var errs []error
	if err := a.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
	}
	if err := a.scheduler.WaitForShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed waiting for scheduler: %w", err))
	}
	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}

	a.config.Log.Info("run-test stopped")
	return errors.Join(errs...)
}

func (a *acceptor) closeResources(ctx context.Context) error {
	var errs []error
	if a.status != nil {
		a.status.Shutdown(ctx)
		a.status = nil
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		a.metricsSrv = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close results db: %w", err))
		}
		a.store = nil
	}
	return errors.Join(errs...)
}

// Stopped returns true if the run-test service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (a *acceptor) Stopped() bool {
	return !a.running.Load()
}
