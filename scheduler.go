package acceptor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunScheduler decides when runs happen: once, or repeatedly at an interval
// (soak mode).
type RunScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func(ctx context.Context) error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// DefaultRunScheduler implements the RunScheduler interface.
type DefaultRunScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback func(ctx context.Context) error

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewDefaultRunScheduler(interval time.Duration, runOnce bool, logger log.Logger) *DefaultRunScheduler {
	return &DefaultRunScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (s *DefaultRunScheduler) RegisterCallback(callback func(ctx context.Context) error) {
	s.callback = callback
}

// Start runs the callback immediately. In run-once mode it returns the
// callback's error; otherwise a failed run is logged and the next run is
// scheduled after the interval. Runs never overlap.
func (s *DefaultRunScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.callback(ctx)
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)

	// The loop gets its own context so Stop can interrupt an in-flight run.
	loopCtx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		go func() {
			select {
			case <-s.done:
				cancel()
			case <-loopCtx.Done():
			}
		}()

		for {
			if err := s.callback(loopCtx); err != nil {
				s.logger.Error("Run failed", "err", err)
			}

			timer := time.NewTimer(s.interval)
			select {
			case <-timer.C:
				if !s.running.Load() {
					s.logger.Debug("Scheduler stopped, exiting run loop")
					return
				}
				s.logger.Info("Starting periodic run", "interval", s.interval)
			case <-s.done:
				timer.Stop()
				s.logger.Debug("Done signal received, stopping run loop")
				return
			case <-loopCtx.Done():
				timer.Stop()
				s.logger.Debug("Context canceled, stopping run loop")
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

func (s *DefaultRunScheduler) Stop() error {
	if !s.running.Load() {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}

	s.running.Store(false)

	s.logger.Debug("Sending done signal to run loop")
	close(s.done)
	return nil
}

func (s *DefaultRunScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until the run loop has terminated.
func (s *DefaultRunScheduler) WaitForShutdown(ctx context.Context) error {
	s.logger.Debug("Waiting for run loop to terminate")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("Run loop terminated")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for run loop to terminate", "err", ctx.Err())
		return ctx.Err()
	}
}
