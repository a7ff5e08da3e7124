package caserunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// scheduler runs a callback once, or immediately and then every interval
// until stopped.
type scheduler struct {
	interval time.Duration
	runOnce  bool
	log      log.Logger
	callback func(context.Context) error

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func newScheduler(interval time.Duration, runOnce bool, lgr log.Logger) *scheduler {
	return &scheduler{
		interval: interval,
		runOnce:  runOnce,
		log:      lgr,
		done:     make(chan struct{}),
	}
}

func (s *scheduler) register(callback func(context.Context) error) {
	s.callback = callback
}

// Start runs the callback right away. In continuous mode later runs happen
// on a background goroutine and their errors are logged, not returned.
func (s *scheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}
	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.log.Info("Starting scheduler in run-once mode")
		return s.callback(ctx)
	}

	s.log.Info("Starting scheduler in continuous mode", "interval", s.interval)
	if err := s.callback(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !s.running.Load() {
					return
				}
				s.log.Info("Running periodic cases")
				if err := s.callback(ctx); err != nil {
					s.log.Error("Error running periodic cases", "err", err)
				}
			case <-s.done:
				s.log.Debug("Done signal received, stopping scheduler")
				return
			case <-ctx.Done():
				s.log.Debug("Context canceled, stopping scheduler")
				s.running.Store(false)
				return
			}
		}
	}()
	return nil
}

// Stop is idempotent.
func (s *scheduler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		s.log.Debug("Scheduler already stopped, nothing to do")
		return nil
	}
	close(s.done)
	return nil
}

func (s *scheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until the periodic goroutine has exited or ctx ends.
func (s *scheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("Timed out waiting for scheduler to terminate", "err", ctx.Err())
		return ctx.Err()
	}
}
