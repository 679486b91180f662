package enrichment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/flightfusion/pkg/logger"
)

// Runner produces one snapshot per call
type Runner interface {
	Run(ctx context.Context) *Snapshot
}

// Service drives enrichment cycles on a timer and publishes the latest snapshot.
// A new cycle is scheduled only after the previous one has finished.
type Service struct {
	runner   Runner
	interval time.Duration
	logger   *logger.Logger

	latest atomic.Pointer[Snapshot]

	listenersMu sync.RWMutex
	listeners   []func(*Snapshot)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new enrichment service
func NewService(runner Runner, interval time.Duration, log *logger.Logger) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Service{
		runner:   runner,
		interval: interval,
		logger:   log.Named("enrichment-svc"),
	}
}

// OnPublish registers fn to be called with every published snapshot
func (s *Service) OnPublish(fn func(*Snapshot)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Latest returns the most recently published snapshot, or nil before the first cycle
func (s *Service) Latest() *Snapshot {
	return s.latest.Load()
}

// Start runs the first cycle immediately and then one cycle per interval
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting enrichment service",
		logger.Duration("interval", s.interval),
	)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	return nil
}

// Stop cancels the running cycle, if any, and waits for the loop to exit. A cycle that
// completes after Stop is discarded.
func (s *Service) Stop() {
	s.logger.Info("Stopping enrichment service")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Enrichment service stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// RunOnce executes a single cycle and publishes its snapshot unless ctx was cancelled
// meanwhile. Returns the published snapshot or nil.
func (s *Service) RunOnce(ctx context.Context) *Snapshot {
	snap := s.runner.Run(ctx)
	if ctx.Err() != nil || snap == nil {
		s.logger.Debug("Discarding snapshot from cancelled cycle")
		return nil
	}

	s.latest.Store(snap)

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}

	return snap
}
