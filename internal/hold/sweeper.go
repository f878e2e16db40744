package hold

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// Sweeper runs Manager.Sweep on a ticker until stopped. It is the only
// periodic wake-up in the reservation core.
type Sweeper struct {
	m        *Manager
	interval time.Duration
	log      *log.Helper

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

func NewSweeper(m *Manager, interval time.Duration, logger log.Logger) *Sweeper {
	if interval <= 0 {
		interval = m.cfg.SweepInterval
	}
	return &Sweeper{
		m:        m,
		interval: interval,
		log:      log.NewHelper(log.With(logger, "module", "hold/sweeper")),
	}
}

// Start launches the background loop. It returns an error if the sweeper
// is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("hold sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	done, stopped := s.done, s.stopped
	s.mu.Unlock()

	s.log.Infof("hold sweeper starting interval=%s", s.interval)
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("hold sweeper stopping: context cancelled")
				return
			case <-done:
				s.log.Info("hold sweeper stopping")
				return
			case <-ticker.C:
				if _, err := s.m.Sweep(ctx); err != nil && ctx.Err() == nil {
					s.log.Errorf("sweep: %v", err)
				}
			}
		}
	}()
	return nil
}

// Stop ends the loop and waits for an in-flight sweep to finish. Calling
// Stop on a stopped sweeper is a no-op.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
}

// RunNow performs one sweep synchronously.
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	return s.m.Sweep(ctx)
}

// Run starts the sweeper and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}
