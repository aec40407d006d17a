/*
scheduler.go - Automated holiday calendar refresh

PURPOSE:
  Periodically imports national holidays for the current and next year so
  a replace call in late December already sees January's holidays.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - A failed import is logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to import (default: 24 hours)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewHolidaySyncScheduler(fetcher, store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ImportHolidays endpoint (manual import)
  - holidays/sync.go: Import
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/estimate-engine/holidays"
)

// HolidaySyncScheduler keeps the stored holiday calendar current.
type HolidaySyncScheduler struct {
	Fetcher       holidays.Fetcher
	Saver         holidays.Saver
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	// Now is the clock used to pick the years to import.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewHolidaySyncScheduler creates a new scheduler.
func NewHolidaySyncScheduler(fetcher holidays.Fetcher, saver holidays.Saver, logger *zap.Logger) *HolidaySyncScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HolidaySyncScheduler{
		Fetcher:       fetcher,
		Saver:         saver,
		Logger:        logger.Named("holiday-sync"),
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *HolidaySyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight import.
func (s *HolidaySyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("stopped")
	}
}

func (s *HolidaySyncScheduler) run() {
	defer s.wg.Done()

	s.RunNow()

	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stop:
			return
		}
	}
}

// RunNow imports the current and next year immediately.
func (s *HolidaySyncScheduler) RunNow() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	year := s.Now().Year()
	n, err := holidays.Import(ctx, s.Fetcher, s.Saver, year, year+1)
	if err != nil {
		s.Logger.Warn("holiday import failed", zap.Int("year", year), zap.Int("imported", n), zap.Error(err))
		return n
	}
	s.Logger.Info("holidays imported", zap.Int("year", year), zap.Int("imported", n))
	return n
}
