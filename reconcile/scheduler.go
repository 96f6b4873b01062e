/*
scheduler.go - Periodic reconciliation

PURPOSE:
  Runs Check for every business on a fixed interval so drift is found even
  when nobody deletes anything.

DESIGN:
  - One background goroutine driven by a ticker
  - Runs once immediately on Start
  - Businesses are checked one after another; a failure is logged and the
    loop moves on to the next business

USAGE:
  sched := reconcile.NewScheduler(svc, store, reconcile.WithInterval(time.Hour))
  sched.Start()
  defer sched.Stop()
*/
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"go.uber.org/zap"
)

// BusinessLister is the part of ledger.Store the scheduler needs.
type BusinessLister interface {
	ListBusinesses(ctx context.Context) ([]ledger.Business, error)
}

// Scheduler runs Check for every business on an interval.
type Scheduler struct {
	service    *Service
	businesses BusinessLister
	interval   time.Duration
	enabled    bool
	logger     *zap.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

type SchedulerOption func(*Scheduler)

func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithEnabled(on bool) SchedulerOption {
	return func(s *Scheduler) { s.enabled = on }
}

func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewScheduler(service *Service, businesses BusinessLister, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		service:    service,
		businesses: businesses,
		interval:   time.Hour,
		enabled:    true,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		s.logger.Info("reconciliation scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.logger.Info("reconciliation scheduler started", zap.Duration("interval", s.interval))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("reconciliation scheduler stopped")
}

func (s *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow checks every business once and returns the runs that completed.
func (s *Scheduler) RunNow(ctx context.Context) []ledger.ReconciliationRun {
	businesses, err := s.businesses.ListBusinesses(ctx)
	if err != nil {
		s.logger.Error("reconciliation: listing businesses failed", zap.Error(err))
		return nil
	}

	var runs []ledger.ReconciliationRun
	dirty := 0
	for _, biz := range businesses {
		if ctx.Err() != nil {
			break
		}
		run, err := s.service.Check(ctx, biz.ID)
		if err != nil {
			s.logger.Error("reconciliation failed",
				zap.String("business_id", string(biz.ID)),
				zap.Error(err),
			)
			continue
		}
		if !run.Clean() {
			dirty++
		}
		runs = append(runs, run)
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	s.logger.Info("reconciliation pass complete",
		zap.Int("businesses", len(businesses)),
		zap.Int("checked", len(runs)),
		zap.Int("with_problems", dirty),
	)
	return runs
}

// NextRunTime returns when the next scheduled pass will occur.
func (s *Scheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.IsZero() {
		return time.Now()
	}
	return s.lastRun.Add(s.interval)
}
