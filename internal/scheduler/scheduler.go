// Package scheduler runs the weekly update: collect daily bars, rebuild the
// weekly stage history, publish new signals and drop stale cached views.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"weinstein/internal/analysis"
	"weinstein/internal/domain"
	"weinstein/internal/gather"
)

// ErrBusy is returned by RunNow while another run is in progress.
var ErrBusy = errors.New("update already running")

// DefaultSpec runs the update every Saturday at 06:00.
const DefaultSpec = "0 6 * * 6"

// Collector fetches new market data.
type Collector interface {
	Collect(ctx context.Context) (*gather.Result, error)
}

// Processor rebuilds weekly history and signals.
type Processor interface {
	ProcessAll(ctx context.Context) (*analysis.Result, error)
}

// Broadcaster publishes freshly generated signals.
type Broadcaster interface {
	BroadcastSignals(sigs []domain.Signal)
}

// Invalidator drops cached payloads.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Notifier records that signals were delivered.
type Notifier interface {
	MarkNotified(ctx context.Context, ids []int64) error
}

// Deps are the collaborators of a run. Only Processor is required.
type Deps struct {
	Collector   Collector
	Processor   Processor
	Broadcaster Broadcaster
	Cache       Invalidator
	Signals     Notifier
}

// Report describes one run.
type Report struct {
	Started    time.Time      `json:"started"`
	Finished   time.Time      `json:"finished"`
	Gather     *gather.Result `json:"gather,omitempty"`
	Stocks     int            `json:"stocks"`
	Weeks      int            `json:"weeks"`
	NewSignals int            `json:"new_signals"`
	Failed     []string       `json:"failed,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Scheduler manages the cron entry and serializes runs.
type Scheduler struct {
	cron   *cron.Cron
	deps   Deps
	logger *slog.Logger

	runMu sync.Mutex // held for the duration of a run

	mu   sync.Mutex
	last *Report
}

// New creates a Scheduler. loc may be nil for the local time zone.
func New(deps Deps, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		deps:   deps,
		logger: logger.With("component", "scheduler"),
	}
}

// Register adds the weekly update at spec, a standard five-field cron
// expression. Scheduled runs use ctx.
func (s *Scheduler) Register(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := s.cron.AddFunc(spec, func() { s.cronRun(ctx) }); err != nil {
		return fmt.Errorf("register weekly update %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop stops the cron scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Next returns the next scheduled run, or the zero time when nothing is
// registered.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	next := entries[0].Next
	for _, e := range entries[1:] {
		if e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// LastRun returns the report of the most recent run, or nil.
func (s *Scheduler) LastRun() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) cronRun(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error("weekly update failed", "error", err)
	}
}

// RunNow performs a full update immediately. It returns ErrBusy if one is
// already running.
func (s *Scheduler) RunNow(ctx context.Context) (*Report, error) {
	if !s.runMu.TryLock() {
		return nil, ErrBusy
	}
	defer s.runMu.Unlock()

	rep := &Report{Started: time.Now()}
	err := s.run(ctx, rep)
	rep.Finished = time.Now()
	if err != nil {
		rep.Error = err.Error()
	}

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	s.logger.Info("weekly update finished",
		"stocks", rep.Stocks,
		"newSignals", rep.NewSignals,
		"failed", len(rep.Failed),
		"elapsed", rep.Finished.Sub(rep.Started).Round(time.Millisecond),
	)
	return rep, err
}

func (s *Scheduler) run(ctx context.Context, rep *Report) error {
	if s.deps.Collector != nil {
		g, err := s.deps.Collector.Collect(ctx)
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		rep.Gather = g
	}

	res, err := s.deps.Processor.ProcessAll(ctx)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}
	rep.Stocks = res.Stocks
	rep.Weeks = res.Weeks
	rep.NewSignals = len(res.NewSignals)
	rep.Failed = res.Failed

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Invalidate(ctx); err != nil {
			s.logger.Warn("cache invalidation failed", "error", err)
		}
	}

	if len(res.NewSignals) == 0 || s.deps.Broadcaster == nil {
		return nil
	}
	s.deps.Broadcaster.BroadcastSignals(res.NewSignals)
	if s.deps.Signals != nil {
		ids := make([]int64, 0, len(res.NewSignals))
		for _, sig := range res.NewSignals {
			ids = append(ids, sig.ID)
		}
		if err := s.deps.Signals.MarkNotified(ctx, ids); err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
	}
	return nil
}
