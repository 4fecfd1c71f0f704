// Package scheduler drives the daily cadence: catalog refresh, the
// reservation window, side quests, reconciliation, and the token sweep,
// each on its own cron line in the service timezone.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type TaskKind string

const (
	TaskCatalogRefresh TaskKind = "catalog-refresh"
	TaskReservation    TaskKind = "reservation"
	TaskSideQuests     TaskKind = "side-quests"
	TaskReconcile      TaskKind = "reconcile"
	TaskTokenSweep     TaskKind = "token-sweep"
)

// Default cron lines, minute-first. The reservation line fires every
// minute of the window; per-account minute targeting happens downstream.
const (
	SpecCatalogRefresh = "0 8 * * *"
	SpecReservation    = "0-30 9 * * *"
	SpecSideQuests     = "30 9-19 * * *"
	SpecReconcile      = "0 18 * * *"
	SpecTokenSweep     = "0 7 * * *"
)

// TaskFunc receives the tick's wall time so minute-targeted tasks
// dispatch deterministically.
type TaskFunc func(ctx context.Context, now time.Time) error

type task struct {
	spec string
	fn   TaskFunc
}

type Service struct {
	log     zerolog.Logger
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
	cron    *cron.Cron

	mu      sync.Mutex
	tasks   map[TaskKind]task
	order   []TaskKind
	running map[TaskKind]int
}

type Option func(*Service)

func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(log zerolog.Logger, loc *time.Location, opts ...Option) *Service {
	s := &Service{
		log:     log,
		loc:     loc,
		timeout: 10 * time.Minute,
		now:     time.Now,
		tasks:   make(map[TaskKind]task),
		running: make(map[TaskKind]int),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds a task under its cron line. Registration order is kept
// for listing; re-registering a kind replaces its task.
func (s *Service) Register(kind TaskKind, spec string, fn TaskFunc) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("task %s: bad cron spec %q: %w", kind, spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[kind]; !exists {
		s.order = append(s.order, kind)
	}
	s.tasks[kind] = task{spec: spec, fn: fn}
	return nil
}

// Start schedules every registered task and begins firing. Ticks inherit
// ctx, so cancelling it aborts in-flight work; call Stop to quiesce.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	c := cron.New(cron.WithLocation(s.loc))
	for _, kind := range s.order {
		kind := kind
		t := s.tasks[kind]
		if _, err := c.AddFunc(t.spec, func() { s.run(ctx, kind) }); err != nil {
			return fmt.Errorf("schedule %s: %w", kind, err)
		}
		s.log.Info().Str("task", string(kind)).Str("spec", t.spec).Msg("task scheduled")
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the cron loop and waits for in-flight ticks to drain.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// RunNow fires one task immediately, outside its cron line. Used by the
// manual task command and by operators replaying a missed window.
func (s *Service) RunNow(ctx context.Context, kind TaskKind) error {
	s.mu.Lock()
	_, ok := s.tasks[kind]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %q", kind)
	}
	return s.run(ctx, kind)
}

// Kinds lists registered tasks in registration order.
func (s *Service) Kinds() []TaskKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskKind, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Service) run(ctx context.Context, kind TaskKind) error {
	s.mu.Lock()
	t := s.tasks[kind]
	s.running[kind]++
	if n := s.running[kind]; n > 1 {
		// Ticks are not exclusive; a slow run overlapping the next one
		// is worth knowing about.
		s.log.Warn().Str("task", string(kind)).Int("in_flight", n).Msg("task tick overlaps previous run")
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running[kind]--
		s.mu.Unlock()
	}()

	now := s.now().In(s.loc)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := t.fn(ctx, now)
	elapsed := time.Since(start)
	if err != nil {
		s.log.Error().Err(err).Str("task", string(kind)).Dur("elapsed", elapsed).Msg("task failed")
		return err
	}
	s.log.Info().Str("task", string(kind)).Dur("elapsed", elapsed).Msg("task complete")
	return nil
}
