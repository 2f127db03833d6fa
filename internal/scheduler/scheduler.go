// Package scheduler turns the cron strings of enabled time-triggered
// automations into running cron jobs. On each tick it feeds a
// time_fired event carrying the literal cron string into the engine;
// matching stays a string comparison on the engine side, so this
// package is the only cron parser in the tree.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/JacobSoderblom/krypin/internal/automation"
)

// Scheduler owns one cron runner. Entries are keyed by cron expression,
// never by automation: two automations sharing a spec share a tick and
// the engine fans it out.
type Scheduler struct {
	engine *automation.Engine
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler. Standard 5-field cron specs only.
func New(engine *automation.Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:  engine,
		logger:  logger,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers jobs for the current automations and begins ticking.
// ctx bounds every event the ticks dispatch.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts ticking and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sync reconciles cron entries against the stored automations: specs
// that gained an enabled time trigger are added, specs that lost their
// last one are removed. A spec that does not parse is logged and
// skipped; the automation stays stored and can be fixed in place.
func (s *Scheduler) Sync(ctx context.Context) error {
	defs, err := s.engine.List(ctx)
	if err != nil {
		return err
	}

	want := make(map[string]bool)
	for _, def := range defs {
		if def.Enabled && def.Trigger.Type == automation.TriggerTime && def.Trigger.Cron != "" {
			want[def.Trigger.Cron] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for spec, id := range s.entries {
		if !want[spec] {
			s.cron.Remove(id)
			delete(s.entries, spec)
		}
	}
	for spec := range want {
		if _, ok := s.entries[spec]; ok {
			continue
		}
		id, err := s.cron.AddFunc(spec, s.job(spec))
		if err != nil {
			s.logger.Warn("unschedulable cron spec", "spec", spec, "error", err)
			continue
		}
		s.entries[spec] = id
	}
	return nil
}

// Specs returns the currently scheduled cron expressions, sorted.
func (s *Scheduler) Specs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs := make([]string, 0, len(s.entries))
	for spec := range s.entries {
		specs = append(specs, spec)
	}
	sort.Strings(specs)
	return specs
}

func (s *Scheduler) job(spec string) func() {
	return func() { s.fire(spec) }
}

// fire dispatches one tick into the engine.
func (s *Scheduler) fire(spec string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.engine.HandleEvent(ctx, automation.TimeFiredEvent(spec)); err != nil {
		s.logger.Warn("time trigger dispatch failed", "spec", spec, "error", err)
	}
}
