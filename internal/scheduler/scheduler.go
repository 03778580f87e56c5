// Package scheduler drives periodic refreshes of the event sources.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "eventcal/internal/log"
)

// MidnightSpec fires when the day rolls over.
const MidnightSpec = "0 0 * * *"

// Refresher is the part of a data source the scheduler drives.
type Refresher interface {
	MarkStoreChanged()
	MarkTimeChanged()
	RefreshIfNeeded(ctx context.Context) error
}

// Scheduler marks the sources' store as changed on the refresh schedule and
// their clock as changed at midnight, then lets each source decide whether
// to refetch.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	sources []Refresher
}

// New registers both jobs. refreshSpec is a standard five-field cron spec.
func New(ctx context.Context, loc *time.Location, refreshSpec string, sources ...Refresher) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		ctx:     ctx,
		sources: sources,
	}
	if _, err := s.cron.AddFunc(refreshSpec, s.StoreChanged); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", refreshSpec, err)
	}
	if _, err := s.cron.AddFunc(MidnightSpec, s.DayChanged); err != nil {
		return nil, fmt.Errorf("midnight schedule: %w", err)
	}
	return s, nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	appLog.Info("scheduler started", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}

// Next returns when the next job fires.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// StoreChanged is the refresh job.
func (s *Scheduler) StoreChanged() {
	for _, src := range s.sources {
		src.MarkStoreChanged()
	}
	s.refresh("store")
}

// DayChanged is the midnight job.
func (s *Scheduler) DayChanged() {
	for _, src := range s.sources {
		src.MarkTimeChanged()
	}
	s.refresh("time")
}

func (s *Scheduler) refresh(reason string) {
	for i, src := range s.sources {
		if err := src.RefreshIfNeeded(s.ctx); err != nil {
			appLog.Error("scheduled refresh failed", err, "reason", reason, "source", i)
		}
	}
}
