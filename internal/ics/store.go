package ics

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// FeedStore serves events from subscribed feeds, with local saves and
// removals layered on top in memory. Feeds are read-only; the overlay is
// what makes edits stick across refetches.
type FeedStore struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
	maxOcc  int

	mu      sync.RWMutex
	saved   map[string]model.Event
	removed map[string]struct{}
}

// NewFeedStore builds a store over sources. Occurrences are converted to loc.
func NewFeedStore(fetcher *Fetcher, sources []Source, loc *time.Location) *FeedStore {
	if loc == nil {
		loc = time.Local
	}
	return &FeedStore{
		fetcher: fetcher,
		sources: sources,
		loc:     loc,
		maxOcc:  defaultMaxOccurrencesPerEvent,
		saved:   make(map[string]model.Event),
		removed: make(map[string]struct{}),
	}
}

// FetchEvents returns every occurrence overlapping [from, until), in feed
// order, followed by locally added events ordered by ID. It fails only when
// every source failed.
func (s *FeedStore) FetchEvents(ctx context.Context, from, until time.Time) ([]model.Event, error) {
	results, errs := s.fetcher.FetchAll(ctx, s.sources)
	if len(results) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	parsed := make([]ParsedEvent, 0)
	for _, res := range results {
		events, err := ParseICS(res.Source, res.Body)
		if err != nil {
			appLog.Error("feed store: parse failed for source", err, "id", res.Source.ID)
			continue
		}
		parsed = append(parsed, events...)
	}

	expanded, err := Expand(parsed, ExpandConfig{
		DisplayLocation:        s.loc,
		RangeStart:             from,
		RangeEnd:               until,
		MaxOccurrencesPerEvent: s.maxOcc,
	})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0, len(expanded.Events)+len(s.saved))
	seen := make(map[string]struct{}, len(expanded.Events))
	for _, ev := range expanded.Events {
		seen[ev.ID] = struct{}{}
		if _, gone := s.removed[ev.ID]; gone {
			continue
		}
		if local, ok := s.saved[ev.ID]; ok {
			ev = local
		}
		if inRange(ev, from, until) {
			out = append(out, ev)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(s.saved)) {
		if _, ok := seen[id]; ok {
			continue
		}
		if ev := s.saved[id]; inRange(ev, from, until) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Save records ev in the overlay.
func (s *FeedStore) Save(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		return errors.New("feed store: event has no ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.IsNew = false
	s.saved[ev.ID] = ev
	delete(s.removed, ev.ID)
	return nil
}

// Remove hides events from future fetches.
func (s *FeedStore) Remove(ctx context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		delete(s.saved, ev.ID)
		s.removed[ev.ID] = struct{}{}
	}
	return nil
}

func inRange(ev model.Event, from, until time.Time) bool {
	end := ev.End
	if end.IsZero() {
		end = ev.Start
	}
	return overlaps(ev.Start, end, from, until)
}
