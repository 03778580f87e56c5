// Package datasource keeps a sorted flat event list fetched from a Store,
// rebuilds the month/day index after every change, and reports the list-view
// update plan for single-event saves and removals.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"eventcal/internal/eventindex"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

var (
	ErrNotFound        = errors.New("event not found")
	ErrFetchInProgress = errors.New("fetch already in progress")
	ErrInvalidEvent    = errors.New("invalid event")
)

// Store is the backing calendar store.
type Store interface {
	FetchEvents(ctx context.Context, from, until time.Time) ([]model.Event, error)
	Save(ctx context.Context, ev model.Event) error
	Remove(ctx context.Context, events []model.Event) error
}

// Direction selects which side of now a Source pages through.
type Direction int

const (
	Upcoming Direction = iota
	Past
)

func (d Direction) String() string {
	if d == Past {
		return "past"
	}
	return "upcoming"
}

// Presave is the state captured before a save or removal: the prior
// snapshot and the from/to paths against the index at that time.
type Presave struct {
	Snapshot model.Event           `json:"snapshot"`
	From     *eventindex.IndexPath `json:"from,omitempty"`
	To       *eventindex.IndexPath `json:"to,omitempty"`
}

// Update describes one applied mutation. Event is nil for removals.
type Update struct {
	Event   *model.Event          `json:"event"`
	Presave Presave               `json:"presave"`
	Plan    eventindex.UpdatePlan `json:"plan"`
}

type NotificationKind int

const (
	KindFetched NotificationKind = iota
	KindUpdated
)

// Notification is delivered to subscribers after a fetch or an update.
type Notification struct {
	Kind      NotificationKind
	Direction Direction
	Update    *Update
}

// Option configures a Source.
type Option func(*Source)

func WithLocation(loc *time.Location) Option {
	return func(s *Source) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithRecurringBucket(enabled bool) Option {
	return func(s *Source) { s.recurringBucket = enabled }
}

// WithRange sets the fetch window: months for Upcoming, years for Past.
func WithRange(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.rangeN = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// Source is one paged, sorted event list plus its index.
type Source struct {
	store           Store
	dir             Direction
	loc             *time.Location
	recurringBucket bool
	rangeN          int
	now             func() time.Time
	validate        *validator.Validate

	mu             sync.Mutex
	events         []model.Event
	index          *eventindex.Index
	cursor         time.Time
	invalid        bool
	fetching       bool
	refetchPending bool
	storeChanged   bool
	timeChanged    bool
	subscribers    []func(Notification)
}

// New builds an empty, invalid source; call Fetch to load it.
func New(store Store, dir Direction, opts ...Option) *Source {
	s := &Source{
		store:    store,
		dir:      dir,
		loc:      time.Local,
		now:      time.Now,
		validate: validator.New(),
		invalid:  true,
	}
	if dir == Past {
		s.rangeN = 1
	} else {
		s.rangeN = 6
	}
	for _, opt := range opts {
		opt(s)
	}
	s.index = s.buildIndex(nil)
	return s
}

func (s *Source) Direction() Direction { return s.dir }

// Index returns the current immutable index.
func (s *Source) Index() *eventindex.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Events returns a copy of the sorted flat list.
func (s *Source) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *Source) IsEmpty() bool { return s.Len() == 0 }

func (s *Source) Find(id string) (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.events[i], true
	}
	return model.Event{}, false
}

// Subscribe registers fn for fetch and update notifications.
func (s *Source) Subscribe(fn func(Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Fetch loads the next window. An invalid source starts over from now and
// replaces its list; otherwise the window continues from the cursor and is
// appended. A Refetch requested while the fetch runs is applied before
// Fetch returns.
func (s *Source) Fetch(ctx context.Context) error {
	s.mu.Lock()
	if s.fetching {
		s.mu.Unlock()
		return ErrFetchInProgress
	}
	s.fetching = true
	s.mu.Unlock()

	for {
		err := s.fetchPage(ctx)

		s.mu.Lock()
		again := s.refetchPending
		s.refetchPending = false
		if again {
			s.invalid = true
		}
		if err != nil || !again {
			if err != nil && again {
				// Let the next RefreshIfNeeded retry.
				s.storeChanged = true
			}
			s.fetching = false
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
		appLog.Info("datasource refetching after change during fetch", "direction", s.dir.String())
	}
}

// fetchPage fetches one window. The caller holds the fetching flag.
func (s *Source) fetchPage(ctx context.Context) error {
	s.mu.Lock()
	replace := s.invalid
	anchor := s.cursor
	if replace {
		anchor = s.now()
	}
	s.mu.Unlock()

	from, until, next := s.window(anchor)
	fetched, err := s.store.FetchEvents(ctx, from, until)
	if err != nil {
		appLog.Error("datasource fetch failed", err, "direction", s.dir.String())
		return fmt.Errorf("fetch %s events: %w", s.dir, err)
	}

	s.mu.Lock()
	s.cursor = next
	added := len(fetched)
	if replace {
		s.invalid = false
		s.events = append([]model.Event(nil), fetched...)
	} else {
		added = s.appendNewLocked(fetched)
	}
	s.refreshLocked()
	count := len(s.events)
	subs := s.subscribers
	s.mu.Unlock()

	appLog.Info("datasource fetched",
		"direction", s.dir.String(),
		"from", from.Format(time.RFC3339),
		"until", until.Format(time.RFC3339),
		"fetched", len(fetched),
		"added", added,
		"total", count,
	)
	notify(subs, Notification{Kind: KindFetched, Direction: s.dir})
	return nil
}

// appendNewLocked appends the fetched events not already listed. Events
// spanning the cursor come back in both windows.
func (s *Source) appendNewLocked(fetched []model.Event) int {
	seen := make(map[string]struct{}, len(s.events))
	for _, ev := range s.events {
		seen[ev.ID] = struct{}{}
	}
	added := 0
	for _, ev := range fetched {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		s.events = append(s.events, ev)
		added++
	}
	return added
}

// Refetch invalidates the list and fetches from now. If a fetch is running
// the refetch is queued behind it and ErrFetchInProgress is returned.
func (s *Source) Refetch(ctx context.Context) error {
	s.mu.Lock()
	if s.fetching {
		s.refetchPending = true
		s.mu.Unlock()
		return ErrFetchInProgress
	}
	s.invalid = true
	s.mu.Unlock()
	return s.Fetch(ctx)
}

// MarkStoreChanged records that the backing store changed.
func (s *Source) MarkStoreChanged() {
	s.mu.Lock()
	s.storeChanged = true
	s.mu.Unlock()
}

// MarkTimeChanged records a significant clock change, e.g. midnight.
func (s *Source) MarkTimeChanged() {
	s.mu.Lock()
	s.timeChanged = true
	s.mu.Unlock()
}

// RefreshIfNeeded refetches after a store change, or after a time change
// when there is anything loaded. A refetch queued behind a running fetch
// counts as done.
func (s *Source) RefreshIfNeeded(ctx context.Context) error {
	s.mu.Lock()
	storeChanged, timeChanged := s.storeChanged, s.timeChanged
	empty := len(s.events) == 0
	s.storeChanged, s.timeChanged = false, false
	s.mu.Unlock()

	if !storeChanged && !(timeChanged && !empty) {
		return nil
	}
	if err := s.Refetch(ctx); err != nil && !errors.Is(err, ErrFetchInProgress) {
		return err
	}
	return nil
}

// Save validates ev, commits it to the store if commit is set, and replaces
// or adds it in the list. Events without an ID get a new one.
func (s *Source) Save(ctx context.Context, ev model.Event, commit bool) (Update, error) {
	if err := s.validateEvent(ev); err != nil {
		return Update{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
		ev.IsNew = true
	}

	s.mu.Lock()
	var snapshot model.Event
	if i := s.indexOf(ev.ID); i >= 0 {
		snapshot = s.events[i]
		snapshot.IsNew = false
	} else {
		snapshot = ev
		snapshot.IsNew = true
	}
	from := pathFor(s.index, snapshot)
	to := pathFor(s.index, ev)
	s.mu.Unlock()

	saved := ev
	saved.IsNew = false
	if commit {
		if err := s.store.Save(ctx, saved); err != nil {
			return Update{}, fmt.Errorf("save event %s: %w", saved.ID, err)
		}
	}

	s.mu.Lock()
	if i := s.indexOf(saved.ID); i >= 0 {
		s.events = append(s.events[:i], s.events[i+1:]...)
	}
	s.events = append(s.events, saved)
	s.refreshLocked()
	plan := s.index.UpdatesForEvent(
		eventindex.ChangeInfo{Event: &saved, IndexPath: to},
		eventindex.ChangeInfo{Event: &snapshot, IndexPath: from},
	)
	subs := s.subscribers
	s.mu.Unlock()

	upd := Update{
		Event:   &saved,
		Presave: Presave{Snapshot: snapshot, From: from, To: to},
		Plan:    plan,
	}
	appLog.Debug("datasource saved event", "id", saved.ID, "new", snapshot.IsNew, "direction", s.dir.String())
	notify(subs, Notification{Kind: KindUpdated, Direction: s.dir, Update: &upd})
	return upd, nil
}

// Remove drops ev (matched by ID) from the list, and from the store too if
// commit is set.
func (s *Source) Remove(ctx context.Context, ev model.Event, commit bool) (Update, error) {
	s.mu.Lock()
	i := s.indexOf(ev.ID)
	if i < 0 {
		s.mu.Unlock()
		return Update{}, fmt.Errorf("remove %q: %w", ev.ID, ErrNotFound)
	}
	snapshot := s.events[i]
	snapshot.IsNew = false
	from := pathFor(s.index, snapshot)
	s.mu.Unlock()

	if commit {
		if err := s.store.Remove(ctx, []model.Event{snapshot}); err != nil {
			return Update{}, fmt.Errorf("remove event %s: %w", snapshot.ID, err)
		}
	}

	s.mu.Lock()
	if i := s.indexOf(snapshot.ID); i >= 0 {
		s.events = append(s.events[:i], s.events[i+1:]...)
	}
	s.refreshLocked()
	plan := s.index.UpdatesForEvent(
		eventindex.ChangeInfo{},
		eventindex.ChangeInfo{Event: &snapshot, IndexPath: from},
	)
	subs := s.subscribers
	s.mu.Unlock()

	upd := Update{Presave: Presave{Snapshot: snapshot, From: from}, Plan: plan}
	appLog.Debug("datasource removed event", "id", snapshot.ID, "direction", s.dir.String())
	notify(subs, Notification{Kind: KindUpdated, Direction: s.dir, Update: &upd})
	return upd, nil
}

// RemoveDay removes a whole day's events from the store and the list. It
// fails with ErrNotFound before touching the store if any event is unknown.
func (s *Source) RemoveDay(ctx context.Context, events []model.Event) error {
	s.mu.Lock()
	for _, ev := range events {
		if s.indexOf(ev.ID) < 0 {
			s.mu.Unlock()
			return fmt.Errorf("remove %q: %w", ev.ID, ErrNotFound)
		}
	}
	s.mu.Unlock()

	if err := s.store.Remove(ctx, events); err != nil {
		return fmt.Errorf("remove day: %w", err)
	}

	gone := make(map[string]struct{}, len(events))
	for _, ev := range events {
		gone[ev.ID] = struct{}{}
	}

	s.mu.Lock()
	kept := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		if _, ok := gone[ev.ID]; !ok {
			kept = append(kept, ev)
		}
	}
	s.events = kept
	s.refreshLocked()
	subs := s.subscribers
	s.mu.Unlock()

	appLog.Debug("datasource removed day", "events", len(events), "direction", s.dir.String())
	notify(subs, Notification{Kind: KindFetched, Direction: s.dir})
	return nil
}

func (s *Source) validateEvent(ev model.Event) error {
	if err := s.validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !ev.End.IsZero() && ev.End.Before(ev.Start) {
		return fmt.Errorf("%w: end is before start", ErrInvalidEvent)
	}
	return nil
}

// window returns the fetch range for anchor and the cursor after it.
func (s *Source) window(anchor time.Time) (from, until, next time.Time) {
	if s.dir == Past {
		from = anchor.AddDate(-s.rangeN, 0, 0)
		return from, anchor, from
	}
	until = anchor.AddDate(0, s.rangeN, 0)
	return anchor, until, until
}

// refreshLocked sorts the list by start and rebuilds the index.
func (s *Source) refreshLocked() {
	sort.SliceStable(s.events, func(i, j int) bool {
		c := s.events[i].CompareStart(s.events[j])
		if s.dir == Past {
			return c > 0
		}
		return c < 0
	})
	s.index = s.buildIndex(s.events)
}

func (s *Source) buildIndex(events []model.Event) *eventindex.Index {
	opts := []eventindex.Option{eventindex.WithLocation(s.loc)}
	if s.recurringBucket {
		opts = append(opts, eventindex.WithRecurringBucket())
	}
	return eventindex.New(events, opts...)
}

func (s *Source) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, ev := range s.events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

func pathFor(idx *eventindex.Index, ev model.Event) *eventindex.IndexPath {
	p, ok := idx.IndexPathForEvent(ev)
	if !ok {
		return nil
	}
	return &p
}

func notify(subs []func(Notification), n Notification) {
	for _, fn := range subs {
		fn(n)
	}
}
