// Package eventindex groups a flat event list by month and day, and computes
// the list-view updates a single event mutation causes.
//
// An Index is built once from a complete list and never mutated afterwards;
// callers rebuild it after every change and diff the two states.
package eventindex

import (
	"time"

	"eventcal/internal/model"
)

// DayEvents holds the events of one day in input order.
type DayEvents struct {
	events []model.Event
}

func newDayEvents() *DayEvents { return &DayEvents{} }

// Events returns a copy of the day's events.
func (d *DayEvents) Events() []model.Event {
	out := make([]model.Event, len(d.events))
	copy(out, d.events)
	return out
}

func (d *DayEvents) Count() int { return len(d.events) }

// MonthEvents groups one month's events by day.
type MonthEvents struct {
	loc  *time.Location
	days *Group[time.Time, *DayEvents]
}

func newMonthEvents(loc *time.Location) func() *MonthEvents {
	return func() *MonthEvents {
		return &MonthEvents{
			loc:  loc,
			days: NewGroup[time.Time, *DayEvents](newDayEvents),
		}
	}
}

// Days returns the day keys in first-seen order.
func (m *MonthEvents) Days() []time.Time { return m.days.Keys() }

func (m *MonthEvents) DayCount() int { return m.days.Len() }

// EventCount sums the events over all days of the month.
func (m *MonthEvents) EventCount() int {
	n := 0
	for i := 0; i < m.days.Len(); i++ {
		_, d, _ := m.days.At(i)
		n += d.Count()
	}
	return n
}

// EventsForDay takes any time on the wanted day.
func (m *MonthEvents) EventsForDay(date time.Time) ([]model.Event, bool) {
	key := DayStart(date, m.loc)
	if date.In(m.loc).Equal(RecurringDay(m.loc)) {
		key = RecurringDay(m.loc)
	}
	d, ok := m.days.Child(key)
	if !ok {
		return nil, false
	}
	return d.Events(), true
}

// RecurringIndex is the position of the recurring bucket, if present.
func (m *MonthEvents) RecurringIndex() (int, bool) {
	return m.days.IndexOf(RecurringDay(m.loc))
}

// LastDay is the last calendar day key, skipping the recurring bucket.
func (m *MonthEvents) LastDay() (time.Time, bool) {
	i := m.days.Len() - 1
	if i < 0 {
		return time.Time{}, false
	}
	key, _, _ := m.days.At(i)
	if key.Equal(RecurringDay(m.loc)) {
		if i == 0 {
			return time.Time{}, false
		}
		key, _, _ = m.days.At(i - 1)
	}
	return key, true
}

// dayFor returns the bucket for key. Calendar days are kept in front of the
// recurring bucket so it stays last.
func (m *MonthEvents) dayFor(key time.Time) *DayEvents {
	if ri, ok := m.RecurringIndex(); ok && !key.Equal(RecurringDay(m.loc)) {
		return m.days.insertAt(ri, key)
	}
	return m.days.ChildFor(key)
}

// Option configures an Index.
type Option func(*Index)

// WithLocation sets the zone day and month boundaries are computed in.
func WithLocation(loc *time.Location) Option {
	return func(idx *Index) {
		if loc != nil {
			idx.loc = loc
		}
	}
}

// WithRecurringBucket collects recurring occurrences into a per-month
// RecurringDay bucket kept after every calendar day.
func WithRecurringBucket() Option {
	return func(idx *Index) { idx.recurringBucket = true }
}

// Index is the month → day → events grouping.
type Index struct {
	loc             *time.Location
	recurringBucket bool
	months          *Group[time.Time, *MonthEvents]
	count           int
}

// New groups events in input order. It does not sort; months, days and the
// events inside a day keep the order they appear in events.
func New(events []model.Event, opts ...Option) *Index {
	idx := &Index{loc: time.Local}
	for _, opt := range opts {
		opt(idx)
	}
	idx.months = NewGroup[time.Time, *MonthEvents](newMonthEvents(idx.loc))

	for _, ev := range events {
		month := idx.months.ChildFor(MonthStart(ev.Start, idx.loc))
		day := month.dayFor(idx.dayKey(ev))
		day.events = append(day.events, ev)
	}
	idx.count = len(events)
	return idx
}

func (idx *Index) Location() *time.Location { return idx.loc }

func (idx *Index) MonthCount() int { return idx.months.Len() }

func (idx *Index) EventCount() int { return idx.count }

// Months returns the month keys in first-seen order.
func (idx *Index) Months() []time.Time { return idx.months.Keys() }

func (idx *Index) ContainsMonth(date time.Time) bool {
	_, ok := idx.months.IndexOf(MonthStart(date, idx.loc))
	return ok
}

// EventsForMonth looks up the month containing date.
func (idx *Index) EventsForMonth(date time.Time) (*MonthEvents, bool) {
	return idx.months.Child(MonthStart(date, idx.loc))
}

// EventsForDay looks up the day containing date.
func (idx *Index) EventsForDay(date time.Time) ([]model.Event, bool) {
	m, ok := idx.EventsForMonth(date)
	if !ok {
		return nil, false
	}
	return m.EventsForDay(date)
}

func (idx *Index) Month(i int) (time.Time, bool) {
	key, _, ok := idx.months.At(i)
	return key, ok
}

func (idx *Index) EventsForMonthAt(i int) (*MonthEvents, bool) {
	_, m, ok := idx.months.At(i)
	return m, ok
}

func (idx *Index) DaysForMonth(i int) ([]time.Time, bool) {
	m, ok := idx.EventsForMonthAt(i)
	if !ok {
		return nil, false
	}
	return m.Days(), true
}

func (idx *Index) Day(p IndexPath) (time.Time, bool) {
	m, ok := idx.EventsForMonthAt(p.Section)
	if !ok {
		return time.Time{}, false
	}
	key, _, ok := m.days.At(p.Item)
	return key, ok
}

func (idx *Index) EventsForDayAt(p IndexPath) ([]model.Event, bool) {
	m, ok := idx.EventsForMonthAt(p.Section)
	if !ok {
		return nil, false
	}
	_, d, ok := m.days.At(p.Item)
	if !ok {
		return nil, false
	}
	return d.Events(), true
}

// IndexPathForDay resolves the month of date, then its day. A date with no
// indexed events has no path, today included.
func (idx *Index) IndexPathForDay(date time.Time) (IndexPath, bool) {
	return idx.indexPath(MonthStart(date, idx.loc), DayStart(date, idx.loc))
}

// IndexPathForEvent is IndexPathForDay for ev's bucket, which differs from
// its start day for recurring occurrences when the bucket is enabled.
func (idx *Index) IndexPathForEvent(ev model.Event) (IndexPath, bool) {
	return idx.indexPath(MonthStart(ev.Start, idx.loc), idx.dayKey(ev))
}

func (idx *Index) indexPath(monthKey, dayKey time.Time) (IndexPath, bool) {
	section, ok := idx.months.IndexOf(monthKey)
	if !ok {
		return IndexPath{}, false
	}
	_, m, _ := idx.months.At(section)
	item, ok := m.days.IndexOf(dayKey)
	if !ok {
		return IndexPath{}, false
	}
	return IndexPath{Section: section, Item: item}, true
}

func (idx *Index) dayKey(ev model.Event) time.Time {
	if idx.recurringBucket && ev.Recurring {
		return RecurringDay(idx.loc)
	}
	return DayStart(ev.Start, idx.loc)
}

func (idx *Index) eventsAt(monthKey, dayKey time.Time) int {
	m, ok := idx.months.Child(monthKey)
	if !ok {
		return 0
	}
	d, ok := m.days.Child(dayKey)
	if !ok {
		return 0
	}
	return d.Count()
}
