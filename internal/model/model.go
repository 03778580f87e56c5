package model

import "time"

// Event is a single calendar event as the index and data sources see it.
// Recurring events arrive already expanded into one Event per occurrence.
type Event struct {
	// ID is unique per occurrence. Empty for events never saved.
	ID       string `json:"id"`
	SourceID string `json:"source_id,omitempty"`

	Title    string `json:"title" validate:"required"`
	Location string `json:"location,omitempty"`

	// Start / End are in the configured display timezone. Only the day and
	// month of Start matter for grouping.
	Start  time.Time `json:"start" validate:"required"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`

	// Recurring marks occurrences expanded from an RRULE.
	Recurring bool `json:"recurring"`

	// IsNew is true when the event had no persisted state before.
	IsNew bool `json:"is_new"`
}

// Snapshot returns an immutable copy of e used for before/after comparison.
func (e Event) Snapshot() Event {
	s := e
	s.IsNew = e.ID == ""
	return s
}

// CompareStart orders events by start time: -1, 0 or 1.
func (e Event) CompareStart(other Event) int {
	switch {
	case e.Start.Before(other.Start):
		return -1
	case e.Start.After(other.Start):
		return 1
	default:
		return 0
	}
}

// HasLocation reports whether a non-empty location is set.
func (e Event) HasLocation() bool {
	return e.Location != ""
}
