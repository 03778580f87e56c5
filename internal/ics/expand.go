package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone occurrences are converted to. Nil means
	// time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the occurrences returned: an occurrence is
	// kept when it overlaps [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps each RRULE's expansion. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult is the flat event list plus the UIDs that hit the cap.
type ExpandResult struct {
	Events          []model.Event
	TruncatedEvents []string
}

// Expand turns parsed VEVENTs into one model.Event per occurrence inside the
// configured range. It applies RRULE, EXDATE and RECURRENCE-ID overrides and
// converts every occurrence to the display zone.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Base events and overrides by UID, keeping input order of UIDs so the
	// output is deterministic.
	var uids []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]model.Event, 0)
	for _, uid := range uids {
		truncated := false
		for _, ev := range baseByUID[uid] {
			var (
				occ    []model.Event
				hitCap bool
			)
			if ev.RawRRule == "" {
				occ = expandSingle(ev, overridesByUID[uid], cfg)
			} else {
				occ, hitCap = expandRecurring(ev, overridesByUID[uid], cfg)
			}
			truncated = truncated || hitCap
			out = append(out, occ...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Events = out
	return result, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	start, end := ev.Start, ev.End
	if o, ok := findOverride(overrides, start); ok {
		start, end, ev = o.Start, o.End, o
	}
	return []model.Event{toModel(ev, start, end, time.Time{}, cfg.DisplayLocation)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event duration so occurrences that started
	// before RangeStart but are still running are kept.
	dur := ev.End.Sub(ev.Start)
	if ev.AllDay {
		dur = 24 * time.Hour
	}
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Event, 0, len(starts))
	for _, occStart := range starts {
		var occEnd time.Time
		if ev.AllDay {
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occEnd = occStart.AddDate(0, 0, 1)
		} else {
			occEnd = occStart.Add(dur)
		}

		base, instance := ev, occStart
		if o, ok := findOverride(overrides, occStart); ok {
			occStart, occEnd, base = o.Start, o.End, o
		}
		if !overlaps(occStart, occEnd, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, toModel(base, occStart, occEnd, instance, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverride finds the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toModel converts one occurrence into the display zone. Recurring
// occurrences (non-zero instance) get a per-instance ID built from the UID
// and the unmodified occurrence start, so overrides keep their ID.
func toModel(ev ParsedEvent, start, end, instance time.Time, loc *time.Location) model.Event {
	start, end = start.In(loc), end.In(loc)
	id := ev.UID
	recurring := !instance.IsZero()
	if recurring {
		id = InstanceID(ev.UID, instance)
	}
	return model.Event{
		ID:        id,
		SourceID:  ev.Source.ID,
		Title:     ev.Summary,
		Location:  ev.Location,
		Start:     start,
		End:       end,
		AllDay:    ev.AllDay,
		Recurring: recurring,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd). A
// zero-length event counts when it starts inside the range.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// InstanceID is the ID of the occurrence of uid starting at start.
func InstanceID(uid string, start time.Time) string {
	return uid + "@" + start.UTC().Format("20060102T150405Z")
}
