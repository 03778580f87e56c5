package eventindex

import "eventcal/internal/model"

// IndexPath addresses a day cell: Section is the month index, Item the day
// index within that month.
type IndexPath struct {
	Section int `json:"section"`
	Item    int `json:"item"`
}

// ChangeInfo is one side of a single-event mutation. A nil Event means the
// event no longer exists; a nil IndexPath means it had no position.
type ChangeInfo struct {
	Event     *model.Event
	IndexPath *IndexPath
}

// UpdatePlan lists the section and item updates a list view needs to apply.
type UpdatePlan struct {
	Deletions         []IndexPath `json:"deletions"`
	Insertions        []IndexPath `json:"insertions"`
	Reloads           []IndexPath `json:"reloads"`
	SectionDeletions  []int       `json:"section_deletions"`
	SectionInsertions []int       `json:"section_insertions"`
}

func (p UpdatePlan) IsEmpty() bool {
	return len(p.Deletions) == 0 && len(p.Insertions) == 0 && len(p.Reloads) == 0 &&
		len(p.SectionDeletions) == 0 && len(p.SectionInsertions) == 0
}

// UpdatesForEvent computes the plan for one mutation. idx must be the index
// built after the mutation; oldInfo carries the snapshot and the path taken
// before it. Inputs that match no case yield an empty plan.
func (idx *Index) UpdatesForEvent(newInfo, oldInfo ChangeInfo) UpdatePlan {
	var plan UpdatePlan
	oldEvent, oldPath := oldInfo.Event, oldInfo.IndexPath
	newEvent := newInfo.Event

	if newEvent == nil {
		if oldEvent != nil && oldPath != nil && !oldEvent.IsNew {
			idx.deleteOrReload(&plan, *oldPath, *oldEvent)
		}
		return plan
	}

	monthKey := MonthStart(newEvent.Start, idx.loc)
	dayKey := idx.dayKey(*newEvent)
	next, ok := idx.indexPath(monthKey, dayKey)
	if !ok {
		// The new state does not contain the event; nothing to show.
		return plan
	}
	dayCount := idx.eventsAt(monthKey, dayKey)
	monthDays := 0
	if m, ok := idx.EventsForMonthAt(next.Section); ok {
		monthDays = m.DayCount()
	}

	switch {
	case oldEvent == nil || oldEvent.IsNew:
		if dayCount == 1 {
			plan.Insertions = append(plan.Insertions, next)
			if monthDays == 1 {
				plan.SectionInsertions = []int{next.Section}
			}
		} else {
			plan.Reloads = append(plan.Reloads, next)
		}

	case oldPath != nil && !idx.dayKey(*oldEvent).Equal(dayKey):
		idx.deleteOrReload(&plan, *oldPath, *oldEvent)

		if dayCount == 1 {
			plan.Insertions = append(plan.Insertions, next)
			if monthDays == 1 && !MonthStart(oldEvent.Start, idx.loc).Equal(monthKey) {
				plan.SectionInsertions = []int{next.Section}
			}
		} else {
			reload := next
			if newInfo.IndexPath != nil {
				reload = *newInfo.IndexPath
			}
			plan.Reloads = append(plan.Reloads, reload)
		}
	}

	return plan
}

// deleteOrReload handles the source cell of a deletion or move: the cell goes
// away when its day emptied, and its section too when the month did.
func (idx *Index) deleteOrReload(plan *UpdatePlan, oldPath IndexPath, oldEvent model.Event) {
	monthKey := MonthStart(oldEvent.Start, idx.loc)
	if _, ok := idx.indexPath(monthKey, idx.dayKey(oldEvent)); ok {
		plan.Reloads = append(plan.Reloads, oldPath)
		return
	}
	plan.Deletions = append(plan.Deletions, oldPath)
	if _, ok := idx.months.IndexOf(monthKey); !ok {
		plan.SectionDeletions = []int{oldPath.Section}
	}
}
