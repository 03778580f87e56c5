package eventindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"eventcal/internal/model"
)

// mutate builds the before and after indexes, captures each side's path
// against the before state, and diffs against the after state.
func mutate(before, after []model.Event, oldEvent, newEvent *model.Event) UpdatePlan {
	pre := New(before, WithLocation(time.UTC))

	var oldInfo, newInfo ChangeInfo
	if oldEvent != nil {
		oldInfo.Event = oldEvent
		if p, ok := pre.IndexPathForDay(oldEvent.Start); ok {
			oldInfo.IndexPath = &p
		}
	}
	if newEvent != nil {
		newInfo.Event = newEvent
		if p, ok := pre.IndexPathForDay(newEvent.Start); ok {
			newInfo.IndexPath = &p
		}
	}

	post := New(after, WithLocation(time.UTC))
	return post.UpdatesForEvent(newInfo, oldInfo)
}

func newEventAt(start time.Time) (snapshot, saved model.Event) {
	snapshot = model.Event{Title: "New", Start: start, IsNew: true}
	saved = snapshot
	saved.ID = "new"
	saved.IsNew = false
	return snapshot, saved
}

func TestAddingEventToNewDay(t *testing.T) {
	existing := ev("today", today)
	snap, saved := newEventAt(tomorrow)

	plan := mutate([]model.Event{existing}, []model.Event{existing, saved}, &snap, &saved)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 1}}, plan.Insertions)
	assert.Empty(t, plan.SectionInsertions)
	assert.Empty(t, plan.Deletions)
	assert.Empty(t, plan.Reloads)
}

func TestAddingEventToExistingDay(t *testing.T) {
	existing := ev("today", today)
	snap, saved := newEventAt(today.Add(time.Hour))

	plan := mutate([]model.Event{existing}, []model.Event{existing, saved}, &snap, &saved)

	assert.Empty(t, plan.Insertions)
	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Reloads)
}

func TestAddingEventToNewMonth(t *testing.T) {
	existing := ev("other", anotherMonth)
	snap, saved := newEventAt(today)

	plan := mutate([]model.Event{existing}, []model.Event{saved, existing}, &snap, &saved)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Insertions)
	assert.Equal(t, []int{0}, plan.SectionInsertions)
	assert.Empty(t, plan.Deletions)
	assert.Empty(t, plan.Reloads)
}

func TestAddingEventWithoutSnapshot(t *testing.T) {
	existing := ev("today", today)
	_, saved := newEventAt(tomorrow)

	plan := mutate([]model.Event{existing}, []model.Event{existing, saved}, nil, &saved)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 1}}, plan.Insertions)
}

func TestDeletingLastEventOfMonth(t *testing.T) {
	only := ev("today", today)

	plan := mutate([]model.Event{only}, nil, &only, nil)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Deletions)
	assert.Equal(t, []int{0}, plan.SectionDeletions)
	assert.Empty(t, plan.Insertions)
	assert.Empty(t, plan.Reloads)
}

func TestDeletingLastEventOfDayKeepsMonth(t *testing.T) {
	first, second := ev("today", today), ev("tomorrow", tomorrow)

	plan := mutate([]model.Event{first, second}, []model.Event{first}, &second, nil)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 1}}, plan.Deletions)
	assert.Empty(t, plan.SectionDeletions)
}

func TestDeletingOneOfTwoEventsOnDay(t *testing.T) {
	gone, other := ev("today-0", today), ev("today-1", today.Add(time.Hour))

	plan := mutate([]model.Event{gone, other}, []model.Event{other}, &gone, nil)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Reloads)
	assert.Empty(t, plan.Deletions)
	assert.Empty(t, plan.Insertions)
}

func TestDeletingNewEventIsNoop(t *testing.T) {
	existing := ev("today", today)
	unsaved := model.Event{Title: "draft", Start: today, IsNew: true}

	plan := mutate([]model.Event{existing}, []model.Event{existing}, &unsaved, nil)

	assert.True(t, plan.IsEmpty())
}

func TestEditingEventInPlace(t *testing.T) {
	original := ev("today", today)
	edited := original
	edited.Title = "Renamed"

	plan := mutate([]model.Event{original}, []model.Event{edited}, &original, &edited)

	assert.True(t, plan.IsEmpty())
}

func TestEditingTimeWithinSameDay(t *testing.T) {
	original := ev("today", today)
	edited := original
	edited.Start = today.Add(4 * time.Hour)

	plan := mutate([]model.Event{original}, []model.Event{edited}, &original, &edited)

	assert.True(t, plan.IsEmpty())
}

func TestMovingOnlyEventAcrossMonths(t *testing.T) {
	original := ev("other", anotherMonth)
	moved := original
	moved.Start = today

	plan := mutate([]model.Event{original}, []model.Event{moved}, &original, &moved)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Insertions)
	assert.Equal(t, []int{0}, plan.SectionInsertions)
	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Deletions)
	assert.Equal(t, []int{0}, plan.SectionDeletions)
	assert.Empty(t, plan.Reloads)
}

func TestMovingEventOfDayToNewDay(t *testing.T) {
	original, other := ev("today", today), ev("other", anotherMonth)
	moved := original
	moved.Start = tomorrow

	plan := mutate(
		[]model.Event{original, other},
		[]model.Event{moved, other},
		&original, &moved,
	)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Insertions)
	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Deletions)
	assert.Empty(t, plan.SectionInsertions)
	assert.Empty(t, plan.SectionDeletions)
	assert.Empty(t, plan.Reloads)
}

func TestMovingEventToOccupiedDay(t *testing.T) {
	original, target := ev("today", today), ev("tomorrow", tomorrow)
	moved := original
	moved.Start = tomorrow.Add(time.Hour)

	plan := mutate(
		[]model.Event{original, target},
		[]model.Event{target, moved},
		&original, &moved,
	)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Deletions)
	assert.Equal(t, []IndexPath{{Section: 0, Item: 1}}, plan.Reloads)
	assert.Empty(t, plan.Insertions)
	assert.Empty(t, plan.SectionDeletions)
}

func TestMovingEventOutOfSharedDay(t *testing.T) {
	staying, leaving := ev("today-0", today), ev("today-1", today.Add(time.Hour))
	moved := leaving
	moved.Start = anotherMonth

	plan := mutate(
		[]model.Event{staying, leaving},
		[]model.Event{staying, moved},
		&leaving, &moved,
	)

	assert.Equal(t, []IndexPath{{Section: 0, Item: 0}}, plan.Reloads)
	assert.Equal(t, []IndexPath{{Section: 1, Item: 0}}, plan.Insertions)
	assert.Equal(t, []int{1}, plan.SectionInsertions)
	assert.Empty(t, plan.Deletions)
}

func TestBothPathsMissingIsNoop(t *testing.T) {
	post := New(nil, WithLocation(time.UTC))

	plan := post.UpdatesForEvent(ChangeInfo{}, ChangeInfo{})
	assert.True(t, plan.IsEmpty())

	stray := ev("stray", today)
	plan = post.UpdatesForEvent(ChangeInfo{}, ChangeInfo{Event: &stray})
	assert.True(t, plan.IsEmpty())
}

func TestNewEventMissingFromAfterStateIsNoop(t *testing.T) {
	post := New([]model.Event{ev("other", anotherMonth)}, WithLocation(time.UTC))
	snap, saved := newEventAt(today)

	plan := post.UpdatesForEvent(ChangeInfo{Event: &saved}, ChangeInfo{Event: &snap})
	assert.True(t, plan.IsEmpty())
}
