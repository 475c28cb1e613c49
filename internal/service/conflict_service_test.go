package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushq/registrar-api/internal/models"
)

func mustClock(t *testing.T, raw string) models.ClockTime {
	t.Helper()
	parsed, err := models.ParseClockTime(raw)
	require.NoError(t, err)
	return parsed
}

func testSection(t *testing.T, id string, days models.DaySet, start, end string) models.Section {
	t.Helper()
	return models.Section{
		ID:           id,
		CourseCode:   "CS-" + id,
		ScheduleDays: days,
		StartTime:    mustClock(t, start),
		EndTime:      mustClock(t, end),
	}
}

func TestDetectStudentConflicts(t *testing.T) {
	svc := NewConflictService(nil)

	candidate := testSection(t, "new", models.DaySet{models.WeekdayMonday, models.WeekdayWednesday}, "09:00", "10:30")
	timetable := []models.Section{
		testSection(t, "a", models.DaySet{models.WeekdayMonday}, "10:00", "11:00"),
		testSection(t, "b", models.DaySet{models.WeekdayTuesday}, "09:00", "10:30"),
		testSection(t, "c", models.DaySet{models.WeekdayWednesday}, "10:30", "12:00"),
	}

	conflicts := svc.DetectStudentConflicts(&candidate, timetable)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "a", conflicts[0].SectionID)
	assert.Equal(t, "CS-a", conflicts[0].CourseCode)
	assert.Empty(t, conflicts[0].Dimension)
}

func TestDetectStudentConflictsEmptyTimetable(t *testing.T) {
	svc := NewConflictService(nil)
	candidate := testSection(t, "new", models.DaySet{models.WeekdayFriday}, "09:00", "10:00")

	assert.Empty(t, svc.DetectStudentConflicts(&candidate, nil))
}

func TestDetectResourceConflictsSkipsSelf(t *testing.T) {
	svc := NewConflictService(nil)

	candidate := testSection(t, "edit", models.DaySet{models.WeekdayMonday}, "09:00", "10:00")
	pool := []models.Section{
		testSection(t, "edit", models.DaySet{models.WeekdayMonday}, "09:00", "10:00"),
		testSection(t, "other", models.DaySet{models.WeekdayMonday}, "09:30", "10:30"),
	}

	conflicts := svc.DetectResourceConflicts(&candidate, pool, models.ConflictDimensionRoom)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "other", conflicts[0].SectionID)
	assert.Equal(t, string(models.ConflictDimensionRoom), conflicts[0].Dimension)
}
