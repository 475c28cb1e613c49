package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	parsed, err := ParseClockTime("09:30")
	require.NoError(t, err)
	assert.Equal(t, ClockTime(9*60+30), parsed)
	assert.Equal(t, "09:30", parsed.String())

	_, err = ParseClockTime("25:00")
	assert.Error(t, err)
	_, err = ParseClockTime("10:75")
	assert.Error(t, err)
	_, err = ParseClockTime("banana")
	assert.Error(t, err)
}

func TestParseDaySet(t *testing.T) {
	set, err := ParseDaySet("monday, WEDNESDAY ,Friday")
	require.NoError(t, err)
	assert.Equal(t, DaySet{WeekdayMonday, WeekdayWednesday, WeekdayFriday}, set)

	_, err = ParseDaySet("MONDAY,FUNDAY")
	assert.Error(t, err)

	empty, err := ParseDaySet("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestTimesOverlap(t *testing.T) {
	nine, _ := ParseClockTime("09:00")
	ten, _ := ParseClockTime("10:00")
	eleven, _ := ParseClockTime("11:00")
	halfTen, _ := ParseClockTime("10:30")

	tests := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd ClockTime
		want                       bool
	}{
		{"disjoint", nine, ten, halfTen, eleven, false},
		{"partial overlap", nine, halfTen, ten, eleven, true},
		{"containment", nine, eleven, ten, halfTen, true},
		{"identical", nine, ten, nine, ten, true},
		{"touching boundary does not collide", nine, ten, ten, eleven, false},
		{"touching boundary reversed", ten, eleven, nine, ten, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimesOverlap(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd))
			// Overlap is symmetric.
			assert.Equal(t, tt.want, TimesOverlap(tt.bStart, tt.bEnd, tt.aStart, tt.aEnd))
		})
	}
}

func TestScheduleConflictsWith(t *testing.T) {
	nine, _ := ParseClockTime("09:00")
	ten, _ := ParseClockTime("10:00")
	eleven, _ := ParseClockTime("11:00")

	monWed := SectionSchedule{Days: DaySet{WeekdayMonday, WeekdayWednesday}, StartTime: nine, EndTime: eleven}
	tueThu := SectionSchedule{Days: DaySet{WeekdayTuesday, WeekdayThursday}, StartTime: nine, EndTime: eleven}
	wedLate := SectionSchedule{Days: DaySet{WeekdayWednesday}, StartTime: ten, EndTime: eleven}
	monAfter := SectionSchedule{Days: DaySet{WeekdayMonday}, StartTime: eleven, EndTime: eleven + 60}

	assert.False(t, monWed.ConflictsWith(tueThu), "disjoint days never conflict")
	assert.True(t, monWed.ConflictsWith(wedLate), "shared day with overlapping window")
	assert.False(t, monWed.ConflictsWith(monAfter), "back to back on the same day is allowed")
}

func TestScheduleEqual(t *testing.T) {
	nine, _ := ParseClockTime("09:00")
	ten, _ := ParseClockTime("10:00")

	a := SectionSchedule{Days: DaySet{WeekdayMonday, WeekdayFriday}, StartTime: nine, EndTime: ten}
	b := SectionSchedule{Days: DaySet{WeekdayFriday, WeekdayMonday}, StartTime: nine, EndTime: ten}
	c := SectionSchedule{Days: DaySet{WeekdayMonday}, StartTime: nine, EndTime: ten}

	assert.True(t, a.Equal(b), "day order is irrelevant")
	assert.False(t, a.Equal(c))
}

func TestDaySetScanValue(t *testing.T) {
	set := DaySet{WeekdayMonday, WeekdayWednesday}
	value, err := set.Value()
	require.NoError(t, err)
	assert.Equal(t, "MONDAY,WEDNESDAY", value)

	var scanned DaySet
	require.NoError(t, scanned.Scan("MONDAY,WEDNESDAY"))
	assert.Equal(t, set, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	assert.Error(t, scanned.Scan(42))
}
