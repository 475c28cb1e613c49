package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Weekday is the day tag used by section schedules.
type Weekday string

const (
	WeekdayMonday    Weekday = "MONDAY"
	WeekdayTuesday   Weekday = "TUESDAY"
	WeekdayWednesday Weekday = "WEDNESDAY"
	WeekdayThursday  Weekday = "THURSDAY"
	WeekdayFriday    Weekday = "FRIDAY"
	WeekdaySaturday  Weekday = "SATURDAY"
	WeekdaySunday    Weekday = "SUNDAY"
)

var validWeekdays = map[Weekday]bool{
	WeekdayMonday:    true,
	WeekdayTuesday:   true,
	WeekdayWednesday: true,
	WeekdayThursday:  true,
	WeekdayFriday:    true,
	WeekdaySaturday:  true,
	WeekdaySunday:    true,
}

// ParseWeekday normalises a day tag.
func ParseWeekday(raw string) (Weekday, error) {
	day := Weekday(strings.ToUpper(strings.TrimSpace(raw)))
	if !validWeekdays[day] {
		return "", fmt.Errorf("invalid weekday %q", raw)
	}
	return day, nil
}

// DaySet is the set of weekdays a section meets. Stored as a comma separated
// list in the schedule_days column.
type DaySet []Weekday

// Value implements driver.Valuer.
func (d DaySet) Value() (driver.Value, error) {
	parts := make([]string, len(d))
	for i, day := range d {
		parts[i] = string(day)
	}
	return strings.Join(parts, ","), nil
}

// Scan implements sql.Scanner.
func (d *DaySet) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into DaySet", src)
	}
	parsed, err := ParseDaySet(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDaySet parses a comma separated list of day tags.
func ParseDaySet(raw string) (DaySet, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	set := make(DaySet, 0, len(parts))
	for _, part := range parts {
		day, err := ParseWeekday(part)
		if err != nil {
			return nil, err
		}
		set = append(set, day)
	}
	return set, nil
}

// Contains reports whether the set includes day.
func (d DaySet) Contains(day Weekday) bool {
	for _, existing := range d {
		if existing == day {
			return true
		}
	}
	return false
}

// ClockTime is a time of day expressed as minutes since midnight.
type ClockTime int

// ParseClockTime parses "HH:MM" into a ClockTime.
func ParseClockTime(raw string) (ClockTime, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", raw, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time %q", raw)
	}
	return ClockTime(hour*60 + minute), nil
}

// String renders the time as "HH:MM".
func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// MarshalJSON renders ClockTime as its "HH:MM" form.
func (t ClockTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", t.String())), nil
}

// UnmarshalJSON accepts a quoted "HH:MM" string.
func (t *ClockTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SectionSchedule is the weekly meeting pattern of a section.
type SectionSchedule struct {
	Days      DaySet    `json:"days"`
	StartTime ClockTime `json:"start_time"`
	EndTime   ClockTime `json:"end_time"`
}

// DaysOverlap reports whether two day sets intersect.
func DaysOverlap(a, b DaySet) bool {
	for _, day := range a {
		if b.Contains(day) {
			return true
		}
	}
	return false
}

// TimesOverlap reports whether two half-open intervals intersect. A section
// ending at 10:00 does not collide with one starting at 10:00.
func TimesOverlap(aStart, aEnd, bStart, bEnd ClockTime) bool {
	return aStart < bEnd && bStart < aEnd
}

// ConflictsWith reports whether two schedules collide: shared day and
// overlapping time window.
func (s SectionSchedule) ConflictsWith(other SectionSchedule) bool {
	return DaysOverlap(s.Days, other.Days) && TimesOverlap(s.StartTime, s.EndTime, other.StartTime, other.EndTime)
}

// Equal reports whether two schedules have the same window and day set,
// ignoring day order.
func (s SectionSchedule) Equal(other SectionSchedule) bool {
	if s.StartTime != other.StartTime || s.EndTime != other.EndTime {
		return false
	}
	if len(s.Days) != len(other.Days) {
		return false
	}
	for _, day := range s.Days {
		if !other.Days.Contains(day) {
			return false
		}
	}
	return true
}
