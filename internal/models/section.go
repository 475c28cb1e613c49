package models

import "time"

// SectionStatus represents the lifecycle state of a course section.
type SectionStatus string

const (
	SectionStatusOpen      SectionStatus = "OPEN"
	SectionStatusClosed    SectionStatus = "CLOSED"
	SectionStatusCancelled SectionStatus = "CANCELLED"
)

// AdmitOutcome is the result of an atomic seat admission attempt.
type AdmitOutcome string

const (
	AdmitOutcomeAdmitted AdmitOutcome = "ADMITTED"
	AdmitOutcomeFull     AdmitOutcome = "FULL"
	AdmitOutcomeClosed   AdmitOutcome = "CLOSED"
)

// ConflictDimension selects the resource axis for planning conflict checks.
type ConflictDimension string

const (
	ConflictDimensionRoom       ConflictDimension = "room"
	ConflictDimensionInstructor ConflictDimension = "instructor"
)

// Section is a capacity-bounded offering of a course within a term.
// The enrolled_count and waitlist_count columns are written exclusively by
// the capacity ledger queries in SectionRepository.
type Section struct {
	ID            string        `db:"id" json:"id"`
	CourseCode    string        `db:"course_code" json:"course_code"`
	Title         string        `db:"title" json:"title"`
	Capacity      int           `db:"capacity" json:"capacity"`
	EnrolledCount int           `db:"enrolled_count" json:"enrolled_count"`
	WaitlistCount int           `db:"waitlist_count" json:"waitlist_count"`
	Status        SectionStatus `db:"status" json:"status"`
	ScheduleDays  DaySet        `db:"schedule_days" json:"schedule_days"`
	StartTime     ClockTime     `db:"start_time" json:"start_time"`
	EndTime       ClockTime     `db:"end_time" json:"end_time"`
	RoomID        *string       `db:"room_id" json:"room_id,omitempty"`
	InstructorID  *string       `db:"instructor_id" json:"instructor_id,omitempty"`
	TermID        string        `db:"term_id" json:"term_id"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// Schedule returns the section's weekly meeting pattern.
func (s *Section) Schedule() SectionSchedule {
	return SectionSchedule{Days: s.ScheduleDays, StartTime: s.StartTime, EndTime: s.EndTime}
}

// HasEnrollmentActivity reports whether any student occupies or waits on the
// section. Schedule and resource edits are rejected while this holds.
func (s *Section) HasEnrollmentActivity() bool {
	return s.EnrolledCount > 0 || s.WaitlistCount > 0
}

// SectionFilter describes query params for listing sections.
type SectionFilter struct {
	TermID       string
	CourseCode   string
	InstructorID string
	RoomID       string
	Status       SectionStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// SectionConflict summarises an existing section that collides with a
// candidate schedule.
type SectionConflict struct {
	SectionID  string    `json:"section_id"`
	CourseCode string    `json:"course_code"`
	Days       DaySet    `json:"days"`
	StartTime  ClockTime `json:"start_time"`
	EndTime    ClockTime `json:"end_time"`
	Dimension  string    `json:"dimension,omitempty"`
}

// SectionOccupancy is the cached seat/waitlist snapshot for a section.
type SectionOccupancy struct {
	SectionID     string        `json:"section_id"`
	Capacity      int           `json:"capacity"`
	EnrolledCount int           `json:"enrolled_count"`
	WaitlistCount int           `json:"waitlist_count"`
	Status        SectionStatus `json:"status"`
}
