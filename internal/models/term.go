package models

import "time"

// Term models an academic term within the institution calendar. DropDeadline
// bounds student-initiated drops; a nil deadline means drops are always
// allowed.
type Term struct {
	ID           string     `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	AcademicYear string     `db:"academic_year" json:"academic_year"`
	StartDate    time.Time  `db:"start_date" json:"start_date"`
	EndDate      time.Time  `db:"end_date" json:"end_date"`
	DropDeadline *time.Time `db:"drop_deadline" json:"drop_deadline,omitempty"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// DropAllowedAt reports whether a drop initiated at the given instant beats
// the term's deadline.
func (t *Term) DropAllowedAt(at time.Time) bool {
	return t.DropDeadline == nil || !at.After(*t.DropDeadline)
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	AcademicYear string
	IsActive     *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
