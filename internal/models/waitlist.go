package models

import "time"

// WaitlistStatus represents the lifecycle of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistStatusWaiting  WaitlistStatus = "WAITING"
	WaitlistStatusPromoted WaitlistStatus = "PROMOTED"
	WaitlistStatusRemoved  WaitlistStatus = "REMOVED"
)

// WaitlistEntry is a student's place in a section's FIFO waitlist. Positions
// among WAITING entries for a section form the contiguous sequence
// {1..waitlist_count}; compaction after a removal or promotion keeps the
// sequence gap-free.
type WaitlistEntry struct {
	ID        string         `db:"id" json:"id"`
	StudentID string         `db:"student_id" json:"student_id"`
	SectionID string         `db:"section_id" json:"section_id"`
	Position  int            `db:"position" json:"position"`
	Status    WaitlistStatus `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}
