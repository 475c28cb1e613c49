package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/campushq/registrar-api/internal/models"
	appErrors "github.com/campushq/registrar-api/pkg/errors"
)

type waitlistReader interface {
	ListWaiting(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
	CountWaiting(ctx context.Context, sectionID string) (int, error)
}

type waitlistSectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

// WaitlistQueue is the read view of a section's queue served to advisors.
type WaitlistQueue struct {
	SectionID string                 `json:"section_id"`
	Entries   []models.WaitlistEntry `json:"entries"`
}

// WaitlistService exposes read access to section queues. Mutations go
// through the enrollment state machine.
type WaitlistService struct {
	waitlist waitlistReader
	sections waitlistSectionReader
	logger   *zap.Logger
}

// NewWaitlistService constructs the read service.
func NewWaitlistService(waitlist waitlistReader, sections waitlistSectionReader, logger *zap.Logger) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{waitlist: waitlist, sections: sections, logger: logger}
}

// Queue returns a section's WAITING entries in position order.
func (s *WaitlistService) Queue(ctx context.Context, sectionID string) (*WaitlistQueue, error) {
	if _, err := s.sections.FindByID(ctx, sectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	entries, err := s.waitlist.ListWaiting(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	return &WaitlistQueue{SectionID: sectionID, Entries: entries}, nil
}

// Position returns a student's place in a section queue, or NotFound when
// they are not waiting.
func (s *WaitlistService) Position(ctx context.Context, sectionID, studentID string) (*models.WaitlistEntry, error) {
	queue, err := s.Queue(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	for i := range queue.Entries {
		if queue.Entries[i].StudentID == studentID {
			return &queue.Entries[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not on the waitlist")
}
