package service

import (
	"go.uber.org/zap"

	"github.com/campushq/registrar-api/internal/models"
)

// ConflictService evaluates schedule collisions between sections. It is pure
// computation over already-loaded rows; callers decide which pool of sections
// to compare against (a student's timetable or a shared room/instructor).
type ConflictService struct {
	logger *zap.Logger
}

// NewConflictService constructs the detector.
func NewConflictService(logger *zap.Logger) *ConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{logger: logger}
}

// DetectStudentConflicts returns the sections in the student's current
// timetable that collide with the candidate. An empty result means the
// candidate fits.
func (s *ConflictService) DetectStudentConflicts(candidate *models.Section, current []models.Section) []models.SectionConflict {
	return detectConflicts(candidate, current, "")
}

// DetectResourceConflicts returns sections sharing a room or instructor whose
// meeting pattern collides with the candidate. Sections without the resource
// assigned never conflict on that dimension.
func (s *ConflictService) DetectResourceConflicts(candidate *models.Section, others []models.Section, dimension models.ConflictDimension) []models.SectionConflict {
	return detectConflicts(candidate, others, dimension)
}

func detectConflicts(candidate *models.Section, pool []models.Section, dimension models.ConflictDimension) []models.SectionConflict {
	schedule := candidate.Schedule()
	var conflicts []models.SectionConflict
	for i := range pool {
		other := &pool[i]
		if other.ID == candidate.ID {
			continue
		}
		if !schedule.ConflictsWith(other.Schedule()) {
			continue
		}
		conflicts = append(conflicts, models.SectionConflict{
			SectionID:  other.ID,
			CourseCode: other.CourseCode,
			Days:       other.ScheduleDays,
			StartTime:  other.StartTime,
			EndTime:    other.EndTime,
			Dimension:  string(dimension),
		})
	}
	return conflicts
}
