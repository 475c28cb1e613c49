package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campushq/registrar-api/internal/models"
	appErrors "github.com/campushq/registrar-api/pkg/errors"
)

type sectionRepository interface {
	List(ctx context.Context, filter models.SectionFilter) ([]models.Section, int, error)
	FindByID(ctx context.Context, id string) (*models.Section, error)
	ListByResource(ctx context.Context, dimension models.ConflictDimension, resourceID, termID, excludeID string) ([]models.Section, error)
	Create(ctx context.Context, section *models.Section) error
	Update(ctx context.Context, section *models.Section) error
}

type sectionTermReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

// CreateSectionRequest describes payload for planning a new section.
type CreateSectionRequest struct {
	CourseCode   string   `json:"course_code" validate:"required"`
	Title        string   `json:"title" validate:"required"`
	Capacity     int      `json:"capacity" validate:"required,min=1"`
	ScheduleDays []string `json:"schedule_days" validate:"required,min=1,dive,required"`
	StartTime    string   `json:"start_time" validate:"required"`
	EndTime      string   `json:"end_time" validate:"required"`
	RoomID       *string  `json:"room_id,omitempty" validate:"omitempty,uuid4"`
	InstructorID *string  `json:"instructor_id,omitempty" validate:"omitempty,uuid4"`
	TermID       string   `json:"term_id" validate:"required,uuid4"`
}

// UpdateSectionRequest updates mutable fields on a section. Schedule and
// resource changes are rejected once students occupy or wait on the section.
type UpdateSectionRequest struct {
	Title        string   `json:"title" validate:"required"`
	Capacity     int      `json:"capacity" validate:"required,min=1"`
	Status       string   `json:"status" validate:"required,oneof=OPEN CLOSED CANCELLED"`
	ScheduleDays []string `json:"schedule_days" validate:"required,min=1,dive,required"`
	StartTime    string   `json:"start_time" validate:"required"`
	EndTime      string   `json:"end_time" validate:"required"`
	RoomID       *string  `json:"room_id,omitempty" validate:"omitempty,uuid4"`
	InstructorID *string  `json:"instructor_id,omitempty" validate:"omitempty,uuid4"`
}

// SectionService manages the section catalog and planning-time conflict
// checks over rooms and instructors.
type SectionService struct {
	repo         sectionRepository
	terms        sectionTermReader
	conflicts    *ConflictService
	cache        *CacheService
	occupancyTTL time.Duration
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewSectionService builds the section planning service.
func NewSectionService(repo sectionRepository, terms sectionTermReader, conflicts *ConflictService, cache *CacheService, occupancyTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *SectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if conflicts == nil {
		conflicts = NewConflictService(logger)
	}
	if occupancyTTL <= 0 {
		occupancyTTL = 30 * time.Second
	}
	return &SectionService{
		repo:         repo,
		terms:        terms,
		conflicts:    conflicts,
		cache:        cache,
		occupancyTTL: occupancyTTL,
		validator:    validate,
		logger:       logger,
	}
}

// List returns paginated sections.
func (s *SectionService) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, *models.Pagination, error) {
	sections, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return sections, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a section by id.
func (s *SectionService) Get(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return section, nil
}

// Occupancy returns the seat and waitlist snapshot for a section, served
// from cache when fresh.
func (s *SectionService) Occupancy(ctx context.Context, id string) (*models.SectionOccupancy, error) {
	key := occupancyCacheKey(id)
	if s.cache.Enabled() {
		var cached models.SectionOccupancy
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	occupancy := &models.SectionOccupancy{
		SectionID:     section.ID,
		Capacity:      section.Capacity,
		EnrolledCount: section.EnrolledCount,
		WaitlistCount: section.WaitlistCount,
		Status:        section.Status,
	}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, key, occupancy, s.occupancyTTL)
	}
	return occupancy, nil
}

// Create plans a new section after validating its meeting pattern and
// checking room and instructor availability.
func (s *SectionService) Create(ctx context.Context, req CreateSectionRequest) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}

	schedule, err := parseSchedule(req.ScheduleDays, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	if _, err := s.terms.FindByID(ctx, req.TermID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	section := &models.Section{
		CourseCode:   req.CourseCode,
		Title:        req.Title,
		Capacity:     req.Capacity,
		Status:       models.SectionStatusOpen,
		ScheduleDays: schedule.Days,
		StartTime:    schedule.StartTime,
		EndTime:      schedule.EndTime,
		RoomID:       req.RoomID,
		InstructorID: req.InstructorID,
		TermID:       req.TermID,
	}

	if err := s.checkResources(ctx, section, ""); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}
	return section, nil
}

// Update modifies a section. Capacity may grow or shrink freely (existing
// enrollments are never evicted); schedule and resource edits require an
// empty roster and waitlist.
func (s *SectionService) Update(ctx context.Context, id string, req UpdateSectionRequest) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}

	schedule, err := parseSchedule(req.ScheduleDays, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	scheduleChanged := !section.Schedule().Equal(schedule) ||
		!stringPtrEqual(section.RoomID, req.RoomID) ||
		!stringPtrEqual(section.InstructorID, req.InstructorID)
	if scheduleChanged && section.HasEnrollmentActivity() {
		return nil, appErrors.Clone(appErrors.ErrSectionImmutable, "")
	}

	section.Title = req.Title
	section.Capacity = req.Capacity
	section.Status = models.SectionStatus(req.Status)
	section.ScheduleDays = schedule.Days
	section.StartTime = schedule.StartTime
	section.EndTime = schedule.EndTime
	section.RoomID = req.RoomID
	section.InstructorID = req.InstructorID

	if scheduleChanged {
		if err := s.checkResources(ctx, section, section.ID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update section")
	}
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, occupancyCacheKey(section.ID))
	}
	return section, nil
}

// checkResources rejects the section when its room or instructor is already
// booked for an overlapping window in the same term.
func (s *SectionService) checkResources(ctx context.Context, section *models.Section, excludeID string) error {
	dimensions := []struct {
		dim      models.ConflictDimension
		resource *string
	}{
		{models.ConflictDimensionRoom, section.RoomID},
		{models.ConflictDimensionInstructor, section.InstructorID},
	}
	for _, d := range dimensions {
		if d.resource == nil || *d.resource == "" {
			continue
		}
		others, err := s.repo.ListByResource(ctx, d.dim, *d.resource, section.TermID, excludeID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check resource availability")
		}
		if conflicts := s.conflicts.DetectResourceConflicts(section, others, d.dim); len(conflicts) > 0 {
			return appErrors.WithDetails(appErrors.Clone(appErrors.ErrScheduleConflict, string(d.dim)+" is already booked for an overlapping window"), conflicts)
		}
	}
	return nil
}

func parseSchedule(days []string, start, end string) (models.SectionSchedule, error) {
	set := make(models.DaySet, 0, len(days))
	for _, raw := range days {
		day, err := models.ParseWeekday(raw)
		if err != nil {
			return models.SectionSchedule{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		if set.Contains(day) {
			continue
		}
		set = append(set, day)
	}
	startTime, err := models.ParseClockTime(start)
	if err != nil {
		return models.SectionSchedule{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	endTime, err := models.ParseClockTime(end)
	if err != nil {
		return models.SectionSchedule{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if startTime >= endTime {
		return models.SectionSchedule{}, appErrors.Clone(appErrors.ErrValidation, "start_time must be before end_time")
	}
	return models.SectionSchedule{Days: set, StartTime: startTime, EndTime: endTime}, nil
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
