package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/campushq/registrar-api/internal/models"
	"github.com/campushq/registrar-api/internal/repository"
	appErrors "github.com/campushq/registrar-api/pkg/errors"
)

// RegistrationStatus is the terminal state of a register call.
type RegistrationStatus string

const (
	RegistrationStatusEnrolled   RegistrationStatus = "ENROLLED"
	RegistrationStatusWaitlisted RegistrationStatus = "WAITLISTED"
)

type transactor interface {
	Within(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type sectionLedger interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Section, error)
	TryAdmit(ctx context.Context, tx *sqlx.Tx, sectionID string) (models.AdmitOutcome, error)
	ReleaseSeat(ctx context.Context, tx *sqlx.Tx, sectionID string) error
	EnqueueWaitlist(ctx context.Context, tx *sqlx.Tx, sectionID string) (int, error)
	DequeueWaitlist(ctx context.Context, tx *sqlx.Tx, sectionID string) error
}

type enrollmentStore interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindActiveTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (*models.Enrollment, error)
	ExistsActiveTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (bool, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error
	MarkDroppedTx(ctx context.Context, tx *sqlx.Tx, id string, droppedAt time.Time) error
	ListActiveSectionsTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) ([]models.Section, error)
	ListActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

type waitlistStore interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error
	ExistsWaitingTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (bool, error)
	FindWaitingTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (*models.WaitlistEntry, error)
	NextWaitingTx(ctx context.Context, tx *sqlx.Tx, sectionID string, afterPosition int) (*models.WaitlistEntry, error)
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.WaitlistStatus) error
	CompactTx(ctx context.Context, tx *sqlx.Tx, sectionID string, removedPosition int) error
	CountWaiting(ctx context.Context, sectionID string) (int, error)
}

type enrollmentTermReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

type transitionSink interface {
	Emit(event models.AuditEvent)
}

// RegisterRequest is the payload for registering a student into a section.
type RegisterRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid4"`
	SectionID string `json:"section_id" validate:"required,uuid4"`
}

// DropRequest is the payload for dropping an enrollment.
type DropRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid4"`
	SectionID string `json:"section_id" validate:"required,uuid4"`
}

// RegistrationResult reports where the student landed: a seat or a waitlist
// position.
type RegistrationResult struct {
	Status        RegistrationStatus    `json:"status"`
	Enrollment    *models.Enrollment    `json:"enrollment,omitempty"`
	WaitlistEntry *models.WaitlistEntry `json:"waitlist_entry,omitempty"`
}

// EnrollmentService drives the registration state machine. Every public
// operation runs its reads and writes inside one transaction via the
// transactor; transient store failures re-execute the whole closure and
// surface as StoreUnavailable only after retries are exhausted.
type EnrollmentService struct {
	tx          transactor
	sections    sectionLedger
	enrollments enrollmentStore
	waitlist    waitlistStore
	terms       enrollmentTermReader
	conflicts   *ConflictService
	audit       transitionSink
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService wires the state machine.
func NewEnrollmentService(
	tx transactor,
	sections sectionLedger,
	enrollments enrollmentStore,
	waitlist waitlistStore,
	terms enrollmentTermReader,
	conflicts *ConflictService,
	audit transitionSink,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if conflicts == nil {
		conflicts = NewConflictService(logger)
	}
	return &EnrollmentService{
		tx:          tx,
		sections:    sections,
		enrollments: enrollments,
		waitlist:    waitlist,
		terms:       terms,
		conflicts:   conflicts,
		audit:       audit,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// List returns enrollments matching the filter.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Register places a student into a section: a seat when one is free, the
// waitlist tail when the section is full. Duplicate membership and timetable
// conflicts reject before any seat is touched.
func (s *EnrollmentService) Register(ctx context.Context, actorID string, req RegisterRequest) (*RegistrationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	var result RegistrationResult
	err := s.tx.Within(ctx, func(tx *sqlx.Tx) error {
		result = RegistrationResult{}

		section, err := s.sections.FindByIDTx(ctx, tx, req.SectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "section not found")
			}
			return fmt.Errorf("load section: %w", err)
		}

		enrolled, err := s.enrollments.ExistsActiveTx(ctx, tx, req.StudentID, req.SectionID)
		if err != nil {
			return fmt.Errorf("check active enrollment: %w", err)
		}
		if enrolled {
			return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		}

		waiting, err := s.waitlist.ExistsWaitingTx(ctx, tx, req.StudentID, req.SectionID)
		if err != nil {
			return fmt.Errorf("check waiting entry: %w", err)
		}
		if waiting {
			return appErrors.Clone(appErrors.ErrAlreadyWaitlisted, "")
		}

		current, err := s.enrollments.ListActiveSectionsTx(ctx, tx, req.StudentID, section.TermID)
		if err != nil {
			return fmt.Errorf("load student timetable: %w", err)
		}
		if conflicts := s.conflicts.DetectStudentConflicts(section, current); len(conflicts) > 0 {
			return appErrors.WithDetails(appErrors.ErrScheduleConflict, conflicts)
		}

		outcome, err := s.sections.TryAdmit(ctx, tx, section.ID)
		if err != nil {
			return fmt.Errorf("try admit: %w", err)
		}
		switch outcome {
		case models.AdmitOutcomeAdmitted:
			enrollment := &models.Enrollment{
				StudentID: req.StudentID,
				SectionID: section.ID,
				TermID:    section.TermID,
			}
			if err := s.enrollments.CreateTx(ctx, tx, enrollment); err != nil {
				return fmt.Errorf("create enrollment: %w", err)
			}
			result = RegistrationResult{Status: RegistrationStatusEnrolled, Enrollment: enrollment}
			return nil
		case models.AdmitOutcomeClosed:
			return appErrors.Clone(appErrors.ErrSectionClosed, "")
		case models.AdmitOutcomeFull:
			position, err := s.sections.EnqueueWaitlist(ctx, tx, section.ID)
			if err != nil {
				return fmt.Errorf("enqueue waitlist: %w", err)
			}
			entry := &models.WaitlistEntry{
				StudentID: req.StudentID,
				SectionID: section.ID,
				Position:  position,
			}
			if err := s.waitlist.CreateTx(ctx, tx, entry); err != nil {
				return fmt.Errorf("create waitlist entry: %w", err)
			}
			result = RegistrationResult{Status: RegistrationStatusWaitlisted, WaitlistEntry: entry}
			return nil
		default:
			return appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("unexpected admit outcome %q", outcome))
		}
	})
	if err != nil {
		err = s.mapTxError(err, "failed to register")
		s.recordOutcome("register", err)
		return nil, err
	}

	s.recordOutcome("register", nil)
	s.invalidateOccupancy(ctx, req.SectionID)
	switch result.Status {
	case RegistrationStatusEnrolled:
		s.emitTransition(actorID, models.AuditActionEnrolled, req.SectionID, map[string]interface{}{
			"student_id":    req.StudentID,
			"enrollment_id": result.Enrollment.ID,
		})
	case RegistrationStatusWaitlisted:
		s.emitTransition(actorID, models.AuditActionWaitlisted, req.SectionID, map[string]interface{}{
			"student_id":        req.StudentID,
			"waitlist_entry_id": result.WaitlistEntry.ID,
			"position":          result.WaitlistEntry.Position,
		})
	}
	return &result, nil
}

// Drop releases a student's seat. The freed seat is offered to the waitlist
// after the drop commits; an advisor or admin actor bypasses the term's drop
// deadline.
func (s *EnrollmentService) Drop(ctx context.Context, actorID string, override bool, req DropRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop payload")
	}

	var droppedID string
	var termID string
	err := s.tx.Within(ctx, func(tx *sqlx.Tx) error {
		enrollment, err := s.enrollments.FindActiveTx(ctx, tx, req.StudentID, req.SectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "active enrollment not found")
			}
			return fmt.Errorf("load enrollment: %w", err)
		}

		now := time.Now().UTC()
		if !override {
			term, err := s.terms.FindByID(ctx, enrollment.TermID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrNotFound, "term not found")
				}
				return fmt.Errorf("load term: %w", err)
			}
			if !term.DropAllowedAt(now) {
				return appErrors.Clone(appErrors.ErrDeadlinePassed, "")
			}
		}

		if err := s.enrollments.MarkDroppedTx(ctx, tx, enrollment.ID, now); err != nil {
			return fmt.Errorf("mark dropped: %w", err)
		}
		if err := s.sections.ReleaseSeat(ctx, tx, enrollment.SectionID); err != nil {
			return fmt.Errorf("release seat: %w", err)
		}
		droppedID = enrollment.ID
		termID = enrollment.TermID
		return nil
	})
	if err != nil {
		err = s.mapTxError(err, "failed to drop enrollment")
		s.recordOutcome("drop", err)
		return err
	}

	s.recordOutcome("drop", nil)
	s.invalidateOccupancy(ctx, req.SectionID)
	s.emitTransition(actorID, models.AuditActionDropped, req.SectionID, map[string]interface{}{
		"student_id":    req.StudentID,
		"enrollment_id": droppedID,
		"term_id":       termID,
		"override":      override,
	})
	s.PromoteFromWaitlist(ctx, req.SectionID)
	return nil
}

// RemoveFromWaitlist takes a student off a section's queue and compacts the
// positions behind them.
func (s *EnrollmentService) RemoveFromWaitlist(ctx context.Context, actorID, studentID, sectionID string) error {
	var removedID string
	err := s.tx.Within(ctx, func(tx *sqlx.Tx) error {
		entry, err := s.waitlist.FindWaitingTx(ctx, tx, studentID, sectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
			}
			return fmt.Errorf("load waitlist entry: %w", err)
		}
		if err := s.waitlist.UpdateStatusTx(ctx, tx, entry.ID, models.WaitlistStatusRemoved); err != nil {
			return fmt.Errorf("mark removed: %w", err)
		}
		if err := s.sections.DequeueWaitlist(ctx, tx, sectionID); err != nil {
			return fmt.Errorf("dequeue waitlist: %w", err)
		}
		if err := s.waitlist.CompactTx(ctx, tx, sectionID, entry.Position); err != nil {
			return fmt.Errorf("compact waitlist: %w", err)
		}
		removedID = entry.ID
		return nil
	})
	if err != nil {
		err = s.mapTxError(err, "failed to remove waitlist entry")
		s.recordOutcome("waitlist_remove", err)
		return err
	}

	s.recordOutcome("waitlist_remove", nil)
	s.invalidateOccupancy(ctx, sectionID)
	s.emitTransition(actorID, models.AuditActionWaitlistRemoved, sectionID, map[string]interface{}{
		"student_id":        studentID,
		"waitlist_entry_id": removedID,
	})
	return nil
}

// errQueueExhausted stops the promotion loop; it never leaves this file.
var errQueueExhausted = errors.New("waitlist exhausted")

// PromoteFromWaitlist offers free seats to WAITING students in position
// order. Each attempt runs in its own transaction so one stuck candidate
// cannot hold the queue. Candidates whose timetable now conflicts with the
// section are skipped and keep their position. The pass is bounded by the
// queue length observed at entry.
func (s *EnrollmentService) PromoteFromWaitlist(ctx context.Context, sectionID string) {
	bound, err := s.waitlist.CountWaiting(ctx, sectionID)
	if err != nil {
		s.logger.Warn("promotion pass aborted: count failed", zap.String("section_id", sectionID), zap.Error(err))
		return
	}

	afterPosition := 0
	for attempt := 0; attempt < bound; attempt++ {
		var promoted *models.Enrollment
		var promotedEntry *models.WaitlistEntry
		skipped := false

		err := s.tx.Within(ctx, func(tx *sqlx.Tx) error {
			promoted, promotedEntry = nil, nil
			skipped = false

			entry, err := s.waitlist.NextWaitingTx(ctx, tx, sectionID, afterPosition)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return errQueueExhausted
				}
				return fmt.Errorf("next waiting: %w", err)
			}

			section, err := s.sections.FindByIDTx(ctx, tx, sectionID)
			if err != nil {
				return fmt.Errorf("load section: %w", err)
			}
			if section.EnrolledCount >= section.Capacity || section.Status != models.SectionStatusOpen {
				return errQueueExhausted
			}

			current, err := s.enrollments.ListActiveSectionsTx(ctx, tx, entry.StudentID, section.TermID)
			if err != nil {
				return fmt.Errorf("load candidate timetable: %w", err)
			}
			if conflicts := s.conflicts.DetectStudentConflicts(section, current); len(conflicts) > 0 {
				skipped = true
				promotedEntry = entry
				return nil
			}

			outcome, err := s.sections.TryAdmit(ctx, tx, sectionID)
			if err != nil {
				return fmt.Errorf("try admit candidate: %w", err)
			}
			if outcome != models.AdmitOutcomeAdmitted {
				return errQueueExhausted
			}

			enrollment := &models.Enrollment{
				StudentID: entry.StudentID,
				SectionID: sectionID,
				TermID:    section.TermID,
			}
			if err := s.enrollments.CreateTx(ctx, tx, enrollment); err != nil {
				return fmt.Errorf("create promoted enrollment: %w", err)
			}
			if err := s.waitlist.UpdateStatusTx(ctx, tx, entry.ID, models.WaitlistStatusPromoted); err != nil {
				return fmt.Errorf("mark promoted: %w", err)
			}
			if err := s.sections.DequeueWaitlist(ctx, tx, sectionID); err != nil {
				return fmt.Errorf("dequeue promoted: %w", err)
			}
			if err := s.waitlist.CompactTx(ctx, tx, sectionID, entry.Position); err != nil {
				return fmt.Errorf("compact after promotion: %w", err)
			}
			promoted = enrollment
			promotedEntry = entry
			return nil
		})
		if err != nil {
			if !errors.Is(err, errQueueExhausted) {
				s.logger.Warn("promotion attempt failed",
					zap.String("section_id", sectionID), zap.Error(err))
			}
			break
		}

		if skipped {
			// Conflicted candidate keeps the slot; look past it next round.
			afterPosition = promotedEntry.Position
			continue
		}

		if s.metrics != nil {
			s.metrics.RecordWaitlistPromotion()
		}
		s.invalidateOccupancy(ctx, sectionID)
		s.emitTransition("", models.AuditActionEnrolled, sectionID, map[string]interface{}{
			"student_id":    promoted.StudentID,
			"enrollment_id": promoted.ID,
			"promoted":      true,
		})
		// The promoted entry vacated position afterPosition+; compaction
		// shifted later entries down, so the scan restarts behind the same
		// boundary.
	}
}

// Timetable returns the sections backing a student's ACTIVE enrollments.
func (s *EnrollmentService) Timetable(ctx context.Context, studentID string) ([]models.Section, error) {
	enrollments, err := s.enrollments.ListActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	sections := make([]models.Section, 0, len(enrollments))
	for _, enrollment := range enrollments {
		section, err := s.sections.FindByID(ctx, enrollment.SectionID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable section")
		}
		sections = append(sections, *section)
	}
	return sections, nil
}

func (s *EnrollmentService) mapTxError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, repository.ErrTxRetriesExhausted) || repository.IsTransient(err) {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, appErrors.ErrStoreUnavailable.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *EnrollmentService) recordOutcome(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.RecordRegistration(operation, outcome)
}

func (s *EnrollmentService) emitTransition(actorID, action, entityID string, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(models.AuditEvent{
		ActorID:    actorID,
		Action:     action,
		EntityType: models.AuditEntityEnrollment,
		EntityID:   entityID,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	})
}

func (s *EnrollmentService) invalidateOccupancy(ctx context.Context, sectionID string) {
	if s.cache == nil || !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, occupancyCacheKey(sectionID)); err != nil {
		s.logger.Warn("occupancy cache invalidation failed", zap.String("section_id", sectionID), zap.Error(err))
	}
}

func occupancyCacheKey(sectionID string) string {
	return "sections:occupancy:" + sectionID
}
