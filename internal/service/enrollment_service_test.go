package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campushq/registrar-api/internal/models"
	"github.com/campushq/registrar-api/internal/repository"
	appErrors "github.com/campushq/registrar-api/pkg/errors"
)

// fakeRegistrar is an in-memory stand-in for the transactor plus the section,
// enrollment, waitlist and term stores. Within serializes closures and rolls
// state back when the closure fails, mirroring the real transaction boundary.
type fakeRegistrar struct {
	txMu    sync.Mutex
	stateMu sync.Mutex

	sections    map[string]models.Section
	enrollments []models.Enrollment
	waitlist    []models.WaitlistEntry
	terms       map[string]models.Term

	txErr error
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{
		sections: make(map[string]models.Section),
		terms:    make(map[string]models.Term),
	}
}

func (f *fakeRegistrar) Within(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.stateMu.Lock()
	snapSections := make(map[string]models.Section, len(f.sections))
	for id, section := range f.sections {
		snapSections[id] = section
	}
	snapEnrollments := append([]models.Enrollment(nil), f.enrollments...)
	snapWaitlist := append([]models.WaitlistEntry(nil), f.waitlist...)
	f.stateMu.Unlock()

	if err := fn(nil); err != nil {
		f.stateMu.Lock()
		f.sections = snapSections
		f.enrollments = snapEnrollments
		f.waitlist = snapWaitlist
		f.stateMu.Unlock()
		return err
	}
	return nil
}

func (f *fakeRegistrar) FindByID(ctx context.Context, id string) (*models.Section, error) {
	return f.FindByIDTx(ctx, nil, id)
}

func (f *fakeRegistrar) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Section, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	section, ok := f.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &section, nil
}

func (f *fakeRegistrar) TryAdmit(ctx context.Context, tx *sqlx.Tx, sectionID string) (models.AdmitOutcome, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	section, ok := f.sections[sectionID]
	if !ok {
		return "", sql.ErrNoRows
	}
	if section.Status == models.SectionStatusOpen && section.EnrolledCount < section.Capacity {
		section.EnrolledCount++
		f.sections[sectionID] = section
		return models.AdmitOutcomeAdmitted, nil
	}
	if section.Status != models.SectionStatusOpen {
		return models.AdmitOutcomeClosed, nil
	}
	return models.AdmitOutcomeFull, nil
}

func (f *fakeRegistrar) ReleaseSeat(ctx context.Context, tx *sqlx.Tx, sectionID string) error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	section := f.sections[sectionID]
	if section.EnrolledCount > 0 {
		section.EnrolledCount--
	}
	f.sections[sectionID] = section
	return nil
}

func (f *fakeRegistrar) EnqueueWaitlist(ctx context.Context, tx *sqlx.Tx, sectionID string) (int, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	section := f.sections[sectionID]
	section.WaitlistCount++
	f.sections[sectionID] = section
	return section.WaitlistCount, nil
}

func (f *fakeRegistrar) DequeueWaitlist(ctx context.Context, tx *sqlx.Tx, sectionID string) error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	section := f.sections[sectionID]
	if section.WaitlistCount > 0 {
		section.WaitlistCount--
	}
	f.sections[sectionID] = section
	return nil
}

func (f *fakeRegistrar) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (f *fakeRegistrar) FindActiveTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (*models.Enrollment, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	for _, enrollment := range f.enrollments {
		if enrollment.StudentID == studentID && enrollment.SectionID == sectionID && enrollment.Status == models.EnrollmentStatusActive {
			found := enrollment
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRegistrar) ExistsActiveTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (bool, error) {
	_, err := f.FindActiveTx(ctx, tx, studentID, sectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeRegistrar) CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	enrollment.Status = models.EnrollmentStatusActive
	enrollment.EnrolledAt = time.Now().UTC()
	f.enrollments = append(f.enrollments, *enrollment)
	return nil
}

func (f *fakeRegistrar) MarkDroppedTx(ctx context.Context, tx *sqlx.Tx, id string, droppedAt time.Time) error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	for i := range f.enrollments {
		if f.enrollments[i].ID == id {
			f.enrollments[i].Status = models.EnrollmentStatusDropped
			at := droppedAt
			f.enrollments[i].DroppedAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeRegistrar) ListActiveSectionsTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) ([]models.Section, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	var sections []models.Section
	for _, enrollment := range f.enrollments {
		if enrollment.StudentID != studentID || enrollment.Status != models.EnrollmentStatusActive || enrollment.TermID != termID {
			continue
		}
		if section, ok := f.sections[enrollment.SectionID]; ok {
			sections = append(sections, section)
		}
	}
	return sections, nil
}

func (f *fakeRegistrar) ListActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	var active []models.Enrollment
	for _, enrollment := range f.enrollments {
		if enrollment.StudentID == studentID && enrollment.Status == models.EnrollmentStatusActive {
			active = append(active, enrollment)
		}
	}
	return active, nil
}

func (f *fakeRegistrar) CreateWaitlistTx(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Status = models.WaitlistStatusWaiting
	f.waitlist = append(f.waitlist, *entry)
	return nil
}

func (f *fakeRegistrar) ExistsWaitingTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (bool, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	for _, entry := range f.waitlist {
		if entry.StudentID == studentID && entry.SectionID == sectionID && entry.Status == models.WaitlistStatusWaiting {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRegistrar) FindWaitingTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (*models.WaitlistEntry, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	for _, entry := range f.waitlist {
		if entry.StudentID == studentID && entry.SectionID == sectionID && entry.Status == models.WaitlistStatusWaiting {
			found := entry
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRegistrar) NextWaitingTx(ctx context.Context, tx *sqlx.Tx, sectionID string, afterPosition int) (*models.WaitlistEntry, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	var next *models.WaitlistEntry
	for i := range f.waitlist {
		entry := &f.waitlist[i]
		if entry.SectionID != sectionID || entry.Status != models.WaitlistStatusWaiting || entry.Position <= afterPosition {
			continue
		}
		if next == nil || entry.Position < next.Position {
			next = entry
		}
	}
	if next == nil {
		return nil, sql.ErrNoRows
	}
	found := *next
	return &found, nil
}

func (f *fakeRegistrar) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.WaitlistStatus) error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	for i := range f.waitlist {
		if f.waitlist[i].ID == id {
			f.waitlist[i].Status = status
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeRegistrar) CompactTx(ctx context.Context, tx *sqlx.Tx, sectionID string, removedPosition int) error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	for i := range f.waitlist {
		entry := &f.waitlist[i]
		if entry.SectionID == sectionID && entry.Status == models.WaitlistStatusWaiting && entry.Position > removedPosition {
			entry.Position--
		}
	}
	return nil
}

func (f *fakeRegistrar) CountWaiting(ctx context.Context, sectionID string) (int, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	count := 0
	for _, entry := range f.waitlist {
		if entry.SectionID == sectionID && entry.Status == models.WaitlistStatusWaiting {
			count++
		}
	}
	return count, nil
}

func (f *fakeRegistrar) waitingPositions(sectionID string) []int {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	var positions []int
	for _, entry := range f.waitlist {
		if entry.SectionID == sectionID && entry.Status == models.WaitlistStatusWaiting {
			positions = append(positions, entry.Position)
		}
	}
	return positions
}

func (f *fakeRegistrar) FindTermByID(ctx context.Context, id string) (*models.Term, error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	term, ok := f.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &term, nil
}

// waitlistAdapter and termAdapter map the fake onto the service interfaces
// whose method names collide on the shared struct.
type waitlistAdapter struct{ *fakeRegistrar }

func (a waitlistAdapter) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error {
	return a.fakeRegistrar.CreateWaitlistTx(ctx, tx, entry)
}

type termAdapter struct{ *fakeRegistrar }

func (a termAdapter) FindByID(ctx context.Context, id string) (*models.Term, error) {
	return a.fakeRegistrar.FindTermByID(ctx, id)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (r *recordingSink) Emit(event models.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, len(r.events))
	for i, event := range r.events {
		actions[i] = event.Action
	}
	return actions
}

func (r *recordingSink) snapshot() []models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuditEvent(nil), r.events...)
}

func newTestEnrollmentService(f *fakeRegistrar, sink *recordingSink) *EnrollmentService {
	return NewEnrollmentService(f, f, f, waitlistAdapter{f}, termAdapter{f}, NewConflictService(nil), sink, nil, nil, nil, zap.NewNop())
}

func seedSection(f *fakeRegistrar, termID string, capacity, enrolled int, status models.SectionStatus) string {
	id := uuid.NewString()
	f.sections[id] = models.Section{
		ID:            id,
		CourseCode:    "CS101",
		Title:         "Intro",
		Capacity:      capacity,
		EnrolledCount: enrolled,
		Status:        status,
		ScheduleDays:  models.DaySet{models.WeekdayMonday, models.WeekdayWednesday},
		StartTime:     9 * 60,
		EndTime:       10 * 60,
		TermID:        termID,
	}
	return id
}

func seedTerm(f *fakeRegistrar, dropDeadline *time.Time) string {
	id := uuid.NewString()
	f.terms[id] = models.Term{
		ID:           id,
		Name:         "Fall",
		AcademicYear: "2026/2027",
		StartDate:    time.Now().AddDate(0, -1, 0),
		EndDate:      time.Now().AddDate(0, 3, 0),
		DropDeadline: dropDeadline,
		IsActive:     true,
	}
	return id
}

func TestRegisterAdmitsWhenSeatFree(t *testing.T) {
	f := newFakeRegistrar()
	sink := &recordingSink{}
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 2, 0, models.SectionStatusOpen)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, sink)

	result, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)
	assert.Equal(t, RegistrationStatusEnrolled, result.Status)
	require.NotNil(t, result.Enrollment)
	assert.Equal(t, models.EnrollmentStatusActive, result.Enrollment.Status)
	assert.Equal(t, 1, f.sections[sectionID].EnrolledCount)
	assert.Equal(t, []string{models.AuditActionEnrolled}, sink.actions())
}

func TestRegisterWaitlistsWhenFull(t *testing.T) {
	f := newFakeRegistrar()
	sink := &recordingSink{}
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 1, models.SectionStatusOpen)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, sink)

	result, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)
	assert.Equal(t, RegistrationStatusWaitlisted, result.Status)
	require.NotNil(t, result.WaitlistEntry)
	assert.Equal(t, 1, result.WaitlistEntry.Position)
	assert.Equal(t, 1, f.sections[sectionID].WaitlistCount)
	assert.Equal(t, []string{models.AuditActionWaitlisted}, sink.actions())
}

func TestRegisterRejectsDuplicateEnrollment(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 2, 0, models.SectionStatusOpen)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyEnrolled)
	assert.Equal(t, 1, f.sections[sectionID].EnrolledCount)
}

func TestRegisterRejectsDuplicateWaitlist(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 1, models.SectionStatusOpen)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	assert.ErrorIs(t, err, appErrors.ErrAlreadyWaitlisted)
	assert.Equal(t, 1, f.sections[sectionID].WaitlistCount)
}

func TestRegisterRejectsScheduleConflict(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	firstID := seedSection(f, termID, 2, 0, models.SectionStatusOpen)
	secondID := seedSection(f, termID, 2, 0, models.SectionStatusOpen)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: firstID})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: secondID})
	require.ErrorIs(t, err, appErrors.ErrScheduleConflict)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	conflicts, ok := appErr.Details.([]models.SectionConflict)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, firstID, conflicts[0].SectionID)
	// The rejected attempt must not consume a seat.
	assert.Equal(t, 0, f.sections[secondID].EnrolledCount)
}

func TestRegisterSectionClosed(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 5, 0, models.SectionStatusClosed)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	assert.ErrorIs(t, err, appErrors.ErrSectionClosed)
}

func TestRegisterSectionNotFound(t *testing.T) {
	f := newFakeRegistrar()
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), uuid.NewString(), RegisterRequest{StudentID: uuid.NewString(), SectionID: uuid.NewString()})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRegisterStoreUnavailable(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 2, 0, models.SectionStatusOpen)
	f.txErr = repository.ErrTxRetriesExhausted
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), uuid.NewString(), RegisterRequest{StudentID: uuid.NewString(), SectionID: sectionID})
	assert.ErrorIs(t, err, appErrors.ErrStoreUnavailable)
}

func TestDropReleasesSeatAndPromotes(t *testing.T) {
	f := newFakeRegistrar()
	sink := &recordingSink{}
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 0, models.SectionStatusOpen)
	enrolledStudent := uuid.NewString()
	waitingStudent := uuid.NewString()
	svc := newTestEnrollmentService(f, sink)

	_, err := svc.Register(context.Background(), enrolledStudent, RegisterRequest{StudentID: enrolledStudent, SectionID: sectionID})
	require.NoError(t, err)
	result, err := svc.Register(context.Background(), waitingStudent, RegisterRequest{StudentID: waitingStudent, SectionID: sectionID})
	require.NoError(t, err)
	require.Equal(t, RegistrationStatusWaitlisted, result.Status)

	err = svc.Drop(context.Background(), enrolledStudent, false, DropRequest{StudentID: enrolledStudent, SectionID: sectionID})
	require.NoError(t, err)

	// The dropped student's seat went to the head of the queue.
	promoted, err := f.FindActiveTx(context.Background(), nil, waitingStudent, sectionID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, promoted.Status)
	assert.Equal(t, 1, f.sections[sectionID].EnrolledCount)
	assert.Equal(t, 0, f.sections[sectionID].WaitlistCount)
	assert.Empty(t, f.waitingPositions(sectionID))
	assert.Contains(t, sink.actions(), models.AuditActionDropped)
}

func TestTransitionEventsKeyedBySection(t *testing.T) {
	f := newFakeRegistrar()
	sink := &recordingSink{}
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 0, models.SectionStatusOpen)
	enrolledStudent := uuid.NewString()
	waitingStudent := uuid.NewString()
	svc := newTestEnrollmentService(f, sink)

	result, err := svc.Register(context.Background(), enrolledStudent, RegisterRequest{StudentID: enrolledStudent, SectionID: sectionID})
	require.NoError(t, err)
	waitlisted, err := svc.Register(context.Background(), waitingStudent, RegisterRequest{StudentID: waitingStudent, SectionID: sectionID})
	require.NoError(t, err)
	require.NoError(t, svc.RemoveFromWaitlist(context.Background(), waitingStudent, waitingStudent, sectionID))
	require.NoError(t, svc.Drop(context.Background(), enrolledStudent, false, DropRequest{StudentID: enrolledStudent, SectionID: sectionID}))

	events := sink.snapshot()
	require.Len(t, events, 4)
	// History lookups are keyed by section, so every transition carries the
	// section id as its entity id; the row ids travel in the metadata.
	for _, event := range events {
		assert.Equal(t, models.AuditEntityEnrollment, event.EntityType)
		assert.Equal(t, sectionID, event.EntityID, "event %s must be keyed by section", event.Action)
	}
	assert.Equal(t, result.Enrollment.ID, events[0].Metadata["enrollment_id"])
	assert.Equal(t, waitlisted.WaitlistEntry.ID, events[1].Metadata["waitlist_entry_id"])
	assert.Equal(t, waitlisted.WaitlistEntry.ID, events[2].Metadata["waitlist_entry_id"])
	assert.Equal(t, result.Enrollment.ID, events[3].Metadata["enrollment_id"])
}

func TestReRegisterAfterDropEnrolls(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 0, models.SectionStatusOpen)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	result, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)
	require.Equal(t, RegistrationStatusEnrolled, result.Status)

	err = svc.Drop(context.Background(), studentID, false, DropRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)
	require.Equal(t, 0, f.sections[sectionID].EnrolledCount)

	// The drop freed the only seat, so the returning student gets it back
	// instead of landing on the waitlist behind their own dropped row.
	result, err = svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)
	assert.Equal(t, RegistrationStatusEnrolled, result.Status)
	require.NotNil(t, result.Enrollment)
	assert.Equal(t, models.EnrollmentStatusActive, result.Enrollment.Status)
	assert.Equal(t, 1, f.sections[sectionID].EnrolledCount)
	assert.Equal(t, 0, f.sections[sectionID].WaitlistCount)
}

func TestDropDeadlinePassed(t *testing.T) {
	f := newFakeRegistrar()
	deadline := time.Now().Add(-24 * time.Hour)
	termID := seedTerm(f, &deadline)
	sectionID := seedSection(f, termID, 2, 0, models.SectionStatusOpen)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)

	err = svc.Drop(context.Background(), studentID, false, DropRequest{StudentID: studentID, SectionID: sectionID})
	assert.ErrorIs(t, err, appErrors.ErrDeadlinePassed)
	assert.Equal(t, 1, f.sections[sectionID].EnrolledCount)

	// Staff override bypasses the deadline.
	err = svc.Drop(context.Background(), studentID, true, DropRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)
	assert.Equal(t, 0, f.sections[sectionID].EnrolledCount)
}

func TestPromotionSkipsConflictedCandidate(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 0, models.SectionStatusOpen)
	// A second section with the same meeting pattern; the first candidate is
	// enrolled there, so promoting them would break their timetable.
	otherID := seedSection(f, termID, 5, 0, models.SectionStatusOpen)
	seatHolder := uuid.NewString()
	conflicted := uuid.NewString()
	clean := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), seatHolder, RegisterRequest{StudentID: seatHolder, SectionID: sectionID})
	require.NoError(t, err)
	result, err := svc.Register(context.Background(), conflicted, RegisterRequest{StudentID: conflicted, SectionID: sectionID})
	require.NoError(t, err)
	require.Equal(t, 1, result.WaitlistEntry.Position)
	result, err = svc.Register(context.Background(), clean, RegisterRequest{StudentID: clean, SectionID: sectionID})
	require.NoError(t, err)
	require.Equal(t, 2, result.WaitlistEntry.Position)

	_, err = svc.Register(context.Background(), conflicted, RegisterRequest{StudentID: conflicted, SectionID: otherID})
	require.NoError(t, err)

	err = svc.Drop(context.Background(), seatHolder, false, DropRequest{StudentID: seatHolder, SectionID: sectionID})
	require.NoError(t, err)

	// The conflicted candidate was skipped and keeps position 1; the clean
	// one behind them took the seat.
	promoted, err := f.FindActiveTx(context.Background(), nil, clean, sectionID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, promoted.Status)

	entry, err := f.FindWaitingTx(context.Background(), nil, conflicted, sectionID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)
	assert.Equal(t, []int{1}, f.waitingPositions(sectionID))
	assert.Equal(t, 1, f.sections[sectionID].WaitlistCount)
}

func TestRemoveFromWaitlistCompactsPositions(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 1, models.SectionStatusOpen)
	students := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	svc := newTestEnrollmentService(f, &recordingSink{})

	for i, studentID := range students {
		result, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
		require.NoError(t, err)
		require.Equal(t, i+1, result.WaitlistEntry.Position)
	}

	err := svc.RemoveFromWaitlist(context.Background(), students[1], students[1], sectionID)
	require.NoError(t, err)

	assert.Equal(t, 2, f.sections[sectionID].WaitlistCount)
	assert.ElementsMatch(t, []int{1, 2}, f.waitingPositions(sectionID))

	first, err := f.FindWaitingTx(context.Background(), nil, students[0], sectionID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Position)
	third, err := f.FindWaitingTx(context.Background(), nil, students[2], sectionID)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Position)

	_, err = f.FindWaitingTx(context.Background(), nil, students[1], sectionID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRemoveFromWaitlistNotFound(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 1, models.SectionStatusOpen)
	svc := newTestEnrollmentService(f, &recordingSink{})

	err := svc.RemoveFromWaitlist(context.Background(), "actor", uuid.NewString(), sectionID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestConcurrentRegistrationSingleSeat(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 1, 0, models.SectionStatusOpen)
	first := uuid.NewString()
	second := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	results := make([]*RegistrationResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, studentID := range []string{first, second} {
		wg.Add(1)
		go func(i int, studentID string) {
			defer wg.Done()
			results[i], errs[i] = svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
		}(i, studentID)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var enrolled, waitlisted int
	for _, result := range results {
		switch result.Status {
		case RegistrationStatusEnrolled:
			enrolled++
		case RegistrationStatusWaitlisted:
			waitlisted++
			assert.Equal(t, 1, result.WaitlistEntry.Position)
		}
	}
	assert.Equal(t, 1, enrolled, "exactly one racer wins the seat")
	assert.Equal(t, 1, waitlisted, "the loser lands on the waitlist")
	assert.Equal(t, 1, f.sections[sectionID].EnrolledCount)
	assert.Equal(t, 1, f.sections[sectionID].WaitlistCount)
}

func TestTimetableReturnsActiveSections(t *testing.T) {
	f := newFakeRegistrar()
	termID := seedTerm(f, nil)
	sectionID := seedSection(f, termID, 2, 0, models.SectionStatusOpen)
	studentID := uuid.NewString()
	svc := newTestEnrollmentService(f, &recordingSink{})

	_, err := svc.Register(context.Background(), studentID, RegisterRequest{StudentID: studentID, SectionID: sectionID})
	require.NoError(t, err)

	sections, err := svc.Timetable(context.Background(), studentID)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, sectionID, sections[0].ID)
}
