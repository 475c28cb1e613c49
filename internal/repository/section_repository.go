package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campushq/registrar-api/internal/models"
)

const sectionColumns = `id, course_code, title, capacity, enrolled_count, waitlist_count, status, schedule_days, start_time, end_time, room_id, instructor_id, term_id, created_at, updated_at`

// SectionRepository provides persistence for sections and owns the capacity
// ledger: TryAdmit, ReleaseSeat, EnqueueWaitlist and DequeueWaitlist are the
// only statements anywhere that write enrolled_count or waitlist_count. Each
// is a single conditional UPDATE, so concurrent callers on the same section
// serialize on the row without a prior read.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// List returns sections filtered by the provided criteria.
func (r *SectionRepository) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, int, error) {
	base := "FROM sections WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.CourseCode != "" {
		conditions = append(conditions, fmt.Sprintf("course_code = $%d", len(args)+1))
		args = append(args, filter.CourseCode)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.RoomID != "" {
		conditions = append(conditions, fmt.Sprintf("room_id = $%d", len(args)+1))
		args = append(args, filter.RoomID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"course_code": true,
		"start_time":  true,
		"created_at":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "course_code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", sectionColumns, base, sortBy, order, size, offset)
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// FindByID loads a section by id.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	return findSection(ctx, r.db, id)
}

// FindByIDTx loads a section inside the caller's transaction.
func (r *SectionRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Section, error) {
	return findSection(ctx, tx, id)
}

func findSection(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Section, error) {
	query := fmt.Sprintf("SELECT %s FROM sections WHERE id = $1", sectionColumns)
	var section models.Section
	if err := sqlx.GetContext(ctx, q, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListByResource returns sections sharing a room or instructor within a term,
// excluding the section under edit when excludeID is non-empty. Feeds the
// planning conflict detector.
func (r *SectionRepository) ListByResource(ctx context.Context, dimension models.ConflictDimension, resourceID, termID, excludeID string) ([]models.Section, error) {
	var column string
	switch dimension {
	case models.ConflictDimensionRoom:
		column = "room_id"
	case models.ConflictDimensionInstructor:
		column = "instructor_id"
	default:
		return nil, fmt.Errorf("unknown conflict dimension %q", dimension)
	}

	query := fmt.Sprintf("SELECT %s FROM sections WHERE %s = $1 AND term_id = $2 AND status <> $3", sectionColumns, column)
	args := []interface{}{resourceID, termID, models.SectionStatusCancelled}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}

	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, fmt.Errorf("list sections by %s: %w", column, err)
	}
	return sections, nil
}

// Create stores a new section record.
func (r *SectionRepository) Create(ctx context.Context, section *models.Section) error {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if section.CreatedAt.IsZero() {
		section.CreatedAt = now
	}
	section.UpdatedAt = now
	if section.Status == "" {
		section.Status = models.SectionStatusOpen
	}

	const query = `INSERT INTO sections (id, course_code, title, capacity, enrolled_count, waitlist_count, status, schedule_days, start_time, end_time, room_id, instructor_id, term_id, created_at, updated_at)
        VALUES (:id, :course_code, :title, :capacity, :enrolled_count, :waitlist_count, :status, :schedule_days, :start_time, :end_time, :room_id, :instructor_id, :term_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("create section: %w", err)
	}
	return nil
}

// Update modifies catalog fields of a section. Counters are deliberately
// absent from the statement.
func (r *SectionRepository) Update(ctx context.Context, section *models.Section) error {
	section.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sections SET course_code = :course_code, title = :title, capacity = :capacity, status = :status, schedule_days = :schedule_days, start_time = :start_time, end_time = :end_time, room_id = :room_id, instructor_id = :instructor_id, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	return nil
}

// TryAdmit atomically claims a seat. The guard lives in the WHERE clause:
// zero rows affected means no seat was taken, and the follow-up read
// distinguishes a full section from a closed one.
func (r *SectionRepository) TryAdmit(ctx context.Context, tx *sqlx.Tx, sectionID string) (models.AdmitOutcome, error) {
	const query = `UPDATE sections SET enrolled_count = enrolled_count + 1, updated_at = $2 WHERE id = $1 AND status = 'OPEN' AND enrolled_count < capacity`
	res, err := tx.ExecContext(ctx, query, sectionID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("try admit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("try admit rows affected: %w", err)
	}
	if affected == 1 {
		return models.AdmitOutcomeAdmitted, nil
	}

	section, err := findSection(ctx, tx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", err
		}
		return "", fmt.Errorf("try admit reread: %w", err)
	}
	if section.Status != models.SectionStatusOpen {
		return models.AdmitOutcomeClosed, nil
	}
	return models.AdmitOutcomeFull, nil
}

// ReleaseSeat frees one seat, floored at zero against double release.
func (r *SectionRepository) ReleaseSeat(ctx context.Context, tx *sqlx.Tx, sectionID string) error {
	const query = `UPDATE sections SET enrolled_count = GREATEST(enrolled_count - 1, 0), updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, sectionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// EnqueueWaitlist increments the waitlist counter and returns the new count,
// which is the position for the entry being enqueued. Assignment happens in
// the same statement as the increment so two concurrent enqueues can never
// observe the same position.
func (r *SectionRepository) EnqueueWaitlist(ctx context.Context, tx *sqlx.Tx, sectionID string) (int, error) {
	const query = `UPDATE sections SET waitlist_count = waitlist_count + 1, updated_at = $2 WHERE id = $1 RETURNING waitlist_count`
	var position int
	if err := tx.GetContext(ctx, &position, query, sectionID, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("enqueue waitlist: %w", err)
	}
	return position, nil
}

// DequeueWaitlist decrements the waitlist counter, floored at zero.
func (r *SectionRepository) DequeueWaitlist(ctx context.Context, tx *sqlx.Tx, sectionID string) error {
	const query = `UPDATE sections SET waitlist_count = GREATEST(waitlist_count - 1, 0), updated_at = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, sectionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("dequeue waitlist: %w", err)
	}
	return nil
}
