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

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students st ON st.id = e.student_id
LEFT JOIN sections sec ON sec.id = e.section_id
LEFT JOIN terms t ON t.id = e.term_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("e.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "st.full_name",
		"course_code":  "sec.course_code",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.section_id, e.term_id, e.enrolled_at, e.dropped_at, e.status,
        st.full_name AS student_name, sec.course_code, sec.title AS section_title, t.name AS term_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindActiveTx returns the ACTIVE enrollment for a (student, section) pair
// inside the caller's transaction, or sql.ErrNoRows.
func (r *EnrollmentRepository) FindActiveTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, term_id, enrolled_at, dropped_at, status FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status = $3 LIMIT 1`
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, studentID, sectionID, models.EnrollmentStatusActive); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsActiveTx checks for an ACTIVE enrollment on the pair.
func (r *EnrollmentRepository) ExistsActiveTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := tx.GetContext(ctx, &exists, query, studentID, sectionID, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// CreateTx persists a new enrollment record within the transaction.
func (r *EnrollmentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	const query = `INSERT INTO enrollments (id, student_id, section_id, term_id, enrolled_at, dropped_at, status)
        VALUES (:id, :student_id, :section_id, :term_id, :enrolled_at, :dropped_at, :status)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// MarkDroppedTx transitions an enrollment to DROPPED within the transaction.
func (r *EnrollmentRepository) MarkDroppedTx(ctx context.Context, tx *sqlx.Tx, id string, droppedAt time.Time) error {
	const query = `UPDATE enrollments SET status = $2, dropped_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, models.EnrollmentStatusDropped, droppedAt); err != nil {
		return fmt.Errorf("mark enrollment dropped: %w", err)
	}
	return nil
}

// ListActiveSectionsTx returns the sections backing a student's ACTIVE
// enrollments for a term, read inside the caller's transaction. This is the
// pool the conflict detector runs against at registration time.
func (r *EnrollmentRepository) ListActiveSectionsTx(ctx context.Context, tx *sqlx.Tx, studentID, termID string) ([]models.Section, error) {
	const query = `SELECT s.id, s.course_code, s.title, s.capacity, s.enrolled_count, s.waitlist_count, s.status, s.schedule_days, s.start_time, s.end_time, s.room_id, s.instructor_id, s.term_id, s.created_at, s.updated_at
        FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        WHERE e.student_id = $1 AND e.term_id = $2 AND e.status = $3`
	var sections []models.Section
	if err := tx.SelectContext(ctx, &sections, query, studentID, termID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list active sections for student: %w", err)
	}
	return sections, nil
}

// ListActiveByStudent returns a student's ACTIVE enrollments.
func (r *EnrollmentRepository) ListActiveByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, section_id, term_id, enrolled_at, dropped_at, status FROM enrollments WHERE student_id = $1 AND status = $2`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list active enrollments: %w", err)
	}
	return enrollments, nil
}
