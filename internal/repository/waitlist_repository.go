package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campushq/registrar-api/internal/models"
)

const waitlistColumns = `id, student_id, section_id, position, status, created_at, updated_at`

// WaitlistRepository handles persistence of waitlist entries. Position
// values come from the capacity ledger's EnqueueWaitlist; this repository
// never computes one itself.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// CreateTx persists a WAITING entry at the ledger-assigned position.
func (r *WaitlistRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = models.WaitlistStatusWaiting
	}
	const query = `INSERT INTO waitlist_entries (id, student_id, section_id, position, status, created_at, updated_at)
        VALUES (:id, :student_id, :section_id, :position, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, entry); err != nil {
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

// ExistsWaitingTx checks for a WAITING entry on the pair.
func (r *WaitlistRepository) ExistsWaitingTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM waitlist_entries WHERE student_id = $1 AND section_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := tx.GetContext(ctx, &exists, query, studentID, sectionID, models.WaitlistStatusWaiting); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check waiting entry: %w", err)
	}
	return true, nil
}

// FindWaitingTx returns the WAITING entry for a pair, or sql.ErrNoRows.
func (r *WaitlistRepository) FindWaitingTx(ctx context.Context, tx *sqlx.Tx, studentID, sectionID string) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM waitlist_entries WHERE student_id = $1 AND section_id = $2 AND status = $3 LIMIT 1", waitlistColumns)
	var entry models.WaitlistEntry
	if err := tx.GetContext(ctx, &entry, query, studentID, sectionID, models.WaitlistStatusWaiting); err != nil {
		return nil, err
	}
	return &entry, nil
}

// NextWaitingTx returns the WAITING entry with the smallest position greater
// than afterPosition, locking the row for the promotion attempt. Returns
// sql.ErrNoRows when the queue is exhausted.
func (r *WaitlistRepository) NextWaitingTx(ctx context.Context, tx *sqlx.Tx, sectionID string, afterPosition int) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM waitlist_entries WHERE section_id = $1 AND status = $2 AND position > $3 ORDER BY position ASC LIMIT 1 FOR UPDATE", waitlistColumns)
	var entry models.WaitlistEntry
	if err := tx.GetContext(ctx, &entry, query, sectionID, models.WaitlistStatusWaiting, afterPosition); err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateStatusTx transitions an entry to PROMOTED or REMOVED.
func (r *WaitlistRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.WaitlistStatus) error {
	const query = `UPDATE waitlist_entries SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update waitlist status: %w", err)
	}
	return nil
}

// CompactTx closes the gap left by a departed entry: every WAITING position
// above it shifts down by one, keeping the sequence {1..waitlist_count}.
func (r *WaitlistRepository) CompactTx(ctx context.Context, tx *sqlx.Tx, sectionID string, removedPosition int) error {
	const query = `UPDATE waitlist_entries SET position = position - 1, updated_at = $3 WHERE section_id = $1 AND status = $2 AND position > $4`
	if _, err := tx.ExecContext(ctx, query, sectionID, models.WaitlistStatusWaiting, time.Now().UTC(), removedPosition); err != nil {
		return fmt.Errorf("compact waitlist positions: %w", err)
	}
	return nil
}

// CountWaiting returns the number of WAITING entries for a section.
func (r *WaitlistRepository) CountWaiting(ctx context.Context, sectionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM waitlist_entries WHERE section_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sectionID, models.WaitlistStatusWaiting); err != nil {
		return 0, fmt.Errorf("count waiting entries: %w", err)
	}
	return count, nil
}

// ListWaiting returns WAITING entries for a section in position order.
func (r *WaitlistRepository) ListWaiting(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM waitlist_entries WHERE section_id = $1 AND status = $2 ORDER BY position ASC", waitlistColumns)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, sectionID, models.WaitlistStatusWaiting); err != nil {
		return nil, fmt.Errorf("list waiting entries: %w", err)
	}
	return entries, nil
}
