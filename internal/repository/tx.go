package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrTxRetriesExhausted is returned when a transactional closure kept hitting
// transient store failures. Callers translate it into StoreUnavailable.
var ErrTxRetriesExhausted = errors.New("transaction retries exhausted")

// Transactor wraps multi-step writes into a single transaction. The closure
// is re-executed from scratch (fresh reads included) on serialization
// failures; it must therefore be free of external side effects.
type Transactor struct {
	db         *sqlx.DB
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewTransactor constructs a Transactor with default retry policy.
func NewTransactor(db *sqlx.DB, logger *zap.Logger) *Transactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transactor{db: db, maxRetries: 3, retryDelay: 25 * time.Millisecond, logger: logger}
}

// Within runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Transient failures re-run the whole closure.
func (t *Transactor) Within(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			t.logger.Warn("retrying transaction after transient store failure",
				zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.retryDelay << uint(attempt-1)):
			}
		}

		err := t.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrTxRetriesExhausted, lastErr)
}

func (t *Transactor) runOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether the error is a transient store failure worth
// re-running the full atomic unit for: serialization/deadlock aborts and
// dropped connections. Constraint violations are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}
