package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/campushq/registrar-api/internal/models"
	appErrors "github.com/campushq/registrar-api/pkg/errors"
	"github.com/campushq/registrar-api/pkg/jobs"
)

type auditLogStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error)
}

// AuditService is the best-effort sink for state transition events. Emission
// never blocks or fails the originating operation: events are handed to an
// in-memory worker queue and a full or stopped queue only logs a warning.
type AuditService struct {
	store  auditLogStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService constructs the sink with its worker queue.
func NewAuditService(store auditLogStore, cfg jobs.QueueConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{store: store, logger: logger}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	s.queue = jobs.NewQueue("audit-sink", s.handle, cfg)
	return s
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Emit queues an event for persistence. Failures are logged and swallowed.
func (s *AuditService) Emit(event models.AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	err := s.queue.Enqueue(jobs.Job{
		Type:     event.Action,
		Payload:  event,
		Enqueued: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit event dropped",
			zap.String("action", event.Action),
			zap.String("entity_id", event.EntityID),
			zap.Error(err))
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.AuditEvent)
	if !ok {
		s.logger.Warn("audit job carried unexpected payload", zap.String("type", job.Type))
		return nil
	}

	log := &models.AuditLog{
		Action:     event.Action,
		EntityType: event.EntityType,
		CreatedAt:  event.OccurredAt,
	}
	if event.ActorID != "" {
		log.ActorID = &event.ActorID
	}
	if event.EntityID != "" {
		log.EntityID = &event.EntityID
	}
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			s.logger.Warn("audit metadata not serialisable", zap.Error(err))
		} else {
			log.Metadata = raw
		}
	}
	return s.store.CreateAuditLog(ctx, log)
}

// History returns persisted audit records for an entity, newest first.
func (s *AuditService) History(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error) {
	logs, err := s.store.ListByEntity(ctx, entityType, entityID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit history")
	}
	return logs, nil
}
