package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campushq/registrar-api/internal/models"
	appErrors "github.com/campushq/registrar-api/pkg/errors"
	"github.com/campushq/registrar-api/pkg/jobs"
)

type stubAuditStore struct {
	mu        sync.Mutex
	created   []*models.AuditLog
	persisted chan struct{}

	listResult []models.AuditLog
	listErr    error
	listedType string
	listedID   string
	listedMax  int
}

func newStubAuditStore() *stubAuditStore {
	return &stubAuditStore{persisted: make(chan struct{}, 8)}
}

func (s *stubAuditStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	s.created = append(s.created, log)
	s.mu.Unlock()
	s.persisted <- struct{}{}
	return nil
}

func (s *stubAuditStore) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listedType = entityType
	s.listedID = entityID
	s.listedMax = limit
	return s.listResult, s.listErr
}

func (s *stubAuditStore) firstCreated() *models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.created) == 0 {
		return nil
	}
	return s.created[0]
}

func TestEmitPersistsTransition(t *testing.T) {
	store := newStubAuditStore()
	svc := NewAuditService(store, jobs.QueueConfig{Workers: 1, BufferSize: 4}, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Emit(models.AuditEvent{
		ActorID:    "advisor-1",
		Action:     models.AuditActionEnrolled,
		EntityType: models.AuditEntityEnrollment,
		EntityID:   "sec-1",
		Metadata:   map[string]interface{}{"student_id": "student-1", "enrollment_id": "enr-1"},
	})

	select {
	case <-store.persisted:
	case <-time.After(2 * time.Second):
		t.Fatal("event was never persisted")
	}

	log := store.firstCreated()
	require.NotNil(t, log)
	assert.Equal(t, models.AuditActionEnrolled, log.Action)
	assert.Equal(t, models.AuditEntityEnrollment, log.EntityType)
	require.NotNil(t, log.ActorID)
	assert.Equal(t, "advisor-1", *log.ActorID)
	require.NotNil(t, log.EntityID)
	assert.Equal(t, "sec-1", *log.EntityID)
	assert.False(t, log.CreatedAt.IsZero())

	var metadata map[string]interface{}
	require.NoError(t, json.Unmarshal(log.Metadata, &metadata))
	assert.Equal(t, "student-1", metadata["student_id"])
	assert.Equal(t, "enr-1", metadata["enrollment_id"])
}

func TestEmitBeforeStartIsSwallowed(t *testing.T) {
	store := newStubAuditStore()
	svc := NewAuditService(store, jobs.QueueConfig{}, zap.NewNop())

	// The sink is best effort: emitting into a stopped queue must not panic
	// or block the caller.
	svc.Emit(models.AuditEvent{Action: models.AuditActionDropped, EntityID: "sec-1"})
	assert.Nil(t, store.firstCreated())
}

func TestHistoryQueriesByEntity(t *testing.T) {
	store := newStubAuditStore()
	entityID := "sec-1"
	store.listResult = []models.AuditLog{
		{ID: "log-2", Action: models.AuditActionDropped, EntityType: models.AuditEntityEnrollment, EntityID: &entityID},
		{ID: "log-1", Action: models.AuditActionEnrolled, EntityType: models.AuditEntityEnrollment, EntityID: &entityID},
	}
	svc := NewAuditService(store, jobs.QueueConfig{}, zap.NewNop())

	logs, err := svc.History(context.Background(), models.AuditEntityEnrollment, entityID, 25)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "log-2", logs[0].ID)
	assert.Equal(t, models.AuditEntityEnrollment, store.listedType)
	assert.Equal(t, entityID, store.listedID)
	assert.Equal(t, 25, store.listedMax)
}

func TestHistoryWrapsStoreFailure(t *testing.T) {
	store := newStubAuditStore()
	store.listErr = errors.New("connection reset")
	svc := NewAuditService(store, jobs.QueueConfig{}, zap.NewNop())

	_, err := svc.History(context.Background(), models.AuditEntityEnrollment, "sec-1", 10)
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}
