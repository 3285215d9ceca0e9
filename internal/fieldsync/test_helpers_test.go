package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/crestline/fieldsync/backend/internal/projects"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustAssessmentEnvelope(t *testing.T, cfg AssessmentEnvelopeConfig) AssessmentEnvelope {
	t.Helper()
	envelope, err := NewAssessmentEnvelope(cfg)
	if err != nil {
		t.Fatalf("unexpected assessment envelope error: %v", err)
	}
	return envelope
}

func mustPhotoEnvelope(t *testing.T, cfg PhotoEnvelopeConfig) PhotoEnvelope {
	t.Helper()
	envelope, err := NewPhotoEnvelope(cfg)
	if err != nil {
		t.Fatalf("unexpected photo envelope error: %v", err)
	}
	return envelope
}

func mustDeficiencyEnvelope(t *testing.T, cfg DeficiencyEnvelopeConfig) DeficiencyEnvelope {
	t.Helper()
	envelope, err := NewDeficiencyEnvelope(cfg)
	if err != nil {
		t.Fatalf("unexpected deficiency envelope error: %v", err)
	}
	return envelope
}

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type memoryBlobStore struct {
	puts  map[string][]byte
	calls int
	err   error
}

func (m *memoryBlobStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.calls++
	m.puts[key] = data
	return "https://blobs.test/" + key, nil
}

var errBlobUnavailable = errors.New("blob backend unavailable")

type testEnv struct {
	service *Service
	db      *gorm.DB
	blobs   *memoryBlobStore
}

// newTestEnv opens an isolated in-memory database with one project per
// provided tenant and wires the service against the real ownership guard.
func newTestEnv(t *testing.T, policy ConflictPolicy, tenants ...string) (testEnv, []int64) {
	t.Helper()

	dsn := fmt.Sprintf("file:fieldsync_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&projects.Project{}, &Assessment{}, &Photo{}, &Deficiency{}, &ChangeRecord{}, &SyncReceipt{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	projectIDs := make([]int64, 0, len(tenants))
	for index, tenant := range tenants {
		project := projects.Project{TenantID: tenant, Name: fmt.Sprintf("Facility %d", index+1)}
		if err := db.Create(&project).Error; err != nil {
			t.Fatalf("failed to seed project: %v", err)
		}
		projectIDs = append(projectIDs, project.ID)
	}

	guard, err := projects.NewGuard(projects.GuardConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct guard: %v", err)
	}

	blobs := &memoryBlobStore{}
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	service, err := NewService(ServiceConfig{
		Database:   db,
		Guard:      guard,
		Blobs:      blobs,
		Clock:      clock,
		IDProvider: &sequenceIDGenerator{prefix: "entity"},
		Policy:     policy,
	})
	if err != nil {
		t.Fatalf("failed to construct sync service: %v", err)
	}

	return testEnv{service: service, db: db, blobs: blobs}, projectIDs
}
