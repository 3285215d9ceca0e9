package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crestline/fieldsync/backend/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrAccessDenied indicates the caller may not write into the project's namespace.
	ErrAccessDenied = errors.New("projects: access denied")

	errMissingDatabase = errors.New("projects: database connection required")
	errInvalidProject  = errors.New("projects: invalid project id")
)

// GuardConfig describes the dependencies required for ownership checks.
type GuardConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Guard resolves projects and enforces the tenant ownership boundary.
// It is the sole authority on write access for the sync subsystem.
type Guard struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGuard constructs the ownership guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Guard{db: cfg.Database, now: clock}, nil
}

// Authorize confirms the caller may write into the project's namespace and
// returns the project. Admin identities bypass the tenant comparison; a
// missing project is reported the same way as a tenant mismatch so callers
// cannot probe for project existence across tenants.
func (g *Guard) Authorize(ctx context.Context, identity auth.Identity, projectID int64) (Project, error) {
	if projectID <= 0 {
		return Project{}, fmt.Errorf("%w: %d", errInvalidProject, projectID)
	}

	var project Project
	err := g.db.WithContext(ctx).
		Where("id = ?", projectID).
		Take(&project).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, fmt.Errorf("%w: project %d", ErrAccessDenied, projectID)
	}
	if err != nil {
		return Project{}, err
	}

	if identity.IsAdmin() {
		return project, nil
	}
	if identity.TenantID == "" || identity.TenantID != project.TenantID {
		return Project{}, fmt.Errorf("%w: project %d", ErrAccessDenied, projectID)
	}

	return project, nil
}
