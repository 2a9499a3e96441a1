package video

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/logger"
)

type ArtifactRepo interface {
	Create(dbc dbctx.Context, a *types.Artifact) error
	ListByCheckpoint(dbc dbctx.Context, checkpointID uuid.UUID) ([]*types.Artifact, error)
	ListVersions(dbc dbctx.Context, checkpointID uuid.UUID, typ, key string) ([]*types.Artifact, error)
	LatestVersion(dbc dbctx.Context, checkpointID uuid.UUID, typ, key string) (*types.Artifact, error)
	LatestPerKey(dbc dbctx.Context, checkpointID uuid.UUID, typ string) ([]*types.Artifact, error)
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return &artifactRepo{db: db, log: baseLog.With("repo", "ArtifactRepo")}
}

func (r *artifactRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Create always inserts a new row; there is no in-place artifact update.
// Callers compute the next version via LatestVersion before calling this.
func (r *artifactRepo) Create(dbc dbctx.Context, a *types.Artifact) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(a).Error
}

func (r *artifactRepo) ListByCheckpoint(dbc dbctx.Context, checkpointID uuid.UUID) ([]*types.Artifact, error) {
	var out []*types.Artifact
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("checkpoint_id = ?", checkpointID).
		Order("type ASC, key ASC, version ASC").
		Find(&out).Error
	return out, err
}

func (r *artifactRepo) ListVersions(dbc dbctx.Context, checkpointID uuid.UUID, typ, key string) ([]*types.Artifact, error) {
	var out []*types.Artifact
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("checkpoint_id = ? AND type = ? AND key = ?", checkpointID, typ, key).
		Order("version ASC").
		Find(&out).Error
	return out, err
}

func (r *artifactRepo) LatestVersion(dbc dbctx.Context, checkpointID uuid.UUID, typ, key string) (*types.Artifact, error) {
	var a types.Artifact
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("checkpoint_id = ? AND type = ? AND key = ?", checkpointID, typ, key).
		Order("version DESC").
		Limit(1).
		Find(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == uuid.Nil {
		return nil, nil
	}
	return &a, nil
}

// LatestPerKey returns the newest row for every distinct key of a given
// artifact type on a checkpoint.
func (r *artifactRepo) LatestPerKey(dbc dbctx.Context, checkpointID uuid.UUID, typ string) ([]*types.Artifact, error) {
	var out []*types.Artifact
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Raw(`
			SELECT DISTINCT ON (key) *
			FROM artifacts
			WHERE checkpoint_id = ? AND type = ?
			ORDER BY key, version DESC
		`, checkpointID, typ).
		Scan(&out).Error
	return out, err
}
