// Package video holds the Video/Checkpoint/Artifact repos, mirroring the
// shape of repos/jobs: dbctx.Context bundling, thin gorm wrappers, no
// business logic.
package video

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/logger"
)

type VideoRepo interface {
	Create(dbc dbctx.Context, v *types.Video) error
	Get(dbc dbctx.Context, id uuid.UUID) (*types.Video, error)
	GetForOwner(dbc dbctx.Context, id, ownerUserID uuid.UUID) (*types.Video, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type videoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return &videoRepo{db: db, log: baseLog.With("repo", "VideoRepo")}
}

func (r *videoRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *videoRepo) Create(dbc dbctx.Context, v *types.Video) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(v).Error
}

func (r *videoRepo) Get(dbc dbctx.Context, id uuid.UUID) (*types.Video, error) {
	var v types.Video
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *videoRepo) GetForOwner(dbc dbctx.Context, id, ownerUserID uuid.UUID) (*types.Video, error) {
	var v types.Video
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("id = ? AND owner_user_id = ?", id, ownerUserID).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *videoRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Video{}).
		Where("id = ?", id).
		Updates(updates).Error
}
