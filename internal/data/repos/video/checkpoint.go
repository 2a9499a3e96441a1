package video

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/logger"
)

// CheckpointNode folds a flat Checkpoint row set into the nested shape
// Tree returns: {checkpoint, children[]}.
type CheckpointNode struct {
	Checkpoint *types.Checkpoint
	Children   []*CheckpointNode
}

type CheckpointRepo interface {
	Create(dbc dbctx.Context, cp *types.Checkpoint) error
	Get(dbc dbctx.Context, id uuid.UUID) (*types.Checkpoint, error)
	ListByVideo(dbc dbctx.Context, videoID uuid.UUID, branch string) ([]*types.Checkpoint, error)
	GetCurrent(dbc dbctx.Context, videoID uuid.UUID, branch string) (*types.Checkpoint, error)
	GetCurrentPending(dbc dbctx.Context, videoID uuid.UUID) (*types.Checkpoint, error)
	GetLeaves(dbc dbctx.Context, videoID uuid.UUID) ([]*types.Checkpoint, error)
	Approve(dbc dbctx.Context, id uuid.UUID) error
	HasEdits(dbc dbctx.Context, checkpointID uuid.UUID) (bool, error)
	Tree(dbc dbctx.Context, videoID uuid.UUID) ([]*CheckpointNode, error)
	NextVersion(dbc dbctx.Context, videoID uuid.UUID, branch string, phase int) (int, error)
	NewBranch(dbc dbctx.Context, videoID uuid.UUID, checkpointID uuid.UUID) (string, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type checkpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) CheckpointRepo {
	return &checkpointRepo{db: db, log: baseLog.With("repo", "CheckpointRepo")}
}

func (r *checkpointRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *checkpointRepo) Create(dbc dbctx.Context, cp *types.Checkpoint) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(cp).Error
}

func (r *checkpointRepo) Get(dbc dbctx.Context, id uuid.UUID) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListByVideo returns a video's checkpoints ordered by creation time,
// optionally narrowed to one branch.
func (r *checkpointRepo) ListByVideo(dbc dbctx.Context, videoID uuid.UUID, branch string) ([]*types.Checkpoint, error) {
	q := r.tx(dbc).WithContext(dbc.Ctx).Where("video_id = ?", videoID)
	if branch != "" {
		q = q.Where("branch_name = ?", branch)
	}
	var out []*types.Checkpoint
	err := q.Order("created_at ASC").Find(&out).Error
	return out, err
}

// GetCurrentPending returns the most recently created pending
// checkpoint across all branches — the node the user is being asked to
// review right now.
func (r *checkpointRepo) GetCurrentPending(dbc dbctx.Context, videoID uuid.UUID) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("video_id = ? AND status = ?", videoID, types.CheckpointStatusPending).
		Order("created_at DESC").
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetCurrent returns the newest checkpoint on a branch — the node
// ChunkScheduler/Editor reason about as "where this branch stands now".
func (r *checkpointRepo) GetCurrent(dbc dbctx.Context, videoID uuid.UUID, branch string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("video_id = ? AND branch_name = ?", videoID, branch).
		Order("phase_number DESC, version DESC, created_at DESC").
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetLeaves returns checkpoints with no child row pointing at them via
// parent_checkpoint_id — the tips of every branch.
func (r *checkpointRepo) GetLeaves(dbc dbctx.Context, videoID uuid.UUID) ([]*types.Checkpoint, error) {
	var out []*types.Checkpoint
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where(`video_id = ? AND id NOT IN (
			SELECT parent_checkpoint_id FROM checkpoints
			WHERE video_id = ? AND parent_checkpoint_id IS NOT NULL
		)`, videoID, videoID).
		Order("branch_name ASC").
		Find(&out).Error
	return out, err
}

func (r *checkpointRepo) Approve(dbc dbctx.Context, id uuid.UUID) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Checkpoint{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      types.CheckpointStatusApproved,
			"approved_at": gorm.Expr("now()"),
		}).Error
}

// HasEdits reports whether any artifact attached to this checkpoint has
// been replaced at least once (version > 1) — the signal Continue uses to
// decide whether to fork a new branch instead of reusing this one.
func (r *checkpointRepo) HasEdits(dbc dbctx.Context, checkpointID uuid.UUID) (bool, error) {
	var count int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Table("artifacts").
		Where("checkpoint_id = ? AND version > 1", checkpointID).
		Count(&count).Error
	return count > 0, err
}

// Tree materialises the full checkpoint DAG for a video via a recursive
// CTE rooted at phase 1 checkpoints, then folds the flat rows in Go.
func (r *checkpointRepo) Tree(dbc dbctx.Context, videoID uuid.UUID) ([]*CheckpointNode, error) {
	var rows []*types.Checkpoint
	err := r.tx(dbc).WithContext(dbc.Ctx).Raw(`
		WITH RECURSIVE tree AS (
			SELECT * FROM checkpoints
			WHERE video_id = ? AND parent_checkpoint_id IS NULL
			UNION ALL
			SELECT c.* FROM checkpoints c
			JOIN tree t ON c.parent_checkpoint_id = t.id
		)
		SELECT * FROM tree ORDER BY phase_number ASC, version ASC, created_at ASC
	`, videoID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	nodes := make(map[uuid.UUID]*CheckpointNode, len(rows))
	for _, cp := range rows {
		nodes[cp.ID] = &CheckpointNode{Checkpoint: cp}
	}
	var roots []*CheckpointNode
	for _, cp := range rows {
		node := nodes[cp.ID]
		if cp.ParentCheckpointID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*cp.ParentCheckpointID]
		if !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots, nil
}

func (r *checkpointRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Checkpoint{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *checkpointRepo) NextVersion(dbc dbctx.Context, videoID uuid.UUID, branch string, phase int) (int, error) {
	var maxVersion int
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Checkpoint{}).
		Select("COALESCE(MAX(version), 0)").
		Where("video_id = ? AND branch_name = ? AND phase_number = ?", videoID, branch, phase).
		Scan(&maxVersion).Error
	if err != nil {
		return 0, err
	}
	return maxVersion + 1, nil
}

// NewBranch computes the next sibling branch name under the branch of
// checkpointID, e.g. "main" -> "main-1", "main-1" -> "main-1-1". It does
// not create a checkpoint; the caller embeds the returned name in the next
// phase's dispatch payload.
func (r *checkpointRepo) NewBranch(dbc dbctx.Context, videoID uuid.UUID, checkpointID uuid.UUID) (string, error) {
	cp, err := r.Get(dbc, checkpointID)
	if err != nil {
		return "", err
	}
	if cp == nil {
		return "", gorm.ErrRecordNotFound
	}
	base := cp.BranchName

	var siblings []string
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&types.Checkpoint{}).
		Where("video_id = ? AND branch_name LIKE ?", videoID, base+"-%").
		Distinct().
		Pluck("branch_name", &siblings).Error; err != nil {
		return "", err
	}

	maxK := 0
	prefix := base + "-"
	for _, name := range siblings {
		suffix := strings.TrimPrefix(name, prefix)
		if suffix == name || strings.Contains(suffix, "-") {
			continue // not an immediate child of base
		}
		k, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if k > maxK {
			maxK = k
		}
	}
	return fmt.Sprintf("%s-%d", base, maxK+1), nil
}
