package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/domain/video"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedVideo(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) *types.Video {
	tb.Helper()
	v := &types.Video{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		Prompt:      "Showcase a chrome kettle",
		Status:      video.StatusQueued,
		Spec:        datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed video: %v", err)
	}
	return v
}

func SeedCheckpoint(tb testing.TB, ctx context.Context, tx *gorm.DB, videoID, ownerUserID uuid.UUID, branch string, phase, version int, parent *uuid.UUID) *types.Checkpoint {
	tb.Helper()
	cp := &types.Checkpoint{
		ID:                 uuid.New(),
		VideoID:            videoID,
		BranchName:         branch,
		PhaseNumber:        phase,
		Version:            version,
		ParentCheckpointID: parent,
		Status:             "pending",
		OwnerUserID:        ownerUserID,
		PhaseOutput:        datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(cp).Error; err != nil {
		tb.Fatalf("seed checkpoint: %v", err)
	}
	return cp
}

func SeedArtifact(tb testing.TB, ctx context.Context, tx *gorm.DB, checkpointID uuid.UUID, typ, key, blobURL string, version int) *types.Artifact {
	tb.Helper()
	a := &types.Artifact{
		ID:           uuid.New(),
		CheckpointID: checkpointID,
		Type:         typ,
		Key:          key,
		BlobURL:      blobURL,
		BlobKey:      blobURL,
		Version:      version,
		Metadata:     datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed artifact: %v", err)
	}
	return a
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
