package repos

import (
	"github.com/avarra/reelforge/internal/data/repos/jobs"
	"github.com/avarra/reelforge/internal/data/repos/video"
	"github.com/avarra/reelforge/internal/platform/logger"
	"gorm.io/gorm"
)

type JobRunRepo = jobs.JobRunRepo

type VideoRepo = video.VideoRepo
type CheckpointRepo = video.CheckpointRepo
type ArtifactRepo = video.ArtifactRepo
type CheckpointNode = video.CheckpointNode

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return video.NewVideoRepo(db, baseLog)
}

func NewCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) CheckpointRepo {
	return video.NewCheckpointRepo(db, baseLog)
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return video.NewArtifactRepo(db, baseLog)
}
