package app

import (
	"gorm.io/gorm"

	"github.com/avarra/reelforge/internal/data/repos"
	"github.com/avarra/reelforge/internal/platform/logger"
)

type Repos struct {
	Videos      repos.VideoRepo
	Checkpoints repos.CheckpointRepo
	Artifacts   repos.ArtifactRepo
	Jobs        repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Videos:      repos.NewVideoRepo(db, log),
		Checkpoints: repos.NewCheckpointRepo(db, log),
		Artifacts:   repos.NewArtifactRepo(db, log),
		Jobs:        repos.NewJobRunRepo(db, log),
	}
}
