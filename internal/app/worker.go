package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/avarra/reelforge/internal/jobs/runtime"
	"github.com/avarra/reelforge/internal/jobs/worker"
	"github.com/avarra/reelforge/internal/observability"
	"github.com/avarra/reelforge/internal/pipeline/editor"
	"github.com/avarra/reelforge/internal/pipeline/phaserunners"
	"github.com/avarra/reelforge/internal/platform/logger"
)

// wireWorker registers the four phase handlers plus the edit handler
// and returns the worker pool ready to Start.
func wireWorker(db *gorm.DB, log *logger.Logger, r Repos, s Services, c Clients) (*worker.Worker, error) {
	deps := phaserunners.Deps{
		Log:         log,
		DB:          db,
		Videos:      r.Videos,
		Checkpoints: r.Checkpoints,
		Artifacts:   r.Artifacts,
		Dispatcher:  s.Dispatcher,
		Progress:    c.Progress,
		IO:          c.IO,
		Media:       c.Media,
		Models:      c.Models,
		Scheduler:   s.Scheduler,
		LLM:         c.LLM,
		Image:       c.Image,
		VideoModel:  c.Video,
		Music:       c.Music,
		Metrics:     observability.Current(),
	}

	registry := runtime.NewRegistry()
	handlers := []runtime.Handler{
		phaserunners.NewPlanRunner(deps),
		phaserunners.NewStoryboardRunner(deps),
		phaserunners.NewChunksRunner(deps),
		phaserunners.NewRefineRunner(deps),
		editor.NewHandler(log, s.Editor, r.Videos, c.Progress),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return nil, fmt.Errorf("register handler %s: %w", h.Type(), err)
		}
	}

	return worker.NewWorker(db, log, r.Jobs, registry, s.Notifier), nil
}
