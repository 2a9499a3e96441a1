package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/avarra/reelforge/internal/orchestrator"
	"github.com/avarra/reelforge/internal/pipeline/chunkscheduler"
	"github.com/avarra/reelforge/internal/pipeline/dispatch"
	"github.com/avarra/reelforge/internal/pipeline/editor"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/services"
	"github.com/avarra/reelforge/internal/sse"
)

type Services struct {
	Auth         services.AuthService
	Notifier     services.JobNotifier
	Jobs         services.JobService
	Dispatcher   *dispatch.Dispatcher
	Scheduler    *chunkscheduler.Scheduler
	Editor       *editor.Service
	Orchestrator *orchestrator.Service
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, c Clients, hub *sse.SSEHub) (Services, error) {
	if cfg.JWTSecret == "" {
		return Services{}, fmt.Errorf("missing JWT_SECRET_KEY")
	}
	auth := services.NewAuthService(log, cfg.JWTSecret, cfg.AccessTTL)
	notifier := services.NewJobNotifier(hub)
	jobSvc := services.NewJobService(db, log, r.Jobs, notifier)

	dispatcher := dispatch.New(r.Jobs)
	scheduler := chunkscheduler.New(log, c.Models, c.Video, c.Media, c.IO)
	ed := editor.New(log, db, r.Videos, r.Artifacts, c.IO, c.Media, c.Models, scheduler, c.Progress)

	orch := orchestrator.New(
		log, db,
		r.Videos, r.Checkpoints, r.Artifacts, r.Jobs,
		dispatcher, c.Progress, c.IO, c.Models, c.Image, scheduler, ed, jobSvc,
	)

	return Services{
		Auth:         auth,
		Notifier:     notifier,
		Jobs:         jobSvc,
		Dispatcher:   dispatcher,
		Scheduler:    scheduler,
		Editor:       ed,
		Orchestrator: orch,
	}, nil
}
