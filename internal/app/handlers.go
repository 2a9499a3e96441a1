package app

import (
	"github.com/avarra/reelforge/internal/http/handlers"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/sse"
)

type Handlers struct {
	Health *handlers.HealthHandler
	Video  *handlers.VideoHandler
	Events *handlers.EventsHandler
}

func wireHandlers(log *logger.Logger, s Services, hub *sse.SSEHub) Handlers {
	return Handlers{
		Health: handlers.NewHealthHandler(),
		Video:  handlers.NewVideoHandler(log, s.Orchestrator),
		Events: handlers.NewEventsHandler(log, hub),
	}
}
