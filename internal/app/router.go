package app

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/avarra/reelforge/internal/http/middleware"
	"github.com/avarra/reelforge/internal/observability"
	"github.com/avarra/reelforge/internal/platform/logger"
)

func wireRouter(log *logger.Logger, h Handlers, mw Middleware, metrics *observability.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(otelgin.Middleware("reelforge"))
	router.Use(middleware.AttachTraceContext())
	router.Use(middleware.AttachRequestContext())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics(metrics))

	router.GET("/healthz", h.Health.HealthCheck)

	authed := router.Group("/")
	authed.Use(mw.Auth.RequireAuth())
	{
		authed.GET("/events", h.Events.Stream)

		authed.POST("/video", h.Video.Generate)
		authed.GET("/video/:video_id", h.Video.Status)
		authed.GET("/video/:video_id/checkpoints", h.Video.ListCheckpoints)
		authed.GET("/video/:video_id/checkpoints/current", h.Video.CurrentCheckpoint)
		authed.GET("/video/:video_id/checkpoints/:checkpoint_id", h.Video.GetCheckpoint)
		authed.GET("/video/:video_id/checkpoint-tree", h.Video.Tree)
		authed.GET("/video/:video_id/branches", h.Video.Branches)
		authed.POST("/video/:video_id/continue", h.Video.Continue)
		authed.PATCH("/video/:video_id/checkpoints/:checkpoint_id/spec", h.Video.PatchSpec)
		authed.POST("/video/:video_id/checkpoints/:checkpoint_id/upload-image", h.Video.UploadImage)
		authed.POST("/video/:video_id/checkpoints/:checkpoint_id/regenerate-beat", h.Video.RegenerateBeat)
		authed.POST("/video/:video_id/checkpoints/:checkpoint_id/regenerate-chunk", h.Video.RegenerateChunk)
		authed.POST("/video/:video_id/edit", h.Video.Edit)
		authed.GET("/video/:video_id/editing/status", h.Video.EditingStatus)
		authed.GET("/video/:video_id/chunks", h.Video.Chunks)
		authed.GET("/video/:video_id/chunks/:chunk_index", h.Video.Chunk)
		authed.GET("/video/:video_id/chunks/:chunk_index/versions", h.Video.ChunkVersions)
		authed.GET("/video/:video_id/chunks/:chunk_index/preview", h.Video.ChunkPreview)
		authed.GET("/video/:video_id/chunks/:chunk_index/split-info", h.Video.ChunkSplitInfo)
		authed.POST("/video/:video_id/chunks/:chunk_index/select-version", h.Video.SelectVersion)
		authed.GET("/video/:video_id/job", h.Video.LatestJob)
	}

	return router
}
