package app

import (
	"fmt"

	"github.com/avarra/reelforge/internal/pipeline/progresschannel"
	"github.com/avarra/reelforge/internal/platform/gcp"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/platform/mediatools"
	"github.com/avarra/reelforge/internal/platform/modelconfig"
	"github.com/avarra/reelforge/internal/platform/objectio"
	"github.com/avarra/reelforge/internal/services"
)

// Clients bundles every external collaborator the pipeline consumes
// through a narrow interface: object storage, the progress cache, the
// model parameter table, ffmpeg, and the three generation backends.
type Clients struct {
	Bucket   gcp.BucketService
	IO       objectio.IO
	Progress progresschannel.Channel
	Models   *modelconfig.Table
	Media    mediatools.Tools
	LLM      services.OpenAIClient
	Image    services.ImageModel
	Video    services.VideoModel
	Music    services.MusicSource
}

func wireClients(log *logger.Logger) (Clients, error) {
	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init bucket service: %w", err)
	}
	io := objectio.New(log, bucket)

	progress, err := progresschannel.New(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init progress channel: %w", err)
	}

	models := modelconfig.Load(log)
	media := mediatools.New(log)

	llm, err := services.NewOpenAIClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init llm client: %w", err)
	}
	image, err := services.NewImageModelClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init image model client: %w", err)
	}
	video, err := services.NewVideoModelClient(log, models)
	if err != nil {
		return Clients{}, fmt.Errorf("init video model client: %w", err)
	}
	music := services.NewMusicCatalog(log, bucket, models.MusicDefaults())

	return Clients{
		Bucket:   bucket,
		IO:       io,
		Progress: progress,
		Models:   models,
		Media:    media,
		LLM:      llm,
		Image:    image,
		Video:    video,
		Music:    music,
	}, nil
}
