// Package chunkscheduler implements the Phase-3 two-phase parallel
// planner: it maps narrative beats to video chunks, then runs all
// anchor generations in parallel, barriers, and runs all continuation
// generations in parallel.
package chunkscheduler

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/observability"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/platform/mediatools"
	"github.com/avarra/reelforge/internal/platform/modelconfig"
	"github.com/avarra/reelforge/internal/platform/objectio"
	"github.com/avarra/reelforge/internal/services"
)

const beatAlignTolerance = 0.5 // seconds a beat may drift from a chunk start and still anchor it

// Plan is the output of planning: every chunk's spec plus the anchor map
// used to classify them.
type Plan struct {
	ChunkDuration float64
	ChunkSpacing  float64
	ChunkCount    int
	BeatMap       types.BeatToChunkMap
	Chunks        []types.ChunkSpec
}

// ChunkResult is what one generation job produces: the uploaded chunk
// and last-frame blobs plus the cost charged for the generation call.
type ChunkResult struct {
	Index        int
	ChunkBlobURL string
	ChunkBlobKey string
	LastFrameURL string
	LastFrameKey string
	Cost         float64
}

// ProgressFunc reports scheduler progress (0-100) as anchors/continuations
// complete, so the caller can forward it to ProgressChannel/JobRun.
type ProgressFunc func(pct int, msg string)

// Scheduler plans the beat/chunk layout, then drives the two-phase
// parallel generation: anchors first, then continuations.
type Scheduler struct {
	log        *logger.Logger
	models     *modelconfig.Table
	video      services.VideoModel
	media      mediatools.Tools
	io         objectio.IO
	httpClient *http.Client
	metrics    *observability.Metrics
}

func New(log *logger.Logger, models *modelconfig.Table, video services.VideoModel, media mediatools.Tools, io objectio.IO) *Scheduler {
	return &Scheduler{
		log:        log.With("component", "ChunkScheduler"),
		models:     models,
		video:      video,
		media:      media,
		io:         io,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		metrics:    observability.Current(),
	}
}

// PlanWithModel computes chunk duration, chunk count, the beat->chunk
// anchor map, and the full ChunkSpec list. It returns an integrity
// error if chunk 0 would not be an anchor.
func PlanWithModel(plan types.PlanSpec, cfg modelconfig.VideoModel) (Plan, error) {
	chunkDuration := cfg.ActualOutputSeconds
	chunkSpacing := cfg.ChunkSpacing()
	chunkCount := int(math.Ceil(plan.Duration / chunkDuration))
	if chunkCount < 1 {
		chunkCount = 1
	}

	beatMap := types.BeatToChunkMap{}
	for beatIdx, beat := range plan.Beats {
		k := int(math.Floor(beat.Start / chunkSpacing))
		if k < 0 {
			k = 0
		}
		if k >= chunkCount {
			// Beat starts beyond the last chunk's start; nothing to anchor.
			continue
		}
		if math.Abs(float64(k)*chunkSpacing-beat.Start) < beatAlignTolerance {
			if _, claimed := beatMap[k]; !claimed {
				beatMap[k] = beatIdx
			}
		}
	}

	if _, ok := beatMap[0]; !ok {
		return Plan{}, fmt.Errorf("chunkscheduler: integrity: orphan continuation (chunk 0 is not an anchor)")
	}

	// A chunk's beat (and so its prompt) comes from temporal containment
	// of the chunk's start time; the anchor map above only decides which
	// chunks condition on a storyboard image. The two can disagree when
	// a beat owns a chunk's start but missed the alignment tolerance.
	chunks := make([]types.ChunkSpec, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		start := float64(i) * chunkSpacing
		beatIdx := beatForChunkStart(plan.Beats, start)
		beat := plan.Beats[beatIdx]
		chunks = append(chunks, types.ChunkSpec{
			Index:     i,
			StartTime: start,
			Duration:  chunkDuration,
			BeatIndex: beatIdx,
			Prompt:    beat.PromptTemplate,
			ModelID:   plan.Model,
			FPS:       plan.FPS,
		})
	}

	return Plan{
		ChunkDuration: chunkDuration,
		ChunkSpacing:  chunkSpacing,
		ChunkCount:    chunkCount,
		BeatMap:       beatMap,
		Chunks:        chunks,
	}, nil
}

// beatForChunkStart returns the last beat whose [start, start+duration)
// window contains t, clamping to the final beat when t falls past the
// end of the plan.
func beatForChunkStart(beats []types.Beat, t float64) int {
	idx := len(beats) - 1
	for i, b := range beats {
		if t >= b.Start && t < b.Start+b.Duration {
			idx = i
		}
	}
	return idx
}

func nearestPriorAnchorIndex(anchors []int, chunkIdx int) int {
	best := anchors[0]
	for _, a := range anchors {
		if a <= chunkIdx && a > best {
			best = a
		}
	}
	return best
}

// Run executes the two-phase parallel generation: all anchors, barrier,
// then all continuations. ownerID/videoID scope uploaded
// blobs; beats supplies each anchor's storyboard image url.
func (s *Scheduler) Run(ctx context.Context, ownerID, videoID uuid.UUID, plan Plan, beats []types.Beat, report ProgressFunc) ([]ChunkResult, float64, error) {
	results := make([]ChunkResult, plan.ChunkCount)
	var mu sync.Mutex
	var totalCost float64

	anchors := plan.BeatMap.AnchorIndices()
	anchorSet := make(map[int]bool, len(anchors))
	for _, idx := range anchors {
		anchorSet[idx] = true
	}

	gA, gCtxA := errgroup.WithContext(ctx)
	for _, idx := range anchors {
		idx := idx
		spec := plan.Chunks[idx]
		anchorBeat := plan.BeatMap[idx]
		gA.Go(func() error {
			// The init image is the anchored beat's storyboard frame,
			// which is not always the beat that owns the chunk's prompt.
			initImage := beats[anchorBeat].ImageURL
			res, err := s.GenerateChunk(gCtxA, ownerID, videoID, spec, initImage)
			if err != nil {
				return err
			}
			mu.Lock()
			results[idx] = res
			totalCost += res.Cost
			mu.Unlock()
			return nil
		})
	}
	if err := gA.Wait(); err != nil {
		return nil, totalCost, fmt.Errorf("chunkscheduler: anchor phase: %w", err)
	}
	if report != nil {
		report(60, "anchor chunks complete")
	}

	gB, gCtxB := errgroup.WithContext(ctx)
	for i := 0; i < plan.ChunkCount; i++ {
		if anchorSet[i] {
			continue
		}
		i := i
		spec := plan.Chunks[i]
		gB.Go(func() error {
			refAnchor := nearestPriorAnchorIndex(anchors, i)
			mu.Lock()
			initImage := results[refAnchor].LastFrameURL
			mu.Unlock()
			res, err := s.GenerateChunk(gCtxB, ownerID, videoID, spec, initImage)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = res
			totalCost += res.Cost
			mu.Unlock()
			return nil
		})
	}
	if err := gB.Wait(); err != nil {
		return nil, totalCost, fmt.Errorf("chunkscheduler: continuation phase: %w", err)
	}
	if report != nil {
		report(70, "continuation chunks complete")
	}

	if err := validateOrdering(results); err != nil {
		return nil, totalCost, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, totalCost, nil
}

// GenerateChunk runs one chunk generation job with bounded local
// retries (<=2), whether called from the two-phase Run barrier or a
// standalone regenerate-chunk/editor-replace request.
func (s *Scheduler) GenerateChunk(ctx context.Context, ownerID, videoID uuid.UUID, spec types.ChunkSpec, initImage string) (ChunkResult, error) {
	var res ChunkResult
	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		res, err = s.generateOne(ctx, ownerID, videoID, spec, initImage)
		if err == nil {
			return res, nil
		}
		if attempt == 2 {
			break
		}
		if s.metrics != nil {
			s.metrics.IncChunkRetry()
		}
		s.log.Warn("chunkscheduler: chunk generation failed, retrying", "chunk_index", spec.Index, "attempt", attempt+1, "error", err)
	}
	return ChunkResult{}, fmt.Errorf("chunk %d: %w", spec.Index, err)
}

func validateOrdering(results []ChunkResult) error {
	seen := make(map[int]bool, len(results))
	for _, r := range results {
		if r.ChunkBlobURL == "" {
			continue
		}
		seen[r.Index] = true
	}
	for i := 0; i < len(results); i++ {
		if !seen[i] {
			return fmt.Errorf("chunkscheduler: integrity: missing chunk index %d (gap in chunk sequence)", i)
		}
	}
	return nil
}

// generateOne calls the video model, pulls the generated clip into our
// own object store, and extracts+uploads its last frame. Anchor and
// continuation jobs differ only in where the init image comes from.
func (s *Scheduler) generateOne(ctx context.Context, ownerID, videoID uuid.UUID, spec types.ChunkSpec, initImageURL string) (ChunkResult, error) {
	cfg, ok := s.models.VideoModel(spec.ModelID)
	if !ok {
		return ChunkResult{}, fmt.Errorf("unknown model %q", spec.ModelID)
	}
	if initImageURL == "" {
		return ChunkResult{}, fmt.Errorf("missing init image for chunk %d", spec.Index)
	}

	hostedURL, err := s.video.Generate(ctx, services.VideoGenRequest{
		ModelID:      spec.ModelID,
		InitImageURL: initImageURL,
		Prompt:       spec.Prompt,
		DurationSecs: spec.Duration,
		FPS:          spec.FPS,
		Size:         spec.Size,
	})
	if err != nil {
		return ChunkResult{}, fmt.Errorf("video model: %w", err)
	}

	localPath, cleanup, err := s.download(ctx, hostedURL, ".mp4")
	if err != nil {
		return ChunkResult{}, fmt.Errorf("download generated chunk: %w", err)
	}
	defer cleanup()

	chunkFile, err := os.Open(localPath)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("open downloaded chunk: %w", err)
	}
	defer chunkFile.Close()

	chunkName := fmt.Sprintf("chunk_%02d.mp4", spec.Index)
	chunkUpload, err := s.io.Upload(ctx, ownerID, videoID, chunkName, chunkFile)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("upload chunk: %w", err)
	}

	lastFramePath := filepath.Join(filepath.Dir(localPath), fmt.Sprintf("chunk_%02d_last_frame.png", spec.Index))
	if err := s.media.ExtractLastFrame(ctx, localPath, lastFramePath); err != nil {
		return ChunkResult{}, fmt.Errorf("extract last frame: %w", err)
	}
	defer os.Remove(lastFramePath)

	frameFile, err := os.Open(lastFramePath)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("open extracted last frame: %w", err)
	}
	defer frameFile.Close()

	frameName := fmt.Sprintf("chunk_%02d_last_frame.png", spec.Index)
	frameUpload, err := s.io.Upload(ctx, ownerID, videoID, frameName, frameFile)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("upload last frame: %w", err)
	}

	return ChunkResult{
		Index:        spec.Index,
		ChunkBlobURL: chunkUpload.BlobURL,
		ChunkBlobKey: chunkUpload.BlobKey,
		LastFrameURL: frameUpload.BlobURL,
		LastFrameKey: frameUpload.BlobKey,
		Cost:         cfg.CostPerGeneration,
	}, nil
}

// FetchURL pulls a hosted model output into memory. Used by callers
// that post-process small blobs (storyboard frames) instead of
// streaming them to disk.
func (s *Scheduler) FetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: http %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Scheduler) download(ctx context.Context, url, suffix string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", func() {}, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", func() {}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", func() {}, fmt.Errorf("download %s: http %d", url, resp.StatusCode)
	}

	f, err := os.CreateTemp("", "chunk-*"+suffix)
	if err != nil {
		return "", func() {}, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
