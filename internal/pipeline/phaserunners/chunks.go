package phaserunners

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/jobs/runtime"
	"github.com/avarra/reelforge/internal/pipeline/chunkscheduler"
	"github.com/avarra/reelforge/internal/pipeline/dispatch"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/envutil"
)

// ChunksRunner is Phase 3: plan the beat→chunk layout, run the
// two-phase parallel generation, then stitch the ordered chunk list
// into a composite under the wall-clock budget.
type ChunksRunner struct {
	base
}

func NewChunksRunner(deps Deps) *ChunksRunner {
	return &ChunksRunner{base: newBase(deps, 3, "Phase3Chunks")}
}

func (r *ChunksRunner) Type() string { return dispatch.JobType(3) }

func (r *ChunksRunner) Run(jc *runtime.Context) error {
	done := phaseTimer(r.deps.Metrics, 3)

	input, err := r.loadInput(jc)
	if err != nil {
		jc.Fail("load_input", err)
		done("failed")
		return nil
	}
	v := input.video

	var parentOut types.Phase2Output
	if _, err := r.parentOutput(jc, input.payload.ParentCheckpointID, &parentOut); err != nil {
		r.failPhase(jc, v.ID, "load_parent", err)
		done("failed")
		return nil
	}
	spec := parentOut.Spec
	for i, beat := range spec.Beats {
		if beat.ImageURL == "" {
			r.failPhase(jc, v.ID, "validate_input", fmt.Errorf("integrity: beat %d missing image_url", i))
			done("failed")
			return nil
		}
	}

	modelCfg, ok := r.deps.Models.VideoModel(spec.Model)
	if !ok {
		r.failPhase(jc, v.ID, "validate_input", fmt.Errorf("validation: unknown video model %q", spec.Model))
		done("failed")
		return nil
	}

	r.reportProgress(jc, v, 40, "chunks", "planning chunk layout")

	plan, err := chunkscheduler.PlanWithModel(spec, modelCfg)
	if err != nil {
		r.failPhase(jc, v.ID, "plan_chunks", err)
		done("failed")
		return nil
	}

	results, cost, err := r.deps.Scheduler.Run(jc.Ctx, v.OwnerUserID, v.ID, plan, spec.Beats, func(pct int, msg string) {
		r.reportProgress(jc, v, pct, "chunks", msg)
	})
	if err != nil {
		r.failPhase(jc, v.ID, "generate_chunks", err)
		done("failed")
		return nil
	}

	chunks := make([]types.ChunkBlob, len(results))
	chunkURLs := make([]string, len(results))
	for i, res := range results {
		_, isAnchor := plan.BeatMap[res.Index]
		chunks[i] = types.ChunkBlob{
			Index:        res.Index,
			URL:          res.ChunkBlobURL,
			Key:          res.ChunkBlobKey,
			LastFrameURL: res.LastFrameURL,
			LastFrameKey: res.LastFrameKey,
			Anchor:       isAnchor,
			BeatIndex:    plan.Chunks[res.Index].BeatIndex,
			Duration:     plan.ChunkDuration,
		}
		chunkURLs[i] = res.ChunkBlobURL
	}

	stitchedURL, stitchedKey, err := r.stitch(jc, v.OwnerUserID, v.ID, chunks)
	if err != nil {
		r.failPhase(jc, v.ID, "stitch", err)
		done("failed")
		return nil
	}
	r.reportProgress(jc, v, 75, "chunks", "composite stitched")

	dbc := dbctx.Context{Ctx: jc.Ctx}
	version, err := r.deps.Checkpoints.NextVersion(dbc, v.ID, input.payload.Branch, 3)
	if err != nil {
		r.failPhase(jc, v.ID, "next_version", err)
		done("failed")
		return nil
	}

	parent := input.payload.ParentCheckpointID
	cp := &types.Checkpoint{
		ID:                 uuid.New(),
		VideoID:            v.ID,
		BranchName:         input.payload.Branch,
		PhaseNumber:        3,
		Version:            version,
		ParentCheckpointID: &parent,
		Status:             types.CheckpointStatusPending,
		OwnerUserID:        v.OwnerUserID,
		Cost:               cost,
	}
	output := types.Phase3Output{
		CheckpointID: cp.ID,
		Branch:       input.payload.Branch,
		Spec:         spec,
		ModelID:      spec.Model,
		ChunkCount:   plan.ChunkCount,
		BeatMap:      plan.BeatMap,
		Chunks:       chunks,
		StitchedURL:  stitchedURL,
		StitchedKey:  stitchedKey,
		Cost:         cost,
	}
	outRaw, err := json.Marshal(output)
	if err != nil {
		r.failPhase(jc, v.ID, "encode_output", err)
		done("failed")
		return nil
	}
	cp.PhaseOutput = datatypes.JSON(outRaw)

	artifacts := make([]*types.Artifact, 0, len(chunks))
	for _, c := range chunks {
		meta, _ := json.Marshal(map[string]any{
			"chunk_index":    c.Index,
			"beat_index":     c.BeatIndex,
			"anchor":         c.Anchor,
			"last_frame_url": c.LastFrameURL,
			"last_frame_key": c.LastFrameKey,
			"duration":       c.Duration,
			"model_id":       spec.Model,
		})
		artifacts = append(artifacts, &types.Artifact{
			Type:     types.ArtifactTypeVideoChunk,
			Key:      fmt.Sprintf("chunk_%d", c.Index),
			BlobURL:  c.URL,
			BlobKey:  c.Key,
			Version:  1,
			Metadata: datatypes.JSON(meta),
		})
	}

	chunkURLsJSON, _ := json.Marshal(chunkURLs)
	res, err := r.finishPhase(jc, finishSpec{
		input:      input,
		checkpoint: cp,
		artifacts:  artifacts,
		outputKey:  types.PhaseOutputChunks,
		output:     output,
		videoUpdates: map[string]interface{}{
			"chunk_urls":   datatypes.JSON(chunkURLsJSON),
			"stitched_url": stitchedURL,
			"cost":         v.Cost + cost,
			"progress":     90,
		},
		pausedPct: 90,
	})
	if err != nil {
		r.failPhase(jc, v.ID, "persist", err)
		done("failed")
		return nil
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.AddCost("3", spec.Model, cost)
	}

	done("succeeded")
	jc.Succeed("chunks", map[string]any{
		"checkpoint_id":  cp.ID,
		"chunk_count":    plan.ChunkCount,
		"stitched_url":   stitchedURL,
		"auto_continued": res.dispatched,
	})
	return nil
}

// stitch pulls every chunk blob local, concatenates under the
// configured wall-clock budget, and uploads the composite.
func (r *ChunksRunner) stitch(jc *runtime.Context, ownerID, videoID uuid.UUID, chunks []types.ChunkBlob) (string, string, error) {
	budget := envutil.GetEnvAsDuration("STITCH_BUDGET", 6*time.Minute, r.log)

	workDir, err := os.MkdirTemp("", "stitch-in-*")
	if err != nil {
		return "", "", err
	}
	defer os.RemoveAll(workDir)

	start := time.Now()
	paths := make([]string, len(chunks))
	for i, c := range chunks {
		path, cleanup, err := blobToTemp(jc.Ctx, r.deps.IO, c.Key, fmt.Sprintf("chunk-%02d-*.mp4", c.Index))
		if err != nil {
			return "", "", fmt.Errorf("download chunk %d: %w", c.Index, err)
		}
		defer cleanup()
		paths[i] = path
	}

	outPath := filepath.Join(workDir, "stitched.mp4")
	if err := r.deps.Media.Stitch(jc.Ctx, paths, outPath, budget); err != nil {
		if r.deps.Metrics != nil {
			r.deps.Metrics.ObserveStitch("phase3", "failed", time.Since(start))
		}
		return "", "", err
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveStitch("phase3", "succeeded", time.Since(start))
	}

	f, err := os.Open(outPath)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	upload, err := r.deps.IO.Upload(jc.Ctx, ownerID, videoID, "stitched.mp4", f)
	if err != nil {
		return "", "", fmt.Errorf("upload stitched composite: %w", err)
	}
	return upload.BlobURL, upload.BlobKey, nil
}
