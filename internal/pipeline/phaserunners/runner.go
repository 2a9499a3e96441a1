// Package phaserunners holds the four pipeline phase handlers (Plan,
// Storyboard, Chunks, Refine); the Phase-6 edit handler lives in package
// editor. Each is an
// idempotent job handler registered by job_type; all state flows through
// the Video row, the checkpoint/artifact stores, and the progress
// channel, never through worker memory.
package phaserunners

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/avarra/reelforge/internal/data/repos"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/jobs/runtime"
	"github.com/avarra/reelforge/internal/observability"
	"github.com/avarra/reelforge/internal/pipeline/chunkscheduler"
	"github.com/avarra/reelforge/internal/pipeline/dispatch"
	"github.com/avarra/reelforge/internal/pipeline/phaseio"
	"github.com/avarra/reelforge/internal/pipeline/progresschannel"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/platform/mediatools"
	"github.com/avarra/reelforge/internal/platform/modelconfig"
	"github.com/avarra/reelforge/internal/platform/objectio"
	"github.com/avarra/reelforge/internal/services"
)

const terminalPhase = 4

// Deps bundles everything a phase handler can touch. Constructed once in
// internal/app and shared by the four phase handlers.
type Deps struct {
	Log         *logger.Logger
	DB          *gorm.DB
	Videos      repos.VideoRepo
	Checkpoints repos.CheckpointRepo
	Artifacts   repos.ArtifactRepo
	Dispatcher  *dispatch.Dispatcher
	Progress    progresschannel.Channel
	IO          objectio.IO
	Media       mediatools.Tools
	Models      *modelconfig.Table
	Scheduler   *chunkscheduler.Scheduler
	LLM         services.OpenAIClient
	Image       services.ImageModel
	VideoModel  services.VideoModel
	Music       services.MusicSource
	Metrics     *observability.Metrics
}

// base carries the per-phase plumbing shared by every runner: loading
// the payload/video, progress reporting, failure bookkeeping, and the
// checkpoint + auto-continue epilogue.
type base struct {
	deps  Deps
	log   *logger.Logger
	phase int
}

func newBase(deps Deps, phase int, name string) base {
	return base{deps: deps, log: deps.Log.With("job", name), phase: phase}
}

// phaseInput is what every runner starts from: the decoded dispatch
// payload plus the current Video row.
type phaseInput struct {
	payload dispatch.PhasePayload
	video   *types.Video
}

func (b *base) loadInput(jc *runtime.Context) (phaseInput, error) {
	payload, err := dispatch.DecodePayload(jc.Job.Payload)
	if err != nil {
		return phaseInput{}, err
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}
	v, err := b.deps.Videos.GetForOwner(dbc, payload.VideoID, payload.OwnerUserID)
	if err != nil {
		return phaseInput{}, fmt.Errorf("load video %s: %w", payload.VideoID, err)
	}
	if v == nil {
		return phaseInput{}, fmt.Errorf("video %s not found for owner %s", payload.VideoID, payload.OwnerUserID)
	}
	return phaseInput{payload: payload, video: v}, nil
}

// parentOutput decodes the parent checkpoint's phase_output into out.
// Every phase except Plan starts here; a missing parent or an
// undecodable output is an input-validation failure for the phase.
func (b *base) parentOutput(jc *runtime.Context, parentID uuid.UUID, out any) (*types.Checkpoint, error) {
	if parentID == uuid.Nil {
		return nil, fmt.Errorf("missing parent checkpoint id")
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}
	cp, err := b.deps.Checkpoints.Get(dbc, parentID)
	if err != nil {
		return nil, fmt.Errorf("load parent checkpoint %s: %w", parentID, err)
	}
	if cp == nil {
		return nil, fmt.Errorf("parent checkpoint %s not found", parentID)
	}
	if err := decodeJSON(cp.PhaseOutput, out); err != nil {
		return nil, fmt.Errorf("decode parent checkpoint %s output: %w", parentID, err)
	}
	return cp, nil
}

// reportProgress fans one progress tick out to all three sinks: the
// Video row (source of truth), the progress channel (fast reads), and
// the job_run row (worker visibility).
func (b *base) reportProgress(jc *runtime.Context, v *types.Video, pct int, stage, msg string) {
	dbc := dbctx.Context{Ctx: jc.Ctx}
	status := types.VideoRunningStatus(b.phase)
	_ = b.deps.Videos.UpdateFields(dbc, v.ID, map[string]interface{}{
		"status":        status,
		"current_phase": b.phase,
		"progress":      pct,
	})
	v.Status = status
	v.CurrentPhase = b.phase
	v.Progress = pct

	_ = b.deps.Progress.SetSnapshot(jc.Ctx, v.ID, progresschannel.Snapshot{
		Status:       status,
		Progress:     pct,
		CurrentPhase: b.phase,
		TotalCost:    v.Cost,
	})
	jc.Progress(stage, pct, msg)
}

// failPhase is the single failure path for a phase: Video goes
// failed with the message, the progress channel mirrors it, and the job
// run is failed. Runners return nil after calling this so the worker's
// safety net doesn't overwrite the stage.
func (b *base) failPhase(jc *runtime.Context, videoID uuid.UUID, stage string, err error) {
	b.log.Warn("phase failed", "phase", b.phase, "video_id", videoID, "stage", stage, "error", err)
	dbc := dbctx.Context{Ctx: jc.Ctx}
	_ = b.deps.Videos.UpdateFields(dbc, videoID, map[string]interface{}{
		"status":        types.VideoStatusFailed,
		"error_message": err.Error(),
	})
	_ = b.deps.Progress.SetSnapshot(jc.Ctx, videoID, progresschannel.Snapshot{
		Status:       types.VideoStatusFailed,
		CurrentPhase: b.phase,
		Error:        err.Error(),
	})
	jc.Fail(stage, err)
}

// finishPhase is the uniform phase epilogue: persist the checkpoint and
// its artifacts, merge the typed phase output into Video.PhaseOutputs,
// apply the phase's Video field updates, then either auto-continue into
// the next phase or pause. Everything commits in one short transaction
// so a checkpoint never exists without its artifacts, and a dispatch
// never happens before its checkpoint is durable.
type finishSpec struct {
	input        phaseInput
	checkpoint   *types.Checkpoint
	artifacts    []*types.Artifact
	outputKey    string
	output       any
	videoUpdates map[string]interface{}
	pausedPct    int
}

type finishResult struct {
	approved   bool
	dispatched bool
	nextPhase  int
}

func (b *base) finishPhase(jc *runtime.Context, spec finishSpec) (finishResult, error) {
	v := spec.input.video
	var res finishResult

	err := b.deps.DB.Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: jc.Ctx, Tx: tx}

		if err := b.deps.Checkpoints.Create(dbc, spec.checkpoint); err != nil {
			return fmt.Errorf("create checkpoint: %w", err)
		}
		for _, a := range spec.artifacts {
			a.CheckpointID = spec.checkpoint.ID
			if err := b.deps.Artifacts.Create(dbc, a); err != nil {
				return fmt.Errorf("create artifact %s/%s: %w", a.Type, a.Key, err)
			}
		}

		merged, err := phaseio.Merge(v.PhaseOutputs, spec.outputKey, spec.output)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"phase_outputs": merged,
			"current_phase": b.phase,
		}
		for k, val := range spec.videoUpdates {
			updates[k] = val
		}

		autoContinue := v.AutoContinue || b.phase == terminalPhase
		if !autoContinue {
			updates["status"] = types.VideoPausedStatus(b.phase)
			updates["progress"] = spec.pausedPct
		}
		if err := b.deps.Videos.UpdateFields(dbc, v.ID, updates); err != nil {
			return fmt.Errorf("update video: %w", err)
		}
		v.PhaseOutputs = merged

		if !autoContinue {
			return nil
		}
		if err := b.deps.Checkpoints.Approve(dbc, spec.checkpoint.ID); err != nil {
			return fmt.Errorf("approve checkpoint: %w", err)
		}
		res.approved = true
		if b.phase < terminalPhase {
			next := b.phase + 1
			if _, err := b.deps.Dispatcher.DispatchPhase(dbc, v.OwnerUserID, v.ID, next, spec.checkpoint.ID, spec.checkpoint.BranchName); err != nil {
				return err
			}
			res.dispatched = true
			res.nextPhase = next
		}
		return nil
	})
	if err != nil {
		return finishResult{}, err
	}

	status := types.VideoPausedStatus(b.phase)
	pct := spec.pausedPct
	if res.dispatched {
		status = types.VideoRunningStatus(res.nextPhase)
	}
	if b.phase == terminalPhase {
		status = types.VideoStatusComplete
		pct = 100
	}
	_ = b.deps.Progress.SetSnapshot(jc.Ctx, v.ID, progresschannel.Snapshot{
		Status:       status,
		Progress:     pct,
		CurrentPhase: b.phase,
		TotalCost:    readFloat(spec.videoUpdates, "cost", v.Cost),
	})
	return res, nil
}

func readFloat(m map[string]interface{}, key string, def float64) float64 {
	if m == nil {
		return def
	}
	if v, ok := m[key].(float64); ok {
		return v
	}
	return def
}

// fetchToTemp downloads a hosted URL (an external model's output or a
// presigned blob) into a temp file and returns its path plus a cleanup.
func fetchToTemp(ctx context.Context, client *http.Client, url, pattern string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", func() {}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", func() {}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", func() {}, fmt.Errorf("download %s: http %d", url, resp.StatusCode)
	}
	f, err := os.CreateTemp("", pattern)
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

// blobToTemp pulls one of our own stored blobs into a temp file.
func blobToTemp(ctx context.Context, io_ objectio.IO, blobKey, pattern string) (string, func(), error) {
	rc, err := io_.DownloadByKey(ctx, blobKey)
	if err != nil {
		return "", func() {}, err
	}
	defer rc.Close()
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", func() {}, err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

func decodeJSON(raw datatypes.JSON, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty json blob")
	}
	return json.Unmarshal(raw, out)
}

func phaseTimer(m *observability.Metrics, phase int) func(status string) {
	start := time.Now()
	return func(status string) {
		if m != nil {
			m.ObservePhaseRun(phase, status, time.Since(start))
		}
	}
}
