// Package orchestrator is the request-side coordinator of the pipeline:
// it creates videos, gates and approves checkpoints, forks branches on
// edited continues, dispatches phase jobs, and serves the composite
// status view. It holds no generation logic of its own — phase work
// lives in phaserunners and edit work in editor.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/avarra/reelforge/internal/data/repos"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/pipeline/chunkscheduler"
	"github.com/avarra/reelforge/internal/pipeline/dispatch"
	"github.com/avarra/reelforge/internal/pipeline/editor"
	"github.com/avarra/reelforge/internal/pipeline/phaseio"
	"github.com/avarra/reelforge/internal/pipeline/progresschannel"
	"github.com/avarra/reelforge/internal/platform/apierr"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/platform/modelconfig"
	"github.com/avarra/reelforge/internal/platform/objectio"
	"github.com/avarra/reelforge/internal/services"
)

const terminalPhase = 4

// Service wires the orchestrator's collaborators. Everything is
// constructed once in internal/app and threaded through handlers.
type Service struct {
	log         *logger.Logger
	db          *gorm.DB
	videos      repos.VideoRepo
	checkpoints repos.CheckpointRepo
	artifacts   repos.ArtifactRepo
	jobs        repos.JobRunRepo
	dispatcher  *dispatch.Dispatcher
	progress    progresschannel.Channel
	io          objectio.IO
	models      *modelconfig.Table
	image       services.ImageModel
	scheduler   *chunkscheduler.Scheduler
	editor      *editor.Service
	jobsvc      services.JobService
}

func New(
	log *logger.Logger,
	db *gorm.DB,
	videos repos.VideoRepo,
	checkpoints repos.CheckpointRepo,
	artifacts repos.ArtifactRepo,
	jobs repos.JobRunRepo,
	dispatcher *dispatch.Dispatcher,
	progress progresschannel.Channel,
	io objectio.IO,
	models *modelconfig.Table,
	image services.ImageModel,
	scheduler *chunkscheduler.Scheduler,
	ed *editor.Service,
	jobsvc services.JobService,
) *Service {
	return &Service{
		log:         log.With("service", "Orchestrator"),
		db:          db,
		videos:      videos,
		checkpoints: checkpoints,
		artifacts:   artifacts,
		jobs:        jobs,
		dispatcher:  dispatcher,
		progress:    progress,
		io:          io,
		models:      models,
		image:       image,
		scheduler:   scheduler,
		editor:      ed,
		jobsvc:      jobsvc,
	}
}

// GenerateRequest is the POST /video body.
type GenerateRequest struct {
	Prompt       string   `json:"prompt" binding:"required"`
	Assets       []string `json:"assets,omitempty"`
	AutoContinue bool     `json:"auto_continue,omitempty"`
}

// Generate creates the Video row and enqueues Phase 1 on main. Returns
// immediately; all work happens on the worker pool.
func (s *Service) Generate(ctx context.Context, ownerID uuid.UUID, req GenerateRequest) (uuid.UUID, error) {
	if req.Prompt == "" {
		return uuid.Nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("prompt is required"))
	}

	v := &types.Video{
		ID:           uuid.New(),
		OwnerUserID:  ownerID,
		Prompt:       req.Prompt,
		Status:       types.VideoStatusQueued,
		AutoContinue: req.AutoContinue,
	}
	if len(req.Assets) > 0 {
		raw, err := json.Marshal(req.Assets)
		if err != nil {
			return uuid.Nil, err
		}
		v.Assets = datatypes.JSON(raw)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.videos.Create(dbc, v); err != nil {
			return err
		}
		_, err := s.dispatcher.DispatchPhase(dbc, ownerID, v.ID, 1, uuid.Nil, "main")
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}

	_ = s.progress.SetSnapshot(ctx, v.ID, progresschannel.Snapshot{
		Status:       types.VideoStatusQueued,
		Progress:     0,
		CurrentPhase: 0,
	})
	s.log.Info("video generation queued", "video_id", v.ID, "auto_continue", req.AutoContinue)
	return v.ID, nil
}

// ContinueResult reports what Continue decided: the phase it
// dispatched, the branch it ran on, and whether that branch is new.
type ContinueResult struct {
	NextPhase int    `json:"next_phase"`
	Branch    string `json:"branch"`
	Forked    bool   `json:"forked"`
}

// Continue approves a checkpoint and dispatches the next phase. An
// edited checkpoint (any artifact with version > 1) forks a new branch
// first. The whole decision runs under a per-video advisory lock so two
// racing continues cannot double-dispatch.
func (s *Service) Continue(ctx context.Context, ownerID, videoID, checkpointID uuid.UUID) (*ContinueResult, error) {
	var result ContinueResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		if err := tx.WithContext(ctx).
			Exec("SELECT pg_advisory_xact_lock(hashtext(?))", videoID.String()).Error; err != nil {
			return err
		}

		v, err := s.ownedVideo(dbc, ownerID, videoID)
		if err != nil {
			return err
		}

		cp, err := s.ownedCheckpoint(dbc, v, checkpointID)
		if err != nil {
			return err
		}
		if cp.PhaseNumber >= terminalPhase {
			return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("checkpoint is at the terminal phase"))
		}

		edited, err := s.checkpoints.HasEdits(dbc, cp.ID)
		if err != nil {
			return err
		}
		if cp.Status == types.CheckpointStatusApproved && !edited {
			return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("checkpoint already approved and unedited"))
		}

		branch := cp.BranchName
		if edited {
			branch, err = s.checkpoints.NewBranch(dbc, v.ID, cp.ID)
			if err != nil {
				return err
			}
			result.Forked = true
			if err := s.recordNextBranch(dbc, cp, branch); err != nil {
				return err
			}
		}

		if err := s.checkpoints.Approve(dbc, cp.ID); err != nil {
			return err
		}

		next := cp.PhaseNumber + 1
		if _, err := s.dispatcher.DispatchPhase(dbc, ownerID, v.ID, next, cp.ID, branch); err != nil {
			return err
		}
		if err := s.videos.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status": types.VideoRunningStatus(next),
		}); err != nil {
			return err
		}

		result.NextPhase = next
		result.Branch = branch
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("checkpoint continued", "checkpoint_id", checkpointID, "next_phase", result.NextPhase, "branch", result.Branch, "forked", result.Forked)
	return &result, nil
}

// recordNextBranch writes the fork decision onto the checkpoint's phase
// output so the branch a continue spawned is discoverable from the
// checkpoint itself.
func (s *Service) recordNextBranch(dbc dbctx.Context, cp *types.Checkpoint, branch string) error {
	out := map[string]json.RawMessage{}
	if len(cp.PhaseOutput) > 0 {
		if err := json.Unmarshal(cp.PhaseOutput, &out); err != nil {
			return fmt.Errorf("decode checkpoint output: %w", err)
		}
	}
	raw, _ := json.Marshal(branch)
	out["next_branch"] = raw
	merged, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.checkpoints.UpdateFields(dbc, cp.ID, map[string]interface{}{
		"phase_output": datatypes.JSON(merged),
	})
}

// ownedVideo loads a video and enforces ownership: unknown id is
// not_found, someone else's video is ownership.
func (s *Service) ownedVideo(dbc dbctx.Context, ownerID, videoID uuid.UUID) (*types.Video, error) {
	v, err := s.videos.Get(dbc, videoID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("video %s not found", videoID))
	}
	if v.OwnerUserID != ownerID {
		return nil, apierr.Wrap(apierr.ErrUnauthorized, fmt.Errorf("video %s does not belong to caller", videoID))
	}
	return v, nil
}

func (s *Service) ownedCheckpoint(dbc dbctx.Context, v *types.Video, checkpointID uuid.UUID) (*types.Checkpoint, error) {
	cp, err := s.checkpoints.Get(dbc, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp == nil || cp.VideoID != v.ID {
		return nil, apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("checkpoint %s not found on video %s", checkpointID, v.ID))
	}
	return cp, nil
}

// phaseOutput decodes a checkpoint's output into out, failing as an
// integrity error when the blob doesn't parse.
func phaseOutput(cp *types.Checkpoint, out any) error {
	if len(cp.PhaseOutput) == 0 {
		return apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("checkpoint %s has no phase output", cp.ID))
	}
	if err := json.Unmarshal(cp.PhaseOutput, out); err != nil {
		return apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("decode checkpoint %s output: %w", cp.ID, err))
	}
	return nil
}

// mergeVideoPhaseOutput rewrites one key of the video's phase outputs
// and persists it.
func (s *Service) mergeVideoPhaseOutput(dbc dbctx.Context, v *types.Video, key string, value any, extra map[string]interface{}) error {
	merged, err := phaseio.Merge(v.PhaseOutputs, key, value)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"phase_outputs": merged}
	for k, val := range extra {
		updates[k] = val
	}
	if err := s.videos.UpdateFields(dbc, v.ID, updates); err != nil {
		return err
	}
	v.PhaseOutputs = merged
	return nil
}
