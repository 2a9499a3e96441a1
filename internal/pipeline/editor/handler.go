package editor

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/avarra/reelforge/internal/data/repos"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/jobs/runtime"
	"github.com/avarra/reelforge/internal/pipeline/progresschannel"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/logger"
)

// JobType is the job_run.job_type for editor requests. Edits run on the
// worker pool like phases do — re-stitching is far too slow for a
// request handler — but they never create checkpoints.
const JobType = "phase_6_edit"

// Payload is the edit job's input, written by Orchestrator.Edit.
type Payload struct {
	VideoID         uuid.UUID `json:"video_id"`
	OwnerUserID     uuid.UUID `json:"owner_user_id"`
	Actions         []Action  `json:"actions"`
	EditDescription string    `json:"edit_description,omitempty"`
}

// Handler adapts Service to the job runtime.
type Handler struct {
	log      *logger.Logger
	svc      *Service
	videos   repos.VideoRepo
	progress progresschannel.Channel
}

func NewHandler(log *logger.Logger, svc *Service, videos repos.VideoRepo, progress progresschannel.Channel) *Handler {
	return &Handler{log: log.With("job", "Phase6Edit"), svc: svc, videos: videos, progress: progress}
}

func (h *Handler) Type() string { return JobType }

func (h *Handler) Run(jc *runtime.Context) error {
	var payload Payload
	if err := json.Unmarshal(jc.Job.Payload, &payload); err != nil {
		jc.Fail("load_input", fmt.Errorf("decode edit payload: %w", err))
		return nil
	}
	if payload.VideoID == uuid.Nil || payload.OwnerUserID == uuid.Nil || len(payload.Actions) == 0 {
		jc.Fail("load_input", fmt.Errorf("edit payload missing required fields"))
		return nil
	}

	dbc := dbctx.Context{Ctx: jc.Ctx}
	v, err := h.videos.GetForOwner(dbc, payload.VideoID, payload.OwnerUserID)
	if err != nil {
		jc.Fail("load_video", err)
		return nil
	}
	if v == nil {
		jc.Fail("load_video", fmt.Errorf("video %s not found for owner %s", payload.VideoID, payload.OwnerUserID))
		return nil
	}

	priorStatus := v.Status
	_ = h.videos.UpdateFields(dbc, v.ID, map[string]interface{}{"status": types.VideoStatusEditing})
	_ = h.progress.SetSnapshot(jc.Ctx, v.ID, progresschannel.Snapshot{
		Status:       types.VideoStatusEditing,
		Progress:     v.Progress,
		CurrentPhase: v.CurrentPhase,
		TotalCost:    v.Cost,
	})
	jc.Progress("edit", v.Progress, fmt.Sprintf("applying %d edit actions", len(payload.Actions)))

	result, err := h.svc.Apply(jc.Ctx, v, payload.Actions, payload.EditDescription)
	if err != nil {
		// Abort the whole request: restore the pre-edit status and
		// surface the error. Blobs uploaded by earlier actions remain
		// as garbage.
		h.log.Warn("edit request failed", "video_id", v.ID, "error", err)
		_ = h.videos.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status":        priorStatus,
			"error_message": err.Error(),
		})
		_ = h.progress.SetSnapshot(jc.Ctx, v.ID, progresschannel.Snapshot{
			Status:       priorStatus,
			Progress:     v.Progress,
			CurrentPhase: v.CurrentPhase,
			Error:        err.Error(),
			TotalCost:    v.Cost,
		})
		jc.Fail("apply", err)
		return nil
	}

	resRaw, _ := json.Marshal(result)
	jc.Succeed("edit", datatypes.JSON(resRaw))
	return nil
}
