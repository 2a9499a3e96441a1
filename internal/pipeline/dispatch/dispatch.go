// Package dispatch is the single place that knows how to turn "run phase
// N for this video" into a job_run row. Both the Orchestrator and the
// PhaseRunners depend on it so a phase transition is always expressed
// the same way regardless of who triggers it.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/data/repos"
	"github.com/avarra/reelforge/internal/platform/dbctx"
)

// JobType returns the job_run.job_type value used for phase N, 1-4.
func JobType(phase int) string {
	switch phase {
	case 1:
		return "phase_1_plan"
	case 2:
		return "phase_2_storyboard"
	case 3:
		return "phase_3_chunks"
	case 4:
		return "phase_4_refine"
	default:
		return fmt.Sprintf("phase_%d_unknown", phase)
	}
}

// PhasePayload is the canonical job_run.payload shape every PhaseRunner
// reads back out via runtime.Context.Payload().
type PhasePayload struct {
	VideoID            uuid.UUID `json:"video_id"`
	OwnerUserID        uuid.UUID `json:"owner_user_id"`
	ParentCheckpointID uuid.UUID `json:"parent_checkpoint_id,omitempty"`
	Branch             string    `json:"branch"`
}

// DecodePayload decodes a job_run.payload blob back into PhasePayload —
// the one place a PhaseRunner turns raw JSON into typed fields instead of
// walking runtime.Context's generic map.
func DecodePayload(raw []byte) (PhasePayload, error) {
	var p PhasePayload
	if len(raw) == 0 {
		return p, fmt.Errorf("dispatch: empty payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("dispatch: decode payload: %w", err)
	}
	if p.VideoID == uuid.Nil || p.OwnerUserID == uuid.Nil || p.Branch == "" {
		return p, fmt.Errorf("dispatch: payload missing required fields")
	}
	return p, nil
}

// Dispatcher enqueues the next phase's job_run row inside the caller's
// transaction, so a checkpoint approval and its successor dispatch
// commit or roll back together.
type Dispatcher struct {
	jobs repos.JobRunRepo
}

func New(jobs repos.JobRunRepo) *Dispatcher {
	return &Dispatcher{jobs: jobs}
}

// DispatchPhase enqueues phase N for videoID, scoped to branch and the
// (possibly nil) parent checkpoint.
func (d *Dispatcher) DispatchPhase(dbc dbctx.Context, ownerID, videoID uuid.UUID, phase int, parentCheckpointID uuid.UUID, branch string) (*types.JobRun, error) {
	payload := PhasePayload{
		VideoID:            videoID,
		OwnerUserID:        ownerID,
		ParentCheckpointID: parentCheckpointID,
		Branch:             branch,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode payload: %w", err)
	}

	job := &types.JobRun{
		OwnerUserID: ownerID,
		JobType:     JobType(phase),
		EntityType:  "video",
		EntityID:    &videoID,
		Status:      "queued",
		Stage:       "queued",
		Payload:     datatypes.JSON(raw),
	}
	created, err := d.jobs.Create(dbc, []*types.JobRun{job})
	if err != nil {
		return nil, fmt.Errorf("dispatch: create job_run: %w", err)
	}
	return created[0], nil
}
