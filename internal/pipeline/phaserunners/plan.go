package phaserunners

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/jobs/runtime"
	"github.com/avarra/reelforge/internal/pipeline/dispatch"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/envutil"
)

const beatDurationTolerance = 0.01

// planSchema is the structured-output contract handed to the LLM: a
// storyboard plan of beats plus the rendering parameters every later
// phase reads.
var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"beats": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":              map[string]any{"type": "string"},
					"start":           map[string]any{"type": "number"},
					"duration":        map[string]any{"type": "number"},
					"prompt_template": map[string]any{"type": "string"},
					"shot_type":       map[string]any{"type": "string"},
				},
				"required":             []string{"id", "start", "duration", "prompt_template", "shot_type"},
				"additionalProperties": false,
			},
		},
		"style":    map[string]any{"type": "string"},
		"product":  map[string]any{"type": "string"},
		"audio":    map[string]any{"type": "string"},
		"duration": map[string]any{"type": "number"},
	},
	"required":             []string{"beats", "style", "product", "audio", "duration"},
	"additionalProperties": false,
}

const planSystemPrompt = `You are a video creative director. Plan a short product video as a sequence of narrative beats.
Rules:
- Beats are contiguous: each beat's start equals the previous beat's start + duration, beginning at 0.
- Beat durations must sum exactly to the total duration.
- prompt_template describes the visual content of the beat for an image generator; keep it concrete and camera-ready.
- shot_type is one of: wide, medium, close_up, macro, tracking, overhead.
- audio describes the desired music mood in a few words.`

// PlanRunner is Phase 1: prompt in, storyboard plan out, first
// checkpoint on the branch.
type PlanRunner struct {
	base
}

func NewPlanRunner(deps Deps) *PlanRunner {
	return &PlanRunner{base: newBase(deps, 1, "Phase1Plan")}
}

func (r *PlanRunner) Type() string { return dispatch.JobType(1) }

func (r *PlanRunner) Run(jc *runtime.Context) error {
	done := phaseTimer(r.deps.Metrics, 1)

	input, err := r.loadInput(jc)
	if err != nil {
		jc.Fail("load_input", err)
		done("failed")
		return nil
	}
	v := input.video
	r.reportProgress(jc, v, 5, "plan", "planning storyboard")

	plan, err := r.generatePlan(jc, v.Prompt, v.Assets)
	if err != nil {
		r.failPhase(jc, v.ID, "generate_plan", err)
		done("failed")
		return nil
	}
	if err := validatePlan(plan); err != nil {
		r.failPhase(jc, v.ID, "validate_plan", err)
		done("failed")
		return nil
	}

	specJSON, err := json.Marshal(plan)
	if err != nil {
		r.failPhase(jc, v.ID, "encode_spec", err)
		done("failed")
		return nil
	}
	upload, err := r.deps.IO.Upload(jc.Ctx, v.OwnerUserID, v.ID, "spec.json", bytes.NewReader(specJSON))
	if err != nil {
		r.failPhase(jc, v.ID, "upload_spec", err)
		done("failed")
		return nil
	}

	dbc := dbctx.Context{Ctx: jc.Ctx}
	version, err := r.deps.Checkpoints.NextVersion(dbc, v.ID, input.payload.Branch, 1)
	if err != nil {
		r.failPhase(jc, v.ID, "next_version", err)
		done("failed")
		return nil
	}

	cp := &types.Checkpoint{
		ID:          uuid.New(),
		VideoID:     v.ID,
		BranchName:  input.payload.Branch,
		PhaseNumber: 1,
		Version:     version,
		Status:      types.CheckpointStatusPending,
		OwnerUserID: v.OwnerUserID,
	}
	if input.payload.ParentCheckpointID != uuid.Nil {
		parent := input.payload.ParentCheckpointID
		cp.ParentCheckpointID = &parent
	}

	output := types.Phase1Output{CheckpointID: cp.ID, Branch: input.payload.Branch, Spec: *plan}
	outRaw, err := json.Marshal(output)
	if err != nil {
		r.failPhase(jc, v.ID, "encode_output", err)
		done("failed")
		return nil
	}
	cp.PhaseOutput = datatypes.JSON(outRaw)

	res, err := r.finishPhase(jc, finishSpec{
		input:      input,
		checkpoint: cp,
		artifacts: []*types.Artifact{{
			Type:     types.ArtifactTypeSpec,
			Key:      "spec",
			BlobURL:  upload.BlobURL,
			BlobKey:  upload.BlobKey,
			Version:  1,
			Size:     upload.Size,
			Metadata: datatypes.JSON([]byte(fmt.Sprintf(`{"beat_count": %d}`, len(plan.Beats)))),
		}},
		outputKey: types.PhaseOutputPlan,
		output:    output,
		videoUpdates: map[string]interface{}{
			"spec":     datatypes.JSON(specJSON),
			"progress": 25,
		},
		pausedPct: 25,
	})
	if err != nil {
		r.failPhase(jc, v.ID, "persist", err)
		done("failed")
		return nil
	}

	done("succeeded")
	jc.Succeed("plan", map[string]any{
		"checkpoint_id":  cp.ID,
		"branch":         cp.BranchName,
		"beat_count":     len(plan.Beats),
		"auto_continued": res.dispatched,
	})
	return nil
}

func (r *PlanRunner) generatePlan(jc *runtime.Context, prompt string, assets datatypes.JSON) (*types.PlanSpec, error) {
	targetDuration := envutil.GetEnvAsFloat("DEFAULT_VIDEO_DURATION_SECONDS", 30, r.log)

	var userMsg strings.Builder
	fmt.Fprintf(&userMsg, "Product video request: %s\n", prompt)
	fmt.Fprintf(&userMsg, "Total duration: %.0f seconds.\n", targetDuration)
	if len(assets) > 0 && string(assets) != "null" {
		fmt.Fprintf(&userMsg, "Reference assets (use for product appearance): %s\n", string(assets))
	}

	raw, err := r.deps.LLM.GenerateJSON(jc.Ctx, planSystemPrompt, userMsg.String(), "video_plan", planSchema)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var plan types.PlanSpec
	if err := json.Unmarshal(encoded, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	if plan.Model == "" {
		plan.Model = envutil.GetEnv("DEFAULT_VIDEO_MODEL", "veo_fast", r.log)
	}
	if plan.FPS <= 0 {
		plan.FPS = 24
	}
	if plan.Duration <= 0 {
		plan.Duration = targetDuration
	}
	return &plan, nil
}

// validatePlan enforces the Phase-1 invariants: a non-empty beat list,
// positive beat durations, contiguous starts, and durations summing to
// the total. The model id is not checked here; Phase 3 rejects an
// unknown one.
func validatePlan(plan *types.PlanSpec) error {
	if len(plan.Beats) == 0 {
		return fmt.Errorf("integrity: spec with zero beats")
	}
	var sum float64
	expectedStart := 0.0
	for i := range plan.Beats {
		b := &plan.Beats[i]
		if b.Duration <= 0 {
			return fmt.Errorf("validation: beat %d has non-positive duration %.3f", i, b.Duration)
		}
		if math.Abs(b.Start-expectedStart) > beatDurationTolerance {
			b.Start = expectedStart
		}
		expectedStart += b.Duration
		sum += b.Duration
	}
	if math.Abs(sum-plan.Duration) > beatDurationTolerance {
		return fmt.Errorf("validation: beat durations sum to %.3f, want %.3f", sum, plan.Duration)
	}
	return nil
}
