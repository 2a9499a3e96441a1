package phaserunners

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/jobs/runtime"
	"github.com/avarra/reelforge/internal/pipeline/dispatch"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/imaging"
)

// StoryboardRunner is Phase 2: render one frame per beat with the image
// model and fold the image references back into the spec so Phase 3 can
// condition anchor chunks on them.
type StoryboardRunner struct {
	base
	httpClient *http.Client
}

func NewStoryboardRunner(deps Deps) *StoryboardRunner {
	return &StoryboardRunner{
		base:       newBase(deps, 2, "Phase2Storyboard"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *StoryboardRunner) Type() string { return dispatch.JobType(2) }

func (r *StoryboardRunner) Run(jc *runtime.Context) error {
	done := phaseTimer(r.deps.Metrics, 2)

	input, err := r.loadInput(jc)
	if err != nil {
		jc.Fail("load_input", err)
		done("failed")
		return nil
	}
	v := input.video

	var parentOut types.Phase1Output
	if _, err := r.parentOutput(jc, input.payload.ParentCheckpointID, &parentOut); err != nil {
		r.failPhase(jc, v.ID, "load_parent", err)
		done("failed")
		return nil
	}
	spec := parentOut.Spec
	if len(spec.Beats) == 0 {
		r.failPhase(jc, v.ID, "validate_input", fmt.Errorf("integrity: spec with zero beats"))
		done("failed")
		return nil
	}

	r.reportProgress(jc, v, 25, "storyboard", "rendering storyboard frames")

	imgCfg, _ := r.deps.Models.ImageModel("")
	maxW, maxH := 0, 0
	if videoCfg, ok := r.deps.Models.VideoModel(spec.Model); ok {
		maxW, maxH = parseSize(videoCfg.DefaultSize)
	}

	// Beats render sequentially; image-gen latency dominates and a
	// partial failure has to fail the whole phase anyway.
	var cost float64
	storyboardURLs := make([]string, 0, len(spec.Beats))
	artifacts := make([]*types.Artifact, 0, len(spec.Beats))
	for i := range spec.Beats {
		beat := &spec.Beats[i]
		prompt := buildBeatPrompt(*beat, spec)

		hostedURL, err := r.deps.Image.Generate(jc.Ctx, prompt, imgCfg.AspectRatio, imgCfg.OutputFormat, imgCfg.Quality)
		if err != nil {
			r.failPhase(jc, v.ID, "generate_beat_image", fmt.Errorf("beat %d: %w", i, err))
			done("failed")
			return nil
		}

		normalized, err := r.fetchAndNormalize(jc, hostedURL, maxW, maxH)
		if err != nil {
			r.failPhase(jc, v.ID, "fetch_beat_image", fmt.Errorf("beat %d: %w", i, err))
			done("failed")
			return nil
		}

		name := fmt.Sprintf("beat_%02d.png", i)
		upload, err := r.deps.IO.Upload(jc.Ctx, v.OwnerUserID, v.ID, name, bytes.NewReader(normalized))
		if err != nil {
			r.failPhase(jc, v.ID, "upload_beat_image", fmt.Errorf("beat %d: %w", i, err))
			done("failed")
			return nil
		}

		beat.ImageURL = upload.BlobURL
		storyboardURLs = append(storyboardURLs, upload.BlobURL)
		cost += imgCfg.CostPerImage

		meta, _ := json.Marshal(map[string]any{"beat_index": i, "prompt": prompt, "blob_key": upload.BlobKey})
		artifacts = append(artifacts, &types.Artifact{
			Type:     types.ArtifactTypeBeatImage,
			Key:      fmt.Sprintf("beat_%d", i),
			BlobURL:  upload.BlobURL,
			BlobKey:  upload.BlobKey,
			Version:  1,
			Size:     upload.Size,
			Metadata: datatypes.JSON(meta),
		})

		pct := 25 + (15*(i+1))/len(spec.Beats)
		r.reportProgress(jc, v, pct, "storyboard", fmt.Sprintf("beat %d/%d rendered", i+1, len(spec.Beats)))
	}

	for i, beat := range spec.Beats {
		if beat.ImageURL == "" {
			r.failPhase(jc, v.ID, "validate_output", fmt.Errorf("integrity: beat %d has no image_url", i))
			done("failed")
			return nil
		}
	}

	dbc := dbctx.Context{Ctx: jc.Ctx}
	version, err := r.deps.Checkpoints.NextVersion(dbc, v.ID, input.payload.Branch, 2)
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
		PhaseNumber:        2,
		Version:            version,
		ParentCheckpointID: &parent,
		Status:             types.CheckpointStatusPending,
		OwnerUserID:        v.OwnerUserID,
		Cost:               cost,
	}
	output := types.Phase2Output{
		CheckpointID:   cp.ID,
		Branch:         input.payload.Branch,
		Spec:           spec,
		StoryboardURLs: storyboardURLs,
		Cost:           cost,
	}
	outRaw, err := json.Marshal(output)
	if err != nil {
		r.failPhase(jc, v.ID, "encode_output", err)
		done("failed")
		return nil
	}
	cp.PhaseOutput = datatypes.JSON(outRaw)

	specJSON, _ := json.Marshal(spec)
	res, err := r.finishPhase(jc, finishSpec{
		input:      input,
		checkpoint: cp,
		artifacts:  artifacts,
		outputKey:  types.PhaseOutputStoryboard,
		output:     output,
		videoUpdates: map[string]interface{}{
			"spec":     datatypes.JSON(specJSON),
			"cost":     v.Cost + cost,
			"progress": 40,
		},
		pausedPct: 40,
	})
	if err != nil {
		r.failPhase(jc, v.ID, "persist", err)
		done("failed")
		return nil
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.AddCost("2", "image", cost)
	}

	done("succeeded")
	jc.Succeed("storyboard", map[string]any{
		"checkpoint_id":  cp.ID,
		"beat_count":     len(spec.Beats),
		"auto_continued": res.dispatched,
	})
	return nil
}

func (r *StoryboardRunner) fetchAndNormalize(jc *runtime.Context, url string, maxW, maxH int) ([]byte, error) {
	path, cleanup, err := fetchToTemp(jc.Ctx, r.httpClient, url, "beat-*.png")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return imaging.NormalizePNG(f, maxW, maxH)
}

// buildBeatPrompt concatenates the beat template with the plan's shared
// style/product context and the beat's shot type.
func buildBeatPrompt(beat types.Beat, spec types.PlanSpec) string {
	parts := make([]string, 0, 4)
	if s := strings.TrimSpace(beat.PromptTemplate); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(spec.Style); s != "" {
		parts = append(parts, "Style: "+s)
	}
	if s := strings.TrimSpace(spec.Product); s != "" {
		parts = append(parts, "Product: "+s)
	}
	if s := strings.TrimSpace(beat.ShotType); s != "" {
		parts = append(parts, "Shot: "+s)
	}
	return strings.Join(parts, ". ")
}

// parseSize splits a "1280x720"-style size string; (0, 0) means "no
// bound" for the image normaliser.
func parseSize(size string) (int, int) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(size)), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0
	}
	return w, h
}
