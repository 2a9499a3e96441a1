package phaserunners

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/jobs/runtime"
	"github.com/avarra/reelforge/internal/pipeline/dispatch"
	"github.com/avarra/reelforge/internal/pipeline/progresschannel"
	"github.com/avarra/reelforge/internal/platform/dbctx"
)

// musicGenres is the keyword list genre inference scans the plan's
// audio description for, in priority order. Unmatched descriptions fall
// through to the catalog's own fallback genre.
var musicGenres = []string{
	"upbeat", "cinematic", "epic", "chill", "lofi", "ambient",
	"electronic", "acoustic", "rock", "jazz", "classical", "pop", "hip hop",
}

// RefineRunner is Phase 4, the terminal phase: attach music to the
// stitched composite (unless the video model already produced native
// audio) and mark the video complete. It always approves its own
// checkpoint.
type RefineRunner struct {
	base
	httpClient *http.Client
}

func NewRefineRunner(deps Deps) *RefineRunner {
	return &RefineRunner{
		base:       newBase(deps, 4, "Phase4Refine"),
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}
}

func (r *RefineRunner) Type() string { return dispatch.JobType(4) }

func (r *RefineRunner) Run(jc *runtime.Context) error {
	done := phaseTimer(r.deps.Metrics, 4)

	input, err := r.loadInput(jc)
	if err != nil {
		jc.Fail("load_input", err)
		done("failed")
		return nil
	}
	v := input.video

	var parentOut types.Phase3Output
	if _, err := r.parentOutput(jc, input.payload.ParentCheckpointID, &parentOut); err != nil {
		r.failPhase(jc, v.ID, "load_parent", err)
		done("failed")
		return nil
	}
	if parentOut.StitchedKey == "" {
		r.failPhase(jc, v.ID, "validate_input", fmt.Errorf("integrity: parent checkpoint has no stitched composite"))
		done("failed")
		return nil
	}

	r.reportProgress(jc, v, 90, "refine", "attaching audio")

	modelCfg, _ := r.deps.Models.VideoModel(parentOut.ModelID)
	nativeAudio := modelCfg.NativeAudio

	workDir, err := os.MkdirTemp("", "refine-*")
	if err != nil {
		r.failPhase(jc, v.ID, "workdir", err)
		done("failed")
		return nil
	}
	defer os.RemoveAll(workDir)

	stitchedPath, cleanupStitched, err := blobToTemp(jc.Ctx, r.deps.IO, parentOut.StitchedKey, "stitched-*.mp4")
	if err != nil {
		r.failPhase(jc, v.ID, "download_composite", err)
		done("failed")
		return nil
	}
	defer cleanupStitched()

	finalPath := stitchedPath
	var musicUpload *uploadRef
	var genre string
	if !nativeAudio {
		genre = inferGenre(parentOut.Spec.Audio)
		trackURL, err := r.deps.Music.FindTrack(jc.Ctx, genre)
		if err != nil {
			r.failPhase(jc, v.ID, "find_music", err)
			done("failed")
			return nil
		}

		musicPath, cleanupMusic, err := fetchToTemp(jc.Ctx, r.httpClient, trackURL, "track-*.mp3")
		if err != nil {
			r.failPhase(jc, v.ID, "download_music", err)
			done("failed")
			return nil
		}
		defer cleanupMusic()

		musicFile, err := os.Open(musicPath)
		if err != nil {
			r.failPhase(jc, v.ID, "open_music", err)
			done("failed")
			return nil
		}
		up, err := r.deps.IO.Upload(jc.Ctx, v.OwnerUserID, v.ID, "background.mp3", musicFile)
		musicFile.Close()
		if err != nil {
			r.failPhase(jc, v.ID, "upload_music", err)
			done("failed")
			return nil
		}
		musicUpload = &uploadRef{URL: up.BlobURL, Key: up.BlobKey, Size: up.Size}

		mixed := filepath.Join(workDir, "final_draft.mp4")
		mixVolume := r.deps.Models.MusicDefaults().MixVolume
		if err := r.deps.Media.MixMusic(jc.Ctx, stitchedPath, musicPath, mixed, mixVolume); err != nil {
			r.failPhase(jc, v.ID, "mix_music", err)
			done("failed")
			return nil
		}
		finalPath = mixed
	}

	finalFile, err := os.Open(finalPath)
	if err != nil {
		r.failPhase(jc, v.ID, "open_final", err)
		done("failed")
		return nil
	}
	finalUpload, err := r.deps.IO.Upload(jc.Ctx, v.OwnerUserID, v.ID, "final_draft.mp4", finalFile)
	finalFile.Close()
	if err != nil {
		r.failPhase(jc, v.ID, "upload_final", err)
		done("failed")
		return nil
	}

	dbc := dbctx.Context{Ctx: jc.Ctx}
	version, err := r.deps.Checkpoints.NextVersion(dbc, v.ID, input.payload.Branch, 4)
	if err != nil {
		r.failPhase(jc, v.ID, "next_version", err)
		done("failed")
		return nil
	}

	now := time.Now()
	elapsed := now.Sub(v.CreatedAt).Seconds()
	parent := input.payload.ParentCheckpointID
	cp := &types.Checkpoint{
		ID:                 uuid.New(),
		VideoID:            v.ID,
		BranchName:         input.payload.Branch,
		PhaseNumber:        4,
		Version:            version,
		ParentCheckpointID: &parent,
		Status:             types.CheckpointStatusPending,
		OwnerUserID:        v.OwnerUserID,
	}
	output := types.Phase4Output{
		CheckpointID:  cp.ID,
		Branch:        input.payload.Branch,
		FinalVideoURL: finalUpload.BlobURL,
		FinalVideoKey: finalUpload.BlobKey,
		NativeAudio:   nativeAudio,
		MusicGenre:    genre,
		TotalCost:     v.Cost,
		ElapsedSecs:   elapsed,
	}
	if musicUpload != nil {
		output.MusicURL = musicUpload.URL
		output.MusicKey = musicUpload.Key
	}
	outRaw, err := json.Marshal(output)
	if err != nil {
		r.failPhase(jc, v.ID, "encode_output", err)
		done("failed")
		return nil
	}
	cp.PhaseOutput = datatypes.JSON(outRaw)

	artifacts := []*types.Artifact{{
		Type:    types.ArtifactTypeFinalVideo,
		Key:     "final",
		BlobURL: finalUpload.BlobURL,
		BlobKey: finalUpload.BlobKey,
		Version: 1,
		Size:    finalUpload.Size,
	}}
	if musicUpload != nil {
		meta, _ := json.Marshal(map[string]any{"genre": genre})
		artifacts = append(artifacts, &types.Artifact{
			Type:     types.ArtifactTypeMusic,
			Key:      "music",
			BlobURL:  musicUpload.URL,
			BlobKey:  musicUpload.Key,
			Version:  1,
			Size:     musicUpload.Size,
			Metadata: datatypes.JSON(meta),
		})
	}

	videoUpdates := map[string]interface{}{
		"final_video_url": finalUpload.BlobURL,
		"progress":        100,
		"status":          types.VideoStatusComplete,
		"completed_at":    now,
	}
	if musicUpload != nil {
		videoUpdates["final_music_url"] = musicUpload.URL
	}

	if _, err := r.finishPhase(jc, finishSpec{
		input:        input,
		checkpoint:   cp,
		artifacts:    artifacts,
		outputKey:    types.PhaseOutputRefine,
		output:       output,
		videoUpdates: videoUpdates,
		pausedPct:    100,
	}); err != nil {
		r.failPhase(jc, v.ID, "persist", err)
		done("failed")
		return nil
	}

	_ = r.deps.Progress.SetSnapshot(jc.Ctx, v.ID, progresschannel.Snapshot{
		Status:        types.VideoStatusComplete,
		Progress:      100,
		CurrentPhase:  4,
		TotalCost:     v.Cost,
		FinalVideoURL: finalUpload.BlobURL,
	})

	done("succeeded")
	jc.Succeed("refine", map[string]any{
		"checkpoint_id":   cp.ID,
		"final_video_url": finalUpload.BlobURL,
		"elapsed_secs":    elapsed,
	})
	return nil
}

type uploadRef struct {
	URL  string
	Key  string
	Size int64
}

// inferGenre maps the plan's free-text audio description onto a catalog
// genre keyword. Empty means "no match": the catalog then applies its
// own fallback genre.
func inferGenre(audio string) string {
	audio = strings.ToLower(audio)
	for _, g := range musicGenres {
		if strings.Contains(audio, g) {
			return g
		}
	}
	return ""
}
