package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/pipeline/editor"
	"github.com/avarra/reelforge/internal/pipeline/phaseio"
	"github.com/avarra/reelforge/internal/pipeline/progresschannel"
	"github.com/avarra/reelforge/internal/platform/apierr"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/imaging"
)

// phaseForArtifactType is the edit-gating table: an artifact kind may
// only be edited on a checkpoint of its producing phase.
var phaseForArtifactType = map[string]int{
	types.ArtifactTypeSpec:       1,
	types.ArtifactTypeBeatImage:  2,
	types.ArtifactTypeVideoChunk: 3,
}

// ArtifactEditResult is the uniform response of the checkpoint-scoped
// edit endpoints: the new artifact row's id, its version, and the blob.
type ArtifactEditResult struct {
	ArtifactID uuid.UUID `json:"artifact_id"`
	Version    int       `json:"version"`
	BlobURL    string    `json:"blob_url"`
}

// gateEdit enforces ownership plus the phase/kind match, returning the
// video and checkpoint on success.
func (s *Service) gateEdit(dbc dbctx.Context, ownerID, videoID, checkpointID uuid.UUID, artifactType string) (*types.Video, *types.Checkpoint, error) {
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, nil, err
	}
	cp, err := s.ownedCheckpoint(dbc, v, checkpointID)
	if err != nil {
		return nil, nil, err
	}
	wantPhase := phaseForArtifactType[artifactType]
	if cp.PhaseNumber != wantPhase {
		return nil, nil, apierr.Wrap(apierr.ErrInvalidArgument,
			fmt.Errorf("%s edits require a phase-%d checkpoint, got phase %d", artifactType, wantPhase, cp.PhaseNumber))
	}
	return v, cp, nil
}

// nextArtifactVersion inserts the version=latest+1 row for the key,
// linking it to its predecessor. Edits never spawn checkpoints; the
// version bump is what marks the checkpoint as edited.
func (s *Service) nextArtifactVersion(dbc dbctx.Context, cp *types.Checkpoint, artifactType, key, blobURL, blobKey string, size int64, meta map[string]any) (*types.Artifact, error) {
	latest, err := s.artifacts.LatestVersion(dbc, cp.ID, artifactType, key)
	if err != nil {
		return nil, err
	}
	version := 1
	var parentID *uuid.UUID
	if latest != nil {
		version = latest.Version + 1
		parentID = &latest.ID
	}
	var metaJSON datatypes.JSON
	if meta != nil {
		raw, _ := json.Marshal(meta)
		metaJSON = datatypes.JSON(raw)
	}
	a := &types.Artifact{
		ID:               uuid.New(),
		CheckpointID:     cp.ID,
		Type:             artifactType,
		Key:              key,
		BlobURL:          blobURL,
		BlobKey:          blobKey,
		Version:          version,
		ParentArtifactID: parentID,
		Size:             size,
		Metadata:         metaJSON,
	}
	if err := s.artifacts.Create(dbc, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SpecPatch is the PATCH .../spec body: any subset of the mutable plan
// fields.
type SpecPatch struct {
	Style   *string      `json:"style,omitempty"`
	Audio   *string      `json:"audio,omitempty"`
	Product *string      `json:"product,omitempty"`
	Beats   []types.Beat `json:"beats,omitempty"`
}

// PatchSpec applies a partial update to a Phase-1 checkpoint's spec,
// storing the result as the next spec artifact version.
func (s *Service) PatchSpec(ctx context.Context, ownerID, videoID, checkpointID uuid.UUID, patch SpecPatch) (*ArtifactEditResult, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, cp, err := s.gateEdit(dbc, ownerID, videoID, checkpointID, types.ArtifactTypeSpec)
	if err != nil {
		return nil, err
	}

	var out types.Phase1Output
	if err := phaseOutput(cp, &out); err != nil {
		return nil, err
	}
	spec := out.Spec
	if patch.Style != nil {
		spec.Style = *patch.Style
	}
	if patch.Audio != nil {
		spec.Audio = *patch.Audio
	}
	if patch.Product != nil {
		spec.Product = *patch.Product
	}
	if len(patch.Beats) > 0 {
		spec.Beats = patch.Beats
		var total float64
		for _, b := range patch.Beats {
			total += b.Duration
		}
		spec.Duration = total
	}
	if len(spec.Beats) == 0 {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("patched spec has zero beats"))
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}

	latest, err := s.artifacts.LatestVersion(dbc, cp.ID, types.ArtifactTypeSpec, "spec")
	if err != nil {
		return nil, err
	}
	nextVersion := 1
	if latest != nil {
		nextVersion = latest.Version + 1
	}
	upload, err := s.io.Upload(ctx, ownerID, v.ID, fmt.Sprintf("spec_v%02d.json", nextVersion), bytes.NewReader(specJSON))
	if err != nil {
		return nil, err
	}

	a, err := s.nextArtifactVersion(dbc, cp, types.ArtifactTypeSpec, "spec", upload.BlobURL, upload.BlobKey, upload.Size, map[string]any{"beat_count": len(spec.Beats)})
	if err != nil {
		return nil, err
	}

	out.Spec = spec
	outRaw, _ := json.Marshal(out)
	if err := s.checkpoints.UpdateFields(dbc, cp.ID, map[string]interface{}{
		"phase_output":     datatypes.JSON(outRaw),
		"edit_description": "spec edited",
	}); err != nil {
		return nil, err
	}
	if err := s.mergeVideoPhaseOutput(dbc, v, types.PhaseOutputPlan, out, map[string]interface{}{
		"spec": datatypes.JSON(specJSON),
	}); err != nil {
		return nil, err
	}

	return &ArtifactEditResult{ArtifactID: a.ID, Version: a.Version, BlobURL: a.BlobURL}, nil
}

// UploadImage replaces one beat's storyboard frame with a user-supplied
// image on a Phase-2 checkpoint.
func (s *Service) UploadImage(ctx context.Context, ownerID, videoID, checkpointID uuid.UUID, beatIndex int, img io.Reader) (*ArtifactEditResult, error) {
	return s.replaceBeatImage(ctx, ownerID, videoID, checkpointID, beatIndex, func(ctx context.Context, _ types.Beat, _ types.PlanSpec) ([]byte, error) {
		maxW, maxH := 0, 0
		normalized, err := imaging.NormalizePNG(img, maxW, maxH)
		if err != nil {
			return nil, apierr.Wrap(apierr.ErrInvalidArgument, err)
		}
		return normalized, nil
	}, "image uploaded")
}

// RegenerateBeat re-renders one beat's storyboard frame with the image
// model, optionally under an overridden prompt.
func (s *Service) RegenerateBeat(ctx context.Context, ownerID, videoID, checkpointID uuid.UUID, beatIndex int, promptOverride string) (*ArtifactEditResult, error) {
	return s.replaceBeatImage(ctx, ownerID, videoID, checkpointID, beatIndex, func(ctx context.Context, beat types.Beat, spec types.PlanSpec) ([]byte, error) {
		prompt := promptOverride
		if prompt == "" {
			prompt = beat.PromptTemplate
		}
		imgCfg, _ := s.models.ImageModel("")
		hostedURL, err := s.image.Generate(ctx, prompt, imgCfg.AspectRatio, imgCfg.OutputFormat, imgCfg.Quality)
		if err != nil {
			return nil, apierr.Wrap(apierr.ErrExternal, err)
		}
		return s.fetchImage(ctx, hostedURL)
	}, "beat regenerated")
}

func (s *Service) replaceBeatImage(ctx context.Context, ownerID, videoID, checkpointID uuid.UUID, beatIndex int, produce func(context.Context, types.Beat, types.PlanSpec) ([]byte, error), description string) (*ArtifactEditResult, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, cp, err := s.gateEdit(dbc, ownerID, videoID, checkpointID, types.ArtifactTypeBeatImage)
	if err != nil {
		return nil, err
	}

	var out types.Phase2Output
	if err := phaseOutput(cp, &out); err != nil {
		return nil, err
	}
	if beatIndex < 0 || beatIndex >= len(out.Spec.Beats) {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("beat index %d out of range", beatIndex))
	}

	imgBytes, err := produce(ctx, out.Spec.Beats[beatIndex], out.Spec)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("beat_%d", beatIndex)
	latest, err := s.artifacts.LatestVersion(dbc, cp.ID, types.ArtifactTypeBeatImage, key)
	if err != nil {
		return nil, err
	}
	nextVersion := 1
	if latest != nil {
		nextVersion = latest.Version + 1
	}
	name := fmt.Sprintf("beat_%02d_v%02d.png", beatIndex, nextVersion)
	upload, err := s.io.Upload(ctx, ownerID, v.ID, name, bytes.NewReader(imgBytes))
	if err != nil {
		return nil, err
	}

	a, err := s.nextArtifactVersion(dbc, cp, types.ArtifactTypeBeatImage, key, upload.BlobURL, upload.BlobKey, upload.Size, map[string]any{"beat_index": beatIndex})
	if err != nil {
		return nil, err
	}

	out.Spec.Beats[beatIndex].ImageURL = upload.BlobURL
	if beatIndex < len(out.StoryboardURLs) {
		out.StoryboardURLs[beatIndex] = upload.BlobURL
	}
	outRaw, _ := json.Marshal(out)
	if err := s.checkpoints.UpdateFields(dbc, cp.ID, map[string]interface{}{
		"phase_output":     datatypes.JSON(outRaw),
		"edit_description": description,
	}); err != nil {
		return nil, err
	}
	specJSON, _ := json.Marshal(out.Spec)
	if err := s.mergeVideoPhaseOutput(dbc, v, types.PhaseOutputStoryboard, out, map[string]interface{}{
		"spec": datatypes.JSON(specJSON),
	}); err != nil {
		return nil, err
	}

	return &ArtifactEditResult{ArtifactID: a.ID, Version: a.Version, BlobURL: a.BlobURL}, nil
}

func (s *Service) fetchImage(ctx context.Context, url string) ([]byte, error) {
	raw, err := s.scheduler.FetchURL(ctx, url)
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrExternal, err)
	}
	return imaging.NormalizePNG(bytes.NewReader(raw), 0, 0)
}

// RegenerateChunk regenerates a single chunk on a Phase-3 checkpoint
// without re-stitching; the /edit endpoint owns re-stitching.
func (s *Service) RegenerateChunk(ctx context.Context, ownerID, videoID, checkpointID uuid.UUID, chunkIndex int, modelOverride string) (*ArtifactEditResult, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, cp, err := s.gateEdit(dbc, ownerID, videoID, checkpointID, types.ArtifactTypeVideoChunk)
	if err != nil {
		return nil, err
	}

	var out types.Phase3Output
	if err := phaseOutput(cp, &out); err != nil {
		return nil, err
	}
	if chunkIndex < 0 || chunkIndex >= len(out.Chunks) {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("chunk index %d out of range", chunkIndex))
	}
	current := out.Chunks[chunkIndex]

	modelID := modelOverride
	if modelID == "" {
		modelID = out.ModelID
	}
	cfg, ok := s.models.VideoModel(modelID)
	if !ok {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("unknown model %q", modelID))
	}

	if current.BeatIndex < 0 || current.BeatIndex >= len(out.Spec.Beats) {
		return nil, apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("chunk %d references missing beat %d", chunkIndex, current.BeatIndex))
	}
	beat := out.Spec.Beats[current.BeatIndex]

	var initImage string
	if current.Anchor {
		anchorBeat := current.BeatIndex
		if b, ok := out.BeatMap[current.Index]; ok && b >= 0 && b < len(out.Spec.Beats) {
			anchorBeat = b
		}
		initImage = out.Spec.Beats[anchorBeat].ImageURL
	} else if chunkIndex > 0 {
		initImage = out.Chunks[chunkIndex-1].LastFrameURL
	}
	if initImage == "" {
		return nil, apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("chunk %d has no init image available", chunkIndex))
	}

	spec := types.ChunkSpec{
		Index:     current.Index,
		Duration:  cfg.ActualOutputSeconds,
		BeatIndex: current.BeatIndex,
		Prompt:    beat.PromptTemplate,
		ModelID:   modelID,
		FPS:       out.Spec.FPS,
	}
	res, err := s.scheduler.GenerateChunk(ctx, ownerID, v.ID, spec, initImage)
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrExternal, err)
	}

	key := fmt.Sprintf("chunk_%d", chunkIndex)
	a, err := s.nextArtifactVersion(dbc, cp, types.ArtifactTypeVideoChunk, key, res.ChunkBlobURL, res.ChunkBlobKey, 0, map[string]any{
		"chunk_index":    chunkIndex,
		"model_id":       modelID,
		"last_frame_url": res.LastFrameURL,
		"last_frame_key": res.LastFrameKey,
		"source":         "regenerate_chunk",
	})
	if err != nil {
		return nil, err
	}

	updated := current
	updated.URL = res.ChunkBlobURL
	updated.Key = res.ChunkBlobKey
	updated.LastFrameURL = res.LastFrameURL
	updated.LastFrameKey = res.LastFrameKey
	updated.Duration = cfg.ActualOutputSeconds
	out.Chunks[chunkIndex] = updated

	outRaw, _ := json.Marshal(out)
	if err := s.checkpoints.UpdateFields(dbc, cp.ID, map[string]interface{}{
		"phase_output":     datatypes.JSON(outRaw),
		"edit_description": "chunk regenerated",
		"cost":             cp.Cost + res.Cost,
	}); err != nil {
		return nil, err
	}

	chunkURLs := make([]string, len(out.Chunks))
	for i, c := range out.Chunks {
		chunkURLs[i] = c.URL
	}
	chunkURLsJSON, _ := json.Marshal(chunkURLs)
	if err := s.mergeVideoPhaseOutput(dbc, v, types.PhaseOutputChunks, out, map[string]interface{}{
		"chunk_urls": datatypes.JSON(chunkURLsJSON),
		"cost":       v.Cost + res.Cost,
	}); err != nil {
		return nil, err
	}

	return &ArtifactEditResult{ArtifactID: a.ID, Version: a.Version, BlobURL: a.BlobURL}, nil
}

// EditRequest is the POST /video/{id}/edit body.
type EditRequest struct {
	Actions          []editor.Action `json:"actions" binding:"required"`
	EstimateCostOnly bool            `json:"estimate_cost_only,omitempty"`
	Description      string          `json:"description,omitempty"`
}

// EditingResponse reports either a cost estimate or the enqueued edit
// job.
type EditingResponse struct {
	Estimate *editor.CostEstimate `json:"estimate,omitempty"`
	JobID    *uuid.UUID           `json:"job_id,omitempty"`
	Status   string               `json:"status"`
}

// Edit validates and enqueues an edit request. Edits are rejected while
// a phase task is in flight — the single-writer-per-video invariant.
func (s *Service) Edit(ctx context.Context, ownerID, videoID uuid.UUID, req EditRequest) (*EditingResponse, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	if len(req.Actions) == 0 {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("edit request with no actions"))
	}

	if req.EstimateCostOnly {
		indices, modelID := replaceTargets(req.Actions)
		est, err := s.editor.Estimate(v, indices, modelID)
		if err != nil {
			return nil, err
		}
		return &EditingResponse{Estimate: &est, Status: "estimated"}, nil
	}

	if isBusy(v.Status) {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("video is %s; edits are only allowed while paused", v.Status))
	}
	if _, err := editorLoadCheck(v); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"video_id":         v.ID.String(),
		"owner_user_id":    ownerID.String(),
		"actions":          req.Actions,
		"edit_description": req.Description,
	}

	var jobID uuid.UUID
	err = s.db.Transaction(func(tx *gorm.DB) error {
		job, err := s.jobsvc.Enqueue(ctx, tx, ownerID, editor.JobType, "video", &v.ID, payload)
		if err != nil {
			return err
		}
		jobID = job.ID
		return s.videos.UpdateFields(dbctx.Context{Ctx: ctx, Tx: tx}, v.ID, map[string]interface{}{
			"status": types.VideoStatusEditing,
		})
	})
	if err != nil {
		return nil, err
	}

	_ = s.progress.SetSnapshot(ctx, v.ID, progresschannel.Snapshot{
		Status:       types.VideoStatusEditing,
		Progress:     v.Progress,
		CurrentPhase: v.CurrentPhase,
		TotalCost:    v.Cost,
	})
	return &EditingResponse{JobID: &jobID, Status: types.VideoStatusEditing}, nil
}

// replaceTargets collects the replace indices (and the first model
// override) out of an action list for cost estimation.
func replaceTargets(actions []editor.Action) ([]int, string) {
	var indices []int
	var modelID string
	for _, a := range actions {
		if a.Kind != editor.ActionReplace {
			continue
		}
		indices = append(indices, a.Indices...)
		if a.ChunkIndex != nil {
			indices = append(indices, *a.ChunkIndex)
		}
		if modelID == "" && a.ModelOverride != "" {
			modelID = a.ModelOverride
		}
	}
	return indices, modelID
}

// isBusy reports whether a phase or edit task is currently in flight
// for this status.
func isBusy(status string) bool {
	if status == types.VideoStatusEditing || status == types.VideoStatusQueued {
		return true
	}
	for phase := 1; phase <= terminalPhase; phase++ {
		if status == types.VideoRunningStatus(phase) {
			return true
		}
	}
	return false
}

func editorLoadCheck(v *types.Video) (*types.Phase3Output, error) {
	var out types.Phase3Output
	ok, err := phaseio.Get(v.PhaseOutputs, types.PhaseOutputChunks, &out)
	if err != nil {
		return nil, err
	}
	if !ok || len(out.Chunks) == 0 {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("video has no generated chunks to edit"))
	}
	return &out, nil
}

// ChunkMetadata is one row of the GET /video/{id}/chunks listing.
type ChunkMetadata struct {
	Index           int      `json:"index"`
	URL             string   `json:"url"`
	Anchor          bool     `json:"anchor"`
	BeatIndex       int      `json:"beat_index"`
	Prompt          string   `json:"prompt,omitempty"`
	ModelID         string   `json:"model_id,omitempty"`
	Duration        float64  `json:"duration,omitempty"`
	Versions        []string `json:"versions"`
	CurrentSelected string   `json:"current_selected,omitempty"`
}

func (s *Service) chunkMetadata(ctx context.Context, out *types.Phase3Output, edit types.Phase6Output, i int) ChunkMetadata {
	c := out.Chunks[i]
	meta := ChunkMetadata{
		Index:     i,
		URL:       s.presign(ctx, c.Key, c.URL),
		Anchor:    c.Anchor,
		BeatIndex: c.BeatIndex,
		ModelID:   out.ModelID,
		Duration:  c.Duration,
		Versions:  []string{"original"},
	}
	if c.BeatIndex >= 0 && c.BeatIndex < len(out.Spec.Beats) {
		meta.Prompt = out.Spec.Beats[c.BeatIndex].PromptTemplate
	}
	if book, ok := edit.ChunkVersions[types.ChunkVersionKey(i)]; ok {
		for k := 1; k <= len(book.Replacements); k++ {
			meta.Versions = append(meta.Versions, fmt.Sprintf("replacement_%d", k))
		}
		meta.CurrentSelected = book.CurrentSelected
		if ref, ok := book.Replacements[book.CurrentSelected]; ok && ref.ModelID != "" {
			meta.ModelID = ref.ModelID
		}
	}
	return meta
}

// Chunks lists the live chunk list with per-chunk version availability.
func (s *Service) Chunks(ctx context.Context, ownerID, videoID uuid.UUID) ([]ChunkMetadata, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	out, err := editorLoadCheck(v)
	if err != nil {
		return nil, err
	}
	var edit types.Phase6Output
	_, _ = phaseio.Get(v.PhaseOutputs, types.PhaseOutputEditing, &edit)

	result := make([]ChunkMetadata, 0, len(out.Chunks))
	for i := range out.Chunks {
		result = append(result, s.chunkMetadata(ctx, out, edit, i))
	}
	return result, nil
}

// Chunk returns one chunk's metadata.
func (s *Service) Chunk(ctx context.Context, ownerID, videoID uuid.UUID, chunkIndex int) (*ChunkMetadata, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	out, err := editorLoadCheck(v)
	if err != nil {
		return nil, err
	}
	if chunkIndex < 0 || chunkIndex >= len(out.Chunks) {
		return nil, apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("chunk %d not found", chunkIndex))
	}
	var edit types.Phase6Output
	_, _ = phaseio.Get(v.PhaseOutputs, types.PhaseOutputEditing, &edit)

	meta := s.chunkMetadata(ctx, out, edit, chunkIndex)
	return &meta, nil
}

// ChunkVersionInfo is one entry of the GET .../chunks/{i}/versions
// listing: an artifact version row joined with the editor's selection
// state.
type ChunkVersionInfo struct {
	VersionID  string    `json:"version_id"` // original | replacement_k
	ArtifactID uuid.UUID `json:"artifact_id"`
	Version    int       `json:"version"`
	URL        string    `json:"url"`
	ModelID    string    `json:"model_id,omitempty"`
	Selected   bool      `json:"selected"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkVersionList enumerates every stored version of a chunk straight
// from the artifact rows on the Phase-3 checkpoint, so history survives
// even if the editor's version book is lost.
func (s *Service) ChunkVersionList(ctx context.Context, ownerID, videoID uuid.UUID, chunkIndex int) ([]ChunkVersionInfo, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	out, err := editorLoadCheck(v)
	if err != nil {
		return nil, err
	}
	if chunkIndex < 0 || chunkIndex >= len(out.Chunks) {
		return nil, apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("chunk %d not found", chunkIndex))
	}

	rows, err := s.artifacts.ListVersions(dbc, out.CheckpointID, types.ArtifactTypeVideoChunk, fmt.Sprintf("chunk_%d", chunkIndex))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("no artifact history for chunk %d", chunkIndex))
	}

	var edit types.Phase6Output
	_, _ = phaseio.Get(v.PhaseOutputs, types.PhaseOutputEditing, &edit)
	selected := "original"
	if book, ok := edit.ChunkVersions[types.ChunkVersionKey(chunkIndex)]; ok && book.CurrentSelected != "" {
		selected = book.CurrentSelected
	}

	result := make([]ChunkVersionInfo, 0, len(rows))
	for _, a := range rows {
		versionID := "original"
		if a.Version > 1 {
			versionID = fmt.Sprintf("replacement_%d", a.Version-1)
		}
		info := ChunkVersionInfo{
			VersionID:  versionID,
			ArtifactID: a.ID,
			Version:    a.Version,
			URL:        s.presign(ctx, a.BlobKey, a.BlobURL),
			ModelID:    artifactModelID(a),
			Selected:   versionID == selected,
			CreatedAt:  a.CreatedAt,
		}
		result = append(result, info)
	}
	return result, nil
}

func artifactModelID(a *types.Artifact) string {
	if len(a.Metadata) == 0 {
		return ""
	}
	var meta struct {
		ModelID string `json:"model_id"`
	}
	if err := json.Unmarshal(a.Metadata, &meta); err != nil {
		return ""
	}
	return meta.ModelID
}

// ChunkSplitInfo reports whether a chunk is one half of an undoable
// split, and if so which half and the recorded split.
type ChunkSplitInfo struct {
	IsSplitPart bool               `json:"is_split_part"`
	Role        string             `json:"role,omitempty"` // part1 | part2
	Record      *types.SplitRecord `json:"record,omitempty"`
}

func (s *Service) ChunkSplitInfo(ctx context.Context, ownerID, videoID uuid.UUID, chunkIndex int) (*ChunkSplitInfo, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	if _, err := editorLoadCheck(v); err != nil {
		return nil, err
	}

	var edit types.Phase6Output
	_, _ = phaseio.Get(v.PhaseOutputs, types.PhaseOutputEditing, &edit)
	for _, record := range edit.SplitHistory {
		record := record
		switch chunkIndex {
		case record.Part1Index:
			return &ChunkSplitInfo{IsSplitPart: true, Role: "part1", Record: &record}, nil
		case record.Part2Index:
			return &ChunkSplitInfo{IsSplitPart: true, Role: "part2", Record: &record}, nil
		}
	}
	return &ChunkSplitInfo{IsSplitPart: false}, nil
}

// EditingStatus is the GET /video/{id}/editing/status view: where the
// most recent edit request stands, plus the live chunk list it acted on.
type EditingStatus struct {
	VideoID      uuid.UUID `json:"video_id"`
	Status       string    `json:"status"` // not_started | in_progress | completed | failed
	ChunkURLs    []string  `json:"chunk_urls,omitempty"`
	StitchedURL  string    `json:"stitched_url,omitempty"`
	TotalCost    float64   `json:"total_cost"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func (s *Service) EditingStatus(ctx context.Context, ownerID, videoID uuid.UUID) (*EditingStatus, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}

	status := &EditingStatus{
		VideoID:   v.ID,
		Status:    "not_started",
		TotalCost: v.Cost,
	}
	var out types.Phase3Output
	if ok, _ := phaseio.Get(v.PhaseOutputs, types.PhaseOutputChunks, &out); ok {
		for _, c := range out.Chunks {
			status.ChunkURLs = append(status.ChunkURLs, c.URL)
		}
		status.StitchedURL = out.StitchedURL
	}

	job, err := s.jobs.GetLatestByEntity(dbc, ownerID, "video", v.ID, editor.JobType)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return status, nil
	}
	switch job.Status {
	case "queued", "running":
		status.Status = "in_progress"
	case "succeeded":
		status.Status = "completed"
	case "failed", "canceled":
		status.Status = "failed"
		status.ErrorMessage = job.Error
		if status.ErrorMessage == "" {
			status.ErrorMessage = "unknown error"
		}
	default:
		status.Status = job.Status
	}
	return status, nil
}

// ChunkPreview presigns one version of one chunk.
func (s *Service) ChunkPreview(ctx context.Context, ownerID, videoID uuid.UUID, chunkIndex int, version string) (string, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return "", err
	}
	out, err := editorLoadCheck(v)
	if err != nil {
		return "", err
	}
	if chunkIndex < 0 || chunkIndex >= len(out.Chunks) {
		return "", apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("chunk index %d out of range", chunkIndex))
	}

	var edit types.Phase6Output
	_, _ = phaseio.Get(v.PhaseOutputs, types.PhaseOutputEditing, &edit)

	book, hasBook := edit.ChunkVersions[types.ChunkVersionKey(chunkIndex)]
	if !hasBook {
		if version != "" && version != "original" && version != "current" {
			return "", apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("chunk %d has no version %q", chunkIndex, version))
		}
		c := out.Chunks[chunkIndex]
		return s.presign(ctx, c.Key, c.URL), nil
	}
	ref, err := editor.ResolveVersion(book, version)
	if err != nil {
		return "", err
	}
	return s.presign(ctx, ref.Key, ref.URL), nil
}

// SelectChunkVersion swaps the selected version marker synchronously.
// The chunk list and version book update; re-stitching waits for the
// next /edit request.
func (s *Service) SelectChunkVersion(ctx context.Context, ownerID, videoID uuid.UUID, chunkIndex int, version string) error {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return err
	}
	if isBusy(v.Status) {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("video is %s; edits are only allowed while paused", v.Status))
	}
	out, err := editorLoadCheck(v)
	if err != nil {
		return err
	}
	if chunkIndex < 0 || chunkIndex >= len(out.Chunks) {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("chunk index %d out of range", chunkIndex))
	}

	var edit types.Phase6Output
	if ok, err := phaseio.Get(v.PhaseOutputs, types.PhaseOutputEditing, &edit); err != nil {
		return err
	} else if !ok {
		return apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("chunk %d has no recorded versions", chunkIndex))
	}
	key := types.ChunkVersionKey(chunkIndex)
	book, ok := edit.ChunkVersions[key]
	if !ok {
		return apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("chunk %d has no recorded versions", chunkIndex))
	}
	ref, err := editor.ResolveVersion(book, version)
	if err != nil {
		return err
	}
	book.CurrentSelected = version
	edit.ChunkVersions[key] = book

	updated := out.Chunks[chunkIndex]
	updated.URL = ref.URL
	updated.Key = ref.Key
	if ref.LastFrameURL != "" {
		updated.LastFrameURL = ref.LastFrameURL
		updated.LastFrameKey = ref.LastFrameKey
	}
	out.Chunks[chunkIndex] = updated

	chunkURLs := make([]string, len(out.Chunks))
	for i, c := range out.Chunks {
		chunkURLs[i] = c.URL
	}
	chunkURLsJSON, _ := json.Marshal(chunkURLs)

	merged, err := phaseio.Merge(v.PhaseOutputs, types.PhaseOutputChunks, out)
	if err != nil {
		return err
	}
	merged, err = phaseio.Merge(merged, types.PhaseOutputEditing, edit)
	if err != nil {
		return err
	}
	if err := s.videos.UpdateFields(dbc, v.ID, map[string]interface{}{
		"phase_outputs": merged,
		"chunk_urls":    datatypes.JSON(chunkURLsJSON),
	}); err != nil {
		return err
	}
	v.PhaseOutputs = merged
	return nil
}
