// Package editor implements the Phase-6 non-destructive edit surface:
// replace/select-version/reorder/delete/split/undo-split over the live
// chunk list, followed by a re-stitch. Edits never overwrite history —
// every replacement is a new artifact version and every split is
// recorded for undo.
package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/avarra/reelforge/internal/data/repos"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/observability"
	"github.com/avarra/reelforge/internal/pipeline/chunkscheduler"
	"github.com/avarra/reelforge/internal/pipeline/phaseio"
	"github.com/avarra/reelforge/internal/pipeline/progresschannel"
	"github.com/avarra/reelforge/internal/platform/apierr"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/envutil"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/platform/mediatools"
	"github.com/avarra/reelforge/internal/platform/modelconfig"
	"github.com/avarra/reelforge/internal/platform/objectio"
)

// Action kinds accepted by Apply.
const (
	ActionReplace       = "replace"
	ActionSelectVersion = "select_version"
	ActionReorder       = "reorder"
	ActionDelete        = "delete"
	ActionSplit         = "split"
	ActionUndoSplit     = "undo_split"
)

// Action is one edit operation. Fields are a union across kinds; each
// kind validates the subset it needs.
type Action struct {
	Kind            string   `json:"kind" binding:"required"`
	Indices         []int    `json:"indices,omitempty"`
	ChunkIndex      *int     `json:"chunk_index,omitempty"`
	PromptOverride  string   `json:"prompt_override,omitempty"`
	ModelOverride   string   `json:"model_override,omitempty"`
	Permutation     []int    `json:"permutation,omitempty"`
	SplitTime       *float64 `json:"split_time,omitempty"`
	SplitPercentage *float64 `json:"split_percentage,omitempty"`
	SplitFrame      *int     `json:"split_frame,omitempty"`
	Version         string   `json:"version,omitempty"`
}

// CostEstimate is the no-side-effect price quote for a replace set.
type CostEstimate struct {
	Total    float64 `json:"total"`
	PerChunk float64 `json:"per_chunk"`
}

// Result is what Apply reports back: the post-edit chunk list and the
// fresh composite.
type Result struct {
	ChunkURLs   []string `json:"chunk_urls"`
	StitchedURL string   `json:"stitched_url"`
	Cost        float64  `json:"cost"`
}

// Service executes edit requests against one video at a time.
type Service struct {
	log       *logger.Logger
	db        *gorm.DB
	videos    repos.VideoRepo
	artifacts repos.ArtifactRepo
	io        objectio.IO
	media     mediatools.Tools
	models    *modelconfig.Table
	scheduler *chunkscheduler.Scheduler
	progress  progresschannel.Channel
	metrics   *observability.Metrics
}

func New(
	log *logger.Logger,
	db *gorm.DB,
	videos repos.VideoRepo,
	artifacts repos.ArtifactRepo,
	io objectio.IO,
	media mediatools.Tools,
	models *modelconfig.Table,
	scheduler *chunkscheduler.Scheduler,
	progress progresschannel.Channel,
) *Service {
	return &Service{
		log:       log.With("component", "Editor"),
		db:        db,
		videos:    videos,
		artifacts: artifacts,
		io:        io,
		media:     media,
		models:    models,
		scheduler: scheduler,
		progress:  progress,
		metrics:   observability.Current(),
	}
}

// Estimate prices a replace over indices with model (empty = the
// video's Phase-3 model). Pure lookup, no side effects.
func (s *Service) Estimate(v *types.Video, indices []int, modelID string) (CostEstimate, error) {
	out, err := loadPhase3(v)
	if err != nil {
		return CostEstimate{}, err
	}
	if modelID == "" {
		modelID = out.ModelID
	}
	cfg, ok := s.models.VideoModel(modelID)
	if !ok {
		return CostEstimate{}, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("unknown model %q", modelID))
	}
	return CostEstimate{
		PerChunk: cfg.CostPerGeneration,
		Total:    cfg.CostPerGeneration * float64(len(indices)),
	}, nil
}

// session is the in-flight working state of one edit request: a copy of
// the live chunk list plus the version/split books, mutated action by
// action and only persisted after every action has succeeded.
type session struct {
	video  *types.Video
	out    types.Phase3Output
	edit   types.Phase6Output
	chunks []types.ChunkBlob
	cost   float64
}

// Apply runs actions in order against a working copy of the chunk list,
// re-stitches, and persists. A failed action aborts the whole request;
// blobs uploaded by earlier actions stay behind as garbage.
func (s *Service) Apply(ctx context.Context, v *types.Video, actions []Action, editDescription string) (*Result, error) {
	if len(actions) == 0 {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("edit request with no actions"))
	}

	out, err := loadPhase3(v)
	if err != nil {
		return nil, err
	}
	sess := &session{
		video:  v,
		out:    *out,
		chunks: append([]types.ChunkBlob(nil), out.Chunks...),
	}
	if ok, err := phaseio.Get(v.PhaseOutputs, types.PhaseOutputEditing, &sess.edit); err != nil {
		return nil, err
	} else if !ok {
		sess.edit = types.Phase6Output{}
	}
	if sess.edit.ChunkVersions == nil {
		sess.edit.ChunkVersions = map[string]types.ChunkVersions{}
	}
	if sess.edit.SplitHistory == nil {
		sess.edit.SplitHistory = map[string]types.SplitRecord{}
	}

	for i, action := range actions {
		if err := s.applyOne(ctx, sess, action); err != nil {
			if s.metrics != nil {
				s.metrics.IncEditOp(action.Kind, "failed")
			}
			return nil, fmt.Errorf("action %d (%s): %w", i, action.Kind, err)
		}
		if s.metrics != nil {
			s.metrics.IncEditOp(action.Kind, "succeeded")
		}
	}

	if len(sess.chunks) == 0 {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("edit would leave zero chunks"))
	}

	stitchedURL, stitchedKey, err := s.restitch(ctx, sess)
	if err != nil {
		return nil, err
	}
	sess.out.StitchedURL = stitchedURL
	sess.out.StitchedKey = stitchedKey
	sess.out.Chunks = sess.chunks
	sess.out.ChunkCount = len(sess.chunks)

	if err := s.persist(ctx, sess, editDescription); err != nil {
		return nil, err
	}

	return &Result{
		ChunkURLs:   chunkURLsOf(sess.chunks),
		StitchedURL: stitchedURL,
		Cost:        sess.cost,
	}, nil
}

func (s *Service) applyOne(ctx context.Context, sess *session, a Action) error {
	switch a.Kind {
	case ActionReplace:
		return s.applyReplace(ctx, sess, a)
	case ActionSelectVersion:
		return s.applySelectVersion(sess, a)
	case ActionReorder:
		var err error
		sess.chunks, err = Reorder(sess.chunks, a.Permutation)
		return err
	case ActionDelete:
		var err error
		sess.chunks, err = Delete(sess.chunks, a.Indices)
		return err
	case ActionSplit:
		return s.applySplit(ctx, sess, a)
	case ActionUndoSplit:
		return s.applyUndoSplit(sess, a)
	default:
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("unknown action kind %q", a.Kind))
	}
}

// applyReplace regenerates each target chunk with an optional
// prompt/model override, versioning the artifact and the chunk's
// version book. Anchor vs continuation follows the current beat map.
func (s *Service) applyReplace(ctx context.Context, sess *session, a Action) error {
	indices := a.Indices
	if len(indices) == 0 && a.ChunkIndex != nil {
		indices = []int{*a.ChunkIndex}
	}
	if len(indices) == 0 {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("replace requires indices"))
	}

	modelID := a.ModelOverride
	if modelID == "" {
		modelID = sess.out.ModelID
	}
	cfg, ok := s.models.VideoModel(modelID)
	if !ok {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("unknown model %q", modelID))
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(sess.chunks) {
			return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("chunk index %d out of range", idx))
		}
		current := sess.chunks[idx]

		beatIdx := current.BeatIndex
		if beatIdx < 0 || beatIdx >= len(sess.out.Spec.Beats) {
			return apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("chunk %d references missing beat %d", idx, beatIdx))
		}
		beat := sess.out.Spec.Beats[beatIdx]

		prompt := beat.PromptTemplate
		if a.PromptOverride != "" {
			prompt = a.PromptOverride
		}

		var initImage string
		if current.Anchor {
			// Anchors condition on the anchored beat's storyboard frame,
			// which may differ from the beat that owns the prompt.
			anchorBeat := beatIdx
			if b, ok := sess.out.BeatMap[current.Index]; ok && b >= 0 && b < len(sess.out.Spec.Beats) {
				anchorBeat = b
			}
			initImage = sess.out.Spec.Beats[anchorBeat].ImageURL
		} else {
			if idx == 0 {
				return apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("chunk 0 is a continuation"))
			}
			initImage = sess.chunks[idx-1].LastFrameURL
		}
		if initImage == "" {
			return apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("chunk %d has no init image available", idx))
		}

		spec := types.ChunkSpec{
			Index:     current.Index,
			Duration:  cfg.ActualOutputSeconds,
			BeatIndex: beatIdx,
			Prompt:    prompt,
			ModelID:   modelID,
			FPS:       sess.out.Spec.FPS,
		}
		res, err := s.scheduler.GenerateChunk(ctx, sess.video.OwnerUserID, sess.video.ID, spec, initImage)
		if err != nil {
			return err
		}
		sess.cost += res.Cost

		artifactID, err := s.versionChunkArtifact(ctx, sess, idx, res.ChunkBlobURL, res.ChunkBlobKey, modelID)
		if err != nil {
			return err
		}

		key := types.ChunkVersionKey(idx)
		book := sess.edit.ChunkVersions[key]
		if book.Original.URL == "" {
			book.Original = types.ChunkVersionRef{
				URL:          current.URL,
				Key:          current.Key,
				LastFrameURL: current.LastFrameURL,
				LastFrameKey: current.LastFrameKey,
				ModelID:      sess.out.ModelID,
			}
		}
		if book.Replacements == nil {
			book.Replacements = map[string]types.ChunkVersionRef{}
		}
		replKey := fmt.Sprintf("replacement_%d", len(book.Replacements)+1)
		book.Replacements[replKey] = types.ChunkVersionRef{
			URL:          res.ChunkBlobURL,
			Key:          res.ChunkBlobKey,
			ArtifactID:   artifactID,
			ModelID:      modelID,
			LastFrameURL: res.LastFrameURL,
			LastFrameKey: res.LastFrameKey,
		}
		book.CurrentSelected = replKey
		sess.edit.ChunkVersions[key] = book

		updated := current
		updated.URL = res.ChunkBlobURL
		updated.Key = res.ChunkBlobKey
		updated.LastFrameURL = res.LastFrameURL
		updated.LastFrameKey = res.LastFrameKey
		updated.Duration = cfg.ActualOutputSeconds
		sess.chunks[idx] = updated
	}
	return nil
}

// versionChunkArtifact inserts the next version row for the chunk's
// artifact on the Phase-3 checkpoint. The prior version stays
// queryable; HasEdits flips true as soon as any version exceeds 1.
func (s *Service) versionChunkArtifact(ctx context.Context, sess *session, idx int, blobURL, blobKey, modelID string) (uuid.UUID, error) {
	dbc := dbctx.Context{Ctx: ctx}
	key := fmt.Sprintf("chunk_%d", idx)

	latest, err := s.artifacts.LatestVersion(dbc, sess.out.CheckpointID, types.ArtifactTypeVideoChunk, key)
	if err != nil {
		return uuid.Nil, err
	}
	version := 1
	var parentID *uuid.UUID
	if latest != nil {
		version = latest.Version + 1
		parentID = &latest.ID
	}

	meta, _ := json.Marshal(map[string]any{"chunk_index": idx, "model_id": modelID, "source": "editor_replace"})
	a := &types.Artifact{
		ID:               uuid.New(),
		CheckpointID:     sess.out.CheckpointID,
		Type:             types.ArtifactTypeVideoChunk,
		Key:              key,
		BlobURL:          blobURL,
		BlobKey:          blobKey,
		Version:          version,
		ParentArtifactID: parentID,
		Metadata:         datatypes.JSON(meta),
	}
	if err := s.artifacts.Create(dbc, a); err != nil {
		return uuid.Nil, err
	}
	return a.ID, nil
}

func (s *Service) applySelectVersion(sess *session, a Action) error {
	if a.ChunkIndex == nil {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("select_version requires chunk_index"))
	}
	idx := *a.ChunkIndex
	if idx < 0 || idx >= len(sess.chunks) {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("chunk index %d out of range", idx))
	}
	key := types.ChunkVersionKey(idx)
	book, ok := sess.edit.ChunkVersions[key]
	if !ok {
		return apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("chunk %d has no recorded versions", idx))
	}

	ref, err := ResolveVersion(book, a.Version)
	if err != nil {
		return err
	}
	book.CurrentSelected = a.Version
	sess.edit.ChunkVersions[key] = book

	updated := sess.chunks[idx]
	updated.URL = ref.URL
	updated.Key = ref.Key
	if ref.LastFrameURL != "" {
		updated.LastFrameURL = ref.LastFrameURL
		updated.LastFrameKey = ref.LastFrameKey
	}
	sess.chunks[idx] = updated
	return nil
}

func (s *Service) applySplit(ctx context.Context, sess *session, a Action) error {
	if a.ChunkIndex == nil {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("split requires chunk_index"))
	}
	idx := *a.ChunkIndex
	if idx < 0 || idx >= len(sess.chunks) {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("chunk index %d out of range", idx))
	}
	target := sess.chunks[idx]

	localPath, cleanup, err := s.downloadChunk(ctx, target.Key)
	if err != nil {
		return err
	}
	defer cleanup()

	duration := target.Duration
	if duration <= 0 {
		probe, err := s.media.Probe(ctx, localPath)
		if err != nil {
			return fmt.Errorf("probe chunk %d: %w", idx, err)
		}
		duration = probe.Duration
	}

	splitTime, err := resolveSplitOffset(a, duration, sess.out.Spec.FPS)
	if err != nil {
		return err
	}

	workDir := filepath.Dir(localPath)
	part1Path := filepath.Join(workDir, fmt.Sprintf("chunk_%02d_part1.mp4", idx))
	part2Path := filepath.Join(workDir, fmt.Sprintf("chunk_%02d_part2.mp4", idx))
	if err := s.media.Split(ctx, localPath, splitTime, part1Path, part2Path); err != nil {
		return err
	}
	defer os.Remove(part1Path)
	defer os.Remove(part2Path)

	part1Frame := filepath.Join(workDir, fmt.Sprintf("chunk_%02d_part1_last_frame.png", idx))
	if err := s.media.ExtractLastFrame(ctx, part1Path, part1Frame); err != nil {
		return err
	}
	defer os.Remove(part1Frame)

	up1, err := s.uploadFile(ctx, sess, part1Path, fmt.Sprintf("chunk_%02d_part1.mp4", idx))
	if err != nil {
		return err
	}
	up2, err := s.uploadFile(ctx, sess, part2Path, fmt.Sprintf("chunk_%02d_part2.mp4", idx))
	if err != nil {
		return err
	}
	upFrame, err := s.uploadFile(ctx, sess, part1Frame, fmt.Sprintf("chunk_%02d_part1_last_frame.png", idx))
	if err != nil {
		return err
	}

	record := types.SplitRecord{
		OriginalIndex: idx,
		SplitTime:     splitTime,
		Part1Blob:     up1.BlobURL,
		Part1Key:      up1.BlobKey,
		Part2Blob:     up2.BlobURL,
		Part2Key:      up2.BlobKey,
		Part1Index:    idx,
		Part2Index:    idx + 1,
		Original:      target,
		CreatedAt:     time.Now(),
	}

	part1 := target
	part1.URL = up1.BlobURL
	part1.Key = up1.BlobKey
	part1.LastFrameURL = upFrame.BlobURL
	part1.LastFrameKey = upFrame.BlobKey
	part1.Duration = splitTime
	part2 := target
	part2.URL = up2.BlobURL
	part2.Key = up2.BlobKey
	part2.Duration = duration - splitTime
	part2.Anchor = false

	sess.chunks = InsertSplit(sess.chunks, idx, part1, part2)
	sess.edit.SplitHistory[types.ChunkVersionKey(idx)] = record
	return nil
}

func (s *Service) applyUndoSplit(sess *session, a Action) error {
	if a.ChunkIndex == nil {
		return apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("undo_split requires chunk_index"))
	}
	idx := *a.ChunkIndex
	key := types.ChunkVersionKey(idx)
	record, ok := sess.edit.SplitHistory[key]
	if !ok {
		return apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("no split record for chunk %d", idx))
	}
	if record.Part2Index >= len(sess.chunks) {
		return apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("split record for chunk %d no longer matches the chunk list", idx))
	}

	restored, err := UndoSplit(sess.chunks, record)
	if err != nil {
		return err
	}
	sess.chunks = restored
	delete(sess.edit.SplitHistory, key)
	return nil
}

// restitch rebuilds the composite from the working chunk list and
// overwrites stitched.mp4 (object-store writes are idempotent by key).
func (s *Service) restitch(ctx context.Context, sess *session) (string, string, error) {
	budget := envutil.GetEnvAsDuration("STITCH_BUDGET", 6*time.Minute, s.log)
	start := time.Now()

	workDir, err := os.MkdirTemp("", "edit-stitch-*")
	if err != nil {
		return "", "", err
	}
	defer os.RemoveAll(workDir)

	paths := make([]string, len(sess.chunks))
	for i, c := range sess.chunks {
		path, cleanup, err := s.downloadChunk(ctx, c.Key)
		if err != nil {
			return "", "", fmt.Errorf("download chunk at position %d: %w", i, err)
		}
		defer cleanup()
		paths[i] = path
	}

	outPath := filepath.Join(workDir, "stitched.mp4")
	if err := s.media.Stitch(ctx, paths, outPath, budget); err != nil {
		if s.metrics != nil {
			s.metrics.ObserveStitch("editor", "failed", time.Since(start))
		}
		return "", "", err
	}
	if s.metrics != nil {
		s.metrics.ObserveStitch("editor", "succeeded", time.Since(start))
	}

	f, err := os.Open(outPath)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	upload, err := s.io.Upload(ctx, sess.video.OwnerUserID, sess.video.ID, "stitched.mp4", f)
	if err != nil {
		return "", "", err
	}
	return upload.BlobURL, upload.BlobKey, nil
}

func (s *Service) persist(ctx context.Context, sess *session, editDescription string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		merged, err := phaseio.Merge(sess.video.PhaseOutputs, types.PhaseOutputChunks, sess.out)
		if err != nil {
			return err
		}
		merged, err = phaseio.Merge(merged, types.PhaseOutputEditing, sess.edit)
		if err != nil {
			return err
		}

		chunkURLsJSON, _ := json.Marshal(chunkURLsOf(sess.chunks))
		updates := map[string]interface{}{
			"phase_outputs": merged,
			"chunk_urls":    datatypes.JSON(chunkURLsJSON),
			"stitched_url":  sess.out.StitchedURL,
			"cost":          sess.video.Cost + sess.cost,
			"status":        types.VideoPausedStatus(3),
		}
		if err := s.videos.UpdateFields(dbc, sess.video.ID, updates); err != nil {
			return err
		}
		sess.video.PhaseOutputs = merged
		sess.video.Cost += sess.cost

		_ = s.progress.SetSnapshot(ctx, sess.video.ID, progresschannel.Snapshot{
			Status:       types.VideoPausedStatus(3),
			Progress:     sess.video.Progress,
			CurrentPhase: 3,
			TotalCost:    sess.video.Cost,
		})
		return nil
	})
}

func (s *Service) downloadChunk(ctx context.Context, blobKey string) (string, func(), error) {
	rc, err := s.io.DownloadByKey(ctx, blobKey)
	if err != nil {
		return "", func() {}, err
	}
	defer rc.Close()
	f, err := os.CreateTemp("", "edit-chunk-*.mp4")
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

func (s *Service) uploadFile(ctx context.Context, sess *session, path, name string) (*objectio.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.io.Upload(ctx, sess.video.OwnerUserID, sess.video.ID, name, f)
}

// loadPhase3 reads the live chunk list out of the video's phase
// outputs. Editing before Phase 3 has run is a validation error.
func loadPhase3(v *types.Video) (*types.Phase3Output, error) {
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

// ResolveVersion maps a version name ("original", "replacement_k",
// "current") to its blob ref in a chunk's version book.
func ResolveVersion(book types.ChunkVersions, version string) (types.ChunkVersionRef, error) {
	switch version {
	case "", "current":
		if book.CurrentSelected == "" || book.CurrentSelected == "original" {
			return book.Original, nil
		}
		ref, ok := book.Replacements[book.CurrentSelected]
		if !ok {
			return types.ChunkVersionRef{}, apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("selected version %q missing from version book", book.CurrentSelected))
		}
		return ref, nil
	case "original":
		return book.Original, nil
	default:
		ref, ok := book.Replacements[version]
		if !ok {
			return types.ChunkVersionRef{}, apierr.Wrap(apierr.ErrNotFound, fmt.Errorf("unknown version %q", version))
		}
		return ref, nil
	}
}

// Reorder permutes chunks by perm; perm must be a complete permutation
// of the current index space.
func Reorder(chunks []types.ChunkBlob, perm []int) ([]types.ChunkBlob, error) {
	if len(perm) != len(chunks) {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("permutation length %d, want %d", len(perm), len(chunks)))
	}
	seen := make([]bool, len(chunks))
	out := make([]types.ChunkBlob, len(chunks))
	for dst, src := range perm {
		if src < 0 || src >= len(chunks) {
			return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("permutation entry %d out of range", src))
		}
		if seen[src] {
			return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("permutation repeats index %d", src))
		}
		seen[src] = true
		out[dst] = chunks[src]
	}
	return out, nil
}

// Delete removes chunks at indices, processed highest-first so earlier
// removals don't shift later targets.
func Delete(chunks []types.ChunkBlob, indices []int) ([]types.ChunkBlob, error) {
	if len(indices) == 0 {
		return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("delete requires indices"))
	}
	sorted := append([]int(nil), indices...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	out := append([]types.ChunkBlob(nil), chunks...)
	prev := -1
	for _, idx := range sorted {
		if idx == prev {
			continue
		}
		prev = idx
		if idx < 0 || idx >= len(out) {
			return nil, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("delete index %d out of range", idx))
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	return out, nil
}

// InsertSplit replaces chunks[idx] with part1, part2 in place.
func InsertSplit(chunks []types.ChunkBlob, idx int, part1, part2 types.ChunkBlob) []types.ChunkBlob {
	out := make([]types.ChunkBlob, 0, len(chunks)+1)
	out = append(out, chunks[:idx]...)
	out = append(out, part1, part2)
	out = append(out, chunks[idx+1:]...)
	return out
}

// UndoSplit collapses the two split parts back into the recorded
// original, verifying the parts are still where the record left them.
func UndoSplit(chunks []types.ChunkBlob, record types.SplitRecord) ([]types.ChunkBlob, error) {
	i, j := record.Part1Index, record.Part2Index
	if i < 0 || j != i+1 || j >= len(chunks) {
		return nil, apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("split indices %d/%d out of range", i, j))
	}
	if chunks[i].Key != record.Part1Key || chunks[j].Key != record.Part2Key {
		return nil, apierr.Wrap(apierr.ErrIntegrity, fmt.Errorf("chunks at %d/%d are no longer the recorded split parts", i, j))
	}
	out := make([]types.ChunkBlob, 0, len(chunks)-1)
	out = append(out, chunks[:i]...)
	out = append(out, record.Original)
	out = append(out, chunks[j+1:]...)
	return out, nil
}

// resolveSplitOffset picks the split time from the action's
// time/percentage/frame fields, in that preference order, and bounds it
// inside the chunk.
func resolveSplitOffset(a Action, duration float64, fps int) (float64, error) {
	var t float64
	switch {
	case a.SplitTime != nil:
		t = *a.SplitTime
	case a.SplitPercentage != nil:
		t = duration * (*a.SplitPercentage) / 100.0
	case a.SplitFrame != nil:
		if fps <= 0 {
			fps = 24
		}
		t = float64(*a.SplitFrame) / float64(fps)
	default:
		return 0, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("split requires split_time, split_percentage, or split_frame"))
	}
	if t <= 0 || t >= duration {
		return 0, apierr.Wrap(apierr.ErrInvalidArgument, fmt.Errorf("split offset %.3fs outside chunk duration %.3fs", t, duration))
	}
	return t, nil
}

func chunkURLsOf(chunks []types.ChunkBlob) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.URL
	}
	return out
}
