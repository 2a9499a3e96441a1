package orchestrator

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avarra/reelforge/internal/data/repos"
	"github.com/avarra/reelforge/internal/data/repos/testutil"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/pipeline/dispatch"
	"github.com/avarra/reelforge/internal/pipeline/editor"
	"github.com/avarra/reelforge/internal/pipeline/phaseio"
	"github.com/avarra/reelforge/internal/pipeline/progresschannel"
	"github.com/avarra/reelforge/internal/platform/apierr"
	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/modelconfig"
	"github.com/avarra/reelforge/internal/platform/objectio"
	"github.com/avarra/reelforge/internal/services"
	"github.com/avarra/reelforge/internal/sse"
)

// stubIO satisfies the object-store interface for read paths: presigns
// echo the blob key so assertions can see what was signed. Write paths
// are never reached from the operations under test.
type stubIO struct{}

func (stubIO) Upload(ctx context.Context, ownerID, videoID uuid.UUID, filename string, r io.Reader) (*objectio.UploadResult, error) {
	return nil, errors.New("stubIO: upload not supported")
}
func (stubIO) Download(ctx context.Context, ownerID, videoID uuid.UUID, filename string) (io.ReadCloser, error) {
	return nil, errors.New("stubIO: download not supported")
}
func (stubIO) DownloadByKey(ctx context.Context, blobKey string) (io.ReadCloser, error) {
	return nil, errors.New("stubIO: download not supported")
}
func (stubIO) PresignRead(ctx context.Context, blobKey string) (string, error) {
	return "presigned://" + blobKey, nil
}
func (stubIO) DeleteVideoPrefix(ctx context.Context, ownerID, videoID uuid.UUID) error {
	return nil
}
func (stubIO) Key(ownerID, videoID uuid.UUID, filename string) string {
	return filename
}

// newTestService wires an orchestrator over the test transaction. The
// transaction doubles as the service's DB handle so its inner
// Transaction calls become savepoints and roll back with the test.
func newTestService(t *testing.T, tx *gorm.DB) (*Service, repos.CheckpointRepo, repos.JobRunRepo) {
	t.Helper()
	t.Setenv("REDIS_ADDR", "")

	log := testutil.Logger(t)
	videos := repos.NewVideoRepo(tx, log)
	checkpoints := repos.NewCheckpointRepo(tx, log)
	artifacts := repos.NewArtifactRepo(tx, log)
	jobs := repos.NewJobRunRepo(tx, log)

	progress, err := progresschannel.New(log)
	if err != nil {
		t.Fatalf("progress channel: %v", err)
	}
	models := modelconfig.Load(log)
	hub := sse.NewSSEHub(log)
	notifier := services.NewJobNotifier(hub)
	jobsvc := services.NewJobService(tx, log, jobs, notifier)
	ed := editor.New(log, tx, videos, artifacts, nil, nil, models, nil, progress)

	svc := New(
		log, tx,
		videos, checkpoints, artifacts, jobs,
		dispatch.New(jobs), progress, stubIO{}, models, nil, nil, ed, jobsvc,
	)
	return svc, checkpoints, jobs
}

// seedPhase3Output gives a video a live chunk list so edit paths have
// something to work with. checkpointID may reference a seeded Phase-3
// checkpoint when the test needs artifact history behind the list.
func seedPhase3Output(t *testing.T, tx *gorm.DB, v *types.Video, modelID string, chunkCount int) {
	t.Helper()
	seedPhase3OutputWithCheckpoint(t, tx, v, modelID, chunkCount, uuid.New())
}

func seedPhase3OutputWithCheckpoint(t *testing.T, tx *gorm.DB, v *types.Video, modelID string, chunkCount int, checkpointID uuid.UUID) {
	t.Helper()

	out := types.Phase3Output{
		CheckpointID: checkpointID,
		Branch:       "main",
		ModelID:      modelID,
		ChunkCount:   chunkCount,
		BeatMap:      types.BeatToChunkMap{0: 0},
	}
	for i := 0; i < chunkCount; i++ {
		out.Chunks = append(out.Chunks, types.ChunkBlob{
			Index:     i,
			URL:       "blob://chunk",
			Key:       "o/videos/v/chunk.mp4",
			Anchor:    i == 0,
			BeatIndex: 0,
		})
	}
	merged, err := phaseio.Merge(v.PhaseOutputs, types.PhaseOutputChunks, out)
	if err != nil {
		t.Fatalf("seed phase3 output: %v", err)
	}
	if err := tx.Model(&types.Video{}).Where("id = ?", v.ID).Updates(map[string]interface{}{
		"phase_outputs": merged,
		"status":        types.VideoPausedStatus(3),
	}).Error; err != nil {
		t.Fatalf("seed phase3 output: %v", err)
	}
	v.PhaseOutputs = merged
}

func TestGenerateEnqueuesPhaseOne(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, _, jobs := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	videoID, err := svc.Generate(ctx, owner, GenerateRequest{
		Prompt:       "Showcase a chrome kettle",
		AutoContinue: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	job, err := jobs.GetLatestByEntity(dbctx.Context{Ctx: ctx, Tx: tx}, owner, "video", videoID, "phase_1_plan")
	if err != nil || job == nil {
		t.Fatalf("expected a queued phase_1_plan job, err=%v job=%v", err, job)
	}
	payload, err := dispatch.DecodePayload(job.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.VideoID != videoID || payload.Branch != "main" {
		t.Fatalf("payload: got %+v", payload)
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, _, _ := newTestService(t, tx)

	_, err := svc.Generate(context.Background(), uuid.New(), GenerateRequest{})
	if apierr.Kind(err) != "validation" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestContinuePendingCheckpointStaysOnBranch(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, checkpoints, jobs := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)
	cp1 := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 1, 1, nil)

	res, err := svc.Continue(ctx, owner, v.ID, cp1.ID)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if res.NextPhase != 2 || res.Branch != "main" || res.Forked {
		t.Fatalf("Continue: got %+v", res)
	}

	got, err := checkpoints.Get(dbctx.Context{Ctx: ctx, Tx: tx}, cp1.ID)
	if err != nil || got.Status != types.CheckpointStatusApproved {
		t.Fatalf("checkpoint should be approved, err=%v status=%q", err, got.Status)
	}

	job, err := jobs.GetLatestByEntity(dbctx.Context{Ctx: ctx, Tx: tx}, owner, "video", v.ID, "phase_2_storyboard")
	if err != nil || job == nil {
		t.Fatalf("expected a phase_2_storyboard job, err=%v", err)
	}
	payload, _ := dispatch.DecodePayload(job.Payload)
	if payload.ParentCheckpointID != cp1.ID || payload.Branch != "main" {
		t.Fatalf("dispatch payload: got %+v", payload)
	}
}

// An approved checkpoint with an edited artifact (version > 1) forks a
// new branch on continue.
func TestContinueEditedCheckpointForksBranch(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, checkpoints, jobs := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)
	cp1 := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 1, 1, nil)
	if err := checkpoints.Approve(dbctx.Context{Ctx: ctx, Tx: tx}, cp1.ID); err != nil {
		t.Fatalf("approve seed: %v", err)
	}
	testutil.SeedArtifact(t, ctx, tx, cp1.ID, types.ArtifactTypeSpec, "spec", "blob://v1", 1)
	testutil.SeedArtifact(t, ctx, tx, cp1.ID, types.ArtifactTypeSpec, "spec", "blob://v2", 2)

	res, err := svc.Continue(ctx, owner, v.ID, cp1.ID)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if !res.Forked || res.Branch != "main-1" || res.NextPhase != 2 {
		t.Fatalf("Continue: got %+v", res)
	}

	job, err := jobs.GetLatestByEntity(dbctx.Context{Ctx: ctx, Tx: tx}, owner, "video", v.ID, "phase_2_storyboard")
	if err != nil || job == nil {
		t.Fatalf("expected a phase_2_storyboard job, err=%v", err)
	}
	payload, _ := dispatch.DecodePayload(job.Payload)
	if payload.Branch != "main-1" || payload.ParentCheckpointID != cp1.ID {
		t.Fatalf("dispatch payload: got %+v", payload)
	}
}

func TestContinueRejectsTerminalAndUneditedApproved(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, checkpoints, _ := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)

	terminal := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 4, 1, nil)
	if _, err := svc.Continue(ctx, owner, v.ID, terminal.ID); apierr.Kind(err) != "validation" {
		t.Fatalf("terminal phase: expected validation error, got %v", err)
	}

	approved := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 1, 1, nil)
	if err := checkpoints.Approve(dbctx.Context{Ctx: ctx, Tx: tx}, approved.ID); err != nil {
		t.Fatalf("approve seed: %v", err)
	}
	if _, err := svc.Continue(ctx, owner, v.ID, approved.ID); apierr.Kind(err) != "validation" {
		t.Fatalf("approved+unedited: expected validation error, got %v", err)
	}
}

func TestOwnershipAndNotFound(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, _, _ := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)
	cp := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 1, 1, nil)

	if _, err := svc.Continue(ctx, uuid.New(), v.ID, cp.ID); apierr.Kind(err) != "ownership" {
		t.Fatalf("foreign owner: expected ownership error, got %v", err)
	}
	if _, err := svc.Continue(ctx, owner, uuid.New(), cp.ID); apierr.Kind(err) != "not_found" {
		t.Fatalf("unknown video: expected not_found, got %v", err)
	}
	if _, err := svc.Continue(ctx, owner, v.ID, uuid.New()); apierr.Kind(err) != "not_found" {
		t.Fatalf("unknown checkpoint: expected not_found, got %v", err)
	}
}

func TestStatusOnFreshVideo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, _, _ := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)
	cp := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 1, 1, nil)

	status, err := svc.Status(ctx, owner, v.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.VideoID != v.ID {
		t.Fatalf("Status: wrong video id")
	}
	if status.Current == nil || status.Current.ID != cp.ID {
		t.Fatalf("Status: expected pending checkpoint %v, got %v", cp.ID, status.Current)
	}
	if len(status.Tree) != 1 || len(status.ActiveBranches) != 1 {
		t.Fatalf("Status: tree=%d branches=%d", len(status.Tree), len(status.ActiveBranches))
	}
	if status.ActiveBranches[0].BranchName != "main" {
		t.Fatalf("Status: branch %q", status.ActiveBranches[0].BranchName)
	}
}

func TestEditEstimateCostOnly(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, _, _ := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)
	seedPhase3Output(t, tx, v, "kling", 4)

	idx := 2
	resp, err := svc.Edit(ctx, owner, v.ID, EditRequest{
		EstimateCostOnly: true,
		Actions: []editor.Action{{
			Kind:       editor.ActionReplace,
			ChunkIndex: &idx,
		}},
	})
	if err != nil {
		t.Fatalf("Edit estimate: %v", err)
	}
	if resp.Estimate == nil {
		t.Fatalf("expected a cost estimate")
	}
	if resp.Estimate.PerChunk != 0.35 || resp.Estimate.Total != 0.35 {
		t.Fatalf("estimate: got %+v", resp.Estimate)
	}
}

func TestChunkVersionListReadsArtifactRows(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, _, _ := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)
	cp := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 3, 1, nil)
	seedPhase3OutputWithCheckpoint(t, tx, v, "kling", 4, cp.ID)
	testutil.SeedArtifact(t, ctx, tx, cp.ID, types.ArtifactTypeVideoChunk, "chunk_2", "blob://chunk2-v1", 1)
	testutil.SeedArtifact(t, ctx, tx, cp.ID, types.ArtifactTypeVideoChunk, "chunk_2", "blob://chunk2-v2", 2)

	versions, err := svc.ChunkVersionList(ctx, owner, v.ID, 2)
	if err != nil {
		t.Fatalf("ChunkVersionList: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("want 2 versions, got %d", len(versions))
	}
	if versions[0].VersionID != "original" || versions[0].Version != 1 {
		t.Fatalf("first entry: got %+v", versions[0])
	}
	if versions[1].VersionID != "replacement_1" || versions[1].Version != 2 {
		t.Fatalf("second entry: got %+v", versions[1])
	}
	// No version book yet: original counts as selected.
	if !versions[0].Selected || versions[1].Selected {
		t.Fatalf("selection: got %+v", versions)
	}

	if _, err := svc.ChunkVersionList(ctx, owner, v.ID, 99); apierr.Kind(err) != "not_found" {
		t.Fatalf("out-of-range chunk: expected not_found, got %v", err)
	}
}

func TestChunkSplitInfoAndEditingStatusDefaults(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, _, _ := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)
	seedPhase3Output(t, tx, v, "kling", 3)

	info, err := svc.ChunkSplitInfo(ctx, owner, v.ID, 1)
	if err != nil {
		t.Fatalf("ChunkSplitInfo: %v", err)
	}
	if info.IsSplitPart {
		t.Fatalf("unsplit chunk should not report as a split part")
	}

	status, err := svc.EditingStatus(ctx, owner, v.ID)
	if err != nil {
		t.Fatalf("EditingStatus: %v", err)
	}
	if status.Status != "not_started" {
		t.Fatalf("status: want not_started, got %q", status.Status)
	}
	if len(status.ChunkURLs) != 3 {
		t.Fatalf("chunk urls: want 3, got %d", len(status.ChunkURLs))
	}
}

func TestEditRejectedWhileRunning(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc, _, _ := newTestService(t, tx)
	ctx := context.Background()
	owner := uuid.New()

	v := testutil.SeedVideo(t, ctx, tx, owner)
	seedPhase3Output(t, tx, v, "kling", 4)
	if err := tx.Model(&types.Video{}).Where("id = ?", v.ID).
		Update("status", types.VideoRunningStatus(3)).Error; err != nil {
		t.Fatalf("set running: %v", err)
	}

	idx := 0
	_, err := svc.Edit(ctx, owner, v.ID, EditRequest{
		Actions: []editor.Action{{Kind: editor.ActionReplace, ChunkIndex: &idx}},
	})
	if apierr.Kind(err) != "validation" {
		t.Fatalf("expected validation rejection while running, got %v", err)
	}
	if !errors.Is(err, apierr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument chain, got %v", err)
	}
}
