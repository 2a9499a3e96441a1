package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avarra/reelforge/internal/data/repos"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/pipeline/phaseio"
	"github.com/avarra/reelforge/internal/platform/dbctx"
)

// StatusResponse is the composite view GET /video/{id} serves: live
// progress (cache first, Video row fallback), presigned artifact URLs,
// the pending checkpoint, the checkpoint tree, and the active branch
// tips.
type StatusResponse struct {
	VideoID        uuid.UUID         `json:"video_id"`
	Status         string            `json:"status"`
	CurrentPhase   int               `json:"current_phase"`
	Progress       int               `json:"progress"`
	AutoContinue   bool              `json:"auto_continue"`
	TotalCost      float64           `json:"total_cost"`
	Error          string            `json:"error,omitempty"`
	Prompt         string            `json:"prompt"`
	ArtifactURLs   ArtifactURLs      `json:"artifact_urls"`
	Current        *types.Checkpoint `json:"current_checkpoint,omitempty"`
	Tree           []*TreeNode       `json:"checkpoint_tree"`
	ActiveBranches []BranchInfo      `json:"active_branches"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// ArtifactURLs bundles the read links for the video's latest blobs.
// Chunk, stitched, final-video and music links are presigned through the
// progress channel's URL cache so polling clients don't re-sign every
// second. Storyboard URLs are the beats' stored image URLs and are not
// presigned.
type ArtifactURLs struct {
	StoryboardURLs []string `json:"storyboard_urls,omitempty"`
	ChunkURLs      []string `json:"chunk_urls,omitempty"`
	StitchedURL    string   `json:"stitched_url,omitempty"`
	FinalVideoURL  string   `json:"final_video_url,omitempty"`
	MusicURL       string   `json:"music_url,omitempty"`
}

// TreeNode is the JSON shape of one checkpoint-tree node.
type TreeNode struct {
	Checkpoint *types.Checkpoint `json:"checkpoint"`
	Children   []*TreeNode       `json:"children"`
}

// BranchInfo describes one active branch: a leaf checkpoint with no
// children, i.e. an explorable frontier of the DAG.
type BranchInfo struct {
	BranchName   string    `json:"branch_name"`
	CheckpointID uuid.UUID `json:"checkpoint_id"`
	PhaseNumber  int       `json:"phase_number"`
	Version      int       `json:"version"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Status assembles the composite status view.
func (s *Service) Status(ctx context.Context, ownerID, videoID uuid.UUID) (*StatusResponse, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}

	resp := &StatusResponse{
		VideoID:      v.ID,
		Status:       v.Status,
		CurrentPhase: v.CurrentPhase,
		Progress:     v.Progress,
		AutoContinue: v.AutoContinue,
		TotalCost:    v.Cost,
		Error:        v.ErrorMessage,
		Prompt:       v.Prompt,
		CreatedAt:    v.CreatedAt,
		CompletedAt:  v.CompletedAt,
	}

	// Live progress beats the row when the cache has it; the row is the
	// durable fallback after a cache restart.
	if snap, ok, err := s.progress.GetSnapshot(ctx, v.ID); err == nil && ok {
		resp.Status = snap.Status
		resp.Progress = snap.Progress
		resp.CurrentPhase = snap.CurrentPhase
		if snap.Error != "" {
			resp.Error = snap.Error
		}
		if snap.TotalCost > 0 {
			resp.TotalCost = snap.TotalCost
		}
	}

	resp.ArtifactURLs = s.artifactURLs(ctx, v)

	if cp, err := s.checkpoints.GetCurrentPending(dbc, v.ID); err == nil && cp != nil {
		resp.Current = cp
	}

	tree, err := s.Tree(ctx, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	resp.Tree = tree

	branches, err := s.Branches(ctx, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	resp.ActiveBranches = branches

	return resp, nil
}

// artifactURLs presigns the video's latest chunk, stitched, final-video
// and music blobs through the URL cache; storyboard URLs are copied from
// the beats unsigned. Presign failures degrade to the raw stored URL
// rather than failing Status.
func (s *Service) artifactURLs(ctx context.Context, v *types.Video) ArtifactURLs {
	var urls ArtifactURLs

	var p2 types.Phase2Output
	if ok, _ := phaseio.Get(v.PhaseOutputs, types.PhaseOutputStoryboard, &p2); ok {
		for i := range p2.Spec.Beats {
			beat := p2.Spec.Beats[i]
			urls.StoryboardURLs = append(urls.StoryboardURLs, beat.ImageURL)
		}
	}

	var p3 types.Phase3Output
	if ok, _ := phaseio.Get(v.PhaseOutputs, types.PhaseOutputChunks, &p3); ok {
		for _, c := range p3.Chunks {
			urls.ChunkURLs = append(urls.ChunkURLs, s.presign(ctx, c.Key, c.URL))
		}
		if p3.StitchedKey != "" {
			urls.StitchedURL = s.presign(ctx, p3.StitchedKey, p3.StitchedURL)
		}
	}

	var p4 types.Phase4Output
	if ok, _ := phaseio.Get(v.PhaseOutputs, types.PhaseOutputRefine, &p4); ok {
		if p4.FinalVideoKey != "" {
			urls.FinalVideoURL = s.presign(ctx, p4.FinalVideoKey, p4.FinalVideoURL)
		}
		if p4.MusicKey != "" {
			urls.MusicURL = s.presign(ctx, p4.MusicKey, p4.MusicURL)
		}
	}

	return urls
}

func (s *Service) presign(ctx context.Context, blobKey, fallback string) string {
	url, err := s.progress.GetOrPresign(ctx, blobKey, func(ctx context.Context) (string, error) {
		return s.io.PresignRead(ctx, blobKey)
	})
	if err != nil || url == "" {
		return fallback
	}
	return url
}

// ListCheckpoints returns a video's checkpoints, optionally narrowed to
// one branch.
func (s *Service) ListCheckpoints(ctx context.Context, ownerID, videoID uuid.UUID, branch string) ([]*types.Checkpoint, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	return s.checkpoints.ListByVideo(dbc, v.ID, branch)
}

// CurrentCheckpoint returns the pending checkpoint the pipeline is
// paused on, or nil when nothing is pending.
func (s *Service) CurrentCheckpoint(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Checkpoint, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	return s.checkpoints.GetCurrentPending(dbc, v.ID)
}

// CheckpointDetail is a checkpoint plus every artifact row attached to
// it, all versions included.
type CheckpointDetail struct {
	Checkpoint *types.Checkpoint `json:"checkpoint"`
	Artifacts  []*types.Artifact `json:"artifacts"`
}

func (s *Service) GetCheckpoint(ctx context.Context, ownerID, videoID, checkpointID uuid.UUID) (*CheckpointDetail, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	cp, err := s.ownedCheckpoint(dbc, v, checkpointID)
	if err != nil {
		return nil, err
	}
	arts, err := s.artifacts.ListByCheckpoint(dbc, cp.ID)
	if err != nil {
		return nil, err
	}
	return &CheckpointDetail{Checkpoint: cp, Artifacts: arts}, nil
}

// Tree materialises the checkpoint DAG as nested nodes.
func (s *Service) Tree(ctx context.Context, ownerID, videoID uuid.UUID) ([]*TreeNode, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	roots, err := s.checkpoints.Tree(dbc, v.ID)
	if err != nil {
		return nil, err
	}
	return foldTree(roots), nil
}

func foldTree(nodes []*repos.CheckpointNode) []*TreeNode {
	out := make([]*TreeNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &TreeNode{
			Checkpoint: n.Checkpoint,
			Children:   foldTree(n.Children),
		})
	}
	return out
}

// Branches lists the leaf checkpoints — every active branch tip.
func (s *Service) Branches(ctx context.Context, ownerID, videoID uuid.UUID) ([]BranchInfo, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	leaves, err := s.checkpoints.GetLeaves(dbc, v.ID)
	if err != nil {
		return nil, err
	}
	out := make([]BranchInfo, 0, len(leaves))
	for _, cp := range leaves {
		out = append(out, BranchInfo{
			BranchName:   cp.BranchName,
			CheckpointID: cp.ID,
			PhaseNumber:  cp.PhaseNumber,
			Version:      cp.Version,
			Status:       cp.Status,
			CreatedAt:    cp.CreatedAt,
		})
	}
	return out, nil
}

// LatestJob mirrors the most recent phase/edit job for a video so
// clients can see worker-level state without a separate job API.
func (s *Service) LatestJob(ctx context.Context, ownerID, videoID uuid.UUID) (*types.JobRun, error) {
	dbc := dbctx.Context{Ctx: ctx}
	v, err := s.ownedVideo(dbc, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	return s.jobs.GetLatestByEntity(dbc, ownerID, "video", v.ID, "")
}
