package video

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avarra/reelforge/internal/data/repos/testutil"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/platform/dbctx"
)

func TestCheckpointRepoBranchingAndQueries(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewCheckpointRepo(db, testutil.Logger(t))

	owner := uuid.New()
	v := testutil.SeedVideo(t, ctx, tx, owner)

	// main: phase 1 -> phase 2; main-1 forked off cp1.
	cp1 := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 1, 1, nil)
	cp2 := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 2, 1, testutil.PtrUUID(cp1.ID))
	cp3 := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main-1", 2, 1, testutil.PtrUUID(cp1.ID))

	// Get / ListByVideo
	got, err := repo.Get(dbc, cp1.ID)
	if err != nil || got == nil || got.ID != cp1.ID {
		t.Fatalf("Get: err=%v got=%v", err, got)
	}
	all, err := repo.ListByVideo(dbc, v.ID, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListByVideo: err=%v len=%d", err, len(all))
	}
	mainOnly, err := repo.ListByVideo(dbc, v.ID, "main")
	if err != nil || len(mainOnly) != 2 {
		t.Fatalf("ListByVideo(main): err=%v len=%d", err, len(mainOnly))
	}

	// NextVersion is max+1 within (video, branch, phase).
	if next, err := repo.NextVersion(dbc, v.ID, "main", 2); err != nil || next != 2 {
		t.Fatalf("NextVersion(main, 2): err=%v next=%d", err, next)
	}
	if next, err := repo.NextVersion(dbc, v.ID, "main", 3); err != nil || next != 1 {
		t.Fatalf("NextVersion(main, 3): err=%v next=%d", err, next)
	}

	// NewBranch: first fork of main-1 is main-1-1; forks of main skip
	// the taken -1 suffix.
	branch, err := repo.NewBranch(dbc, v.ID, cp3.ID)
	if err != nil || branch != "main-1-1" {
		t.Fatalf("NewBranch(main-1): err=%v branch=%q", err, branch)
	}
	branch, err = repo.NewBranch(dbc, v.ID, cp1.ID)
	if err != nil || branch != "main-2" {
		t.Fatalf("NewBranch(main): err=%v branch=%q", err, branch)
	}

	// Leaves: cp2 and cp3 have no children.
	leaves, err := repo.GetLeaves(dbc, v.ID)
	if err != nil {
		t.Fatalf("GetLeaves: %v", err)
	}
	leafIDs := map[uuid.UUID]bool{}
	for _, l := range leaves {
		leafIDs[l.ID] = true
	}
	if len(leaves) != 2 || !leafIDs[cp2.ID] || !leafIDs[cp3.ID] {
		t.Fatalf("GetLeaves: want {cp2, cp3}, got %v", leaves)
	}

	// Tree folds parent links into nested nodes.
	roots, err := repo.Tree(dbc, v.ID)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(roots) != 1 || roots[0].Checkpoint.ID != cp1.ID {
		t.Fatalf("Tree: want single root cp1, got %v", roots)
	}
	if len(roots[0].Children) != 2 {
		t.Fatalf("Tree: cp1 should have 2 children, got %d", len(roots[0].Children))
	}

	// Approve is idempotent.
	if err := repo.Approve(dbc, cp1.ID); err != nil {
		t.Fatalf("Approve #1: %v", err)
	}
	first, err := repo.Get(dbc, cp1.ID)
	if err != nil || first.Status != types.CheckpointStatusApproved || first.ApprovedAt == nil {
		t.Fatalf("Approve: status=%q approved_at=%v err=%v", first.Status, first.ApprovedAt, err)
	}
	if err := repo.Approve(dbc, cp1.ID); err != nil {
		t.Fatalf("Approve #2: %v", err)
	}
	second, err := repo.Get(dbc, cp1.ID)
	if err != nil || second.Status != types.CheckpointStatusApproved {
		t.Fatalf("Approve #2: status=%q err=%v", second.Status, err)
	}

	// GetCurrentPending skips approved checkpoints.
	pending, err := repo.GetCurrentPending(dbc, v.ID)
	if err != nil || pending == nil {
		t.Fatalf("GetCurrentPending: err=%v pending=%v", err, pending)
	}
	if pending.ID == cp1.ID {
		t.Fatalf("GetCurrentPending returned an approved checkpoint")
	}

	// HasEdits flips when any artifact exceeds version 1.
	testutil.SeedArtifact(t, ctx, tx, cp2.ID, types.ArtifactTypeSpec, "spec", "blob://spec-v1", 1)
	edited, err := repo.HasEdits(dbc, cp2.ID)
	if err != nil || edited {
		t.Fatalf("HasEdits (v1 only): err=%v edited=%v", err, edited)
	}
	testutil.SeedArtifact(t, ctx, tx, cp2.ID, types.ArtifactTypeSpec, "spec", "blob://spec-v2", 2)
	edited, err = repo.HasEdits(dbc, cp2.ID)
	if err != nil || !edited {
		t.Fatalf("HasEdits (v2 present): err=%v edited=%v", err, edited)
	}
}

func TestCheckpointRepoGetCurrentOrdersByProgress(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewCheckpointRepo(db, testutil.Logger(t))

	owner := uuid.New()
	v := testutil.SeedVideo(t, ctx, tx, owner)

	cp1 := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 1, 1, nil)
	cp2 := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 2, 1, testutil.PtrUUID(cp1.ID))
	time.Sleep(5 * time.Millisecond)
	cp2v2 := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 2, 2, testutil.PtrUUID(cp1.ID))

	current, err := repo.GetCurrent(dbc, v.ID, "main")
	if err != nil || current == nil {
		t.Fatalf("GetCurrent: err=%v current=%v", err, current)
	}
	if current.ID != cp2v2.ID {
		t.Fatalf("GetCurrent: want %v (highest phase+version), got %v", cp2v2.ID, current.ID)
	}
	_ = cp2
}
