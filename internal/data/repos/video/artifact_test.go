package video

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/avarra/reelforge/internal/data/repos/testutil"
	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/platform/dbctx"
)

func TestArtifactRepoVersionRows(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewArtifactRepo(db, testutil.Logger(t))

	owner := uuid.New()
	v := testutil.SeedVideo(t, ctx, tx, owner)
	cp := testutil.SeedCheckpoint(t, ctx, tx, v.ID, owner, "main", 3, 1, nil)

	// chunk_0 v1, then a replacement v2 linked to v1.
	v1 := &types.Artifact{
		ID:           uuid.New(),
		CheckpointID: cp.ID,
		Type:         types.ArtifactTypeVideoChunk,
		Key:          "chunk_0",
		BlobURL:      "blob://chunk0-v1",
		BlobKey:      "o/videos/v/chunk_00.mp4",
		Version:      1,
		Metadata:     datatypes.JSON([]byte(`{"anchor": true}`)),
	}
	if err := repo.Create(dbc, v1); err != nil {
		t.Fatalf("Create v1: %v", err)
	}
	v2 := &types.Artifact{
		ID:               uuid.New(),
		CheckpointID:     cp.ID,
		Type:             types.ArtifactTypeVideoChunk,
		Key:              "chunk_0",
		BlobURL:          "blob://chunk0-v2",
		BlobKey:          "o/videos/v/chunk_00_r1.mp4",
		Version:          2,
		ParentArtifactID: &v1.ID,
		Metadata:         datatypes.JSON([]byte(`{"source": "editor_replace"}`)),
	}
	if err := repo.Create(dbc, v2); err != nil {
		t.Fatalf("Create v2: %v", err)
	}
	other := &types.Artifact{
		ID:           uuid.New(),
		CheckpointID: cp.ID,
		Type:         types.ArtifactTypeVideoChunk,
		Key:          "chunk_1",
		BlobURL:      "blob://chunk1-v1",
		BlobKey:      "o/videos/v/chunk_01.mp4",
		Version:      1,
	}
	if err := repo.Create(dbc, other); err != nil {
		t.Fatalf("Create chunk_1: %v", err)
	}

	// ListVersions returns every version in ascending order.
	versions, err := repo.ListVersions(dbc, cp.ID, types.ArtifactTypeVideoChunk, "chunk_0")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
		t.Fatalf("ListVersions: want [v1 v2], got %v", versions)
	}
	if versions[1].ParentArtifactID == nil || *versions[1].ParentArtifactID != v1.ID {
		t.Fatalf("ListVersions: v2 should link to v1")
	}

	// LatestVersion picks the max-version row.
	latest, err := repo.LatestVersion(dbc, cp.ID, types.ArtifactTypeVideoChunk, "chunk_0")
	if err != nil || latest == nil || latest.ID != v2.ID {
		t.Fatalf("LatestVersion: err=%v got=%v", err, latest)
	}

	// Unknown key returns nil without error.
	missing, err := repo.LatestVersion(dbc, cp.ID, types.ArtifactTypeVideoChunk, "chunk_9")
	if err != nil || missing != nil {
		t.Fatalf("LatestVersion (missing): err=%v got=%v", err, missing)
	}

	// LatestPerKey: newest row per distinct key.
	perKey, err := repo.LatestPerKey(dbc, cp.ID, types.ArtifactTypeVideoChunk)
	if err != nil {
		t.Fatalf("LatestPerKey: %v", err)
	}
	if len(perKey) != 2 {
		t.Fatalf("LatestPerKey: want 2 rows, got %d", len(perKey))
	}
	byKey := map[string]*types.Artifact{}
	for _, a := range perKey {
		byKey[a.Key] = a
	}
	if byKey["chunk_0"] == nil || byKey["chunk_0"].Version != 2 {
		t.Fatalf("LatestPerKey: chunk_0 should be v2, got %v", byKey["chunk_0"])
	}
	if byKey["chunk_1"] == nil || byKey["chunk_1"].Version != 1 {
		t.Fatalf("LatestPerKey: chunk_1 should be v1, got %v", byKey["chunk_1"])
	}

	// ListByCheckpoint returns all rows, all versions included.
	all, err := repo.ListByCheckpoint(dbc, cp.ID)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListByCheckpoint: err=%v len=%d", err, len(all))
	}
}
