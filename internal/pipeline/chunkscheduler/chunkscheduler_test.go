package chunkscheduler

import (
	"strings"
	"testing"

	types "github.com/avarra/reelforge/internal/domain"
	"github.com/avarra/reelforge/internal/platform/modelconfig"
)

func model8s() modelconfig.VideoModel {
	return modelconfig.VideoModel{ID: "veo_fast", ActualOutputSeconds: 8, CostPerGeneration: 0.40, NativeAudio: true, DefaultFPS: 24}
}

func model5s() modelconfig.VideoModel {
	return modelconfig.VideoModel{ID: "kling", ActualOutputSeconds: 5, CostPerGeneration: 0.35, DefaultFPS: 24}
}

func planSpec(duration float64, beatStarts []float64, beatDurations []float64) types.PlanSpec {
	spec := types.PlanSpec{Duration: duration, FPS: 24, Model: "veo_fast"}
	for i := range beatStarts {
		spec.Beats = append(spec.Beats, types.Beat{
			ID:             "beat",
			Start:          beatStarts[i],
			Duration:       beatDurations[i],
			PromptTemplate: "a shot",
			ShotType:       "wide",
		})
	}
	return spec
}

func TestPlanWithModelHappyPath(t *testing.T) {
	// 30s at 8s chunks, 6s spacing: ceil(30/8) = 4 chunks.
	spec := planSpec(30, []float64{0, 12, 24}, []float64{12, 12, 6})

	plan, err := PlanWithModel(spec, model8s())
	if err != nil {
		t.Fatalf("PlanWithModel: %v", err)
	}
	if plan.ChunkCount != 4 {
		t.Fatalf("chunk count: want 4, got %d", plan.ChunkCount)
	}
	if plan.ChunkSpacing != 6 {
		t.Fatalf("chunk spacing: want 6, got %v", plan.ChunkSpacing)
	}

	// Beats at 0, 12, 24 land exactly on chunk starts 0, 2, 4; chunk 4
	// does not exist (count is 4), so anchors are chunks 0 and 2.
	if beat, ok := plan.BeatMap[0]; !ok || beat != 0 {
		t.Fatalf("chunk 0 should anchor beat 0, got %v (ok=%v)", beat, ok)
	}
	if beat, ok := plan.BeatMap[2]; !ok || beat != 1 {
		t.Fatalf("chunk 2 should anchor beat 1, got %v (ok=%v)", beat, ok)
	}

	if len(plan.Chunks) != 4 {
		t.Fatalf("chunk specs: want 4, got %d", len(plan.Chunks))
	}
	// Each chunk's beat is the one whose window contains its start time:
	// chunk 1 starts at 6s (beat 0, [0,12)), chunk 3 at 18s (beat 1, [12,24)).
	if plan.Chunks[1].BeatIndex != 0 {
		t.Fatalf("chunk 1 should belong to beat 0, got %d", plan.Chunks[1].BeatIndex)
	}
	if plan.Chunks[3].BeatIndex != 1 {
		t.Fatalf("chunk 3 should belong to beat 1, got %d", plan.Chunks[3].BeatIndex)
	}
}

// A beat can miss the anchor alignment tolerance yet still temporally
// own a later chunk's start; that chunk is a continuation but its
// prompt must come from the owning beat, not the last anchor's.
func TestPlanWithModelContainmentBeatsNotAnchorBeats(t *testing.T) {
	// kling: 5s chunks, 3.75s spacing. 15s total -> chunks at 0, 3.75, 7.5.
	// Beat 1 starts at 5.0s: 1.25s from the nearest chunk start, so it
	// never anchors — but its [5,10) window contains chunk 2's start.
	spec := planSpec(15, []float64{0, 5, 10}, []float64{5, 5, 5})

	plan, err := PlanWithModel(spec, model5s())
	if err != nil {
		t.Fatalf("PlanWithModel: %v", err)
	}
	if len(plan.BeatMap) != 1 {
		t.Fatalf("only beat 0 should anchor, got map %v", plan.BeatMap)
	}
	if plan.Chunks[1].BeatIndex != 0 {
		t.Fatalf("chunk 1 (3.75s) should belong to beat 0, got %d", plan.Chunks[1].BeatIndex)
	}
	if plan.Chunks[2].BeatIndex != 1 {
		t.Fatalf("chunk 2 (7.5s) should belong to beat 1, got %d", plan.Chunks[2].BeatIndex)
	}
}

func TestBeatForChunkStartClampsPastEnd(t *testing.T) {
	beats := planSpec(10, []float64{0, 5}, []float64{5, 5}).Beats
	if got := beatForChunkStart(beats, 2.0); got != 0 {
		t.Fatalf("2.0s: want beat 0, got %d", got)
	}
	if got := beatForChunkStart(beats, 5.0); got != 1 {
		t.Fatalf("5.0s: want beat 1, got %d", got)
	}
	// Start past the last beat clamps to the final beat.
	if got := beatForChunkStart(beats, 11.0); got != 1 {
		t.Fatalf("11.0s: want beat 1, got %d", got)
	}
}

func TestPlanWithModelChunkZeroMustAnchor(t *testing.T) {
	// First beat starts at 2.0s: outside the 0.5s alignment tolerance of
	// chunk 0, so no anchor exists at index 0.
	spec := planSpec(10, []float64{2.0, 6.0}, []float64{4, 4})

	_, err := PlanWithModel(spec, model5s())
	if err == nil {
		t.Fatalf("expected integrity failure for non-anchor chunk 0")
	}
	if !strings.Contains(err.Error(), "orphan continuation") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlanWithModelTieBreakEarliestBeat(t *testing.T) {
	// Two beats both within tolerance of chunk 0's start: the earlier
	// beat keeps the claim.
	spec := planSpec(10, []float64{0, 0.3}, []float64{5, 5})

	plan, err := PlanWithModel(spec, model5s())
	if err != nil {
		t.Fatalf("PlanWithModel: %v", err)
	}
	if beat := plan.BeatMap[0]; beat != 0 {
		t.Fatalf("tie-break: chunk 0 should map to beat 0, got %d", beat)
	}
}

func TestPlanWithModelSpacingAppliesOverlap(t *testing.T) {
	cfg := model8s()
	if got := cfg.ChunkSpacing(); got != 6 {
		t.Fatalf("ChunkSpacing: want 6 (8s * 0.75), got %v", got)
	}
}

func TestValidateOrderingDetectsGaps(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, ChunkBlobURL: "u0"},
		{Index: 2, ChunkBlobURL: "u2"},
		{Index: 1}, // never produced
	}
	err := validateOrdering(results)
	if err == nil {
		t.Fatalf("expected missing-index failure")
	}
	if !strings.Contains(err.Error(), "missing chunk index 1") {
		t.Fatalf("unexpected error: %v", err)
	}

	complete := []ChunkResult{
		{Index: 1, ChunkBlobURL: "u1"},
		{Index: 0, ChunkBlobURL: "u0"},
	}
	if err := validateOrdering(complete); err != nil {
		t.Fatalf("complete set should validate: %v", err)
	}
}

func TestNearestPriorAnchorIndex(t *testing.T) {
	anchors := []int{0, 2, 5}
	cases := []struct{ chunk, want int }{
		{1, 0},
		{2, 2},
		{3, 2},
		{4, 2},
		{6, 5},
	}
	for _, tc := range cases {
		if got := nearestPriorAnchorIndex(anchors, tc.chunk); got != tc.want {
			t.Fatalf("chunk %d: want anchor %d, got %d", tc.chunk, tc.want, got)
		}
	}
}

func TestAnchorIndicesSorted(t *testing.T) {
	m := types.BeatToChunkMap{5: 2, 0: 0, 2: 1}
	got := m.AnchorIndices()
	want := []int{0, 2, 5}
	if len(got) != len(want) {
		t.Fatalf("anchor indices: want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("anchor indices: want %v, got %v", want, got)
		}
	}
}
