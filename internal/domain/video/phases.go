package video

import (
	"strconv"

	"github.com/google/uuid"
)

// Keys of Video.PhaseOutputs. One entry per phase, plus the editor's
// phase-6 state. The values are the typed outputs below, serialized as
// JSON so older rows keep decoding as fields get added.
const (
	PhaseOutputPlan       = "phase1_plan"
	PhaseOutputStoryboard = "phase2_storyboard"
	PhaseOutputChunks     = "phase3_chunks"
	PhaseOutputRefine     = "phase4_refine"
	PhaseOutputEditing    = "phase6_editing"
)

// ChunkBlob is one chunk's pair of stored blobs: the clip itself and its
// extracted last frame (the init image of the next continuation chunk).
type ChunkBlob struct {
	Index        int     `json:"index"`
	URL          string  `json:"url"`
	Key          string  `json:"key"`
	LastFrameURL string  `json:"last_frame_url,omitempty"`
	LastFrameKey string  `json:"last_frame_key,omitempty"`
	Anchor       bool    `json:"anchor"`
	BeatIndex    int     `json:"beat_index"`
	Duration     float64 `json:"duration,omitempty"`
}

// Phase1Output is the Plan phase's contribution to Video.PhaseOutputs.
type Phase1Output struct {
	CheckpointID uuid.UUID `json:"checkpoint_id"`
	Branch       string    `json:"branch"`
	Spec         PlanSpec  `json:"spec"`
	Cost         float64   `json:"cost"`
	Error        string    `json:"error,omitempty"`
}

// Phase2Output carries the storyboarded spec: every beat now has an
// image_url, which Phase 3 requires.
type Phase2Output struct {
	CheckpointID   uuid.UUID `json:"checkpoint_id"`
	Branch         string    `json:"branch"`
	Spec           PlanSpec  `json:"spec"`
	StoryboardURLs []string  `json:"storyboard_urls"`
	Cost           float64   `json:"cost"`
	Error          string    `json:"error,omitempty"`
}

// Phase3Output records the generated chunk list plus the stitched
// composite. Chunks is ordered by chunk index with no gaps; the editor
// works off this list and writes its own state under PhaseOutputEditing.
type Phase3Output struct {
	CheckpointID uuid.UUID      `json:"checkpoint_id"`
	Branch       string         `json:"branch"`
	Spec         PlanSpec       `json:"spec"`
	ModelID      string         `json:"model_id"`
	ChunkCount   int            `json:"chunk_count"`
	BeatMap      BeatToChunkMap `json:"beat_map"`
	Chunks       []ChunkBlob    `json:"chunks"`
	StitchedURL  string         `json:"stitched_url"`
	StitchedKey  string         `json:"stitched_key"`
	Cost         float64        `json:"cost"`
	Error        string         `json:"error,omitempty"`
}

// Phase4Output is the terminal phase's record: the final draft with
// audio attached (or the bare composite when the model emitted native
// audio) plus timing info for the completion report.
type Phase4Output struct {
	CheckpointID  uuid.UUID `json:"checkpoint_id"`
	Branch        string    `json:"branch"`
	FinalVideoURL string    `json:"final_video_url"`
	FinalVideoKey string    `json:"final_video_key"`
	MusicURL      string    `json:"music_url,omitempty"`
	MusicKey      string    `json:"music_key,omitempty"`
	MusicGenre    string    `json:"music_genre,omitempty"`
	NativeAudio   bool      `json:"native_audio"`
	TotalCost     float64   `json:"total_cost"`
	ElapsedSecs   float64   `json:"elapsed_secs,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// ChunkVersionRef is one selectable version of a chunk inside the
// editor's version book.
type ChunkVersionRef struct {
	URL          string    `json:"url"`
	Key          string    `json:"key"`
	ArtifactID   uuid.UUID `json:"artifact_id,omitempty"`
	ModelID      string    `json:"model_id,omitempty"`
	LastFrameURL string    `json:"last_frame_url,omitempty"`
	LastFrameKey string    `json:"last_frame_key,omitempty"`
}

// ChunkVersions is the per-chunk version book the editor maintains:
// the original, every replacement keyed replacement_1..replacement_n,
// and which one is currently selected.
type ChunkVersions struct {
	Original        ChunkVersionRef            `json:"original"`
	Replacements    map[string]ChunkVersionRef `json:"replacements,omitempty"`
	CurrentSelected string                     `json:"current_selected,omitempty"`
}

// Phase6Output is the editor's non-destructive state: version books per
// chunk and the split history that makes UndoSplit possible.
type Phase6Output struct {
	ChunkVersions map[string]ChunkVersions `json:"chunk_versions,omitempty"`
	SplitHistory  map[string]SplitRecord   `json:"split_history,omitempty"`
}

// ChunkVersionKey formats the chunk_versions/split_history map key for a
// chunk index.
func ChunkVersionKey(i int) string {
	return "chunk_" + strconv.Itoa(i)
}
