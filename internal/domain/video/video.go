package video

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status values for Video.Status. A video walks these linearly except for
// the paused/running oscillation across phases 1-4 and the editing
// side-step between phase 3 and phase 4.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running_phase_%d"
	StatusPaused   = "paused_at_phase_%d"
	StatusEditing  = "editing"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Video is the top-level record for one user-submitted generation request.
// It is mutated by phase runners and the editor; the core never deletes it.
type Video struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Prompt         string         `gorm:"column:prompt;type:text;not null" json:"prompt"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	CurrentPhase   int            `gorm:"column:current_phase;not null;default:0" json:"current_phase"`
	Progress       int            `gorm:"column:progress;not null;default:0" json:"progress"`
	AutoContinue   bool           `gorm:"column:auto_continue;not null;default:false" json:"auto_continue"`
	Cost           float64        `gorm:"column:cost;not null;default:0" json:"cost"`
	ErrorMessage   string         `gorm:"column:error_message" json:"error_message,omitempty"`
	ChunkURLs      datatypes.JSON `gorm:"column:chunk_urls;type:jsonb" json:"chunk_urls,omitempty"`
	StitchedURL    string         `gorm:"column:stitched_url" json:"stitched_url,omitempty"`
	FinalVideoURL  string         `gorm:"column:final_video_url" json:"final_video_url,omitempty"`
	FinalMusicURL  string         `gorm:"column:final_music_url" json:"final_music_url,omitempty"`
	Spec           datatypes.JSON `gorm:"column:spec;type:jsonb" json:"spec,omitempty"`
	PhaseOutputs   datatypes.JSON `gorm:"column:phase_outputs;type:jsonb" json:"phase_outputs,omitempty"`
	Assets         datatypes.JSON `gorm:"column:assets;type:jsonb" json:"assets,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Video) TableName() string { return "videos" }

// RunningStatus and PausedStatus format the phase-numbered status values;
// every caller that transitions a Video through a phase goes through
// these instead of calling fmt.Sprintf inline.
func RunningStatus(phase int) string { return fmt.Sprintf(StatusRunning, phase) }
func PausedStatus(phase int) string  { return fmt.Sprintf(StatusPaused, phase) }

// Checkpoint is one node of the per-video DAG: a snapshot of a phase's
// output, pending until approved either by the user or by auto_continue.
type Checkpoint struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	VideoID            uuid.UUID      `gorm:"type:uuid;not null;index:idx_checkpoint_video" json:"video_id"`
	BranchName         string         `gorm:"column:branch_name;not null;index:idx_checkpoint_video_branch" json:"branch_name"`
	PhaseNumber        int            `gorm:"column:phase_number;not null;check:phase_number BETWEEN 1 AND 4" json:"phase_number"`
	Version            int            `gorm:"column:version;not null" json:"version"`
	ParentCheckpointID *uuid.UUID     `gorm:"type:uuid;column:parent_checkpoint_id;index" json:"parent_checkpoint_id,omitempty"`
	Status             string         `gorm:"column:status;not null;index" json:"status"` // pending | approved
	OwnerUserID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Cost               float64        `gorm:"column:cost;not null;default:0" json:"cost"`
	EditDescription    string         `gorm:"column:edit_description" json:"edit_description,omitempty"`
	PhaseOutput        datatypes.JSON `gorm:"column:phase_output;type:jsonb" json:"phase_output,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	ApprovedAt         *time.Time     `gorm:"column:approved_at" json:"approved_at,omitempty"`
}

func (Checkpoint) TableName() string { return "checkpoints" }

const (
	CheckpointStatusPending  = "pending"
	CheckpointStatusApproved = "approved"
)

// Artifact types understood by ArtifactStore. Key stability within a type
// is defined by spec: "spec", "beat_<i>", "chunk_<i>", "music", "final".
const (
	ArtifactTypeSpec       = "spec"
	ArtifactTypeBeatImage  = "beat_image"
	ArtifactTypeVideoChunk = "video_chunk"
	ArtifactTypeMusic      = "music"
	ArtifactTypeFinalVideo = "final_video"
)

// Artifact is one versioned blob reference attached to a checkpoint. Every
// version of an artifact is its own row: UNIQUE(checkpoint_id, type, key,
// version). Nothing is ever updated in place; history stays queryable.
type Artifact struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CheckpointID     uuid.UUID      `gorm:"type:uuid;not null;index:idx_artifact_checkpoint" json:"checkpoint_id"`
	Type             string         `gorm:"column:type;not null;index:idx_artifact_type" json:"type"`
	Key              string         `gorm:"column:key;not null" json:"key"`
	BlobURL          string         `gorm:"column:blob_url;not null" json:"blob_url"`
	BlobKey          string         `gorm:"column:blob_key;not null" json:"blob_key"`
	Version          int            `gorm:"column:version;not null" json:"version"`
	ParentArtifactID *uuid.UUID     `gorm:"type:uuid;column:parent_artifact_id;index:idx_artifact_parent" json:"parent_artifact_id,omitempty"`
	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	Size             int64          `gorm:"column:size" json:"size,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (Artifact) TableName() string { return "artifacts" }
