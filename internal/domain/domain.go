package domain

import (
	"github.com/avarra/reelforge/internal/domain/jobs"
	"github.com/avarra/reelforge/internal/domain/video"
)

type JobRun = jobs.JobRun
type JobRunEvent = jobs.JobRunEvent

type Video = video.Video
type Checkpoint = video.Checkpoint
type Artifact = video.Artifact

type ChunkSpec = video.ChunkSpec
type BeatToChunkMap = video.BeatToChunkMap
type SplitRecord = video.SplitRecord
type PlanSpec = video.PlanSpec
type Beat = video.Beat

type ChunkBlob = video.ChunkBlob
type Phase1Output = video.Phase1Output
type Phase2Output = video.Phase2Output
type Phase3Output = video.Phase3Output
type Phase4Output = video.Phase4Output
type Phase6Output = video.Phase6Output
type ChunkVersions = video.ChunkVersions
type ChunkVersionRef = video.ChunkVersionRef

const (
	VideoStatusQueued   = video.StatusQueued
	VideoStatusEditing  = video.StatusEditing
	VideoStatusComplete = video.StatusComplete
	VideoStatusFailed   = video.StatusFailed

	PhaseOutputPlan       = video.PhaseOutputPlan
	PhaseOutputStoryboard = video.PhaseOutputStoryboard
	PhaseOutputChunks     = video.PhaseOutputChunks
	PhaseOutputRefine     = video.PhaseOutputRefine
	PhaseOutputEditing    = video.PhaseOutputEditing

	CheckpointStatusPending  = video.CheckpointStatusPending
	CheckpointStatusApproved = video.CheckpointStatusApproved

	ArtifactTypeSpec       = video.ArtifactTypeSpec
	ArtifactTypeBeatImage  = video.ArtifactTypeBeatImage
	ArtifactTypeVideoChunk = video.ArtifactTypeVideoChunk
	ArtifactTypeMusic      = video.ArtifactTypeMusic
	ArtifactTypeFinalVideo = video.ArtifactTypeFinalVideo
)

var (
	VideoRunningStatus = video.RunningStatus
	VideoPausedStatus  = video.PausedStatus
	ChunkVersionKey    = video.ChunkVersionKey
)
