package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/avarra/reelforge/internal/http/response"
	"github.com/avarra/reelforge/internal/orchestrator"
	"github.com/avarra/reelforge/internal/platform/apierr"
	"github.com/avarra/reelforge/internal/platform/ctxutil"
	"github.com/avarra/reelforge/internal/platform/logger"
)

// VideoHandler exposes the pipeline's HTTP surface. All business
// decisions live in the orchestrator; handlers only bind, gate on the
// authenticated owner, and translate errors to status codes.
type VideoHandler struct {
	log *logger.Logger
	svc *orchestrator.Service
}

func NewVideoHandler(log *logger.Logger, svc *orchestrator.Service) *VideoHandler {
	return &VideoHandler{log: log.With("handler", "VideoHandler"), svc: svc}
}

func (h *VideoHandler) owner(c *gin.Context) (uuid.UUID, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("missing authenticated user"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func (h *VideoHandler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func (h *VideoHandler) pathInt(c *gin.Context, name string) (int, bool) {
	i, err := strconv.Atoi(c.Param(name))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("invalid %s", name))
		return 0, false
	}
	return i, true
}

func (h *VideoHandler) fail(c *gin.Context, err error) {
	response.RespondError(c, apierr.StatusFor(err), apierr.Kind(err), err)
}

// Generate handles POST /video.
func (h *VideoHandler) Generate(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	var req orchestrator.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	videoID, err := h.svc.Generate(c.Request.Context(), ownerID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"video_id": videoID})
}

// Status handles GET /video/:video_id.
func (h *VideoHandler) Status(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	status, err := h.svc.Status(c.Request.Context(), ownerID, videoID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, status)
}

// ListCheckpoints handles GET /video/:video_id/checkpoints?branch=.
func (h *VideoHandler) ListCheckpoints(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	cps, err := h.svc.ListCheckpoints(c.Request.Context(), ownerID, videoID, c.Query("branch"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, cps)
}

// CurrentCheckpoint handles GET /video/:video_id/checkpoints/current.
func (h *VideoHandler) CurrentCheckpoint(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	cp, err := h.svc.CurrentCheckpoint(c.Request.Context(), ownerID, videoID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if cp == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no pending checkpoint"))
		return
	}
	response.RespondOK(c, cp)
}

// GetCheckpoint handles GET /video/:video_id/checkpoints/:checkpoint_id.
func (h *VideoHandler) GetCheckpoint(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	checkpointID, ok := h.pathUUID(c, "checkpoint_id")
	if !ok {
		return
	}
	detail, err := h.svc.GetCheckpoint(c.Request.Context(), ownerID, videoID, checkpointID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// Tree handles GET /video/:video_id/checkpoint-tree.
func (h *VideoHandler) Tree(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	tree, err := h.svc.Tree(c.Request.Context(), ownerID, videoID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, tree)
}

// Branches handles GET /video/:video_id/branches.
func (h *VideoHandler) Branches(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	branches, err := h.svc.Branches(c.Request.Context(), ownerID, videoID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, branches)
}

type continueRequest struct {
	CheckpointID uuid.UUID `json:"checkpoint_id" binding:"required"`
}

// Continue handles POST /video/:video_id/continue.
func (h *VideoHandler) Continue(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := h.svc.Continue(c.Request.Context(), ownerID, videoID, req.CheckpointID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, result)
}

// PatchSpec handles PATCH /video/:video_id/checkpoints/:checkpoint_id/spec.
func (h *VideoHandler) PatchSpec(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	checkpointID, ok := h.pathUUID(c, "checkpoint_id")
	if !ok {
		return
	}
	var patch orchestrator.SpecPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := h.svc.PatchSpec(c.Request.Context(), ownerID, videoID, checkpointID, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, result)
}

// UploadImage handles POST .../upload-image (multipart: beat_index, image).
func (h *VideoHandler) UploadImage(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	checkpointID, ok := h.pathUUID(c, "checkpoint_id")
	if !ok {
		return
	}
	beatIndex, err := strconv.Atoi(c.PostForm("beat_index"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("invalid beat_index"))
		return
	}
	fileHeader, err := c.FormFile("image")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("missing image file"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	defer file.Close()

	result, err := h.svc.UploadImage(c.Request.Context(), ownerID, videoID, checkpointID, beatIndex, file)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, result)
}

type regenerateBeatRequest struct {
	BeatIndex      *int   `json:"beat_index" binding:"required"`
	PromptOverride string `json:"prompt_override,omitempty"`
}

// RegenerateBeat handles POST .../regenerate-beat.
func (h *VideoHandler) RegenerateBeat(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	checkpointID, ok := h.pathUUID(c, "checkpoint_id")
	if !ok {
		return
	}
	var req regenerateBeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := h.svc.RegenerateBeat(c.Request.Context(), ownerID, videoID, checkpointID, *req.BeatIndex, req.PromptOverride)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, result)
}

type regenerateChunkRequest struct {
	ChunkIndex    *int   `json:"chunk_index" binding:"required"`
	ModelOverride string `json:"model_override,omitempty"`
}

// RegenerateChunk handles POST .../regenerate-chunk.
func (h *VideoHandler) RegenerateChunk(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	checkpointID, ok := h.pathUUID(c, "checkpoint_id")
	if !ok {
		return
	}
	var req regenerateChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := h.svc.RegenerateChunk(c.Request.Context(), ownerID, videoID, checkpointID, *req.ChunkIndex, req.ModelOverride)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, result)
}

// Edit handles POST /video/:video_id/edit.
func (h *VideoHandler) Edit(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	var req orchestrator.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := h.svc.Edit(c.Request.Context(), ownerID, videoID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, result)
}

// Chunks handles GET /video/:video_id/chunks.
func (h *VideoHandler) Chunks(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	chunks, err := h.svc.Chunks(c.Request.Context(), ownerID, videoID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chunks": chunks})
}

// Chunk handles GET /video/:video_id/chunks/:chunk_index.
func (h *VideoHandler) Chunk(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	chunkIndex, ok := h.pathInt(c, "chunk_index")
	if !ok {
		return
	}
	meta, err := h.svc.Chunk(c.Request.Context(), ownerID, videoID, chunkIndex)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, meta)
}

// ChunkVersions handles GET /video/:video_id/chunks/:chunk_index/versions.
func (h *VideoHandler) ChunkVersions(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	chunkIndex, ok := h.pathInt(c, "chunk_index")
	if !ok {
		return
	}
	versions, err := h.svc.ChunkVersionList(c.Request.Context(), ownerID, videoID, chunkIndex)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, versions)
}

// ChunkSplitInfo handles GET /video/:video_id/chunks/:chunk_index/split-info.
func (h *VideoHandler) ChunkSplitInfo(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	chunkIndex, ok := h.pathInt(c, "chunk_index")
	if !ok {
		return
	}
	info, err := h.svc.ChunkSplitInfo(c.Request.Context(), ownerID, videoID, chunkIndex)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, info)
}

// EditingStatus handles GET /video/:video_id/editing/status.
func (h *VideoHandler) EditingStatus(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	status, err := h.svc.EditingStatus(c.Request.Context(), ownerID, videoID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, status)
}

// ChunkPreview handles GET /video/:video_id/chunks/:chunk_index/preview.
func (h *VideoHandler) ChunkPreview(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	chunkIndex, ok := h.pathInt(c, "chunk_index")
	if !ok {
		return
	}
	url, err := h.svc.ChunkPreview(c.Request.Context(), ownerID, videoID, chunkIndex, c.Query("version"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"preview_url": url})
}

// SelectVersion handles POST /video/:video_id/chunks/:chunk_index/select-version.
func (h *VideoHandler) SelectVersion(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	chunkIndex, ok := h.pathInt(c, "chunk_index")
	if !ok {
		return
	}
	version := c.Query("version")
	if version == "" {
		response.RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("version query parameter is required"))
		return
	}
	if err := h.svc.SelectChunkVersion(c.Request.Context(), ownerID, videoID, chunkIndex, version); err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// LatestJob handles GET /video/:video_id/job — a read-only mirror of
// the most recent worker job for this video.
func (h *VideoHandler) LatestJob(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}
	videoID, ok := h.pathUUID(c, "video_id")
	if !ok {
		return
	}
	job, err := h.svc.LatestJob(c.Request.Context(), ownerID, videoID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if job == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no job for video"))
		return
	}
	response.RespondOK(c, job)
}
