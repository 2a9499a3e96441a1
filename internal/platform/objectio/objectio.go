// Package objectio is the video pipeline's narrow view onto object
// storage: it knows the {owner_id}/videos/{video_id}/... layout and
// nothing else. All real I/O is delegated to gcp.BucketService,
// scoped to BucketCategoryVideo.
package objectio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/avarra/reelforge/internal/platform/dbctx"
	"github.com/avarra/reelforge/internal/platform/gcp"
	"github.com/avarra/reelforge/internal/platform/logger"
)

const defaultPresignExpiry = time.Hour

// UploadResult describes a blob just written to storage — enough for an
// ArtifactStore.Create call (blob_url, blob_key, size).
type UploadResult struct {
	BlobURL string
	BlobKey string
	Size    int64
}

// IO is the ObjectIO component: uploads/downloads files for a video,
// presigns read URLs, and deletes an entire video's prefix.
type IO interface {
	Upload(ctx context.Context, ownerID, videoID uuid.UUID, filename string, r io.Reader) (*UploadResult, error)
	Download(ctx context.Context, ownerID, videoID uuid.UUID, filename string) (io.ReadCloser, error)
	DownloadByKey(ctx context.Context, blobKey string) (io.ReadCloser, error)
	PresignRead(ctx context.Context, blobKey string) (string, error)
	DeleteVideoPrefix(ctx context.Context, ownerID, videoID uuid.UUID) error
	Key(ownerID, videoID uuid.UUID, filename string) string
}

type objectIO struct {
	log    *logger.Logger
	bucket gcp.BucketService
}

func New(log *logger.Logger, bucket gcp.BucketService) IO {
	return &objectIO{log: log.With("component", "ObjectIO"), bucket: bucket}
}

// Key builds the object-store path for a file belonging to a video:
// {owner_id}/videos/{video_id}/{filename}.
func (o *objectIO) Key(ownerID, videoID uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/videos/%s/%s", ownerID.String(), videoID.String(), filename)
}

func (o *objectIO) Upload(ctx context.Context, ownerID, videoID uuid.UUID, filename string, r io.Reader) (*UploadResult, error) {
	key := o.Key(ownerID, videoID, filename)
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("objectio: read upload body for %q: %w", key, err)
	}
	if err := o.bucket.UploadFile(dbctx.Context{Ctx: ctx}, gcp.BucketCategoryVideo, key, bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("objectio: upload %q: %w", key, err)
	}
	url := o.bucket.GetPublicURL(gcp.BucketCategoryVideo, key)
	return &UploadResult{BlobURL: url, BlobKey: key, Size: int64(len(buf))}, nil
}

func (o *objectIO) Download(ctx context.Context, ownerID, videoID uuid.UUID, filename string) (io.ReadCloser, error) {
	return o.DownloadByKey(ctx, o.Key(ownerID, videoID, filename))
}

func (o *objectIO) DownloadByKey(ctx context.Context, blobKey string) (io.ReadCloser, error) {
	rc, err := o.bucket.DownloadFile(ctx, gcp.BucketCategoryVideo, blobKey)
	if err != nil {
		return nil, fmt.Errorf("objectio: download %q: %w", blobKey, err)
	}
	return rc, nil
}

// PresignRead signs a 1-hour read URL; every reader goes through
// presigned links rather than bucket credentials.
func (o *objectIO) PresignRead(ctx context.Context, blobKey string) (string, error) {
	url, err := o.bucket.SignedReadURL(ctx, gcp.BucketCategoryVideo, blobKey, defaultPresignExpiry)
	if err != nil {
		return "", fmt.Errorf("objectio: presign %q: %w", blobKey, err)
	}
	return url, nil
}

func (o *objectIO) DeleteVideoPrefix(ctx context.Context, ownerID, videoID uuid.UUID) error {
	prefix := fmt.Sprintf("%s/videos/%s/", ownerID.String(), videoID.String())
	if err := o.bucket.DeletePrefix(ctx, gcp.BucketCategoryVideo, prefix); err != nil {
		return fmt.Errorf("objectio: delete prefix %q: %w", prefix, err)
	}
	return nil
}
