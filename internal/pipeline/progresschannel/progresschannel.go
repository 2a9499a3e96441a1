// Package progresschannel is a best-effort key-value cache of live
// pipeline progress, presigned-URL
// caching, and phase output snapshots, backed by Redis so it survives
// task/worker restarts. It is never the source of truth — the Video row
// is — callers fall back to the row when a key is missing.
package progresschannel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/avarra/reelforge/internal/platform/logger"
)

const (
	defaultProgressTTL = 24 * time.Hour
	presignCacheTTL    = time.Hour // skip re-signing the same blob within the hour
)

// Snapshot is the JSON document written per video.
type Snapshot struct {
	Status            string            `json:"status"`
	Progress          int               `json:"progress"`
	CurrentPhase      int               `json:"current_phase"`
	Error             string            `json:"error,omitempty"`
	TotalCost         float64           `json:"total_cost,omitempty"`
	FinalVideoURL     string            `json:"final_video_url,omitempty"`
	StoryboardURLs    []string          `json:"storyboard_urls,omitempty"`
	PresignedURLCache map[string]string `json:"presigned_url_cache,omitempty"`
}

// Channel is the progress cache: last-write-wins, no locks,
// fire-and-forget writes.
type Channel interface {
	SetSnapshot(ctx context.Context, videoID uuid.UUID, snap Snapshot) error
	GetSnapshot(ctx context.Context, videoID uuid.UUID) (*Snapshot, bool, error)
	// GetOrPresign returns a cached presigned URL for blobKey if the
	// 1-hour window hasn't elapsed, otherwise calls presign, caches the
	// result, and returns it.
	GetOrPresign(ctx context.Context, blobKey string, presign func(context.Context) (string, error)) (string, error)
}

type redisChannel struct {
	log *logger.Logger
	rdb *redis.Client
}

// New constructs a Redis-backed ProgressChannel. A nil client is allowed
// for tests/local dev without Redis; all operations then become no-ops
// that report a cache miss, matching the component's "best-effort"
// contract — a missing cache never fails a phase.
func New(log *logger.Logger) (Channel, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Warn("progresschannel: REDIS_ADDR unset, running with no-op cache")
		return &redisChannel{log: log.With("component", "ProgressChannel")}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 5 * time.Second})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("progresschannel: redis ping: %w", err)
	}
	return &redisChannel{log: log.With("component", "ProgressChannel"), rdb: rdb}, nil
}

func snapshotKey(videoID uuid.UUID) string {
	return "reelforge:video:" + videoID.String() + ":progress"
}

func presignKey(blobKey string) string {
	return "reelforge:presign:" + blobKey
}

// SetSnapshot writes a new progress snapshot. Failure is logged, not
// returned as fatal by callers — PhaseRunners call this fire-and-forget.
func (c *redisChannel) SetSnapshot(ctx context.Context, videoID uuid.UUID, snap Snapshot) error {
	if c.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("progresschannel: encode snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey(videoID), raw, defaultProgressTTL).Err(); err != nil {
		c.log.Warn("progresschannel: set snapshot failed", "video_id", videoID, "error", err)
		return err
	}
	return nil
}

func (c *redisChannel) GetSnapshot(ctx context.Context, videoID uuid.UUID) (*Snapshot, bool, error) {
	if c.rdb == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.Get(ctx, snapshotKey(videoID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		c.log.Warn("progresschannel: get snapshot failed", "video_id", videoID, "error", err)
		return nil, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("progresschannel: decode snapshot: %w", err)
	}
	return &snap, true, nil
}

func (c *redisChannel) GetOrPresign(ctx context.Context, blobKey string, presign func(context.Context) (string, error)) (string, error) {
	if c.rdb != nil {
		if cached, err := c.rdb.Get(ctx, presignKey(blobKey)).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}
	url, err := presign(ctx)
	if err != nil {
		return "", err
	}
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, presignKey(blobKey), url, presignCacheTTL).Err(); err != nil {
			c.log.Warn("progresschannel: cache presigned url failed", "blob_key", blobKey, "error", err)
		}
	}
	return url, nil
}
