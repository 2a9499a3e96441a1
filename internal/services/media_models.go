package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avarra/reelforge/internal/platform/gcp"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/platform/modelconfig"
)

// ImageModel is the Phase-2 text-to-image collaborator: prompt in,
// hosted image url out. 60s per-call timeout.
type ImageModel interface {
	Generate(ctx context.Context, prompt, aspectRatio, outputFormat, quality string) (string, error)
}

// VideoModel is the Phase-3 image-to-video collaborator, keyed by model
// id so the chunk scheduler can mix models per chunk. 5-minute per-call
// timeout.
type VideoModel interface {
	Generate(ctx context.Context, spec VideoGenRequest) (string, error)
}

// VideoGenRequest carries the pipeline's canonical field names; the
// client renames them per the model's modelconfig.ParamMap before
// sending.
type VideoGenRequest struct {
	ModelID      string
	InitImageURL string
	Prompt       string
	DurationSecs float64
	FPS          int
	Size         string
}

// MusicSource resolves a genre tag to a hosted track url, falling back
// to the "upbeat" catalog entry when no match is found.
type MusicSource interface {
	FindTrack(ctx context.Context, genre string) (string, error)
}

// httpRetryDoer is the shared retry/backoff HTTP core every external
// model client below builds on, mirroring the OpenAI client's
// exponential-backoff-with-jitter request loop.
type httpRetryDoer struct {
	log        *logger.Logger
	httpClient *http.Client
	maxRetries int
}

type modelHTTPError struct {
	StatusCode int
	Body       string
}

func (e *modelHTTPError) Error() string {
	return fmt.Sprintf("model http %d: %s", e.StatusCode, e.Body)
}

func isRetryableModelHTTP(code int) bool {
	return code == 408 || code == 429 || (code >= 500 && code <= 599)
}

func isRetryableModelErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary()) {
		return true
	}
	var httpErr *modelHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableModelHTTP(httpErr.StatusCode)
	}
	return false
}

func modelJitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low, high := base.Seconds()-delta, base.Seconds()+delta
	if low < 0 {
		low = 0
	}
	return time.Duration((low + rand.Float64()*(high-low)) * float64(time.Second))
}

func (d *httpRetryDoer) doJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	backoff := time.Second
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := d.doOnce(ctx, method, url, headers, body)
		if err == nil {
			if out != nil {
				if uErr := json.Unmarshal(raw, out); uErr != nil {
					return fmt.Errorf("decode response from %s: %w; raw=%s", url, uErr, string(raw))
				}
			}
			return nil
		}
		if !isRetryableModelErr(err) || attempt == d.maxRetries {
			return err
		}
		sleepFor := backoff
		if resp != nil {
			if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = modelJitterSleep(sleepFor)
		d.log.Warn("external model request retrying", "url", url, "attempt", attempt+1, "sleep", sleepFor.String(), "error", err.Error())
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (d *httpRetryDoer) doOnce(ctx context.Context, method, url string, headers map[string]string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &modelHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

// --- Image model ---

type imageModelClient struct {
	doer    httpRetryDoer
	baseURL string
	apiKey  string
}

func NewImageModelClient(log *logger.Logger) (ImageModel, error) {
	apiKey := os.Getenv("IMAGE_MODEL_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing IMAGE_MODEL_API_KEY")
	}
	baseURL := os.Getenv("IMAGE_MODEL_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.imagemodel.example/v1"
	}
	return &imageModelClient{
		doer:    httpRetryDoer{log: log.With("service", "ImageModel"), httpClient: &http.Client{Timeout: 60 * time.Second}, maxRetries: 3},
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

type imageGenRequestBody struct {
	Prompt       string `json:"prompt"`
	AspectRatio  string `json:"aspect_ratio,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	Quality      string `json:"quality,omitempty"`
}

type imageGenResponseBody struct {
	URL  string   `json:"url"`
	URLs []string `json:"urls"`
}

func (c *imageModelClient) Generate(ctx context.Context, prompt, aspectRatio, outputFormat, quality string) (string, error) {
	req := imageGenRequestBody{Prompt: prompt, AspectRatio: aspectRatio, OutputFormat: outputFormat, Quality: quality}
	var resp imageGenResponseBody
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.doer.doJSON(ctx, http.MethodPost, c.baseURL+"/images/generations", headers, req, &resp); err != nil {
		return "", fmt.Errorf("image model generate: %w", err)
	}
	if resp.URL != "" {
		return resp.URL, nil
	}
	if len(resp.URLs) > 0 {
		return resp.URLs[0], nil
	}
	return "", fmt.Errorf("image model generate: empty response for prompt %q", prompt)
}

// --- Video model ---

type videoModelClient struct {
	doer    httpRetryDoer
	baseURL string
	apiKey  string
	models  *modelconfig.Table
}

func NewVideoModelClient(log *logger.Logger, models *modelconfig.Table) (VideoModel, error) {
	apiKey := os.Getenv("VIDEO_MODEL_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing VIDEO_MODEL_API_KEY")
	}
	baseURL := os.Getenv("VIDEO_MODEL_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.videomodel.example/v1"
	}
	return &videoModelClient{
		doer:    httpRetryDoer{log: log.With("service", "VideoModel"), httpClient: &http.Client{Timeout: 5 * time.Minute}, maxRetries: 2},
		baseURL: baseURL,
		apiKey:  apiKey,
		models:  models,
	}, nil
}

type videoGenResponseBody struct {
	URL string `json:"url"`
}

// Generate maps the pipeline's canonical request fields onto the
// target model's own field names via its modelconfig.ParamMap, so the
// chunk scheduler never special-cases a model id.
func (c *videoModelClient) Generate(ctx context.Context, spec VideoGenRequest) (string, error) {
	cfg, ok := c.models.VideoModel(spec.ModelID)
	if !ok {
		return "", fmt.Errorf("video model generate: unknown model id %q", spec.ModelID)
	}

	fps := spec.FPS
	if fps <= 0 {
		fps = cfg.DefaultFPS
	}
	size := spec.Size
	if size == "" {
		size = cfg.DefaultSize
	}

	canonical := map[string]any{
		"init_image": spec.InitImageURL,
		"prompt":     spec.Prompt,
		"duration":   spec.DurationSecs,
		"fps":        fps,
		"size":       size,
	}
	body := map[string]any{"model": cfg.ID}
	for canonicalKey, v := range canonical {
		key := canonicalKey
		if mapped, ok := cfg.ParamMap[canonicalKey]; ok && mapped != "" {
			key = mapped
		}
		body[key] = v
	}

	var resp videoGenResponseBody
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.doer.doJSON(ctx, http.MethodPost, c.baseURL+"/videos/generations", headers, body, &resp); err != nil {
		return "", fmt.Errorf("video model generate (%s): %w", cfg.ID, err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("video model generate (%s): empty response", cfg.ID)
	}
	return resp.URL, nil
}

// --- Music source ---

// musicCatalog resolves genre tags to pre-uploaded tracks under a fixed
// prefix of the music bucket, using filename heuristics
// ("upbeat_01.mp3"); there is no ML fallback.
type musicCatalog struct {
	log    *logger.Logger
	bucket gcp.BucketService
	prefix string
	genre  modelconfig.MusicDefaults
}

func NewMusicCatalog(log *logger.Logger, bucket gcp.BucketService, musicDefaults modelconfig.MusicDefaults) MusicSource {
	prefix := os.Getenv("MUSIC_CATALOG_PREFIX")
	if prefix == "" {
		prefix = "catalog/music/"
	}
	return &musicCatalog{log: log.With("service", "MusicCatalog"), bucket: bucket, prefix: prefix, genre: musicDefaults}
}

func (m *musicCatalog) FindTrack(ctx context.Context, genre string) (string, error) {
	genre = strings.ToLower(strings.TrimSpace(genre))
	keys, err := m.bucket.ListKeys(ctx, gcp.BucketCategoryMusic, m.prefix)
	if err != nil {
		return "", fmt.Errorf("music catalog list: %w", err)
	}

	if genre != "" {
		if key, ok := matchGenreKey(keys, genre); ok {
			return m.presign(ctx, key)
		}
		m.log.Warn("music catalog: no match for inferred genre, using fallback", "genre", genre)
	}

	fallback := m.genre.FallbackGenre
	if fallback == "" {
		fallback = "upbeat"
	}
	if key, ok := matchGenreKey(keys, fallback); ok {
		return m.presign(ctx, key)
	}
	return "", fmt.Errorf("music catalog: no track found for genre %q or fallback %q", genre, fallback)
}

func (m *musicCatalog) presign(ctx context.Context, key string) (string, error) {
	url, err := m.bucket.SignedReadURL(ctx, gcp.BucketCategoryMusic, key, time.Hour)
	if err != nil {
		return "", fmt.Errorf("music catalog presign %q: %w", key, err)
	}
	return url, nil
}

func matchGenreKey(keys []string, genre string) (string, bool) {
	for _, k := range keys {
		name := strings.ToLower(filepath.Base(k))
		if strings.Contains(name, genre) {
			return k, true
		}
	}
	return "", false
}
