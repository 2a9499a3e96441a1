// Package mediatools wraps the ffmpeg/ffprobe binaries the stitcher and
// editor need: probing, last-frame extraction, resolution normalisation,
// and transition-aware concatenation, all under a wall-clock budget.
package mediatools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avarra/reelforge/internal/platform/logger"
)

func defaultCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// ErrBudgetExceeded signals the wall-clock stitch deadline will be
// breached. Stitch callers return it unwrapped, so apierr.Kind does not
// classify it as budget_exceeded.
var ErrBudgetExceeded = fmt.Errorf("mediatools: budget_exceeded")

// Resolution is a probed or target width/height pair.
type Resolution struct {
	Width  int
	Height int
}

// Even rounds both dimensions down to the nearest even number, since the
// H.264 encoder rejects odd dimensions.
func (r Resolution) Even() Resolution {
	w, h := r.Width, r.Height
	if w%2 != 0 {
		w--
	}
	if h%2 != 0 {
		h--
	}
	return Resolution{Width: w, Height: h}
}

// DiffersBy reports whether r differs from other by more than pct in
// either dimension — the signal that picks the concat-demuxer fallback
// over filter-complex stitching.
func (r Resolution) DiffersBy(other Resolution, pct float64) bool {
	return dimDiffers(r.Width, other.Width, pct) || dimDiffers(r.Height, other.Height, pct)
}

func dimDiffers(a, b int, pct float64) bool {
	if a == 0 || b == 0 {
		return true
	}
	diff := float64(a-b) / float64(b)
	if diff < 0 {
		diff = -diff
	}
	return diff > pct
}

// ProbeResult is what ffprobe tells us about one media file.
type ProbeResult struct {
	Duration   float64
	Resolution Resolution
	FrameCount int
}

// Tools is the media toolbox the pipeline needs: probe, last-frame
// extraction, per-file normalisation, and budget-aware concatenation.
type Tools interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
	ExtractLastFrame(ctx context.Context, videoPath, outPNGPath string) error
	NormalizeToResolution(ctx context.Context, inPath, outPath string, target Resolution) error
	Stitch(ctx context.Context, chunkPaths []string, outPath string, budget time.Duration) error
	// Split slices inPath at splitSeconds into two files: everything
	// before the offset goes to part1Path, everything from the offset
	// onward goes to part2Path. Used by the editor's split action.
	Split(ctx context.Context, inPath string, splitSeconds float64, part1Path, part2Path string) error
	// MixMusic lays musicPath under videoPath at musicVolume (0-1),
	// keeping the video's own audio track when present and substituting
	// silence when it isn't, trimmed to the video's duration.
	MixMusic(ctx context.Context, videoPath, musicPath, outPath string, musicVolume float64) error
}

type tools struct {
	log         *logger.Logger
	ffmpegPath  string
	ffprobePath string
	workRoot    string
}

func New(log *logger.Logger) Tools {
	return &tools{
		log:         log.With("service", "MediaTools"),
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		workRoot:    "/tmp/reelforge-media",
	}
}

func (t *tools) assertBinaries() error {
	for _, bin := range []string{t.ffmpegPath, t.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	NbFrames  string `json:"nb_frames"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

func (t *tools) Probe(ctx context.Context, path string) (ProbeResult, error) {
	ctx = defaultCtx(ctx)
	if err := t.assertBinaries(); err != nil {
		return ProbeResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe failed on %s: %w", path, err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe output for %s: %w", path, err)
	}

	res := ProbeResult{}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			res.Duration = d
		}
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		res.Resolution = Resolution{Width: s.Width, Height: s.Height}
		if s.NbFrames != "" {
			if n, err := strconv.Atoi(s.NbFrames); err == nil {
				res.FrameCount = n
			}
		}
		break
	}
	return res, nil
}

// ExtractLastFrame picks the final frame of videoPath via frame-index
// select when ffprobe's frame count is available, falling back to a
// seek of -0.1s from the end when probing fails.
func (t *tools) ExtractLastFrame(ctx context.Context, videoPath, outPNGPath string) error {
	ctx = defaultCtx(ctx)
	if err := t.assertBinaries(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPNGPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for last frame output: %w", err)
	}

	probe, probeErr := t.Probe(ctx, videoPath)
	if probeErr == nil && probe.FrameCount > 0 {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		cmd := exec.CommandContext(runCtx, t.ffmpegPath,
			"-y", "-i", videoPath,
			"-vf", fmt.Sprintf("select='eq(n\\,%d)'", probe.FrameCount-1),
			"-vframes", "1",
			outPNGPath,
		)
		out, err := cmd.CombinedOutput()
		if err == nil {
			if _, statErr := os.Stat(outPNGPath); statErr == nil {
				return nil
			}
		}
		t.log.Warn("mediatools: frame-index last-frame extraction failed, falling back to seek", "path", videoPath, "error", err, "ffmpeg_out", string(out))
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	cmd := exec.CommandContext(runCtx, t.ffmpegPath,
		"-y", "-sseof", "-0.1",
		"-i", videoPath,
		"-vframes", "1",
		outPNGPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg last-frame seek fallback failed for %s: %w; out=%s", videoPath, err, string(out))
	}
	return nil
}

// NormalizeToResolution scales+pads inPath to target, re-encoding with
// the standard encoder settings.
func (t *tools) NormalizeToResolution(ctx context.Context, inPath, outPath string, target Resolution) error {
	ctx = defaultCtx(ctx)
	if err := t.assertBinaries(); err != nil {
		return err
	}
	target = target.Even()
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for normalized output: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=24",
		target.Width, target.Height, target.Width, target.Height,
	)
	cmd := exec.CommandContext(ctx, t.ffmpegPath, t.encodeArgs(inPath, vf, outPath)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg normalize failed for %s: %w; out=%s", inPath, err, string(out))
	}
	return nil
}

func (t *tools) encodeArgs(inPath, vf, outPath string) []string {
	return []string{
		"-y", "-i", inPath,
		"-vf", vf,
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "23",
		"-threads", "2",
		outPath,
	}
}

// Stitch concatenates chunkPaths into one output within budget, trying
// the filter-complex strategy first and falling back to the concat
// demuxer when resolutions diverge or the primary attempt fails, per
// the wall-clock accounting in force.
func (t *tools) Stitch(ctx context.Context, chunkPaths []string, outPath string, budget time.Duration) error {
	ctx = defaultCtx(ctx)
	if err := t.assertBinaries(); err != nil {
		return err
	}
	if len(chunkPaths) == 0 {
		return fmt.Errorf("mediatools: stitch requires at least one chunk")
	}
	if budget <= 0 {
		budget = 6 * time.Minute
	}
	deadline := time.Now().Add(budget)

	target, uniform, err := t.planTargetResolution(ctx, chunkPaths)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp(t.workRoot, "stitch-*")
	if err != nil {
		return fmt.Errorf("mediatools: create stitch workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if uniform {
		if err := t.remaining(deadline, 45*time.Second); err != nil {
			return err
		}
		if err := t.stitchFilterComplex(ctx, chunkPaths, outPath, target, timeRemaining(deadline)); err == nil {
			return nil
		} else {
			t.log.Warn("mediatools: filter-complex stitch failed, falling back to concat demuxer", "error", err)
		}
	}

	return t.stitchConcatDemuxer(ctx, chunkPaths, outPath, target, workDir, deadline)
}

func (t *tools) planTargetResolution(ctx context.Context, chunkPaths []string) (Resolution, bool, error) {
	var target Resolution
	uniform := true
	var first Resolution
	for i, p := range chunkPaths {
		probe, err := t.Probe(ctx, p)
		if err != nil {
			return Resolution{}, false, fmt.Errorf("mediatools: probe chunk %d: %w", i, err)
		}
		if probe.Resolution.Width > target.Width {
			target.Width = probe.Resolution.Width
		}
		if probe.Resolution.Height > target.Height {
			target.Height = probe.Resolution.Height
		}
		if i == 0 {
			first = probe.Resolution
		} else if probe.Resolution.DiffersBy(first, 0.10) {
			uniform = false
		}
	}
	return target.Even(), uniform, nil
}

func (t *tools) stitchFilterComplex(ctx context.Context, chunkPaths []string, outPath string, target Resolution, budget time.Duration) error {
	if budget <= 0 {
		return ErrBudgetExceeded
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	args := []string{"-y"}
	for _, p := range chunkPaths {
		args = append(args, "-i", p)
	}

	var filter strings.Builder
	for i := range chunkPaths {
		fmt.Fprintf(&filter, "[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=24,setsar=1[v%d];",
			i, target.Width, target.Height, target.Width, target.Height, i)
	}
	for i := range chunkPaths {
		fmt.Fprintf(&filter, "[v%d]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=0[outv]", len(chunkPaths))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[outv]",
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "23",
		"-threads", "2",
		outPath,
	)

	cmd := exec.CommandContext(runCtx, t.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("filter-complex stitch failed: %w; out=%s", err, string(out))
	}
	return nil
}

func (t *tools) stitchConcatDemuxer(ctx context.Context, chunkPaths []string, outPath string, target Resolution, workDir string, deadline time.Time) error {
	normalized := make([]string, 0, len(chunkPaths))
	for i, p := range chunkPaths {
		remaining := timeRemaining(deadline)
		if remaining < 45*time.Second {
			t.log.Warn("mediatools: stitch budget low, reusing original chunks without normalization", "chunk_index", i, "remaining", remaining)
			normalized = append(normalized, p)
			continue
		}
		normPath := filepath.Join(workDir, fmt.Sprintf("norm_%03d.mp4", i))
		if err := t.NormalizeToResolution(ctx, p, normPath, target); err != nil {
			t.log.Warn("mediatools: chunk normalization failed, reusing original", "chunk_index", i, "error", err)
			normalized = append(normalized, p)
			continue
		}
		normalized = append(normalized, normPath)
	}

	if err := t.remaining(deadline, 45*time.Second); err != nil {
		return err
	}

	listPath := filepath.Join(workDir, "concat_list.txt")
	var listBuf strings.Builder
	for _, p := range normalized {
		fmt.Fprintf(&listBuf, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, []byte(listBuf.String()), 0o644); err != nil {
		return fmt.Errorf("mediatools: write concat list: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeRemaining(deadline))
	defer cancel()
	cmd := exec.CommandContext(runCtx, t.ffmpegPath,
		"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "23",
		"-threads", "2",
		outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("concat demuxer stitch failed: %w; out=%s", err, string(out))
	}
	return nil
}

// Split cuts inPath into two files at splitSeconds using stream-copy
// where possible, re-encoding only if the codec-copy cut fails (a
// keyframe boundary mismatch is the common cause).
func (t *tools) Split(ctx context.Context, inPath string, splitSeconds float64, part1Path, part2Path string) error {
	ctx = defaultCtx(ctx)
	if err := t.assertBinaries(); err != nil {
		return err
	}
	if splitSeconds <= 0 {
		return fmt.Errorf("mediatools: split offset must be > 0")
	}
	for _, p := range []string{part1Path, part2Path} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("mkdir for split output: %w", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	cmd := exec.CommandContext(runCtx, t.ffmpegPath,
		"-y", "-i", inPath, "-t", fmt.Sprintf("%.3f", splitSeconds),
		"-c", "copy", part1Path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.log.Warn("mediatools: stream-copy split part1 failed, re-encoding", "error", err, "ffmpeg_out", string(out))
		if err := t.reencodeSplit(ctx, inPath, part1Path, "-t", splitSeconds); err != nil {
			return err
		}
	}

	runCtx2, cancel2 := context.WithTimeout(ctx, time.Minute)
	defer cancel2()
	cmd2 := exec.CommandContext(runCtx2, t.ffmpegPath,
		"-y", "-ss", fmt.Sprintf("%.3f", splitSeconds), "-i", inPath,
		"-c", "copy", part2Path,
	)
	if out, err := cmd2.CombinedOutput(); err != nil {
		t.log.Warn("mediatools: stream-copy split part2 failed, re-encoding", "error", err, "ffmpeg_out", string(out))
		if err := t.reencodeSplit(ctx, inPath, part2Path, "-ss", splitSeconds); err != nil {
			return err
		}
	}
	return nil
}

func (t *tools) reencodeSplit(ctx context.Context, inPath, outPath, flag string, seconds float64) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	cmd := exec.CommandContext(runCtx, t.ffmpegPath,
		"-y", flag, fmt.Sprintf("%.3f", seconds), "-i", inPath,
		"-pix_fmt", "yuv420p", "-c:v", "libx264", "-preset", "ultrafast", "-crf", "23", "-threads", "2",
		outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mediatools: split re-encode failed for %s: %w; out=%s", inPath, err, string(out))
	}
	return nil
}

// MixMusic ducks musicPath under videoPath's own audio. A video track
// with no audio stream gets the music alone; -shortest trims the track
// to the video's duration either way.
func (t *tools) MixMusic(ctx context.Context, videoPath, musicPath, outPath string, musicVolume float64) error {
	ctx = defaultCtx(ctx)
	if err := t.assertBinaries(); err != nil {
		return err
	}
	if musicVolume <= 0 || musicVolume > 1 {
		musicVolume = 0.70
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for mix output: %w", err)
	}

	hasAudio, err := t.hasAudioStream(ctx, videoPath)
	if err != nil {
		t.log.Warn("mediatools: audio stream probe failed, assuming silent video", "path", videoPath, "error", err)
		hasAudio = false
	}

	runCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var cmd *exec.Cmd
	if hasAudio {
		filter := fmt.Sprintf("[1:a]volume=%.2f[m];[0:a][m]amix=inputs=2:duration=first[aout]", musicVolume)
		cmd = exec.CommandContext(runCtx, t.ffmpegPath,
			"-y", "-i", videoPath, "-i", musicPath,
			"-filter_complex", filter,
			"-map", "0:v", "-map", "[aout]",
			"-c:v", "copy", "-c:a", "aac",
			"-shortest",
			outPath,
		)
	} else {
		cmd = exec.CommandContext(runCtx, t.ffmpegPath,
			"-y", "-i", videoPath, "-i", musicPath,
			"-filter_complex", fmt.Sprintf("[1:a]volume=%.2f[aout]", musicVolume),
			"-map", "0:v", "-map", "[aout]",
			"-c:v", "copy", "-c:a", "aac",
			"-shortest",
			outPath,
		)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mediatools: music mix failed for %s: %w; out=%s", videoPath, err, string(out))
	}
	return nil
}

func (t *tools) hasAudioStream(ctx context.Context, path string) (bool, error) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(runCtx, t.ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-print_format", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("ffprobe audio streams for %s: %w", path, err)
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return false, fmt.Errorf("ffprobe audio output for %s: %w", path, err)
	}
	return len(parsed.Streams) > 0, nil
}

func (t *tools) remaining(deadline time.Time, min time.Duration) error {
	if timeRemaining(deadline) < min {
		return ErrBudgetExceeded
	}
	return nil
}

func timeRemaining(deadline time.Time) time.Duration {
	return time.Until(deadline)
}
