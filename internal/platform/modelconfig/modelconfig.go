// Package modelconfig loads the per-model parameter table (chunk
// duration, cost per generation, native-audio flag, image/music
// defaults) from a YAML file embedded at build time, with an env var
// override and a hardcoded fallback if the file is missing or invalid —
// the same load shape the host project uses for its pipeline spec.
package modelconfig

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/avarra/reelforge/internal/platform/logger"
)

const modelConfigEnv = "VIDEO_MODEL_CONFIG_YAML"

//go:embed models.yaml
var modelConfigFS embed.FS

// VideoModel holds the per-model constants the chunk scheduler and cost
// estimator need: how many seconds of footage one generation call
// produces, what it costs, and whether the model already emits audio
// (skipping Phase 4's music mix).
type VideoModel struct {
	ID                  string  `yaml:"id"`
	ActualOutputSeconds float64 `yaml:"actual_output_seconds"`
	CostPerGeneration   float64 `yaml:"cost_per_generation"`
	NativeAudio         bool    `yaml:"native_audio"`
	DefaultFPS          int     `yaml:"default_fps"`
	DefaultSize         string  `yaml:"default_size"`
	// ParamMap renames the pipeline's canonical request fields
	// (init_image, prompt, duration, fps, size) to whatever the
	// model's own API expects, so callers never special-case models.
	ParamMap map[string]string `yaml:"param_map"`
}

// ImageModel holds the text-to-image defaults used by Phase 2.
type ImageModel struct {
	ID           string  `yaml:"id"`
	AspectRatio  string  `yaml:"aspect_ratio"`
	OutputFormat string  `yaml:"output_format"`
	Quality      string  `yaml:"quality"`
	CostPerImage float64 `yaml:"cost_per_image"`
}

// MusicDefaults configures the fallback genre and mix volume Phase 4
// uses when no inferred genre matches the catalog.
type MusicDefaults struct {
	FallbackGenre string  `yaml:"fallback_genre"`
	MixVolume     float64 `yaml:"mix_volume"`
}

type fileSpec struct {
	VideoModels []VideoModel  `yaml:"video_models"`
	ImageModels []ImageModel  `yaml:"image_models"`
	Music       MusicDefaults `yaml:"music"`
}

// Table is the resolved, queryable model configuration.
type Table struct {
	videoModels map[string]VideoModel
	imageModels map[string]ImageModel
	music       MusicDefaults
}

var (
	loadOnce sync.Once
	loaded   *Table
	loadErr  error
)

// fallbackTable is used whenever the YAML file is missing or fails
// validation, so a bad deploy config degrades to known-good constants
// rather than crashing the pipeline outright.
var fallbackTable = &Table{
	videoModels: map[string]VideoModel{
		"veo_fast": {ID: "veo_fast", ActualOutputSeconds: 8, CostPerGeneration: 0.40, NativeAudio: true, DefaultFPS: 24, DefaultSize: "1280x720"},
		"veo":      {ID: "veo", ActualOutputSeconds: 8, CostPerGeneration: 1.20, NativeAudio: true, DefaultFPS: 24, DefaultSize: "1280x720"},
		"kling":    {ID: "kling", ActualOutputSeconds: 5, CostPerGeneration: 0.35, NativeAudio: false, DefaultFPS: 24, DefaultSize: "1280x720"},
	},
	imageModels: map[string]ImageModel{
		"default": {ID: "default", AspectRatio: "16:9", OutputFormat: "png", Quality: "standard", CostPerImage: 0.04},
	},
	music: MusicDefaults{FallbackGenre: "upbeat", MixVolume: 0.70},
}

// Load resolves the model table once per process: env override path,
// then the embedded default, falling back to fallbackTable on any
// error. log is used to surface a fallback at Warn, matching the
// ambient convention of never failing silently on missing config.
func Load(log *logger.Logger) *Table {
	loadOnce.Do(func() {
		loaded, loadErr = loadTable()
	})
	if loadErr != nil {
		if log != nil {
			log.Warn("modelconfig: load failed, using fallback table", "error", loadErr)
		}
		return fallbackTable
	}
	return loaded
}

func loadTable() (*Table, error) {
	data, err := readModelConfig()
	if err != nil {
		return nil, err
	}
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if err := validate(&spec); err != nil {
		return nil, err
	}

	t := &Table{
		videoModels: make(map[string]VideoModel, len(spec.VideoModels)),
		imageModels: make(map[string]ImageModel, len(spec.ImageModels)),
		music:       spec.Music,
	}
	for _, m := range spec.VideoModels {
		t.videoModels[m.ID] = m
	}
	for _, m := range spec.ImageModels {
		t.imageModels[m.ID] = m
	}
	if t.music.FallbackGenre == "" {
		t.music.FallbackGenre = "upbeat"
	}
	if t.music.MixVolume == 0 {
		t.music.MixVolume = 0.70
	}
	return t, nil
}

func readModelConfig() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(modelConfigEnv)); path != "" {
		return os.ReadFile(path)
	}
	return modelConfigFS.ReadFile("models.yaml")
}

func validate(spec *fileSpec) error {
	if spec == nil {
		return errors.New("modelconfig: nil spec")
	}
	if len(spec.VideoModels) == 0 {
		return errors.New("modelconfig: no video models defined")
	}
	seen := map[string]bool{}
	for _, m := range spec.VideoModels {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return errors.New("modelconfig: video model id is required")
		}
		if seen[id] {
			return fmt.Errorf("modelconfig: duplicate video model id: %s", id)
		}
		seen[id] = true
		if m.ActualOutputSeconds <= 0 {
			return fmt.Errorf("modelconfig: %s: actual_output_seconds must be > 0", id)
		}
	}
	return nil
}

// VideoModel looks up a video model's parameters. ok is false for an
// unknown id; callers treat that as a validation error.
func (t *Table) VideoModel(id string) (VideoModel, bool) {
	m, ok := t.videoModels[id]
	return m, ok
}

// ImageModel looks up an image model's parameters, falling back to the
// "default" entry when id is empty.
func (t *Table) ImageModel(id string) (ImageModel, bool) {
	if id == "" {
		id = "default"
	}
	m, ok := t.imageModels[id]
	return m, ok
}

func (t *Table) MusicDefaults() MusicDefaults { return t.music }

// ChunkSpacing returns the stride between successive chunk start times
// for model, applying the 25% overlap budget.
func (m VideoModel) ChunkSpacing() float64 {
	return m.ActualOutputSeconds * 0.75
}
