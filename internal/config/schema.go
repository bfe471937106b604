package config

import (
	"time"

	"github.com/jackzampolin/sarproc/internal/dem"
	"github.com/jackzampolin/sarproc/internal/gpt"
)

// Executor kinds.
const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

// Config holds sarproc configuration.
// Loaded from: ./sarproc.yaml, $HOME/.sarproc/sarproc.yaml or --config.
type Config struct {
	// Required execution parameters.
	BaseSaveDir string  `mapstructure:"base_save_dir" yaml:"base_save_dir"`
	PixelRes    float64 `mapstructure:"pixel_res" yaml:"pixel_res"`
	DEMSource   string  `mapstructure:"dem_source" yaml:"dem_source"`

	// GPTExec defaults to gpt on PATH. ProductsFile defaults to the built-in catalog.
	GPTExec      string `mapstructure:"gpt_exec" yaml:"gpt_exec"`
	GraphDir     string `mapstructure:"graph_dir" yaml:"graph_dir"`
	ProductsFile string `mapstructure:"products_file" yaml:"products_file"`
	Product      string `mapstructure:"product" yaml:"product"`
	ArgFileList  string `mapstructure:"arg_file_list" yaml:"arg_file_list"`
	ScratchDir   string `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	SourceMarker string `mapstructure:"source_marker" yaml:"source_marker"`
	LogFile      string `mapstructure:"log_file" yaml:"log_file"`

	// JobID is the scheduler job id. VDIJob marks interactive runs.
	JobID  string `mapstructure:"job_id" yaml:"job_id"`
	VDIJob bool   `mapstructure:"vdi_job" yaml:"vdi_job"`

	// Constrained forwards Threads to the external tool.
	Constrained bool `mapstructure:"constrained" yaml:"constrained"`
	Threads     int  `mapstructure:"threads" yaml:"threads"`

	StageTimeout      time.Duration `mapstructure:"stage_timeout" yaml:"stage_timeout"`
	SkipExisting      bool          `mapstructure:"skip_existing" yaml:"skip_existing"`
	ParallelSubswaths bool          `mapstructure:"parallel_subswaths" yaml:"parallel_subswaths"`

	LogLevel      string   `mapstructure:"log_level" yaml:"log_level"`
	NoisePatterns []string `mapstructure:"noise_patterns" yaml:"noise_patterns,omitempty"`

	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	DEM      DEMConfig      `mapstructure:"dem" yaml:"dem"`
}

// ExecutorConfig selects where stages run.
type ExecutorConfig struct {
	Kind  string `mapstructure:"kind" yaml:"kind"`
	Image string `mapstructure:"image" yaml:"image"`
	// Mounts are bind mounts, "host" or "host:container".
	Mounts []string `mapstructure:"mounts" yaml:"mounts,omitempty"`
}

// DEMConfig configures elevation model generation.
type DEMConfig struct {
	Warp string `mapstructure:"warp" yaml:"warp"`
	// Buffer in degrees around the footprint, file sources only.
	Buffer float64 `mapstructure:"buffer" yaml:"buffer"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GraphDir:     "graphs",
		Product:      "backscatter",
		SourceMarker: "Copernicus",
		Threads:      8,
		LogLevel:     "info",
		Executor: ExecutorConfig{
			Kind:  ExecutorLocal,
			Image: gpt.DefaultImage,
		},
		DEM: DEMConfig{
			Warp:   dem.DefaultWarp,
			Buffer: dem.DefaultBuffer,
		},
	}
}
