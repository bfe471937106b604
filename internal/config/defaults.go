package config

import "strings"

// EnvPrefix prefixes the environment variable of every key.
const EnvPrefix = "SARPROC"

// Entry describes one configuration key.
type Entry struct {
	Key         string   `json:"key" yaml:"key"`
	Value       any      `json:"value" yaml:"value"`
	Description string   `json:"description" yaml:"description"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	// Aliases are job-environment variables read after the prefixed one.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Env returns the environment variables bound to the key, in lookup order.
func (e Entry) Env() []string {
	name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(e.Key, ".", "_"))
	return append([]string{name}, e.Aliases...)
}

// DefaultEntries returns every configuration key with its default value.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// ===================
		// Required
		// ===================
		{
			Key:         "base_save_dir",
			Value:       d.BaseSaveDir,
			Description: "Root directory that mirrors the input archive layout for outputs",
			Required:    true,
			Aliases:     []string{"BASE_SAVE_DIR"},
		},
		{
			Key:         "pixel_res",
			Value:       d.PixelRes,
			Description: "Target pixel resolution in metres for terrain correction",
			Required:    true,
			Aliases:     []string{"PIX_RES"},
		},
		{
			Key:         "dem_source",
			Value:       d.DEMSource,
			Description: "SRTM tile directory, or a single elevation raster to subset",
			Required:    true,
			Aliases:     []string{"DEM_SOURCE"},
		},

		// ===================
		// Inputs and tools
		// ===================
		{
			Key:         "gpt_exec",
			Value:       d.GPTExec,
			Description: "Path to the gpt executable (empty: gpt on PATH)",
			Aliases:     []string{"GPT_EXEC"},
		},
		{
			Key:         "graph_dir",
			Value:       d.GraphDir,
			Description: "Directory holding the processing graph XML files",
		},
		{
			Key:         "products_file",
			Value:       d.ProductsFile,
			Description: "Product catalog replacing the built-in one",
		},
		{
			Key:         "product",
			Value:       d.Product,
			Description: "Product type to generate",
		},
		{
			Key:         "arg_file_list",
			Value:       d.ArgFileList,
			Description: "Batch input list, one work item per line",
			Aliases:     []string{"ARG_FILE_LIST"},
		},
		{
			Key:         "source_marker",
			Value:       d.SourceMarker,
			Description: "Path segment after which input paths are mirrored under base_save_dir",
		},
		{
			Key:         "scratch_dir",
			Value:       d.ScratchDir,
			Description: "Root for intermediate products and DEMs (empty: system temp dir)",
			Aliases:     []string{"PBS_JOBFS", "TMPDIR"},
		},
		{
			Key:         "log_file",
			Value:       d.LogFile,
			Description: "Batch log file named in run records",
		},

		// ===================
		// Job environment
		// ===================
		{
			Key:         "job_id",
			Value:       d.JobID,
			Description: "Scheduler job id written to run records",
			Aliases:     []string{"PBS_JOBID", "SLURM_JOB_ID"},
		},
		{
			Key:         "vdi_job",
			Value:       d.VDIJob,
			Description: "Interactive run outside the scheduler",
			Aliases:     []string{"VDI_JOB"},
		},
		{
			Key:         "constrained",
			Value:       d.Constrained,
			Description: "Forward the thread count to the external tool (always on for VDI jobs)",
		},
		{
			Key:         "threads",
			Value:       d.Threads,
			Description: "Thread count forwarded when constrained",
			Aliases:     []string{"N_CPUS"},
		},

		// ===================
		// Processing
		// ===================
		{
			Key:         "stage_timeout",
			Value:       d.StageTimeout,
			Description: "Maximum duration of one stage (0: unlimited)",
		},
		{
			Key:         "skip_existing",
			Value:       d.SkipExisting,
			Description: "Skip items whose product already validates",
		},
		{
			Key:         "parallel_subswaths",
			Value:       d.ParallelSubswaths,
			Description: "Run per-sub-swath stages of one item concurrently",
		},
		{
			Key:         "executor.kind",
			Value:       d.Executor.Kind,
			Description: "Where stages run: local or docker",
		},
		{
			Key:         "executor.image",
			Value:       d.Executor.Image,
			Description: "Container image providing gpt (docker executor)",
		},
		{
			Key:         "executor.mounts",
			Value:       d.Executor.Mounts,
			Description: "Bind mounts for the docker executor, host[:container]",
		},
		{
			Key:         "dem.warp",
			Value:       d.DEM.Warp,
			Description: "GDAL warp executable",
		},
		{
			Key:         "dem.buffer",
			Value:       d.DEM.Buffer,
			Description: "Buffer in degrees around the footprint when subsetting a raster",
		},

		// ===================
		// Logging
		// ===================
		{
			Key:         "log_level",
			Value:       d.LogLevel,
			Description: "Log level: debug, info, warn or error",
		},
		{
			Key:         "noise_patterns",
			Value:       d.NoisePatterns,
			Description: "Regular expressions for external tool output to elide (empty: built-in set)",
		},
	}
}

// GetDefault returns the entry for a config key.
// Returns nil if the key is unknown.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}
