// Package manifest provides loading and validation of peakscreen run
// manifests.
//
// A run manifest is a YAML or JSON file that configures one screening run:
// input paths, per-sample input requirements, partitioning and polling
// behavior, scheduler options, and optional result archiving.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	paths:
//	  region_list: /data/peakome/regions.tsv
//	  sample_list: /data/runs/batch3/samples.txt
//	  input_root: /data/atac
//	  model: /data/models/impact-v2.pt
//	  sequence_dir: /data/genome/hg38
//	  output_root: /scratch/screen/batch3
//	inputs:
//	  required:
//	    - "{sample}_fragments.tsv.gz"
//	    - "{sample}_peaks.bed"
//	screen:
//	  chunk_size: 2500
//	  batch_size: 1000
//	scheduler:
//	  wrapper: /opt/screen/run_region.sh
//	  partition: compute
package manifest

import (
	"path/filepath"
	"strings"
	"time"
)

// Manifest represents a validated run manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Paths names the required top-level inputs and the output root.
	Paths PathsConfig `json:"paths" yaml:"paths"`

	// Inputs configures the per-sample required input artifacts.
	Inputs InputsConfig `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Screen configures partitioning and polling (optional).
	Screen ScreenConfig `json:"screen,omitempty" yaml:"screen,omitempty"`

	// Scheduler configures array job submission.
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`

	// Archive configures optional upload of compiled results (optional).
	Archive *ArchiveConfig `json:"archive,omitempty" yaml:"archive,omitempty"`
}

// PathsConfig names the top-level filesystem inputs of a run. Every field
// except OutputRoot must exist before any sample is processed.
type PathsConfig struct {
	// RegionList is the ordered region list file.
	RegionList string `json:"region_list" yaml:"region_list"`

	// SampleList is the sample name list file.
	SampleList string `json:"sample_list" yaml:"sample_list"`

	// InputRoot holds the per-sample input artifacts.
	InputRoot string `json:"input_root" yaml:"input_root"`

	// Model is the predictive model artifact handed to the compute wrapper.
	Model string `json:"model" yaml:"model"`

	// SequenceDir is the reference sequence directory handed to the wrapper.
	SequenceDir string `json:"sequence_dir" yaml:"sequence_dir"`

	// OutputRoot receives per-sample output directories, timing logs and
	// the unified matrix. Created if absent.
	OutputRoot string `json:"output_root" yaml:"output_root"`
}

// InputsConfig lists the per-sample input templates. Each template may use
// the "{sample}" placeholder and is resolved relative to InputRoot unless
// absolute.
type InputsConfig struct {
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
}

// DefaultRequiredInputs are the two per-sample artifacts the compute step
// consumes when the manifest does not override them.
var DefaultRequiredInputs = []string{
	"{sample}_fragments.tsv.gz",
	"{sample}_peaks.bed",
}

// ScreenConfig tunes partitioning, polling and throttling.
type ScreenConfig struct {
	// ChunkSize caps regions per chunk. Default 2500.
	ChunkSize int `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`

	// BatchSize caps array indexes per batch. Default 1000.
	BatchSize int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`

	// VisiblePoll is the queue-visibility poll interval. Default 30s.
	VisiblePoll Duration `json:"visible_poll,omitempty" yaml:"visible_poll,omitempty"`

	// ActivePoll is the task-state poll interval. Default 30s.
	ActivePoll Duration `json:"active_poll,omitempty" yaml:"active_poll,omitempty"`

	// NoProgressBudget is the per-batch no-progress timeout. Default 1200s.
	NoProgressBudget Duration `json:"no_progress_budget,omitempty" yaml:"no_progress_budget,omitempty"`

	// BatchCooldown and ChunkCooldown are fixed delays after each batch and
	// chunk to smooth submission rate. Defaults 10s and 30s.
	BatchCooldown Duration `json:"batch_cooldown,omitempty" yaml:"batch_cooldown,omitempty"`
	ChunkCooldown Duration `json:"chunk_cooldown,omitempty" yaml:"chunk_cooldown,omitempty"`

	// SubmitRate caps scheduler submissions per second. Zero disables the
	// limiter; the cooldowns still apply.
	SubmitRate float64 `json:"submit_rate,omitempty" yaml:"submit_rate,omitempty"`
}

// SchedulerConfig configures array job submission.
type SchedulerConfig struct {
	// Wrapper is the per-task wrapper script handed to sbatch. Its text is
	// owned by the compute step.
	Wrapper string `json:"wrapper" yaml:"wrapper"`

	// Partition, TimeLimit, CPUsPerTask and Memory map to the matching
	// sbatch options. All optional.
	Partition   string `json:"partition,omitempty" yaml:"partition,omitempty"`
	TimeLimit   string `json:"time_limit,omitempty" yaml:"time_limit,omitempty"`
	CPUsPerTask int    `json:"cpus_per_task,omitempty" yaml:"cpus_per_task,omitempty"`
	Memory      string `json:"memory,omitempty" yaml:"memory,omitempty"`

	// SbatchPath and SqueuePath override the client binaries (tests,
	// unusual clusters).
	SbatchPath string `json:"sbatch_path,omitempty" yaml:"sbatch_path,omitempty"`
	SqueuePath string `json:"squeue_path,omitempty" yaml:"squeue_path,omitempty"`
}

// ArchiveConfig configures upload of the unified matrix and compiled
// per-sample files to S3-compatible storage.
type ArchiveConfig struct {
	S3 *S3ArchiveConfig `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// S3ArchiveConfig mirrors the archive package's provider configuration.
type S3ArchiveConfig struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Profile  string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// ForcePathStyle is required for most S3-compatible stores.
	ForcePathStyle bool `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`
}

// RequiredInputs resolves the per-sample required input paths for sample.
// Templates expand "{sample}" and are joined onto InputRoot unless already
// absolute.
func (m *Manifest) RequiredInputs(sample string) []string {
	out := make([]string, 0, len(m.Inputs.Required))
	for _, tmpl := range m.Inputs.Required {
		p := strings.ReplaceAll(tmpl, "{sample}", sample)
		if !filepath.IsAbs(p) {
			p = filepath.Join(m.Paths.InputRoot, p)
		}
		out = append(out, p)
	}
	return out
}

// SampleDir returns the per-sample output directory.
func (m *Manifest) SampleDir(sample string) string {
	return filepath.Join(m.Paths.OutputRoot, sample)
}

// CompiledPath returns the compiled result path for sample. Existence of
// this file is the durable completion signal that drives resumability.
func (m *Manifest) CompiledPath(sample string) string {
	return filepath.Join(m.SampleDir(sample), sample+"_impact_scores.bedgraph")
}

// MatrixPath returns the unified matrix output path.
func (m *Manifest) MatrixPath() string {
	return filepath.Join(m.Paths.OutputRoot, "compiled_impact_scores.tsv")
}

// applyDefaults fills optional fields after validation.
func (m *Manifest) applyDefaults() {
	if len(m.Inputs.Required) == 0 {
		m.Inputs.Required = append([]string(nil), DefaultRequiredInputs...)
	}
	if m.Screen.ChunkSize <= 0 {
		m.Screen.ChunkSize = 2500
	}
	if m.Screen.BatchSize <= 0 {
		m.Screen.BatchSize = 1000
	}
	if m.Screen.VisiblePoll <= 0 {
		m.Screen.VisiblePoll = Duration(30 * time.Second)
	}
	if m.Screen.ActivePoll <= 0 {
		m.Screen.ActivePoll = Duration(30 * time.Second)
	}
	if m.Screen.NoProgressBudget <= 0 {
		m.Screen.NoProgressBudget = Duration(1200 * time.Second)
	}
	if m.Screen.BatchCooldown <= 0 {
		m.Screen.BatchCooldown = Duration(10 * time.Second)
	}
	if m.Screen.ChunkCooldown <= 0 {
		m.Screen.ChunkCooldown = Duration(30 * time.Second)
	}
}
