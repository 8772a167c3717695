package scheduler

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// SlurmConfig configures the Slurm client.
type SlurmConfig struct {
	// SbatchPath and SqueuePath override the binaries, default "sbatch"
	// and "squeue" resolved via PATH.
	SbatchPath string
	SqueuePath string

	// Partition is the Slurm partition to submit to. Optional.
	Partition string

	// TimeLimit is the per-task time limit in Slurm format, e.g. "02:00:00".
	// Optional.
	TimeLimit string

	// CPUsPerTask is --cpus-per-task. Zero leaves the cluster default.
	CPUsPerTask int

	// Memory is --mem, e.g. "16G". Optional.
	Memory string
}

// Slurm submits and inspects jobs by shelling out to sbatch and squeue.
type Slurm struct {
	cfg SlurmConfig
	run commandRunner
}

var _ Scheduler = (*Slurm)(nil)

// commandRunner executes one command and returns its stdout. Injected so
// output parsing is testable without a cluster.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("%s: %s", name, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return string(out), nil
}

// NewSlurm creates a Slurm client.
func NewSlurm(cfg SlurmConfig) *Slurm {
	if cfg.SbatchPath == "" {
		cfg.SbatchPath = "sbatch"
	}
	if cfg.SqueuePath == "" {
		cfg.SqueuePath = "squeue"
	}
	return &Slurm{cfg: cfg, run: execRunner}
}

// SubmitArray submits req as one sbatch array job.
func (s *Slurm) SubmitArray(ctx context.Context, req SubmitRequest) (JobHandle, error) {
	if req.Script == "" {
		return JobHandle{}, fmt.Errorf("submit: wrapper script path is required")
	}
	if req.ArrayRange == "" {
		return JobHandle{}, fmt.Errorf("submit: array range is required")
	}

	args := []string{"--parsable", "--array=" + req.ArrayRange}
	if req.Name != "" {
		args = append(args, "--job-name="+req.Name)
	}
	if req.WorkDir != "" {
		args = append(args, "--chdir="+req.WorkDir)
	}
	if s.cfg.Partition != "" {
		args = append(args, "--partition="+s.cfg.Partition)
	}
	if s.cfg.TimeLimit != "" {
		args = append(args, "--time="+s.cfg.TimeLimit)
	}
	if s.cfg.CPUsPerTask > 0 {
		args = append(args, fmt.Sprintf("--cpus-per-task=%d", s.cfg.CPUsPerTask))
	}
	if s.cfg.Memory != "" {
		args = append(args, "--mem="+s.cfg.Memory)
	}
	args = append(args, req.Script)
	args = append(args, req.Args...)

	out, err := s.run(ctx, s.cfg.SbatchPath, args...)
	if err != nil {
		return JobHandle{}, fmt.Errorf("sbatch submit failed: %w", err)
	}

	id, err := parseSbatchOutput(out)
	if err != nil {
		return JobHandle{}, err
	}
	return JobHandle{ID: id, ArrayRange: req.ArrayRange, SubmittedAt: time.Now().UTC()}, nil
}

// Visible reports whether squeue lists the job at all.
func (s *Slurm) Visible(ctx context.Context, h JobHandle) (bool, error) {
	out, err := s.run(ctx, s.cfg.SqueuePath, "-h", "-j", h.ID, "-o", "%i")
	if err != nil {
		// squeue exits non-zero for unknown job ids; not visible yet is the
		// answer, not an error.
		if strings.Contains(err.Error(), "Invalid job id") {
			return false, nil
		}
		return false, fmt.Errorf("squeue visibility check: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Counts returns pending/running array task counts from squeue state output.
func (s *Slurm) Counts(ctx context.Context, h JobHandle) (TaskCounts, error) {
	out, err := s.run(ctx, s.cfg.SqueuePath, "-h", "-r", "-j", h.ID, "-o", "%T")
	if err != nil {
		if strings.Contains(err.Error(), "Invalid job id") {
			return TaskCounts{}, nil
		}
		return TaskCounts{}, fmt.Errorf("squeue task states: %w", err)
	}
	return parseSqueueStates(out), nil
}

// parseSbatchOutput extracts the job id from sbatch --parsable output.
//
// --parsable emits "<jobid>" or "<jobid>;<cluster>"; older wrappers may
// still print the verbose "Submitted batch job <jobid>" form.
func parseSbatchOutput(out string) (string, error) {
	line := strings.TrimSpace(out)
	if line == "" {
		return "", fmt.Errorf("sbatch produced no output")
	}
	if first, _, found := strings.Cut(line, "\n"); found {
		line = strings.TrimSpace(first)
	}
	line = strings.TrimPrefix(line, "Submitted batch job ")
	id, _, _ := strings.Cut(line, ";")
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsFunc(id, func(r rune) bool { return r < '0' || r > '9' }) {
		return "", fmt.Errorf("unrecognized sbatch output: %q", strings.TrimSpace(out))
	}
	return id, nil
}

// parseSqueueStates tallies one state token per line, as produced by
// `squeue -h -r -o %T`.
func parseSqueueStates(out string) TaskCounts {
	var c TaskCounts
	for _, line := range strings.Split(out, "\n") {
		switch strings.TrimSpace(line) {
		case "":
		case "PENDING", "CONFIGURING", "REQUEUED", "SUSPENDED":
			c.Pending++
		case "RUNNING", "COMPLETING":
			c.Running++
		}
		// Terminal states (COMPLETED, FAILED, CANCELLED, TIMEOUT...) do not
		// count as active.
	}
	return c
}
