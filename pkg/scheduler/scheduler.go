// Package scheduler abstracts the external cluster workload manager.
//
// The orchestrator only ever submits array jobs and polls for their
// presence and task states; everything else about the scheduler is opaque.
// Keeping the surface this small lets tests substitute a fake and keeps the
// dispatch monitor free of Slurm details.
package scheduler

import (
	"context"
	"time"
)

// JobHandle identifies one submitted array job.
type JobHandle struct {
	// ID is the scheduler-assigned job id.
	ID string `json:"external_job_id"`

	// ArrayRange is the submitted array index range, e.g. "1-1000".
	ArrayRange string `json:"array_range"`

	SubmittedAt time.Time `json:"submit_time"`
}

// TaskCounts summarizes the array task states of one job.
type TaskCounts struct {
	Pending int
	Running int
}

// Active reports whether any array task is still pending or running.
func (c TaskCounts) Active() bool {
	return c.Pending > 0 || c.Running > 0
}

// SubmitRequest describes one array job submission.
type SubmitRequest struct {
	// Name is the scheduler job name.
	Name string

	// Script is the path of the per-task wrapper script. Its contents are
	// owned by the compute step, not by this system.
	Script string

	// ArrayRange is the 1-based inclusive array expression, e.g. "1-1000".
	ArrayRange string

	// WorkDir is the working directory for the job.
	WorkDir string

	// Args are positional arguments passed through to the wrapper script.
	Args []string
}

// Scheduler is the minimal client surface the dispatch monitor needs.
type Scheduler interface {
	// SubmitArray hands one array job to the scheduler and returns its handle.
	SubmitArray(ctx context.Context, req SubmitRequest) (JobHandle, error)

	// Visible reports whether the scheduler acknowledges the job as present
	// in its queue. Freshly submitted jobs may be invisible for a while;
	// callers treat absence as transient lag.
	Visible(ctx context.Context, h JobHandle) (bool, error)

	// Counts returns the pending/running array task counts for the job.
	// A job with zero active tasks has finished (or vanished).
	Counts(ctx context.Context, h JobHandle) (TaskCounts, error)
}
