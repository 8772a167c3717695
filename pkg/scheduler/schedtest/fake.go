// Package schedtest provides a scripted fake scheduler for deterministic
// dispatch and pipeline tests.
//
// The fake plays back a fixed sequence of task-count observations per
// submitted job, so tests can walk a batch through any state trajectory
// without sleeping on a real queue.
package schedtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seqworks/peakscreen/pkg/scheduler"
)

// Script describes the observable behavior of one submitted job.
type Script struct {
	// InvisiblePolls is how many Visible calls return false before the job
	// appears in the queue.
	InvisiblePolls int

	// Counts is played back one element per Counts call. After the script
	// is exhausted the last element repeats; an empty script reports an
	// inactive job.
	Counts []scheduler.TaskCounts

	// SubmitErr, if set, fails the submission.
	SubmitErr error
}

type jobState struct {
	script       Script
	visibleCalls int
	countCalls   int
}

// Fake is a scripted scheduler.Scheduler. Submissions are assigned ids in
// order and matched against the configured scripts in order; jobs beyond
// the script list complete immediately.
type Fake struct {
	mu      sync.Mutex
	scripts []Script
	jobs    map[string]*jobState

	// Submitted records every request in submission order.
	Submitted []scheduler.SubmitRequest
}

var _ scheduler.Scheduler = (*Fake)(nil)

// New returns a fake that plays scripts back in submission order.
func New(scripts ...Script) *Fake {
	return &Fake{scripts: scripts, jobs: make(map[string]*jobState)}
}

func (f *Fake) SubmitArray(_ context.Context, req scheduler.SubmitRequest) (scheduler.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var script Script
	if len(f.Submitted) < len(f.scripts) {
		script = f.scripts[len(f.Submitted)]
	}
	f.Submitted = append(f.Submitted, req)
	if script.SubmitErr != nil {
		return scheduler.JobHandle{}, script.SubmitErr
	}

	id := fmt.Sprintf("fake-%d", len(f.Submitted))
	f.jobs[id] = &jobState{script: script}
	return scheduler.JobHandle{ID: id, ArrayRange: req.ArrayRange, SubmittedAt: time.Now().UTC()}, nil
}

func (f *Fake) Visible(_ context.Context, h scheduler.JobHandle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j, ok := f.jobs[h.ID]
	if !ok {
		return false, fmt.Errorf("unknown job %s", h.ID)
	}
	j.visibleCalls++
	return j.visibleCalls > j.script.InvisiblePolls, nil
}

func (f *Fake) Counts(_ context.Context, h scheduler.JobHandle) (scheduler.TaskCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j, ok := f.jobs[h.ID]
	if !ok {
		return scheduler.TaskCounts{}, fmt.Errorf("unknown job %s", h.ID)
	}
	if len(j.script.Counts) == 0 {
		return scheduler.TaskCounts{}, nil
	}
	idx := j.countCalls
	if idx >= len(j.script.Counts) {
		idx = len(j.script.Counts) - 1
	}
	j.countCalls++
	return j.script.Counts[idx], nil
}
