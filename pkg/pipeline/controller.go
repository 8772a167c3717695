// Package pipeline drives a screening run: sample by sample, chunk by
// chunk, batch by batch.
//
// The controller is deliberately single-threaded and cooperative. Samples
// are processed strictly one at a time and at most one batch is ever in
// flight, as a throttle against the shared scheduler queue, not as a data
// dependency; batches cover disjoint region subsets. All real parallelism
// happens inside the scheduler's array jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seqworks/peakscreen/pkg/compile"
	"github.com/seqworks/peakscreen/pkg/dispatch"
	"github.com/seqworks/peakscreen/pkg/manifest"
	"github.com/seqworks/peakscreen/pkg/matrix"
	"github.com/seqworks/peakscreen/pkg/partition"
	"github.com/seqworks/peakscreen/pkg/regions"
	"github.com/seqworks/peakscreen/pkg/runstate"
	"github.com/seqworks/peakscreen/pkg/samples"
	"github.com/seqworks/peakscreen/pkg/scheduler"
	"github.com/seqworks/peakscreen/pkg/timing"
)

// SampleLogName and BatchLogName are the timing log file names.
const (
	SampleLogName = "sample_times.csv"
	BatchLogName  = "batch_times.csv"
)

// Progress is a point-in-time snapshot of a run, served by the status
// endpoint.
type Progress struct {
	RunID         string         `json:"run_id"`
	State         runstate.State `json:"state"`
	CurrentSample string         `json:"current_sample,omitempty"`

	SamplesTotal int `json:"samples_total"`
	SamplesDone  int `json:"samples_done"`

	BatchesDone      int `json:"batches_done"`
	BatchesAbandoned int `json:"batches_abandoned"`
}

// Config wires a controller.
type Config struct {
	Manifest     *manifest.Manifest
	ManifestPath string
	Scheduler    scheduler.Scheduler
	Log          *zap.Logger
}

// Controller runs the per-sample loop for one manifest.
type Controller struct {
	m       *manifest.Manifest
	mpath   string
	monitor *dispatch.Monitor
	comp    *compile.Compiler
	store   *runstate.Store
	log     *zap.Logger

	plan *partition.Plan

	mu       sync.RWMutex
	progress Progress
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	mon := dispatch.NewMonitor(cfg.Scheduler, dispatch.Config{
		VisiblePoll:      cfg.Manifest.Screen.VisiblePoll.Std(),
		ActivePoll:       cfg.Manifest.Screen.ActivePoll.Std(),
		NoProgressBudget: cfg.Manifest.Screen.NoProgressBudget.Std(),
		SubmitRate:       cfg.Manifest.Screen.SubmitRate,
	}, log)

	return &Controller{
		m:       cfg.Manifest,
		mpath:   cfg.ManifestPath,
		monitor: mon,
		comp:    compile.New(log),
		store:   runstate.NewStore(cfg.Manifest.Paths.OutputRoot),
		log:     log,
	}, nil
}

// Snapshot returns the current run progress.
func (c *Controller) Snapshot() Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

func (c *Controller) updateProgress(fn func(*Progress)) {
	c.mu.Lock()
	fn(&c.progress)
	c.mu.Unlock()
}

// Run executes the full pipeline: load inputs, partition once, drive every
// sample to a terminal status, then build the unified matrix exactly once.
//
// Mid-run conditions (missing sample inputs, abandoned batches, empty
// compilations) are recorded and skipped over; only input loading and
// context cancellation abort the run.
func (c *Controller) Run(ctx context.Context) (*runstate.Record, error) {
	regionList, err := regions.LoadFile(c.m.Paths.RegionList)
	if err != nil {
		return nil, err
	}
	sampleList, err := samples.LoadFile(c.m.Paths.SampleList)
	if err != nil {
		return nil, err
	}

	// One shared region list, one partition for every sample.
	c.plan = partition.Split(regionList, c.m.Screen.ChunkSize, c.m.Screen.BatchSize)
	c.log.Info("run starting",
		zap.Int("samples", len(sampleList)),
		zap.Int("regions", c.plan.Total),
		zap.Int("chunks", len(c.plan.Chunks)),
		zap.Int("batches", c.plan.NumBatches()))

	record := &runstate.Record{
		RunID:        uuid.New().String(),
		State:        runstate.StateRunning,
		ManifestPath: c.mpath,
		CreatedAt:    time.Now().UTC(),
	}
	c.updateProgress(func(p *Progress) {
		p.RunID = record.RunID
		p.State = record.State
		p.SamplesTotal = len(sampleList)
	})
	if err := c.store.Write(record); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(c.m.Paths.OutputRoot, 0755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	logFile, err := os.Create(c.sampleLogPath())
	if err != nil {
		return nil, fmt.Errorf("create sample timing log: %w", err)
	}
	defer func() { _ = logFile.Close() }()
	sampleLog := timing.NewSampleLog(logFile)

	for _, s := range sampleList {
		c.updateProgress(func(p *Progress) { p.CurrentSample = s.Name })

		summary, err := c.processSample(ctx, s, record)
		if err != nil {
			return nil, err
		}
		record.Upsert(*summary)
		if err := c.store.Write(record); err != nil {
			return nil, err
		}

		start, end := timestampsOf(s)
		if err := sampleLog.Append(s.Name, start, end, string(s.Status)); err != nil {
			return nil, err
		}
		c.updateProgress(func(p *Progress) {
			p.CurrentSample = ""
			p.SamplesDone++
		})
	}
	if err := sampleLog.Close(); err != nil {
		return nil, err
	}

	c.buildMatrix(record)

	now := time.Now().UTC()
	record.State = runstate.StateComplete
	record.EndedAt = &now
	c.updateProgress(func(p *Progress) { p.State = record.State })
	if err := c.store.Write(record); err != nil {
		return nil, err
	}

	c.log.Info("run complete",
		zap.Int("samples", len(record.Samples)),
		zap.Int("batches_abandoned", record.TotalAbandoned()))
	return record, nil
}

// buildMatrix runs the cross-sample matrix builder exactly once, after the
// full sample loop. A run where no sample compiled anything is logged, not
// failed: the exit contract is zero once preflight has passed.
func (c *Controller) buildMatrix(record *runstate.Record) {
	outPath := c.m.MatrixPath()
	sum, err := matrix.New(c.log).Build(c.m.Paths.OutputRoot, outPath)
	if err != nil {
		c.log.Warn("unified matrix not built", zap.Error(err))
		return
	}
	record.MatrixPath = sum.Path
	c.log.Info("unified matrix written",
		zap.String("path", sum.Path),
		zap.Int("samples", sum.Samples),
		zap.Int("regions", sum.Regions))
}

// processSample drives one sample to a terminal status. Returned errors
// abort the whole run and are limited to context cancellation and
// filesystem failures on this system's own outputs; scheduler trouble
// degrades to a failed sample instead.
func (c *Controller) processSample(ctx context.Context, s *samples.Sample, record *runstate.Record) (*runstate.SampleSummary, error) {
	now := time.Now().UTC()
	s.StartedAt = &now

	// Resumability: the compiled file is the durable completion signal.
	if _, err := os.Stat(c.m.CompiledPath(s.Name)); err == nil {
		if err := s.Transition(samples.StatusSkippedCompleted); err != nil {
			return nil, err
		}
		s.EndedAt = s.StartedAt
		c.log.Info("sample already completed, skipping",
			zap.String("sample", s.Name),
			zap.String("compiled", c.m.CompiledPath(s.Name)))
		return summarize(s, 0, 0, 0), nil
	}

	// Preconditions: both required inputs, first missing wins.
	for _, input := range c.m.RequiredInputs(s.Name) {
		if _, err := os.Stat(input); err != nil {
			if err := s.Transition(samples.StatusSkippedInput); err != nil {
				return nil, err
			}
			s.MissingInput = input
			s.EndedAt = s.StartedAt
			c.log.Warn("sample input missing, skipping",
				zap.String("sample", s.Name),
				zap.String("missing", input))
			return summarize(s, 0, 0, 0), nil
		}
	}

	if err := s.Transition(samples.StatusRunning); err != nil {
		return nil, err
	}

	done, abandoned, err := c.dispatchBatches(ctx, s)
	if err != nil {
		if isCtxErr(err) {
			return nil, err
		}
		// Scheduler failure mid-sample: mark failed, move on.
		c.log.Error("sample dispatch failed", zap.String("sample", s.Name), zap.Error(err))
		if terr := s.Transition(samples.StatusFailed); terr != nil {
			return nil, terr
		}
		end := time.Now().UTC()
		s.EndedAt = &end
		return summarize(s, done, abandoned, 0), nil
	}

	sum, err := c.comp.Run(c.m.SampleDir(s.Name), c.m.CompiledPath(s.Name), c.plan.Manifest())
	if err != nil {
		return nil, err
	}

	// Batch timeouts and empty compilations do not alter the terminal
	// status; they are recorded on the run record instead. This mirrors
	// the original pipeline's optimistic accounting.
	if err := s.Transition(samples.StatusCompleted); err != nil {
		return nil, err
	}
	end := time.Now().UTC()
	s.EndedAt = &end
	c.log.Info("sample completed",
		zap.String("sample", s.Name),
		zap.Int("batches_done", done),
		zap.Int("batches_abandoned", abandoned),
		zap.Int("compiled_rows", sum.Rows))
	return summarize(s, done, abandoned, sum.Rows), nil
}

// dispatchBatches submits every batch of every chunk sequentially, blocking
// on each until terminal. Cooldowns after each batch and chunk smooth the
// submission rate.
func (c *Controller) dispatchBatches(ctx context.Context, s *samples.Sample) (done, abandoned int, err error) {
	sampleDir := c.m.SampleDir(s.Name)
	if err := os.MkdirAll(sampleDir, 0755); err != nil {
		return 0, 0, fmt.Errorf("create sample dir: %w", err)
	}

	logFile, err := os.Create(c.batchLogPath(s.Name))
	if err != nil {
		return 0, 0, fmt.Errorf("create batch timing log: %w", err)
	}
	defer func() { _ = logFile.Close() }()
	batchLog := timing.NewBatchLog(logFile)

	for _, chunk := range c.plan.Chunks {
		for _, b := range chunk.Batches {
			res, err := c.monitor.Await(ctx, c.submitRequest(s.Name, chunk, b))
			if err != nil {
				_ = batchLog.Close()
				return done, abandoned, err
			}

			label := fmt.Sprintf("chunk%d/%s", chunk.Index, b.ArrayRange())
			if err := batchLog.Append(label, res.Started, res.Ended, ""); err != nil {
				return done, abandoned, err
			}
			if res.Abandoned() {
				abandoned++
			} else {
				done++
			}
			c.updateProgress(func(p *Progress) {
				if res.Abandoned() {
					p.BatchesAbandoned++
				} else {
					p.BatchesDone++
				}
			})

			if err := dispatch.Cooldown(ctx, c.m.Screen.BatchCooldown.Std()); err != nil {
				return done, abandoned, err
			}
		}
		if err := dispatch.Cooldown(ctx, c.m.Screen.ChunkCooldown.Std()); err != nil {
			return done, abandoned, err
		}
	}

	return done, abandoned, batchLog.Close()
}

func (c *Controller) submitRequest(sample string, chunk partition.Chunk, b partition.Batch) scheduler.SubmitRequest {
	return scheduler.SubmitRequest{
		Name:       fmt.Sprintf("screen-%s-c%d", sample, chunk.Index),
		Script:     c.m.Scheduler.Wrapper,
		ArrayRange: b.ArrayRange(),
		WorkDir:    c.m.SampleDir(sample),
		Args: []string{
			sample,
			strconv.Itoa(chunk.Index),
			c.m.Paths.RegionList,
			c.m.Paths.Model,
			c.m.Paths.SequenceDir,
			c.m.SampleDir(sample),
		},
	}
}

func (c *Controller) sampleLogPath() string {
	return filepath.Join(c.m.Paths.OutputRoot, SampleLogName)
}

func (c *Controller) batchLogPath(sample string) string {
	return filepath.Join(c.m.SampleDir(sample), BatchLogName)
}

func summarize(s *samples.Sample, done, abandoned, rows int) *runstate.SampleSummary {
	return &runstate.SampleSummary{
		Name:             s.Name,
		Status:           s.Status,
		MissingInput:     s.MissingInput,
		BatchesDone:      done,
		BatchesAbandoned: abandoned,
		CompiledRows:     rows,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
	}
}

func timestampsOf(s *samples.Sample) (time.Time, time.Time) {
	var start, end time.Time
	if s.StartedAt != nil {
		start = *s.StartedAt
	}
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return start, end
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
