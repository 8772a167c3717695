// Package dispatch submits one batch as an array job and waits for it to
// reach a terminal state.
//
// Per batch the monitor walks a fixed state machine:
//
//	SUBMITTED -> VISIBLE_PENDING -> ACTIVE -> DONE | ABANDONED_TIMEOUT
//
// VISIBLE_PENDING polls until the scheduler acknowledges the job; absence
// is treated as transient queue lag and has no timeout. ACTIVE polls until
// no array task is pending or running. A no-progress budget guards against
// jobs wedged in the scheduler: the clock starts when the batch enters
// ACTIVE, resets on every observation of a running task, and abandons the
// batch when it expires during a zero-running observation. A batch that
// never shows a running task is therefore abandoned one budget after
// entering ACTIVE.
//
// ABANDONED_TIMEOUT only stops the wait; the external job is left to the
// scheduler and is never cancelled or retried here.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seqworks/peakscreen/pkg/scheduler"
)

// State is the lifecycle state of one dispatched batch.
type State string

const (
	StateSubmitted        State = "submitted"
	StateVisiblePending   State = "visible_pending"
	StateActive           State = "active"
	StateDone             State = "done"
	StateAbandonedTimeout State = "abandoned_timeout"
)

// Terminal reports whether the state lets the controller proceed to the
// next batch.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAbandonedTimeout
}

// Config tunes polling and throttling. Zero values fall back to defaults.
type Config struct {
	// VisiblePoll is the interval between queue-visibility polls.
	VisiblePoll time.Duration

	// ActivePoll is the interval between task-state polls.
	ActivePoll time.Duration

	// NoProgressBudget bounds how long a batch may sit with zero running
	// tasks (see package comment for the exact clock semantics).
	NoProgressBudget time.Duration

	// SubmitRate caps submissions per second across all batches. Zero
	// means unthrottled.
	SubmitRate float64
}

// DefaultConfig returns the production polling configuration.
func DefaultConfig() Config {
	return Config{
		VisiblePoll:      30 * time.Second,
		ActivePoll:       30 * time.Second,
		NoProgressBudget: 1200 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.VisiblePoll <= 0 {
		c.VisiblePoll = d.VisiblePoll
	}
	if c.ActivePoll <= 0 {
		c.ActivePoll = d.ActivePoll
	}
	if c.NoProgressBudget <= 0 {
		c.NoProgressBudget = d.NoProgressBudget
	}
	return c
}

// Transition records entry into one state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Result summarizes one batch wait.
type Result struct {
	Handle scheduler.JobHandle `json:"handle"`

	// State is the terminal state reached.
	State State `json:"state"`

	Transitions []Transition `json:"transitions"`

	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`

	// SawRunning reports whether any array task was ever observed running.
	SawRunning bool `json:"saw_running"`
}

// Abandoned reports whether the batch timed out rather than finishing.
func (r *Result) Abandoned() bool {
	return r.State == StateAbandonedTimeout
}

// Monitor dispatches batches one at a time against a scheduler.
type Monitor struct {
	sched   scheduler.Scheduler
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewMonitor creates a monitor. log may be nil.
func NewMonitor(s scheduler.Scheduler, cfg Config, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{sched: s, cfg: cfg.withDefaults(), log: log}
	if cfg.SubmitRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), 1)
	}
	return m
}

// Await submits req and blocks until the batch reaches a terminal state or
// ctx is cancelled. Exactly one batch is ever in flight per monitor caller;
// the monitor itself holds no cross-call state.
func (m *Monitor) Await(ctx context.Context, req scheduler.SubmitRequest) (*Result, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("submission throttle: %w", err)
		}
	}

	res := &Result{Started: time.Now().UTC()}
	res.enter(StateSubmitted)

	handle, err := m.sched.SubmitArray(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit batch %s: %w", req.ArrayRange, err)
	}
	res.Handle = handle
	m.log.Info("batch submitted",
		zap.String("job_id", handle.ID),
		zap.String("array", handle.ArrayRange),
		zap.String("name", req.Name))

	if err := m.awaitVisible(ctx, res); err != nil {
		return nil, err
	}
	if err := m.awaitInactive(ctx, res); err != nil {
		return nil, err
	}

	res.Ended = time.Now().UTC()
	if res.Abandoned() {
		m.log.Warn("batch abandoned by no-progress timeout",
			zap.String("job_id", res.Handle.ID),
			zap.String("array", res.Handle.ArrayRange),
			zap.Bool("saw_running", res.SawRunning),
			zap.Duration("budget", m.cfg.NoProgressBudget))
	} else {
		m.log.Info("batch done",
			zap.String("job_id", res.Handle.ID),
			zap.Duration("elapsed", res.Ended.Sub(res.Started)))
	}
	return res, nil
}

// awaitVisible polls until the scheduler lists the job. No timeout: an
// unacknowledged handle is transient scheduler lag, not failure.
func (m *Monitor) awaitVisible(ctx context.Context, res *Result) error {
	res.enter(StateVisiblePending)
	for {
		visible, err := m.sched.Visible(ctx, res.Handle)
		if err != nil {
			m.log.Warn("visibility poll failed, retrying",
				zap.String("job_id", res.Handle.ID), zap.Error(err))
		} else if visible {
			return nil
		}
		if err := sleepCtx(ctx, m.cfg.VisiblePoll); err != nil {
			return err
		}
	}
}

// awaitInactive polls until no array task is active, or the no-progress
// budget expires.
func (m *Monitor) awaitInactive(ctx context.Context, res *Result) error {
	res.enter(StateActive)
	anchor := time.Now()

	for {
		counts, err := m.sched.Counts(ctx, res.Handle)
		switch {
		case err != nil:
			m.log.Warn("task state poll failed, retrying",
				zap.String("job_id", res.Handle.ID), zap.Error(err))
		case !counts.Active():
			res.enter(StateDone)
			res.State = StateDone
			return nil
		case counts.Running > 0:
			res.SawRunning = true
			anchor = time.Now()
		}

		// Zero running tasks (or a failed poll): the no-progress clock runs.
		if time.Since(anchor) >= m.cfg.NoProgressBudget {
			res.enter(StateAbandonedTimeout)
			res.State = StateAbandonedTimeout
			return nil
		}
		if err := sleepCtx(ctx, m.cfg.ActivePoll); err != nil {
			return err
		}
	}
}

func (r *Result) enter(s State) {
	r.Transitions = append(r.Transitions, Transition{State: s, At: time.Now().UTC()})
}

// Cooldown sleeps for d unless ctx is cancelled first. The controller uses
// it to smooth submission rate after each batch and chunk.
func Cooldown(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
