package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqworks/peakscreen/pkg/scheduler"
	"github.com/seqworks/peakscreen/pkg/scheduler/schedtest"
)

func fastConfig() Config {
	return Config{
		VisiblePoll:      time.Millisecond,
		ActivePoll:       time.Millisecond,
		NoProgressBudget: 25 * time.Millisecond,
	}
}

func submitReq() scheduler.SubmitRequest {
	return scheduler.SubmitRequest{
		Name:       "screen-GSM1-c0",
		Script:     "/opt/screen/run_region.sh",
		ArrayRange: "1-10",
	}
}

func states(res *Result) []State {
	out := make([]State, 0, len(res.Transitions))
	for _, tr := range res.Transitions {
		out = append(out, tr.State)
	}
	return out
}

func TestAwait_HappyPath(t *testing.T) {
	fake := schedtest.New(schedtest.Script{
		InvisiblePolls: 2,
		Counts: []scheduler.TaskCounts{
			{Pending: 10},
			{Pending: 4, Running: 6},
			{Running: 2},
			{},
		},
	})
	m := NewMonitor(fake, fastConfig(), nil)

	res, err := m.Await(context.Background(), submitReq())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.State.Terminal())
	assert.False(t, res.Abandoned())
	assert.True(t, res.SawRunning)
	assert.Equal(t, "1-10", res.Handle.ArrayRange)
	assert.Equal(t,
		[]State{StateSubmitted, StateVisiblePending, StateActive, StateDone},
		states(res))
	assert.False(t, res.Ended.Before(res.Started))
}

func TestAwait_NeverRunsTimesOut(t *testing.T) {
	// A job that sits pending forever is abandoned one budget after
	// entering the active wait.
	fake := schedtest.New(schedtest.Script{
		Counts: []scheduler.TaskCounts{{Pending: 10}},
	})
	m := NewMonitor(fake, fastConfig(), nil)

	res, err := m.Await(context.Background(), submitReq())
	require.NoError(t, err)

	assert.Equal(t, StateAbandonedTimeout, res.State)
	assert.True(t, res.Abandoned())
	assert.False(t, res.SawRunning)
	assert.Equal(t,
		[]State{StateSubmitted, StateVisiblePending, StateActive, StateAbandonedTimeout},
		states(res))
}

func TestAwait_StallAfterRunningTimesOut(t *testing.T) {
	// Tasks ran, then the job wedged with everything stuck pending. The
	// budget restarts at the last running observation.
	counts := []scheduler.TaskCounts{
		{Pending: 10},
		{Running: 3},
		{Pending: 7}, // wedged from here on (script repeats last element)
	}
	fake := schedtest.New(schedtest.Script{Counts: counts})
	m := NewMonitor(fake, fastConfig(), nil)

	res, err := m.Await(context.Background(), submitReq())
	require.NoError(t, err)

	assert.Equal(t, StateAbandonedTimeout, res.State)
	assert.True(t, res.SawRunning)
}

func TestAwait_RunningResetsBudget(t *testing.T) {
	// Alternating running observations keep resetting the no-progress
	// clock; the batch must finish rather than time out.
	var counts []scheduler.TaskCounts
	for i := 0; i < 50; i++ {
		counts = append(counts, scheduler.TaskCounts{Running: 1})
	}
	counts = append(counts, scheduler.TaskCounts{})

	fake := schedtest.New(schedtest.Script{Counts: counts})
	cfg := fastConfig()
	cfg.NoProgressBudget = 10 * time.Millisecond
	m := NewMonitor(fake, cfg, nil)

	res, err := m.Await(context.Background(), submitReq())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
}

func TestAwait_VisibilityLagHasNoTimeout(t *testing.T) {
	fake := schedtest.New(schedtest.Script{
		InvisiblePolls: 40, // far beyond the no-progress budget
		Counts:         []scheduler.TaskCounts{{}},
	})
	m := NewMonitor(fake, fastConfig(), nil)

	res, err := m.Await(context.Background(), submitReq())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
}

func TestAwait_SubmitError(t *testing.T) {
	fake := schedtest.New(schedtest.Script{SubmitErr: assert.AnError})
	m := NewMonitor(fake, fastConfig(), nil)

	_, err := m.Await(context.Background(), submitReq())
	require.Error(t, err)
	assert.ErrorContains(t, err, "submit batch 1-10")
}

func TestAwait_ContextCancel(t *testing.T) {
	fake := schedtest.New(schedtest.Script{
		Counts: []scheduler.TaskCounts{{Running: 1}},
	})
	cfg := fastConfig()
	cfg.NoProgressBudget = time.Hour
	m := NewMonitor(fake, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Await(ctx, submitReq())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCooldown(t *testing.T) {
	t.Run("zero is a no-op", func(t *testing.T) {
		assert.NoError(t, Cooldown(context.Background(), 0))
	})

	t.Run("respects cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, Cooldown(ctx, time.Hour), context.Canceled)
	})
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StateSubmitted.Terminal())
	assert.False(t, StateVisiblePending.Terminal())
	assert.False(t, StateActive.Terminal())
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateAbandonedTimeout.Terminal())
}
