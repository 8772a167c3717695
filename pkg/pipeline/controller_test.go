package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqworks/peakscreen/pkg/manifest"
	"github.com/seqworks/peakscreen/pkg/runstate"
	"github.com/seqworks/peakscreen/pkg/samples"
	"github.com/seqworks/peakscreen/pkg/scheduler"
	"github.com/seqworks/peakscreen/pkg/scheduler/schedtest"
)

// fixture builds a complete on-disk run layout: region list, sample list,
// per-sample inputs, and a manifest with millisecond polling and zero
// cooldowns.
type fixture struct {
	root string
	m    *manifest.Manifest
}

func newFixture(t *testing.T, sampleNames []string, regionLines []string) *fixture {
	t.Helper()
	root := t.TempDir()

	regionList := filepath.Join(root, "regions.tsv")
	require.NoError(t, os.WriteFile(regionList, []byte(strings.Join(regionLines, "")), 0644))

	sampleList := filepath.Join(root, "samples.txt")
	require.NoError(t, os.WriteFile(sampleList, []byte(strings.Join(sampleNames, "\n")+"\n"), 0644))

	inputRoot := filepath.Join(root, "atac")
	require.NoError(t, os.MkdirAll(inputRoot, 0755))

	model := filepath.Join(root, "impact-v2.pt")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0644))
	seqDir := filepath.Join(root, "hg38")
	require.NoError(t, os.MkdirAll(seqDir, 0755))
	wrapper := filepath.Join(root, "run_region.sh")
	require.NoError(t, os.WriteFile(wrapper, []byte("#!/bin/sh\n"), 0755))

	m := &manifest.Manifest{
		Version: "1.0",
		Paths: manifest.PathsConfig{
			RegionList:  regionList,
			SampleList:  sampleList,
			InputRoot:   inputRoot,
			Model:       model,
			SequenceDir: seqDir,
			OutputRoot:  filepath.Join(root, "out"),
		},
		Inputs: manifest.InputsConfig{
			Required: []string{"{sample}_fragments.tsv.gz", "{sample}_peaks.bed"},
		},
		Screen: manifest.ScreenConfig{
			ChunkSize:        2500,
			BatchSize:        1000,
			VisiblePoll:      manifest.Duration(time.Millisecond),
			ActivePoll:       manifest.Duration(time.Millisecond),
			NoProgressBudget: manifest.Duration(25 * time.Millisecond),
		},
		Scheduler: manifest.SchedulerConfig{Wrapper: wrapper},
	}
	return &fixture{root: root, m: m}
}

func regionLines(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("chr1\t%d\t%d\t%d\n", i*500, i*500+500, i+1)
	}
	return out
}

// addInputs creates both required inputs for sample.
func (f *fixture) addInputs(t *testing.T, sample string) {
	t.Helper()
	for _, name := range []string{sample + "_fragments.tsv.gz", sample + "_peaks.bed"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.m.Paths.InputRoot, name), []byte("x"), 0644))
	}
}

// addUnitOutputs simulates the compute step having produced per-region
// outputs for sample.
func (f *fixture) addUnitOutputs(t *testing.T, sample string, regionIDs ...int) {
	t.Helper()
	for _, id := range regionIDs {
		dir := filepath.Join(f.m.SampleDir(sample), fmt.Sprintf("REGION_%d", id))
		require.NoError(t, os.MkdirAll(dir, 0755))
		content := "chr1\t0\t500\t0.5\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "scores.bedgraph"), []byte(content), 0644))
	}
}

func (f *fixture) controller(t *testing.T, sched scheduler.Scheduler) *Controller {
	t.Helper()
	c, err := New(Config{Manifest: f.m, ManifestPath: "run.yaml", Scheduler: sched})
	require.NoError(t, err)
	return c
}

// doneScript finishes immediately: never-active job.
func doneScript() schedtest.Script {
	return schedtest.Script{Counts: []scheduler.TaskCounts{{Running: 1}, {}}}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRun_SingleSampleCompletes(t *testing.T) {
	f := newFixture(t, []string{"GSM1"}, regionLines(3))
	f.addInputs(t, "GSM1")
	fake := schedtest.New(doneScript())

	ctrl := f.controller(t, fake)

	// Pre-seed outputs so compilation has something to find. The fake
	// scheduler does not run any compute.
	f.addUnitOutputs(t, "GSM1", 1, 2, 3)

	rec, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, runstate.StateComplete, rec.State)
	require.Len(t, rec.Samples, 1)
	assert.Equal(t, samples.StatusCompleted, rec.Samples[0].Status)
	assert.Equal(t, 1, rec.Samples[0].BatchesDone)
	assert.Equal(t, 3, rec.Samples[0].CompiledRows)

	// One batch submitted: 3 regions fit a single 1-1000 batch.
	require.Len(t, fake.Submitted, 1)
	assert.Equal(t, "1-3", fake.Submitted[0].ArrayRange)
	assert.Equal(t, "screen-GSM1-c0", fake.Submitted[0].Name)

	// Compiled file exists and the unified matrix was built once.
	_, err = os.Stat(f.m.CompiledPath("GSM1"))
	assert.NoError(t, err)
	assert.Equal(t, f.m.MatrixPath(), rec.MatrixPath)
	_, err = os.Stat(f.m.MatrixPath())
	assert.NoError(t, err)

	// run.json persisted.
	got, err := runstate.NewStore(f.m.Paths.OutputRoot).Read()
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, got.RunID)
}

func TestRun_IdempotentWhenCompiledExists(t *testing.T) {
	f := newFixture(t, []string{"GSM1"}, regionLines(3))
	f.addInputs(t, "GSM1")

	// Pre-existing compiled result: the durable completion signal.
	compiled := f.m.CompiledPath("GSM1")
	require.NoError(t, os.MkdirAll(filepath.Dir(compiled), 0755))
	original := []byte("chr1\t0\t500\t0.5\tREGION_1\n")
	require.NoError(t, os.WriteFile(compiled, original, 0644))

	fake := schedtest.New()
	rec, err := f.controller(t, fake).Run(context.Background())
	require.NoError(t, err)

	// Zero dispatches, file byte-identical.
	assert.Empty(t, fake.Submitted)
	require.Len(t, rec.Samples, 1)
	assert.Equal(t, samples.StatusSkippedCompleted, rec.Samples[0].Status)

	after, err := os.ReadFile(compiled)
	require.NoError(t, err)
	assert.Equal(t, original, after)

	// Zero-duration timing row.
	rows := readCSV(t, filepath.Join(f.m.Paths.OutputRoot, SampleLogName))
	require.Len(t, rows, 3) // header, GSM1, TOTAL
	assert.Equal(t, "GSM1", rows[1][0])
	assert.Equal(t, "0.0", rows[1][3])
	assert.Equal(t, string(samples.StatusSkippedCompleted), rows[1][4])
}

func TestRun_MissingInputSkipsSample(t *testing.T) {
	f := newFixture(t, []string{"GSM1", "GSM2"}, regionLines(3))
	// GSM1 gets only its first input; the second is missing.
	require.NoError(t, os.WriteFile(
		filepath.Join(f.m.Paths.InputRoot, "GSM1_fragments.tsv.gz"), []byte("x"), 0644))
	f.addInputs(t, "GSM2")

	fake := schedtest.New(doneScript())
	ctrl := f.controller(t, fake)
	f.addUnitOutputs(t, "GSM2", 1, 2, 3)

	rec, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.Samples, 2)
	assert.Equal(t, samples.StatusSkippedInput, rec.Samples[0].Status)
	assert.Contains(t, rec.Samples[0].MissingInput, "GSM1_peaks.bed")
	assert.Equal(t, samples.StatusCompleted, rec.Samples[1].Status)

	// All submissions belong to GSM2.
	require.Len(t, fake.Submitted, 1)
	assert.Contains(t, fake.Submitted[0].Name, "GSM2")

	// Sample timing log: header + skipped + completed + TOTAL.
	rows := readCSV(t, filepath.Join(f.m.Paths.OutputRoot, SampleLogName))
	require.Len(t, rows, 4)
	assert.Equal(t, string(samples.StatusSkippedInput), rows[1][4])
	assert.Equal(t, "0.0", rows[1][3])
	assert.Equal(t, string(samples.StatusCompleted), rows[2][4])
	assert.Equal(t, "TOTAL", rows[3][0])

	// Per-unit outputs exist only under GSM2 (GSM1 has no sample dir at all).
	_, err = os.Stat(f.m.SampleDir("GSM1"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_AbandonedBatchKeepsSampleCompleted(t *testing.T) {
	f := newFixture(t, []string{"GSM1"}, regionLines(3))
	f.addInputs(t, "GSM1")

	// The job never shows a running task: abandoned after the budget.
	fake := schedtest.New(schedtest.Script{Counts: []scheduler.TaskCounts{{Pending: 3}}})
	ctrl := f.controller(t, fake)
	f.addUnitOutputs(t, "GSM1", 1)

	rec, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.Samples, 1)
	assert.Equal(t, samples.StatusCompleted, rec.Samples[0].Status,
		"timeout is recorded but does not downgrade the sample")
	assert.Equal(t, 1, rec.Samples[0].BatchesAbandoned)
	assert.Zero(t, rec.Samples[0].BatchesDone)
	assert.Equal(t, 1, rec.TotalAbandoned())
}

func TestRun_EmptyCompilationKeepsSampleCompleted(t *testing.T) {
	f := newFixture(t, []string{"GSM1"}, regionLines(3))
	f.addInputs(t, "GSM1")
	fake := schedtest.New(doneScript())

	// No per-unit outputs at all.
	rec, err := f.controller(t, fake).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.Samples, 1)
	assert.Equal(t, samples.StatusCompleted, rec.Samples[0].Status)
	assert.Zero(t, rec.Samples[0].CompiledRows)

	_, err = os.Stat(f.m.CompiledPath("GSM1"))
	assert.True(t, os.IsNotExist(err), "no compiled file for an empty compilation")
	assert.Empty(t, rec.MatrixPath, "matrix is skipped when nothing compiled")
}

func TestRun_BatchSequencing(t *testing.T) {
	// 10 regions, batch size 4: three batches in order 1-4, 5-8, 9-10.
	f := newFixture(t, []string{"GSM1"}, regionLines(10))
	f.m.Screen.BatchSize = 4
	f.addInputs(t, "GSM1")

	fake := schedtest.New(doneScript(), doneScript(), doneScript())
	ctrl := f.controller(t, fake)
	f.addUnitOutputs(t, "GSM1", 1, 5, 9)

	_, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, fake.Submitted, 3)
	assert.Equal(t, "1-4", fake.Submitted[0].ArrayRange)
	assert.Equal(t, "5-8", fake.Submitted[1].ArrayRange)
	assert.Equal(t, "9-10", fake.Submitted[2].ArrayRange)

	// Batch timing log: header + 3 batches + TOTAL.
	rows := readCSV(t, filepath.Join(f.m.SampleDir("GSM1"), BatchLogName))
	require.Len(t, rows, 5)
	assert.Equal(t, "chunk0/1-4", rows[1][0])
	assert.Equal(t, "chunk0/9-10", rows[3][0])
	assert.Equal(t, "TOTAL", rows[4][0])
}

func TestRun_SubmitFailureFailsSampleOnly(t *testing.T) {
	f := newFixture(t, []string{"GSM1", "GSM2"}, regionLines(3))
	f.addInputs(t, "GSM1")
	f.addInputs(t, "GSM2")

	fake := schedtest.New(
		schedtest.Script{SubmitErr: assert.AnError},
		doneScript(),
	)
	ctrl := f.controller(t, fake)
	f.addUnitOutputs(t, "GSM2", 1)

	rec, err := ctrl.Run(context.Background())
	require.NoError(t, err, "a scheduler failure on one sample does not abort the run")

	require.Len(t, rec.Samples, 2)
	assert.Equal(t, samples.StatusFailed, rec.Samples[0].Status)
	assert.Equal(t, samples.StatusCompleted, rec.Samples[1].Status)
}

func TestRun_ContextCancellationAborts(t *testing.T) {
	f := newFixture(t, []string{"GSM1"}, regionLines(3))
	f.addInputs(t, "GSM1")

	// Job stays running forever; the context expires first.
	f.m.Screen.NoProgressBudget = manifest.Duration(time.Hour)
	fake := schedtest.New(schedtest.Script{Counts: []scheduler.TaskCounts{{Running: 1}}})
	ctrl := f.controller(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := ctrl.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, []string{"GSM1"}, regionLines(3))
	f.addInputs(t, "GSM1")
	fake := schedtest.New(doneScript())
	ctrl := f.controller(t, fake)
	f.addUnitOutputs(t, "GSM1", 1)

	rec, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	p := ctrl.Snapshot()
	assert.Equal(t, rec.RunID, p.RunID)
	assert.Equal(t, runstate.StateComplete, p.State)
	assert.Equal(t, 1, p.SamplesTotal)
	assert.Equal(t, 1, p.SamplesDone)
	assert.Equal(t, 1, p.BatchesDone)
}
