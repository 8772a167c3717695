package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqworks/peakscreen/pkg/manifest"
)

func writePlanFixtures(t *testing.T) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()

	var regionLines strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&regionLines, "chr1\t%d\t%d\t%d\n", i*1000, i*1000+500, i)
	}
	regionPath := filepath.Join(dir, "regions.tsv")
	require.NoError(t, os.WriteFile(regionPath, []byte(regionLines.String()), 0o644))

	samplePath := filepath.Join(dir, "samples.txt")
	require.NoError(t, os.WriteFile(samplePath, []byte("sampleA\nsampleB\n"), 0o644))

	return &manifest.Manifest{
		Version: "1.0",
		Paths: manifest.PathsConfig{
			RegionList: regionPath,
			SampleList: samplePath,
			OutputRoot: filepath.Join(dir, "out"),
		},
		Screen: manifest.ScreenConfig{ChunkSize: 6, BatchSize: 4},
		Scheduler: manifest.SchedulerConfig{
			Wrapper:   filepath.Join(dir, "wrapper.sh"),
			Partition: "compute",
		},
	}
}

func TestShowRunPlan(t *testing.T) {
	m := writePlanFixtures(t)
	assert.NoError(t, showRunPlan(m))
}

func TestShowRunPlanMissingRegionList(t *testing.T) {
	m := writePlanFixtures(t)
	m.Paths.RegionList = filepath.Join(t.TempDir(), "absent.tsv")

	err := showRunPlan(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read region list")
}
