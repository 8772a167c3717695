package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqworks/peakscreen/pkg/manifest"
)

// fixtureManifest lays out a complete set of required paths under a temp
// directory and returns a manifest pointing at them.
func fixtureManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	root := t.TempDir()

	mkFile := func(name string) string {
		p := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
		return p
	}
	mkDir := func(name string) string {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(p, 0755))
		return p
	}

	return &manifest.Manifest{
		Version: "1.0",
		Paths: manifest.PathsConfig{
			RegionList:  mkFile("regions.tsv"),
			SampleList:  mkFile("samples.txt"),
			InputRoot:   mkDir("atac"),
			Model:       mkFile("impact-v2.pt"),
			SequenceDir: mkDir("hg38"),
			OutputRoot:  filepath.Join(root, "out"),
		},
		Scheduler: manifest.SchedulerConfig{Wrapper: mkFile("run_region.sh")},
	}
}

func TestRun_AllPresent(t *testing.T) {
	m := fixtureManifest(t)

	rec := Run(m)
	assert.Empty(t, rec.Failed())
	assert.NoError(t, rec.Err())
	assert.Len(t, rec.Results, 6)
}

func TestRun_MissingPathsCollected(t *testing.T) {
	m := fixtureManifest(t)
	m.Paths.Model = filepath.Join(t.TempDir(), "missing.pt")
	m.Paths.SequenceDir = filepath.Join(t.TempDir(), "missing-dir")

	rec := Run(m)
	failed := rec.Failed()
	require.Len(t, failed, 2)

	err := rec.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), CheckModel)
	assert.Contains(t, err.Error(), CheckSequenceDir)
}

func TestRun_DirectoryWhereFileExpected(t *testing.T) {
	m := fixtureManifest(t)
	m.Paths.RegionList = filepath.Dir(m.Paths.RegionList)

	rec := Run(m)
	failed := rec.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, CheckRegionList, failed[0].Check)
	assert.Equal(t, "expected a file", failed[0].Detail)
}

func TestRun_FileWhereDirectoryExpected(t *testing.T) {
	m := fixtureManifest(t)
	m.Paths.InputRoot = m.Paths.Model

	rec := Run(m)
	failed := rec.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, CheckInputRoot, failed[0].Check)
	assert.Equal(t, "expected a directory", failed[0].Detail)
}
