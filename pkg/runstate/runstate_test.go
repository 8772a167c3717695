package runstate

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqworks/peakscreen/pkg/samples"
)

func TestStore_WriteReadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		RunID:        "run-1",
		State:        StateRunning,
		ManifestPath: "/tmp/run.yaml",
		CreatedAt:    now,
		Samples: []SampleSummary{
			{Name: "GSM1", Status: samples.StatusCompleted, BatchesDone: 3, CompiledRows: 120, StartedAt: &now},
			{Name: "GSM2", Status: samples.StatusSkippedInput, MissingInput: "/data/GSM2_peaks.bed"},
		},
	}

	require.NoError(t, s.Write(rec))

	got, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, StateRunning, got.State)
	require.Len(t, got.Samples, 2)
	assert.Equal(t, samples.StatusCompleted, got.Samples[0].Status)
	assert.Equal(t, "/data/GSM2_peaks.bed", got.Samples[1].MissingInput)
}

func TestStore_ReadMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Read()
	assert.True(t, os.IsNotExist(err))
}

func TestStore_WriteValidation(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Error(t, s.Write(nil))
	assert.Error(t, s.Write(&Record{}))
	assert.Error(t, NewStore("").Write(&Record{RunID: "run-1"}))
}

func TestRecord_Upsert(t *testing.T) {
	rec := &Record{RunID: "run-1"}

	rec.Upsert(SampleSummary{Name: "GSM1", Status: samples.StatusRunning})
	rec.Upsert(SampleSummary{Name: "GSM2", Status: samples.StatusPending})
	require.Len(t, rec.Samples, 2)

	rec.Upsert(SampleSummary{Name: "GSM1", Status: samples.StatusCompleted, BatchesAbandoned: 1})
	require.Len(t, rec.Samples, 2)
	assert.Equal(t, samples.StatusCompleted, rec.Samples[0].Status)
}

func TestRecord_TotalAbandoned(t *testing.T) {
	rec := &Record{
		Samples: []SampleSummary{
			{Name: "GSM1", BatchesAbandoned: 2},
			{Name: "GSM2", BatchesAbandoned: 0},
			{Name: "GSM3", BatchesAbandoned: 1},
		},
	}
	assert.Equal(t, 3, rec.TotalAbandoned())
}
