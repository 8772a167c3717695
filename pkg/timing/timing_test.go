package timing

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCSV(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSampleLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewSampleLog(&buf)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append("GSM1", t0, t0.Add(90*time.Second), "completed"))
	require.NoError(t, l.Append("GSM2", t0.Add(2*time.Minute), t0.Add(2*time.Minute), "skipped_input_missing"))
	require.NoError(t, l.Close())

	rows := parseCSV(t, &buf)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Sample", "StartTime", "EndTime", "Duration", "Status"}, rows[0])
	assert.Equal(t, []string{"GSM1", "2026-03-01T10:00:00Z", "2026-03-01T10:01:30Z", "90.0", "completed"}, rows[1])

	// Skip rows carry zero duration.
	assert.Equal(t, "0.0", rows[2][3])
	assert.Equal(t, "skipped_input_missing", rows[2][4])

	// TOTAL spans earliest start to latest end, duration is the sum.
	assert.Equal(t, TotalLabel, rows[3][0])
	assert.Equal(t, "2026-03-01T10:00:00Z", rows[3][1])
	assert.Equal(t, "2026-03-01T10:02:00Z", rows[3][2])
	assert.Equal(t, "90.0", rows[3][3])
}

func TestBatchLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewBatchLog(&buf)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append("chunk0/1-1000", t0, t0.Add(10*time.Minute), ""))
	require.NoError(t, l.Append("chunk0/1001-2000", t0.Add(10*time.Minute), t0.Add(25*time.Minute), ""))
	require.NoError(t, l.Close())

	rows := parseCSV(t, &buf)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Batch", "StartTime", "EndTime", "Duration"}, rows[0])
	assert.Equal(t, "600.0", rows[1][3])
	assert.Equal(t, TotalLabel, rows[3][0])
	assert.Equal(t, "1500.0", rows[3][3])
}

func TestLog_AppendAfterClose(t *testing.T) {
	var buf bytes.Buffer
	l := NewBatchLog(&buf)
	require.NoError(t, l.Close())

	err := l.Append("chunk0/1-10", time.Now(), time.Now(), "")
	assert.Error(t, err)
}

func TestLog_CloseIdempotent(t *testing.T) {
	var buf bytes.Buffer
	l := NewSampleLog(&buf)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	rows := parseCSV(t, &buf)
	assert.Len(t, rows, 2)
}

func TestLog_NegativeDurationClamped(t *testing.T) {
	var buf bytes.Buffer
	l := NewBatchLog(&buf)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append("chunk0/1-10", t0, t0.Add(-time.Minute), ""))

	rows := parseCSV(t, &buf)
	assert.Equal(t, "0.0", rows[1][3])
}
