// Package timing writes the per-sample and per-batch timing logs.
//
// Both logs are CSV with a header row, one row per entity in processing
// order, and a closing synthetic TOTAL row. Timestamps are RFC 3339 UTC;
// durations are seconds with one decimal.
//
// NOTE: Column layout is consumed by downstream reporting; treat it as a
// stable contract.
package timing

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// TotalLabel is the entity id of the synthetic closing row.
const TotalLabel = "TOTAL"

var sampleHeader = []string{"Sample", "StartTime", "EndTime", "Duration", "Status"}
var batchHeader = []string{"Batch", "StartTime", "EndTime", "Duration"}

// Log appends timing rows to one CSV log and tracks the running total.
//
// Log is not safe for concurrent use; the orchestrator is strictly
// sequential so rows are appended from a single goroutine.
type Log struct {
	w          *csv.Writer
	withStatus bool
	headerErr  error

	first time.Time
	last  time.Time
	total time.Duration
	rows  int
	done  bool
}

// NewSampleLog returns a log with the sample columns
// (Sample,StartTime,EndTime,Duration,Status), header already written.
func NewSampleLog(w io.Writer) *Log {
	return newLog(w, sampleHeader, true)
}

// NewBatchLog returns a log with the batch columns
// (Batch,StartTime,EndTime,Duration), header already written.
func NewBatchLog(w io.Writer) *Log {
	return newLog(w, batchHeader, false)
}

func newLog(w io.Writer, header []string, withStatus bool) *Log {
	cw := csv.NewWriter(w)
	l := &Log{w: cw, withStatus: withStatus}
	l.headerErr = cw.Write(header)
	return l
}

// Append writes one timing row. Status is ignored for batch logs.
func (l *Log) Append(entity string, start, end time.Time, status string) error {
	if l.done {
		return fmt.Errorf("timing log already closed")
	}
	if l.headerErr != nil {
		return fmt.Errorf("write timing header: %w", l.headerErr)
	}

	start = start.UTC()
	end = end.UTC()
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}

	row := []string{entity, formatTime(start), formatTime(end), formatDuration(d)}
	if l.withStatus {
		row = append(row, status)
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("write timing row: %w", err)
	}

	if l.rows == 0 || start.Before(l.first) {
		l.first = start
	}
	if end.After(l.last) {
		l.last = end
	}
	l.total += d
	l.rows++

	l.w.Flush()
	return l.w.Error()
}

// Close writes the TOTAL row and flushes. The TOTAL row spans the earliest
// start to the latest end seen; its duration is the sum of row durations.
func (l *Log) Close() error {
	if l.done {
		return nil
	}
	l.done = true
	if l.headerErr != nil {
		return fmt.Errorf("write timing header: %w", l.headerErr)
	}

	row := []string{TotalLabel, formatTime(l.first), formatTime(l.last), formatDuration(l.total)}
	if l.withStatus {
		row = append(row, "")
	}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("write TOTAL row: %w", err)
	}
	l.w.Flush()
	return l.w.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64)
}
