// Package runstate persists the run record for one screening run.
//
// The record lives at <output_root>/run.json and is rewritten atomically
// after every sample transition, so an operator (or the status server) can
// inspect a run in flight and a crashed run leaves an accurate record
// behind.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seqworks/peakscreen/pkg/samples"
)

// State is the lifecycle state of a run.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type State string

const (
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// FileName is the record file name under the output root.
const FileName = "run.json"

// SampleSummary is the persisted per-sample outcome.
type SampleSummary struct {
	Name         string         `json:"name"`
	Status       samples.Status `json:"status"`
	MissingInput string         `json:"missing_input,omitempty"`

	// BatchesDone and BatchesAbandoned count terminal batches. Completed
	// samples keep their counts even when batches were abandoned; the
	// distinction is recorded here rather than in the status.
	BatchesDone      int `json:"batches_done"`
	BatchesAbandoned int `json:"batches_abandoned"`

	// CompiledRows is the row count of the compiled result, zero when no
	// file was produced.
	CompiledRows int `json:"compiled_rows"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Record is the persistent run record.
//
// The schema is designed for backward-compatible extension (additive
// fields).
type Record struct {
	RunID        string    `json:"run_id"`
	State        State     `json:"state"`
	ManifestPath string    `json:"manifest_path"`
	CreatedAt    time.Time `json:"created_at"`

	EndedAt *time.Time `json:"ended_at,omitempty"`

	// Samples holds one summary per attempted sample, in processing order.
	Samples []SampleSummary `json:"samples"`

	// MatrixPath is set once the unified matrix has been written.
	MatrixPath string `json:"matrix_path,omitempty"`
}

// TotalAbandoned sums abandoned batches across all samples.
func (r *Record) TotalAbandoned() int {
	n := 0
	for _, s := range r.Samples {
		n += s.BatchesAbandoned
	}
	return n
}

// Upsert replaces the summary for s.Name, appending if absent.
func (r *Record) Upsert(s SampleSummary) {
	for i := range r.Samples {
		if r.Samples[i].Name == s.Name {
			r.Samples[i] = s
			return
		}
	}
	r.Samples = append(r.Samples, s)
}

// Store reads and writes the run record under one output root.
type Store struct {
	root string
}

// NewStore creates a store rooted at the run output directory.
func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

// Path returns the record file path.
func (s *Store) Path() string {
	return filepath.Join(s.root, FileName)
}

// Write persists the record atomically (temp file + rename).
func (s *Store) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("run record is nil")
	}
	if strings.TrimSpace(record.RunID) == "" {
		return fmt.Errorf("run_id is required")
	}
	if s.root == "" {
		return fmt.Errorf("run store root dir is empty")
	}
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(s.root, FileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

// Read loads the current record. A missing file returns os.ErrNotExist.
func (s *Store) Read() (*Record, error) {
	b, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("run.json is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}
	return &record, nil
}
