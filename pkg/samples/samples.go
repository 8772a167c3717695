// Package samples defines the per-sample processing state and loads the
// sample list that drives a screening run.
package samples

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// Status is the lifecycle status of a sample within one run.
//
// NOTE: These values are persisted in run.json and in the sample timing log,
// and are part of the stable on-disk contract.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusSkippedCompleted Status = "skipped_already_completed"
	StatusSkippedInput     Status = "skipped_input_missing"
)

// Terminal reports whether a status is terminal. Terminal statuses are
// never revisited within one run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkippedCompleted, StatusSkippedInput:
		return true
	}
	return false
}

// transitions is the allowed status transition table. Statuses only move
// forward: pending may be skipped or start running, running may only end.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusSkippedCompleted, StatusSkippedInput},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// Sample tracks one sample through a run.
type Sample struct {
	Name   string `json:"name"`
	Status Status `json:"status"`

	// MissingInput is the first required input found absent, set only when
	// Status is skipped_input_missing.
	MissingInput string `json:"missing_input,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// New returns a pending sample.
func New(name string) *Sample {
	return &Sample{Name: name, Status: StatusPending}
}

// Transition moves the sample to next, enforcing the transition table.
func (s *Sample) Transition(next Status) error {
	for _, allowed := range transitions[s.Status] {
		if next == allowed {
			s.Status = next
			return nil
		}
	}
	return fmt.Errorf("sample %s: illegal status transition %s -> %s", s.Name, s.Status, next)
}

// Duration returns the elapsed processing time, zero if either endpoint is
// unset.
func (s *Sample) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

// LoadFile reads sample names from path, one per line. Blank lines and
// lines starting with '#' are ignored and do not count toward totals.
func LoadFile(path string) ([]*Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("sample list not found: %s", path)
		}
		return nil, fmt.Errorf("open sample list: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []*Sample
	seen := make(map[string]int)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("sample list %s line %d: duplicate sample %q (first at line %d)", path, lineNo, name, prev)
		}
		seen[name] = lineNo
		out = append(out, New(name))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sample list: %w", err)
	}
	return out, nil
}
