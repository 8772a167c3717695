// Package preflight validates run configuration before any sample is
// touched.
//
// A failed check is fatal: the run aborts with a non-zero exit before a
// single job is submitted. Per-sample input checks are deliberately not
// part of preflight; a missing sample input only skips that sample.
package preflight

import (
	"fmt"
	"os"
	"strings"

	"github.com/seqworks/peakscreen/pkg/manifest"
)

// Check names are stable strings used in logs and the run record.
const (
	CheckRegionList  = "paths.region_list"
	CheckSampleList  = "paths.sample_list"
	CheckInputRoot   = "paths.input_root"
	CheckModel       = "paths.model"
	CheckSequenceDir = "paths.sequence_dir"
	CheckWrapper     = "scheduler.wrapper"
)

// CheckResult records the outcome of one path check.
type CheckResult struct {
	Check  string `json:"check"`
	Path   string `json:"path"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Record is the outcome of a full preflight pass.
type Record struct {
	Results []CheckResult `json:"results"`
}

// Failed returns the failed checks.
func (r *Record) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Results {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// Err returns a configuration error summarizing the failed checks, or nil.
func (r *Record) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, c := range failed {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Check, c.Path))
	}
	return fmt.Errorf("missing required configuration paths: %s", strings.Join(parts, ", "))
}

// Run verifies every required top-level path of the manifest. All checks
// run even after a failure so the operator sees the full list at once.
func Run(m *manifest.Manifest) *Record {
	checks := []struct {
		name, path string
		wantDir    bool
	}{
		{CheckRegionList, m.Paths.RegionList, false},
		{CheckSampleList, m.Paths.SampleList, false},
		{CheckInputRoot, m.Paths.InputRoot, true},
		{CheckModel, m.Paths.Model, false},
		{CheckSequenceDir, m.Paths.SequenceDir, true},
		{CheckWrapper, m.Scheduler.Wrapper, false},
	}

	rec := &Record{Results: make([]CheckResult, 0, len(checks))}
	for _, c := range checks {
		rec.Results = append(rec.Results, checkPath(c.name, c.path, c.wantDir))
	}
	return rec
}

func checkPath(name, path string, wantDir bool) CheckResult {
	res := CheckResult{Check: name, Path: path}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			res.Detail = "does not exist"
		} else {
			res.Detail = err.Error()
		}
		return res
	}
	if wantDir && !info.IsDir() {
		res.Detail = "expected a directory"
		return res
	}
	if !wantDir && info.IsDir() {
		res.Detail = "expected a file"
		return res
	}

	res.OK = true
	return res
}
