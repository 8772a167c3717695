package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidationFailed indicates the manifest failed validation.
var ErrValidationFailed = errors.New("manifest validation failed")

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Field is the dotted path to the problematic field, e.g. "paths.model".
	Field string

	// Message describes the validation failure.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks structural requirements. Path existence is deliberately
// not checked here; that is the preflight's job.
func (m *Manifest) Validate() error {
	var errs ValidationErrors

	add := func(field, message string) {
		errs = append(errs, ValidationError{Field: field, Message: message})
	}

	if m.Version == "" {
		add("version", "is required")
	} else if m.Version != "1.0" {
		add("version", fmt.Sprintf("unsupported version %q, expected \"1.0\"", m.Version))
	}

	required := []struct {
		field, value string
	}{
		{"paths.region_list", m.Paths.RegionList},
		{"paths.sample_list", m.Paths.SampleList},
		{"paths.input_root", m.Paths.InputRoot},
		{"paths.model", m.Paths.Model},
		{"paths.sequence_dir", m.Paths.SequenceDir},
		{"paths.output_root", m.Paths.OutputRoot},
		{"scheduler.wrapper", m.Scheduler.Wrapper},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			add(r.field, "is required")
		}
	}

	for i, tmpl := range m.Inputs.Required {
		if strings.TrimSpace(tmpl) == "" {
			add(fmt.Sprintf("inputs.required[%d]", i), "must not be empty")
		}
	}

	if m.Screen.ChunkSize < 0 {
		add("screen.chunk_size", "must be positive")
	}
	if m.Screen.BatchSize < 0 {
		add("screen.batch_size", "must be positive")
	}
	if m.Screen.BatchSize > 0 && m.Screen.ChunkSize > 0 && m.Screen.BatchSize > m.Screen.ChunkSize {
		add("screen.batch_size", "must not exceed screen.chunk_size")
	}
	if m.Screen.SubmitRate < 0 {
		add("screen.submit_rate", "must not be negative")
	}

	if m.Archive != nil && m.Archive.S3 != nil && strings.TrimSpace(m.Archive.S3.Bucket) == "" {
		add("archive.s3.bucket", "is required when archive.s3 is set")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
