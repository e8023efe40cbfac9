// Package batch applies the single-image prediction pipeline across a
// collection of inputs under bounded concurrency, with per-item retry and
// failure isolation.
package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/croplens/croplens/internal/predict"
)

// Status summarizes a whole run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Config holds all configuration for a batch run.
type Config struct {
	// Workers bounds how many single-image pipelines run simultaneously.
	// Each of those fans out to both workflows internally.
	Workers int

	// Retry settings for transient provider failures.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// UseCache forwards the per-request cache flag to the pipeline.
	UseCache bool

	// File discovery settings.
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Output settings.
	Format     string
	OutputFile string
	Quiet      bool
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		UseCache:       true,
		Format:         "json",
	}
}

// ItemOutcome wraps one input's terminal state: a prediction or an error,
// plus timing and attempt accounting. Output order always matches input
// order regardless of completion order.
type ItemOutcome struct {
	Source         string          `json:"source" yaml:"source"`
	Success        bool            `json:"success" yaml:"success"`
	Prediction     *predict.Result `json:"prediction,omitempty" yaml:"prediction,omitempty"`
	Error          string          `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind      string          `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Attempts       int             `json:"attempts" yaml:"attempts"`
	AttemptTimesMs []int64         `json:"attempt_times_ms,omitempty" yaml:"attempt_times_ms,omitempty"`
	DurationMs     int64           `json:"duration_ms" yaml:"duration_ms"`
}

// Summary is the run-level rollup reported alongside the itemized outcomes.
type Summary struct {
	Status     Status `json:"status" yaml:"status"`
	Total      int    `json:"total" yaml:"total"`
	Succeeded  int    `json:"succeeded" yaml:"succeeded"`
	Failed     int    `json:"failed" yaml:"failed"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
	Workers    int    `json:"workers" yaml:"workers"`
}

// Result holds one run's ordered outcomes and summary.
type Result struct {
	Items   []ItemOutcome `json:"items" yaml:"items"`
	Summary Summary       `json:"summary" yaml:"summary"`
}

// FormatResults renders the run in the requested format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatResults(r, format)
}

// SaveResults writes the formatted run to a file, or stdout when no output
// file is configured.
func (r *Result) SaveResults(format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(os.Stdout, "Results written to %s\n", outputFile)
		}
	} else {
		_, _ = fmt.Fprint(os.Stdout, output)
	}

	return nil
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(quiet bool) {
	if quiet {
		return
	}
	s := r.Summary
	_, _ = fmt.Fprintf(os.Stdout, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(os.Stdout, "  Total images: %d\n", s.Total)
	_, _ = fmt.Fprintf(os.Stdout, "  Succeeded: %d\n", s.Succeeded)
	_, _ = fmt.Fprintf(os.Stdout, "  Failed: %d\n", s.Failed)
	_, _ = fmt.Fprintf(os.Stdout, "  Workers: %d\n", s.Workers)
	_, _ = fmt.Fprintf(os.Stdout, "  Status: %s\n", s.Status)
	_, _ = fmt.Fprintf(os.Stdout, "  Duration: %v\n", time.Duration(s.DurationMs)*time.Millisecond)
	if s.Total > 0 && s.DurationMs > 0 {
		perSec := float64(s.Total) / (float64(s.DurationMs) / 1000.0)
		_, _ = fmt.Fprintf(os.Stdout, "  Throughput: %.1f images/sec\n", perSec)
	}
}
