package pipeline

import (
	"time"

	"blockgen/pkg/filtering"
)

// SourceResult describes how a single source was processed.
type SourceResult struct {
	Source   Source
	Bytes    int64
	Files    int
	Lines    int
	Invalid  int
	Attempts int
	Err      error
}

// CategoryResult describes the output of a single category.
type CategoryResult struct {
	Category *filtering.Category
	Path     string
	Entries  int
	Written  bool
	Err      error
}

// Report summarises a run.
type Report struct {
	Sources    []SourceResult
	Categories []CategoryResult
	Duration   time.Duration
}

// FailedSources returns the sources that were skipped because of an error.
func (r *Report) FailedSources() []SourceResult {
	var failed []SourceResult
	for _, result := range r.Sources {
		if result.Err != nil {
			failed = append(failed, result)
		}
	}
	return failed
}

// WriteErrors returns the errors of categories whose file could not be written.
func (r *Report) WriteErrors() []error {
	var errs []error
	for _, result := range r.Categories {
		if result.Err != nil {
			errs = append(errs, result.Err)
		}
	}
	return errs
}

// Entries returns the number of entries written for the named category.
func (r *Report) Entries(name string) int {
	for _, result := range r.Categories {
		if result.Category.Name == name {
			return result.Entries
		}
	}
	return 0
}
