// Package pipeline drives a generator run: sources are downloaded, extracted
// and scanned one after another, then every category file is written.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"blockgen/pkg/fetch"
	"blockgen/pkg/filtering"
	"blockgen/pkg/metrics"
	"blockgen/pkg/scan"
)

const (
	defaultWorkers    = 4
	defaultRetryDelay = 5 * time.Second

	// lines between two cancellation checks while scanning
	cancelCheckInterval = 4096
)

// Fetcher downloads url into dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (int64, error)
}

// Extractor turns a downloaded artifact into the text files to scan.
type Extractor interface {
	Extract(path, destDir string) ([]string, error)
}

// CategoryWriter persists the entries of a category.
type CategoryWriter interface {
	Write(category *filtering.Category, domains []string) (int, bool, error)
	Path(category *filtering.Category) string
}

// Source is a remote artifact processed during a run.
type Source struct {
	Name   string
	URL    string
	Format scan.Format
}

// Options configures a run.
type Options struct {
	Sources    []Source
	Classifier *filtering.Classifier
	Fetcher    Fetcher
	Extractor  Extractor
	Writer     CategoryWriter
	// Metrics is optional.
	Metrics *metrics.Metrics

	ScratchDir  string
	KeepScratch bool
	// Workers bounds how many extracted files of one source are scanned at once.
	Workers int
	// Retries is the number of extra download attempts per source.
	Retries    int
	RetryDelay time.Duration
	// ErrorLimit caps the invalid entries logged per file. Zero disables
	// logging them and a negative value logs every one.
	ErrorLimit int

	Log *slog.Logger
}

type runner struct {
	classifier *filtering.Classifier
	fetcher    Fetcher
	extractor  Extractor
	writer     CategoryWriter
	metrics    *metrics.Metrics
	workers    int
	retries    int
	retryDelay time.Duration
	errorLimit int
	log        *slog.Logger
}

type fileStats struct {
	lines   int
	invalid int
}

// Run processes every source in order and writes all categories. Failed
// sources are logged, recorded in the report and skipped. The returned error
// is non-nil only when the workspace cannot be prepared or ctx is cancelled;
// in the latter case no category files are written.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Classifier == nil || opts.Fetcher == nil || opts.Extractor == nil || opts.Writer == nil {
		return nil, errors.New("pipeline: classifier, fetcher, extractor and writer are required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	r := &runner{
		classifier: opts.Classifier,
		fetcher:    opts.Fetcher,
		extractor:  opts.Extractor,
		writer:     opts.Writer,
		metrics:    opts.Metrics,
		workers:    opts.Workers,
		retries:    max(opts.Retries, 0),
		retryDelay: opts.RetryDelay,
		errorLimit: opts.ErrorLimit,
		log:        log,
	}
	if r.workers <= 0 {
		r.workers = defaultWorkers
	}
	if r.retryDelay <= 0 {
		r.retryDelay = defaultRetryDelay
	}

	start := time.Now()
	ws, err := NewWorkspace(opts.ScratchDir, opts.KeepScratch, log)
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	results := filtering.NewResultSet(opts.Classifier.Categories())
	report := &Report{}

	for _, source := range opts.Sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := r.processSource(ctx, ws, source, results)
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Sources = append(report.Sources, result)
		r.observeSource(result)
	}

	report.Categories = r.writeAll(results)
	report.Duration = time.Since(start)
	if r.metrics != nil {
		r.metrics.RunDurationSeconds.Set(report.Duration.Seconds())
	}

	log.Info("run finished",
		"sources", len(report.Sources),
		"failed_sources", len(report.FailedSources()),
		"failed_writes", len(report.WriteErrors()),
		"duration", report.Duration.Round(time.Millisecond))
	return report, nil
}

func (r *runner) processSource(ctx context.Context, ws *Workspace, source Source, results *filtering.ResultSet) SourceResult {
	result := SourceResult{Source: source}
	log := r.log.With("source", source.Name)
	defer ws.Clean(source.Name)

	dest := ws.DownloadPath(source.Name)
	written, attempts, err := r.download(ctx, source, dest)
	result.Attempts = attempts
	if err != nil {
		log.Error("failed to download source", "url", source.URL, "attempts", attempts, "error", err)
		result.Err = err
		return result
	}
	result.Bytes = written

	files, err := r.extractor.Extract(dest, ws.ExtractDir(source.Name))
	if err != nil {
		log.Error("failed to extract source", "error", err)
		result.Err = err
		return result
	}
	result.Files = len(files)

	stats, err := r.scanFiles(ctx, source, files, results)
	result.Lines = stats.lines
	result.Invalid = stats.invalid
	if err != nil {
		result.Err = err
		return result
	}

	log.Info("processed source", "bytes", result.Bytes, "files", result.Files, "lines", result.Lines, "invalid", result.Invalid)
	return result
}

func (r *runner) download(ctx context.Context, source Source, dest string) (int64, int, error) {
	attempt := 0
	for {
		attempt++
		written, err := r.fetcher.Fetch(ctx, source.URL, dest)
		if err == nil {
			return written, attempt, nil
		}
		if attempt > r.retries || !retryable(ctx, err) {
			return 0, attempt, err
		}

		delay := time.Duration(attempt) * r.retryDelay
		r.log.Warn("download failed, retrying", "source", source.Name, "attempt", attempt, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

// retryable reports whether another attempt could succeed. Client errors other
// than 429 are permanent.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var downloadErr *fetch.DownloadError
	if errors.As(err, &downloadErr) {
		code := downloadErr.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}

func (r *runner) scanFiles(ctx context.Context, source Source, files []string, results *filtering.ResultSet) (fileStats, error) {
	var (
		mu    sync.Mutex
		total fileStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			batch, stats, err := r.scanFile(gctx, path, scan.FormatFor(path, source.Format))

			mu.Lock()
			total.lines += stats.lines
			total.invalid += stats.invalid
			mu.Unlock()

			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.log.Error("failed to scan file", "source", source.Name, "path", path, "error", err)
				return nil
			}
			results.MergeBatch(batch)
			return nil
		})
	}

	err := g.Wait()
	return total, err
}

func (r *runner) scanFile(ctx context.Context, path string, format scan.Format) (filtering.Batch, fileStats, error) {
	var stats fileStats

	scanner, err := scan.Open(path)
	if err != nil {
		return nil, stats, err
	}
	defer func() {
		if err := scanner.Close(); err != nil {
			r.log.Warn("failed to close file", "path", path, "error", err)
		}
	}()

	name := filepath.Base(path)
	batch := filtering.Batch{}
	limiter := errorLimiter{limit: r.errorLimit}
	for scanner.Next() {
		stats.lines++
		if stats.lines%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}

		line := scanner.Line()
		domain := scan.Domain(line, format)
		if domain == "" {
			continue
		}
		categories, err := r.classifier.Classify(line, domain)
		if err != nil {
			stats.invalid++
			limiter.log(r.log, name, scanner.LineNumber(), domain, err)
			continue
		}
		for _, category := range categories {
			batch.Add(category, domain)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, err
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	limiter.summary(r.log, name, stats.invalid)
	for _, category := range r.classifier.Categories() {
		r.log.Info("category matches", "file", name, "category", category.Name, "matches", batch.Len(category))
	}
	return batch, stats, nil
}

func (r *runner) writeAll(results *filtering.ResultSet) []CategoryResult {
	categories := results.Categories()
	out := make([]CategoryResult, 0, len(categories))
	for _, category := range categories {
		count, written, err := r.writer.Write(category, results.Domains(category))
		if err != nil {
			r.log.Error("failed to write category", "category", category.Name, "error", err)
		}
		if r.metrics != nil {
			r.metrics.CategoryEntries.WithLabelValues(category.Name).Set(float64(count))
		}
		out = append(out, CategoryResult{
			Category: category,
			Path:     r.writer.Path(category),
			Entries:  count,
			Written:  written,
			Err:      err,
		})
	}
	return out
}

func (r *runner) observeSource(result SourceResult) {
	if r.metrics == nil {
		return
	}
	status := metrics.StatusOK
	if result.Err != nil {
		status = metrics.StatusFailed
	}
	r.metrics.SourcesTotal.WithLabelValues(status).Inc()
	r.metrics.DownloadBytesTotal.Add(float64(result.Bytes))
	r.metrics.LinesScannedTotal.Add(float64(result.Lines))
	r.metrics.InvalidDomainsTotal.Add(float64(result.Invalid))
}

type errorLimiter struct {
	limit int
	count int
}

func (l *errorLimiter) log(logger *slog.Logger, file string, lineNum int, token string, err error) {
	if l.limit == 0 {
		return
	}
	if l.limit > 0 && l.count >= l.limit {
		l.count++
		return
	}
	l.count++
	logger.Warn("invalid domain entry", "file", file, "line", lineNum, "entry", token, "error", err)
}

func (l *errorLimiter) summary(logger *slog.Logger, file string, invalid int) {
	if l.limit <= 0 {
		return
	}
	if invalid > l.limit {
		logger.Warn("invalid domain entries suppressed", "file", file, "errors", invalid, "logged", l.limit)
	}
}
