package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"blockgen/internal/testutil"
	"blockgen/pkg/archive"
	"blockgen/pkg/fetch"
	"blockgen/pkg/filtering"
	"blockgen/pkg/metrics"
	"blockgen/pkg/output"
	"blockgen/pkg/scan"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustCategory(t *testing.T, name, pattern, out string) *filtering.Category {
	t.Helper()
	category, err := filtering.NewCategory(filtering.CategoryConfig{Name: name, Pattern: pattern, Output: out})
	if err != nil {
		t.Fatalf("NewCategory(%s) returned error: %v", name, err)
	}
	return category
}

type fixture struct {
	opts      Options
	outputDir string
}

func newFixture(t *testing.T, sources []Source, categories []*filtering.Category, whitelist ...string) *fixture {
	t.Helper()
	outputDir := filepath.Join(t.TempDir(), "templates")
	writer, err := output.New(output.Options{Dir: outputDir, WriteEmpty: true}, testLogger())
	if err != nil {
		t.Fatalf("output.New returned error: %v", err)
	}
	return &fixture{
		outputDir: outputDir,
		opts: Options{
			Sources:    sources,
			Classifier: filtering.NewClassifier(categories, filtering.NewWhitelist(whitelist...)),
			Fetcher:    fetch.New(fetch.DefaultConfig(), testLogger()),
			Extractor:  archive.New(archive.Options{}, testLogger()),
			Writer:     writer,
			ScratchDir: filepath.Join(t.TempDir(), "scratch"),
			Workers:    2,
			ErrorLimit: 5,
			Log:        testLogger(),
		},
	}
}

// entries returns the "0.0.0.0" lines of an output file.
func entries(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "0.0.0.0 ") {
			lines = append(lines, line)
		}
	}
	return lines
}

func assertEntries(t *testing.T, path string, want ...string) {
	t.Helper()
	got := entries(t, path)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("%s entries = %q, want %q", filepath.Base(path), got, want)
	}
}

func TestRunWhitelistScenario(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/one.txt": testutil.Text("gay.example.com"),
		"/two.txt": testutil.Text("pride-site.net"),
	})
	category := mustCategory(t, "LGBTQ+", "gay|pride", "sites/lgbt.txt")
	fx := newFixture(t, []Source{
		{Name: "one.txt", URL: stub.URL + "/one.txt"},
		{Name: "two.txt", URL: stub.URL + "/two.txt"},
	}, []*filtering.Category{category}, "*.example.com")

	report, err := Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertEntries(t, filepath.Join(fx.outputDir, "sites", "lgbt.txt"), "0.0.0.0 pride-site.net")
	if report.Entries("LGBTQ+") != 1 {
		t.Errorf("report entries = %d, want 1", report.Entries("LGBTQ+"))
	}
}

func TestRunMixedFormatsAndDeduplication(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/hosts.txt": testutil.Text(
			"# anime hosts",
			"0.0.0.0 anime-world.com # mirror",
			"0.0.0.0 news.org",
			"bad..anime",
		),
		"/nrd.zip": {Body: testutil.ZipBytes(t, map[string]string{
			"part1.txt": "anime-world.com\nzeta-anime.net\n",
			"part2.txt": "cooking.com\nAnimeClub.jp\n",
		})},
		"/feed.xz":  {Body: testutil.XzBytes(t, "best-anime.tv\npride-anime.io\n")},
		"/list.csv": testutil.Text("alpha-anime.org,2024-01-01", "plain.org,2024-01-02"),
	})
	anime := mustCategory(t, "Anime", "anime", "anime/main.txt")
	lgbt := mustCategory(t, "LGBTQ+", "pride", "sites/lgbt.txt")
	fx := newFixture(t, []Source{
		{Name: "hosts.txt", URL: stub.URL + "/hosts.txt"},
		{Name: "nrd.zip", URL: stub.URL + "/nrd.zip"},
		{Name: "feed.xz", URL: stub.URL + "/feed.xz"},
		{Name: "list.csv", URL: stub.URL + "/list.csv"},
	}, []*filtering.Category{anime, lgbt})

	m := metrics.New()
	fx.opts.Metrics = m

	report, err := Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if failed := report.FailedSources(); len(failed) != 0 {
		t.Fatalf("unexpected failed sources: %+v", failed)
	}

	assertEntries(t, filepath.Join(fx.outputDir, "anime", "main.txt"),
		"0.0.0.0 AnimeClub.jp",
		"0.0.0.0 alpha-anime.org",
		"0.0.0.0 anime-world.com",
		"0.0.0.0 best-anime.tv",
		"0.0.0.0 pride-anime.io",
		"0.0.0.0 zeta-anime.net",
	)
	assertEntries(t, filepath.Join(fx.outputDir, "sites", "lgbt.txt"), "0.0.0.0 pride-anime.io")

	if got := promtest.ToFloat64(m.SourcesTotal.WithLabelValues(metrics.StatusOK)); got != 4 {
		t.Errorf("sources ok = %v, want 4", got)
	}
	if got := promtest.ToFloat64(m.InvalidDomainsTotal); got != 1 {
		t.Errorf("invalid domains = %v, want 1", got)
	}
	if got := promtest.ToFloat64(m.CategoryEntries.WithLabelValues("Anime")); got != 6 {
		t.Errorf("anime entries = %v, want 6", got)
	}
}

func TestRunPartialFailure(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/one.txt":   testutil.Text("first-anime.com"),
		"/two.txt":   testutil.Status(http.StatusNotFound),
		"/three.txt": testutil.Text("third-anime.com"),
	})
	fx := newFixture(t, []Source{
		{Name: "one.txt", URL: stub.URL + "/one.txt"},
		{Name: "two.txt", URL: stub.URL + "/two.txt"},
		{Name: "three.txt", URL: stub.URL + "/three.txt"},
	}, []*filtering.Category{mustCategory(t, "Anime", "anime", "anime.txt")})
	fx.opts.Retries = 2

	report, err := Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	failed := report.FailedSources()
	if len(failed) != 1 || failed[0].Source.Name != "two.txt" {
		t.Fatalf("failed sources = %+v, want only two.txt", failed)
	}
	var downloadErr *fetch.DownloadError
	if !errors.As(failed[0].Err, &downloadErr) || downloadErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 DownloadError, got %v", failed[0].Err)
	}
	if failed[0].Attempts != 1 || stub.Hits("/two.txt") != 1 {
		t.Errorf("404 should not be retried: attempts=%d hits=%d", failed[0].Attempts, stub.Hits("/two.txt"))
	}
	assertEntries(t, filepath.Join(fx.outputDir, "anime.txt"), "0.0.0.0 first-anime.com", "0.0.0.0 third-anime.com")
}

func TestRunCorruptArchiveSkipsSource(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/broken.zip": {Body: []byte("not a zip")},
		"/good.txt":   testutil.Text("good-anime.com"),
	})
	fx := newFixture(t, []Source{
		{Name: "broken.zip", URL: stub.URL + "/broken.zip"},
		{Name: "good.txt", URL: stub.URL + "/good.txt"},
	}, []*filtering.Category{mustCategory(t, "Anime", "anime", "anime.txt")})

	report, err := Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	failed := report.FailedSources()
	var extractErr *archive.ExtractionError
	if len(failed) != 1 || !errors.As(failed[0].Err, &extractErr) {
		t.Fatalf("expected one extraction failure, got %+v", failed)
	}
	assertEntries(t, filepath.Join(fx.outputDir, "anime.txt"), "0.0.0.0 good-anime.com")
}

func TestRunEmptyCategoryWritesHeader(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/list.txt": testutil.Text("cooking.com"),
	})
	fx := newFixture(t, []Source{{Name: "list.txt", URL: stub.URL + "/list.txt"}},
		[]*filtering.Category{mustCategory(t, "Anime", "anime", "anime.txt")})

	report, err := Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(report.Categories) != 1 || !report.Categories[0].Written {
		t.Fatalf("expected header-only file, got %+v", report.Categories)
	}
	data, err := os.ReadFile(filepath.Join(fx.outputDir, "anime.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# Count: 0\n") {
		t.Errorf("expected Count: 0 in header:\n%s", data)
	}
}

func TestRunRemovesWorkspace(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/nrd.zip": {Body: testutil.ZipBytes(t, map[string]string{"a.txt": "anime.com\n"})},
	})
	category := mustCategory(t, "Anime", "anime", "anime.txt")

	fx := newFixture(t, []Source{{Name: "nrd.zip", URL: stub.URL + "/nrd.zip"}}, []*filtering.Category{category})
	if err := os.MkdirAll(fx.opts.ScratchDir, 0o750); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(fx.opts.ScratchDir, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Run(context.Background(), fx.opts); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := os.Stat(fx.opts.ScratchDir); !os.IsNotExist(err) {
		t.Errorf("workspace %s should be removed", fx.opts.ScratchDir)
	}

	kept := newFixture(t, []Source{{Name: "nrd.zip", URL: stub.URL + "/nrd.zip"}}, []*filtering.Category{category})
	kept.opts.KeepScratch = true
	if _, err := Run(context.Background(), kept.opts); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(kept.opts.ScratchDir, "nrd.zip_extracted", "a.txt")); err != nil {
		t.Errorf("kept workspace should retain extracted files: %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/list.txt": testutil.Text("anime.com"),
	})
	fx := newFixture(t, []Source{{Name: "list.txt", URL: stub.URL + "/list.txt"}},
		[]*filtering.Category{mustCategory(t, "Anime", "anime", "anime.txt")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, fx.opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(fx.outputDir, "anime.txt")); !os.IsNotExist(err) {
		t.Error("no category file should be written after cancellation")
	}
	if _, err := os.Stat(fx.opts.ScratchDir); !os.IsNotExist(err) {
		t.Error("workspace should be removed after cancellation")
	}
}

// flakyFetcher fails a number of times before writing body to dest.
type flakyFetcher struct {
	mu       sync.Mutex
	failures int
	calls    int
	body     string
}

func (f *flakyFetcher) Fetch(_ context.Context, url, dest string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return 0, &fetch.DownloadError{URL: url, StatusCode: http.StatusServiceUnavailable}
	}
	if err := os.WriteFile(dest, []byte(f.body), 0o600); err != nil {
		return 0, err
	}
	return int64(len(f.body)), nil
}

func TestRunRetriesDownloads(t *testing.T) {
	fetcher := &flakyFetcher{failures: 2, body: "retry-anime.com\n"}
	fx := newFixture(t, []Source{{Name: "list.txt", URL: "https://lists.invalid/list.txt"}},
		[]*filtering.Category{mustCategory(t, "Anime", "anime", "anime.txt")})
	fx.opts.Fetcher = fetcher
	fx.opts.Retries = 2
	fx.opts.RetryDelay = 1

	report, err := Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(report.FailedSources()) != 0 {
		t.Fatalf("unexpected failures: %+v", report.FailedSources())
	}
	if report.Sources[0].Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", report.Sources[0].Attempts)
	}
	assertEntries(t, filepath.Join(fx.outputDir, "anime.txt"), "0.0.0.0 retry-anime.com")

	exhausted := &flakyFetcher{failures: 5, body: "never.com\n"}
	fx = newFixture(t, []Source{{Name: "list.txt", URL: "https://lists.invalid/list.txt"}},
		[]*filtering.Category{mustCategory(t, "Anime", "anime", "anime.txt")})
	fx.opts.Fetcher = exhausted
	fx.opts.Retries = 1
	fx.opts.RetryDelay = 1

	report, err = Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(report.FailedSources()) != 1 || exhausted.calls != 2 {
		t.Errorf("expected one failed source after 2 calls, got %d failures and %d calls", len(report.FailedSources()), exhausted.calls)
	}
}

// failingWriter fails for one category and records the rest.
type failingWriter struct {
	fail    string
	written map[string][]string
}

func (w *failingWriter) Write(category *filtering.Category, domains []string) (int, bool, error) {
	if category.Name == w.fail {
		return 0, false, &output.WriteError{Category: category.Name, Path: category.Output, Err: fmt.Errorf("disk full")}
	}
	w.written[category.Name] = domains
	return len(domains), true, nil
}

func (w *failingWriter) Path(category *filtering.Category) string {
	return category.Output
}

func TestRunWriteErrorDoesNotBlockOtherCategories(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/list.txt": testutil.Text("pride-anime.com"),
	})
	fx := newFixture(t, []Source{{Name: "list.txt", URL: stub.URL + "/list.txt"}}, []*filtering.Category{
		mustCategory(t, "Anime", "anime", "anime.txt"),
		mustCategory(t, "LGBTQ+", "pride", "lgbt.txt"),
	})
	writer := &failingWriter{fail: "Anime", written: map[string][]string{}}
	fx.opts.Writer = writer

	report, err := Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	errs := report.WriteErrors()
	var writeErr *output.WriteError
	if len(errs) != 1 || !errors.As(errs[0], &writeErr) {
		t.Fatalf("expected one WriteError, got %v", errs)
	}
	if got := writer.written["LGBTQ+"]; len(got) != 1 || got[0] != "pride-anime.com" {
		t.Errorf("LGBTQ+ domains = %v", got)
	}
}

func TestRunFormatOverride(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/feed": testutil.Text("csv-anime.com,2024-01-01"),
	})
	fx := newFixture(t, []Source{{Name: "feed", URL: stub.URL + "/feed", Format: scan.FormatCSV}},
		[]*filtering.Category{mustCategory(t, "Anime", "anime", "anime.txt")})

	if _, err := Run(context.Background(), fx.opts); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	assertEntries(t, filepath.Join(fx.outputDir, "anime.txt"), "0.0.0.0 csv-anime.com")
}

// partialExtractor reports the downloaded file plus a member that never made
// it to disk.
type partialExtractor struct{}

func (partialExtractor) Extract(path, destDir string) ([]string, error) {
	return []string{filepath.Join(destDir, "vanished.txt"), path}, nil
}

func TestRunUnreadableMemberKeepsSource(t *testing.T) {
	stub := testutil.StartSourceStub(t, map[string]testutil.Response{
		"/list.txt": testutil.Text("good-anime.com", "cooking.com"),
	})
	fx := newFixture(t, []Source{{Name: "list.txt", URL: stub.URL + "/list.txt"}},
		[]*filtering.Category{mustCategory(t, "Anime", "anime", "anime.txt")})
	fx.opts.Extractor = partialExtractor{}

	report, err := Run(context.Background(), fx.opts)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if failed := report.FailedSources(); len(failed) != 0 {
		t.Fatalf("source should not fail on one unreadable member: %+v", failed)
	}
	if got := report.Sources[0]; got.Files != 2 || got.Lines != 2 {
		t.Errorf("files = %d lines = %d, want 2 and 2", got.Files, got.Lines)
	}
	assertEntries(t, filepath.Join(fx.outputDir, "anime.txt"), "0.0.0.0 good-anime.com")
}

func TestRunRequiresComponents(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Error("expected error for missing components")
	}
}
