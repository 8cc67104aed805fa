// Package output writes sorted category blocklists.
package output

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"text/template"

	"blockgen/pkg/filtering"
)

// WriteError reports a category file that could not be persisted.
type WriteError struct {
	Category string
	Path     string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s (%s): %v", e.Path, e.Category, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Options configures a Writer.
type Options struct {
	Dir            string
	WriteEmpty     bool
	HeaderTemplate string
	Metadata       Metadata
}

// Writer renders category files.
type Writer struct {
	dir        string
	writeEmpty bool
	header     *template.Template
	metadata   Metadata
	log        *slog.Logger
}

// New creates a Writer rooted at opts.Dir.
func New(opts Options, log *slog.Logger) (*Writer, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Dir == "" {
		return nil, errors.New("output directory is required")
	}
	header, err := ParseHeader(opts.HeaderTemplate)
	if err != nil {
		return nil, err
	}
	return &Writer{
		dir:        opts.Dir,
		writeEmpty: opts.WriteEmpty,
		header:     header,
		metadata:   opts.Metadata,
		log:        log,
	}, nil
}

// Path returns the file a category is written to.
func (w *Writer) Path(category *filtering.Category) string {
	return filepath.Join(w.dir, filepath.FromSlash(category.Output))
}

// Write replaces the file of category with the header followed by one
// "0.0.0.0 domain" line per unique domain in ascending byte order. It returns
// the entry count and whether a file was written; a category without domains is
// skipped unless WriteEmpty is set, in which case it gets a header-only file.
func (w *Writer) Write(category *filtering.Category, domains []string) (int, bool, error) {
	entries := make([]string, 0, len(domains))
	for _, domain := range domains {
		entries = append(entries, filtering.Entry(domain))
	}
	slices.Sort(entries)
	entries = slices.Compact(entries)

	path := w.Path(category)
	if len(entries) == 0 && !w.writeEmpty {
		w.log.Info("category has no matches, skipping", "category", category.Name, "path", path)
		return 0, false, nil
	}

	header, err := RenderHeader(w.header, HeaderData{
		Metadata: w.metadata,
		Title:    category.Title,
		Category: category.Name,
		Count:    len(entries),
	})
	if err != nil {
		return 0, false, &WriteError{Category: category.Name, Path: path, Err: err}
	}

	if err := writeAtomic(path, header, entries); err != nil {
		return 0, false, &WriteError{Category: category.Name, Path: path, Err: err}
	}

	w.log.Info("wrote category", "category", category.Name, "path", path, "entries", len(entries))
	return len(entries), true, nil
}

func writeAtomic(path, header string, entries []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	// no-op once renamed
	defer func() { _ = os.Remove(tmpName) }()

	bw := bufio.NewWriterSize(tmp, 256*1024)
	if _, err := bw.WriteString(header); err != nil {
		_ = tmp.Close()
		return err
	}
	for _, entry := range entries {
		if _, err := bw.WriteString(entry); err != nil {
			_ = tmp.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
