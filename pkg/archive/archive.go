// Package archive normalises downloaded artifacts into plain text files.
package archive

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ulikunitz/xz"
)

// ErrUnsupportedMember marks archive members that cannot be extracted safely.
var ErrUnsupportedMember = errors.New("unsupported archive member")

// ExtractionError reports a corrupt archive, an unsupported member or an I/O failure.
type ExtractionError struct {
	Path   string
	Member string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("extract %s (member %s): %v", e.Path, e.Member, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Options configures an Extractor.
type Options struct {
	// MemberExtensions limits ZIP extraction to members with these extensions
	// (for example ".txt"). Empty extracts every regular file.
	MemberExtensions []string
}

// Extractor dispatches on file extension.
type Extractor struct {
	extensions []string
	log        *slog.Logger
}

// New creates an Extractor.
func New(opts Options, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	extensions := make([]string, 0, len(opts.MemberExtensions))
	for _, ext := range opts.MemberExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions = append(extensions, ext)
	}
	return &Extractor{extensions: extensions, log: log}
}

// Extract turns path into the text files to scan. ZIP archives are fully extracted
// into destDir and XZ files are decompressed to destDir/<name without .xz>; any
// other file is returned unchanged. Returned paths are sorted.
func (e *Extractor) Extract(path, destDir string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		e.log.Info("extracting zip archive", "path", path)
		return e.extractZip(path, destDir)
	case ".xz":
		e.log.Info("extracting xz archive", "path", path)
		out, err := e.extractXz(path, destDir)
		if err != nil {
			return nil, err
		}
		return []string{out}, nil
	default:
		return []string{path}, nil
	}
}

func (e *Extractor) extractZip(path, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		if reader != nil {
			_ = reader.Close()
		}
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnsupportedMember, err)}
	}
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}

	var extracted []string
	for _, member := range reader.File {
		info := member.FileInfo()
		if info.IsDir() {
			continue
		}
		if !e.wanted(member.Name) {
			e.log.Debug("skipping archive member", "path", path, "member", member.Name)
			continue
		}

		target, err := memberPath(root, member)
		if err != nil {
			return nil, &ExtractionError{Path: path, Member: member.Name, Err: err}
		}
		if err := writeMember(member, target); err != nil {
			return nil, &ExtractionError{Path: path, Member: member.Name, Err: err}
		}
		extracted = append(extracted, target)
	}

	slices.Sort(extracted)
	return extracted, nil
}

func (e *Extractor) wanted(name string) bool {
	if len(e.extensions) == 0 {
		return true
	}
	return slices.Contains(e.extensions, strings.ToLower(filepath.Ext(name)))
}

func memberPath(root string, member *zip.File) (string, error) {
	if member.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: symlink", ErrUnsupportedMember)
	}
	if member.Flags&0x1 != 0 {
		return "", fmt.Errorf("%w: encrypted", ErrUnsupportedMember)
	}

	target := filepath.Join(root, filepath.FromSlash(member.Name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: path escapes destination", ErrUnsupportedMember)
	}
	return target, nil
}

func writeMember(member *zip.File, target string) error {
	src, err := member.Open()
	if err != nil {
		if errors.Is(err, zip.ErrAlgorithm) {
			return fmt.Errorf("%w: %v", ErrUnsupportedMember, err)
		}
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	return copyToFile(target, src)
}

func (e *Extractor) extractXz(path, destDir string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if name == "" {
		name = "decompressed"
	}
	target := filepath.Join(destDir, name)

	file, err := os.Open(path) // #nosec G304 -- path is inside the run workspace.
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	defer file.Close()

	reader, err := xz.NewReader(bufio.NewReader(file))
	if err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", &ExtractionError{Path: path, Err: err}
	}
	if err := copyToFile(target, reader); err != nil {
		_ = os.Remove(target)
		return "", &ExtractionError{Path: path, Err: err}
	}
	return target, nil
}

func copyToFile(target string, src io.Reader) error {
	out, err := os.Create(target) // #nosec G304 -- target is validated by the caller.
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
