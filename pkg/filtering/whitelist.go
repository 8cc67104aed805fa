package filtering

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Whitelist stores exact and wildcard domains exempt from every category.
// Comparisons are case-sensitive.
type Whitelist struct {
	Exact     map[string]struct{}
	Wildcards map[string]struct{}
}

// NewWhitelist creates a Whitelist holding entries.
func NewWhitelist(entries ...string) *Whitelist {
	w := &Whitelist{
		Exact:     make(map[string]struct{}),
		Wildcards: make(map[string]struct{}),
	}
	for _, entry := range entries {
		w.Add(entry)
	}
	return w
}

// Add registers an exact domain or a "*.base" wildcard.
func (w *Whitelist) Add(entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return
	}
	if strings.HasPrefix(entry, "*.") {
		base := strings.TrimPrefix(entry, "*.")
		if base != "" {
			w.Wildcards[base] = struct{}{}
		}
		return
	}
	w.Exact[entry] = struct{}{}
}

// Merge adds every entry of other to w.
func (w *Whitelist) Merge(other *Whitelist) {
	if other == nil {
		return
	}
	for domain := range other.Exact {
		w.Exact[domain] = struct{}{}
	}
	for domain := range other.Wildcards {
		w.Wildcards[domain] = struct{}{}
	}
}

// Len returns the number of entries.
func (w *Whitelist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Exact) + len(w.Wildcards)
}

// Contains reports whether domain equals an exact entry, or equals or is a
// subdomain of a wildcard base.
func (w *Whitelist) Contains(domain string) bool {
	if w == nil || domain == "" {
		return false
	}
	if _, ok := w.Exact[domain]; ok {
		return true
	}
	if len(w.Wildcards) == 0 {
		return false
	}
	if _, ok := w.Wildcards[domain]; ok {
		return true
	}
	for i := 0; i < len(domain); i++ {
		if domain[i] != '.' {
			continue
		}
		if _, ok := w.Wildcards[domain[i+1:]]; ok {
			return true
		}
	}
	return false
}

// LoadWhitelist reads one entry per line from path. Blank and comment lines are skipped.
func LoadWhitelist(path string, log *slog.Logger) (*Whitelist, error) {
	if path == "" {
		return NewWhitelist(), nil
	}

	file, err := os.Open(path) // #nosec G304 -- path is provided via config.
	if err != nil {
		return nil, fmt.Errorf("open whitelist: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			if log == nil {
				log = slog.Default()
			}
			log.Warn("failed to close whitelist file", "error", err)
		}
	}()

	return readWhitelist(file)
}

func readWhitelist(r io.Reader) (*Whitelist, error) {
	w := NewWhitelist()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || isCommentLine(line) {
			continue
		}
		w.Add(strings.Fields(line)[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan whitelist: %w", err)
	}
	return w, nil
}

func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") || strings.HasPrefix(line, ";")
}
