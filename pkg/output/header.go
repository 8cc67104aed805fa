package output

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
)

//go:embed header.tmpl
var defaultHeader string

// Metadata holds the header fields that are not derived from the category.
// Empty fields render as "Unknown" or "N/A".
type Metadata struct {
	Description string
	Expires     string
	Author      string
	ModifiedBy  string
	Source      string
	License     string
}

// HeaderData is the value the header template is executed with.
type HeaderData struct {
	Metadata
	Title    string
	Category string
	Count    int
}

// ParseHeader parses a header template. An empty path selects the built-in template.
func ParseHeader(path string) (*template.Template, error) {
	text := defaultHeader
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is provided via config.
		if err != nil {
			return nil, fmt.Errorf("read header template: %w", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("header").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse header template: %w", err)
	}
	return tmpl, nil
}

// RenderHeader executes tmpl and guarantees the result ends with a newline.
func RenderHeader(tmpl *template.Template, data HeaderData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render header: %w", err)
	}
	header := sb.String()
	if header != "" && !strings.HasSuffix(header, "\n") {
		header += "\n"
	}
	return header, nil
}
