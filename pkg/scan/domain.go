package scan

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// Format selects how the candidate domain is taken from a line.
type Format string

const (
	FormatAuto Format = "auto"
	FormatText Format = "text"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a configured format name. An empty name means auto.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatText:
		return FormatText, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown source format %q (must be one of: auto, text, csv)", raw)
}

// FormatFor resolves the format of path. A non-auto override always wins;
// otherwise files with a .csv extension are CSV and everything else is text.
func FormatFor(path string, override Format) Format {
	if override != "" && override != FormatAuto {
		return override
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatText
}

// Domain extracts the candidate domain of line.
//
// CSV lines yield the field before the first comma. Other lines yield the first
// whitespace-delimited token, skipping a leading IP address so hosts-file
// entries such as "0.0.0.0 example.com" yield "example.com". Comment lines
// yield "".
func Domain(line string, format Format) string {
	line = strings.TrimSpace(stripBOM(line))
	if line == "" || isCommentLine(line) {
		return ""
	}

	if format == FormatCSV {
		field := line
		if idx := strings.IndexByte(line, ','); idx >= 0 {
			field = line[:idx]
		}
		return strings.Trim(strings.TrimSpace(field), `"`)
	}

	token, rest := nextField(line)
	if net.ParseIP(token) != nil {
		token, _ = nextField(rest)
	}
	if isCommentToken(token) {
		return ""
	}
	return token
}

func nextField(s string) (string, string) {
	s = strings.TrimLeft(s, " \t\v\f\r\n")
	end := strings.IndexAny(s, " \t\v\f\r\n")
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}

func stripBOM(line string) string {
	return strings.TrimPrefix(line, "\ufeff")
}

func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") || strings.HasPrefix(line, ";")
}

func isCommentToken(token string) bool {
	return isCommentLine(token)
}
