package filtering

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidDomain is returned by Classify when the extracted token is not a domain name.
var ErrInvalidDomain = errors.New("invalid domain")

// CategoryConfig defines a category rule as written in configuration.
type CategoryConfig struct {
	Title     string   `mapstructure:"title"`
	Name      string   `mapstructure:"name" validate:"required"`
	Pattern   string   `mapstructure:"pattern" validate:"required"`
	Output    string   `mapstructure:"output" validate:"required"`
	Whitelist []string `mapstructure:"whitelist"`
}

// Category is a compiled classification rule owning one output file.
type Category struct {
	Title     string
	Name      string
	Output    string
	Pattern   *regexp.Regexp
	Whitelist *Whitelist
}

// NewCategory compiles cfg into a Category. Patterns always match case-insensitively.
func NewCategory(cfg CategoryConfig) (*Category, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("category name is required")
	}
	if strings.TrimSpace(cfg.Pattern) == "" {
		return nil, fmt.Errorf("category %s: pattern is required", name)
	}
	pattern, err := regexp.Compile("(?i)" + cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("category %s: compile pattern: %w", name, err)
	}

	var whitelist *Whitelist
	if len(cfg.Whitelist) > 0 {
		whitelist = NewWhitelist(cfg.Whitelist...)
	}

	return &Category{
		Title:     strings.TrimSpace(cfg.Title),
		Name:      name,
		Output:    strings.TrimSpace(cfg.Output),
		Pattern:   pattern,
		Whitelist: whitelist,
	}, nil
}

// Entry renders a domain as a blocklist line.
func Entry(domain string) string {
	return "0.0.0.0 " + domain
}

func (c *Category) String() string {
	return c.Name
}
