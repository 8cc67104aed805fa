// Package config loads configuration for the blocklist generator.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"blockgen/pkg/filtering"
	"blockgen/pkg/scan"
	"blockgen/pkg/version"
)

const (
	defaultConfigPath = "/etc/blockgen/blockgen.toml"
	configEnvVar      = "BLOCKGEN_CONFIG"
)

// Config contains all runtime options of a generator run.
type Config struct {
	Logging    LoggingConfig              `mapstructure:"logging"`
	Fetch      FetchConfig                `mapstructure:"fetch"`
	Pipeline   PipelineConfig             `mapstructure:"pipeline"`
	Scratch    ScratchConfig              `mapstructure:"scratch"`
	Archive    ArchiveConfig              `mapstructure:"archive"`
	Output     OutputConfig               `mapstructure:"output"`
	Metrics    MetricsConfig              `mapstructure:"metrics"`
	Whitelist  WhitelistConfig            `mapstructure:"whitelist"`
	Sources    []SourceConfig             `mapstructure:"sources" validate:"dive"`
	Categories []filtering.CategoryConfig `mapstructure:"categories" validate:"dive"`

	// Path is the file the configuration was read from. It is empty when
	// only built-in defaults are in effect.
	Path string `mapstructure:"-"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level              string `mapstructure:"level"`
	File               string `mapstructure:"file"`
	InvalidDomainLimit int    `mapstructure:"invalid_domain_limit"`
}

// FetchConfig holds download settings.
type FetchConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent   string        `mapstructure:"user_agent"`
	Retries     int           `mapstructure:"retries" validate:"gte=0"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	MinInterval time.Duration `mapstructure:"min_interval" validate:"gte=0"`
	Progress    bool          `mapstructure:"progress"`
}

// PipelineConfig holds processing settings.
type PipelineConfig struct {
	Workers int `mapstructure:"workers" validate:"gte=1"`
}

// ScratchConfig holds settings of the temporary run workspace.
type ScratchConfig struct {
	Dir  string `mapstructure:"dir"`
	Keep bool   `mapstructure:"keep"`
}

// ArchiveConfig holds archive extraction settings.
type ArchiveConfig struct {
	MemberExtensions []string `mapstructure:"member_extensions"`
}

// OutputConfig holds category file settings.
type OutputConfig struct {
	Dir            string `mapstructure:"dir" validate:"required"`
	WriteEmpty     bool   `mapstructure:"write_empty"`
	HeaderTemplate string `mapstructure:"header_template"`
	Author         string `mapstructure:"author"`
	Expires        string `mapstructure:"expires"`
	Description    string `mapstructure:"description"`
	License        string `mapstructure:"license"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// WhitelistConfig holds the global whitelist.
type WhitelistConfig struct {
	Domains []string `mapstructure:"domains"`
	File    string   `mapstructure:"file"`
}

// SourceConfig describes one remote source.
type SourceConfig struct {
	URL    string `mapstructure:"url" validate:"required,url"`
	Name   string `mapstructure:"name"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=auto text csv"`
}

// ValidateLogLevel ensures the user-provided log level matches the supported set.
func ValidateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
	return nil
}

// ResolvePath picks the configuration file: an explicit path wins, then the
// BLOCKGEN_CONFIG environment variable, then the system default.
func ResolvePath(explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if fromEnv := strings.TrimSpace(os.Getenv(configEnvVar)); fromEnv != "" {
		return fromEnv
	}
	return defaultConfigPath
}

// Setup loads the TOML configuration and produces a validated Config.
// overrides are applied on top of the file, keyed like "logging.level".
// A missing file at the system default location is not an error; the
// built-in defaults are used instead.
func Setup(explicitPath string, overrides map[string]any) (*Config, error) {
	return loadConfig(ResolvePath(explicitPath), overrides)
}

func loadConfig(configPath string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	readFile := true
	if configPath == defaultConfigPath {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			readFile = false
		}
	}
	if readFile {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if readFile {
		cfg.Path = configPath
	}

	applyCatalog(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "stdout")
	v.SetDefault("logging.invalid_domain_limit", 20)
	v.SetDefault("fetch.timeout", "10m")
	v.SetDefault("fetch.user_agent", version.UserAgent())
	v.SetDefault("fetch.retries", 0)
	v.SetDefault("fetch.retry_delay", "5s")
	v.SetDefault("fetch.min_interval", "0s")
	v.SetDefault("fetch.progress", false)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("scratch.dir", "")
	v.SetDefault("scratch.keep", false)
	v.SetDefault("archive.member_extensions", []string{})
	v.SetDefault("output.dir", "blocklists/templates")
	v.SetDefault("output.write_empty", true)
	v.SetDefault("output.expires", "1 day")
	v.SetDefault("whitelist.domains", filtering.DefaultWhitelist)
}

// applyCatalog fills absent sources and categories with the built-in catalog.
func applyCatalog(cfg *Config) {
	if len(cfg.Sources) == 0 {
		cfg.Sources = make([]SourceConfig, 0, len(filtering.Catalog))
		for _, def := range filtering.Catalog {
			cfg.Sources = append(cfg.Sources, SourceConfig{URL: def.URL, Name: def.Name, Format: def.Format})
		}
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = append([]filtering.CategoryConfig(nil), filtering.DefaultCategories...)
	}
}

func validateConfig(cfg *Config) error {
	if err := ValidateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid %s: failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	names := make(map[string]bool, len(cfg.Sources))
	for i := range cfg.Sources {
		source := &cfg.Sources[i]
		if _, err := scan.ParseFormat(source.Format); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if source.Name == "" {
			source.Name = SourceName(source.URL, i)
		}
		if source.Name != filepath.Base(source.Name) || source.Name == "." || source.Name == ".." {
			return fmt.Errorf("sources[%d]: name %q must be a plain file name", i, source.Name)
		}
		if names[source.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, source.Name)
		}
		names[source.Name] = true
	}

	outputs := make(map[string]string, len(cfg.Categories))
	categoryNames := make(map[string]bool, len(cfg.Categories))
	for i, category := range cfg.Categories {
		if _, err := filtering.NewCategory(category); err != nil {
			return fmt.Errorf("categories[%d]: %w", i, err)
		}
		if categoryNames[category.Name] {
			return fmt.Errorf("categories[%d]: duplicate category name %q", i, category.Name)
		}
		categoryNames[category.Name] = true

		output := filepath.Clean(filepath.FromSlash(category.Output))
		if !filepath.IsLocal(output) {
			return fmt.Errorf("categories[%d]: output %q must be a relative path inside output.dir", i, category.Output)
		}
		if other, ok := outputs[output]; ok {
			return fmt.Errorf("categories[%d]: output %q already used by category %q", i, category.Output, other)
		}
		outputs[output] = category.Name
	}

	if file := cfg.Whitelist.File; file != "" {
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("whitelist.file not accessible: %w", err)
		}
	}
	if tmpl := cfg.Output.HeaderTemplate; tmpl != "" {
		if _, err := os.Stat(tmpl); err != nil {
			return fmt.Errorf("output.header_template not accessible: %w", err)
		}
	}

	return validateScratchDir(cfg)
}

// validateScratchDir rejects a scratch.dir whose wipe at startup would remove
// files the run depends on.
func validateScratchDir(cfg *Config) error {
	if cfg.Scratch.Dir == "" {
		return nil
	}
	scratch, err := filepath.Abs(cfg.Scratch.Dir)
	if err != nil {
		return fmt.Errorf("scratch.dir: %w", err)
	}

	type protectedPath struct {
		what string
		path string
	}
	protected := []protectedPath{{"output.dir", cfg.Output.Dir}}
	if cfg.Path != "" {
		protected = append(protected, protectedPath{"config file", cfg.Path})
	}
	if wd, err := os.Getwd(); err == nil {
		protected = append(protected, protectedPath{"working directory", wd})
	}

	for _, p := range protected {
		target, err := filepath.Abs(p.path)
		if err != nil {
			return fmt.Errorf("%s: %w", p.what, err)
		}
		if rel, err := filepath.Rel(scratch, target); err == nil && filepath.IsLocal(rel) {
			return fmt.Errorf("scratch.dir %q must not contain the %s %q", cfg.Scratch.Dir, p.what, p.path)
		}
	}
	return nil
}

// SourceName derives a scratch file name from the last path segment of rawURL.
func SourceName(rawURL string, index int) string {
	fallback := fmt.Sprintf("source-%d", index+1)
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return fallback
	}
	return base
}

// CompileCategories compiles the configured category rules in order.
func (c *Config) CompileCategories() ([]*filtering.Category, error) {
	categories := make([]*filtering.Category, 0, len(c.Categories))
	for _, cfg := range c.Categories {
		category, err := filtering.NewCategory(cfg)
		if err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, nil
}

// LoadWhitelist combines whitelist.domains with the entries of whitelist.file.
func (c *Config) LoadWhitelist(log *slog.Logger) (*filtering.Whitelist, error) {
	whitelist := filtering.NewWhitelist(c.Whitelist.Domains...)
	if c.Whitelist.File != "" {
		fromFile, err := filtering.LoadWhitelist(c.Whitelist.File, log)
		if err != nil {
			return nil, err
		}
		whitelist.Merge(fromFile)
	}
	return whitelist, nil
}
