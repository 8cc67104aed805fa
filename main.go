package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"blockgen/pkg/archive"
	"blockgen/pkg/config"
	"blockgen/pkg/fetch"
	"blockgen/pkg/filtering"
	"blockgen/pkg/logger"
	"blockgen/pkg/metrics"
	"blockgen/pkg/output"
	"blockgen/pkg/pipeline"
	"blockgen/pkg/scan"
	"blockgen/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "blockgen",
		Short: "Build category blocklists from newly registered domain feeds",
		Long: `blockgen downloads domain feeds, extracts archives, classifies every
domain against the configured category patterns and writes one sorted
"0.0.0.0 domain" blocklist per category.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $BLOCKGEN_CONFIG or /etc/blockgen/blockgen.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	load := func(cmd *cobra.Command) (*config.Config, error) {
		overrides := map[string]any{}
		if cmd.Flags().Changed("log-level") {
			overrides["logging.level"] = logLevel
		}
		return config.Setup(cfgFile, overrides)
	}

	rootCmd.AddCommand(runCmd(load))
	rootCmd.AddCommand(sourcesCmd(load))
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

type configLoader func(cmd *cobra.Command) (*config.Config, error)

func runCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Download all sources and write the category blocklists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Logging.Level, cfg.Logging.File)
			if cfg.Path != "" {
				log.Info("loaded configuration", "path", cfg.Path)
			} else {
				log.Info("no configuration file found, using built-in defaults")
			}
			return run(cmd.Context(), cfg, log)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	opts, err := buildOptions(cfg, log)
	if err != nil {
		return err
	}

	report, err := pipeline.Run(ctx, opts)
	if err != nil {
		log.Error("run aborted", "error", err)
		return err
	}

	if path := cfg.Metrics.Textfile; path != "" {
		if err := opts.Metrics.WriteTextfile(path); err != nil {
			log.Warn("failed to write metrics", "path", path, "error", err)
		}
	}

	for _, failed := range report.FailedSources() {
		log.Warn("source skipped", "source", failed.Source.Name, "error", failed.Err)
	}
	if errs := report.WriteErrors(); len(errs) > 0 {
		return fmt.Errorf("%d category file(s) could not be written: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func buildOptions(cfg *config.Config, log *slog.Logger) (pipeline.Options, error) {
	categories, err := cfg.CompileCategories()
	if err != nil {
		return pipeline.Options{}, err
	}
	whitelist, err := cfg.LoadWhitelist(log)
	if err != nil {
		return pipeline.Options{}, err
	}
	sources, err := buildSources(cfg.Sources)
	if err != nil {
		return pipeline.Options{}, err
	}

	writer, err := output.New(output.Options{
		Dir:            cfg.Output.Dir,
		WriteEmpty:     cfg.Output.WriteEmpty,
		HeaderTemplate: cfg.Output.HeaderTemplate,
		Metadata: output.Metadata{
			Description: cfg.Output.Description,
			Expires:     cfg.Output.Expires,
			Author:      cfg.Output.Author,
			License:     cfg.Output.License,
		},
	}, log)
	if err != nil {
		return pipeline.Options{}, err
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:     cfg.Fetch.Timeout,
		UserAgent:   cfg.Fetch.UserAgent,
		MinInterval: cfg.Fetch.MinInterval,
		Progress:    cfg.Fetch.Progress,
	}, log)

	return pipeline.Options{
		Sources:     sources,
		Classifier:  filtering.NewClassifier(categories, whitelist),
		Fetcher:     fetcher,
		Extractor:   archive.New(archive.Options{MemberExtensions: cfg.Archive.MemberExtensions}, log),
		Writer:      writer,
		Metrics:     metrics.New(),
		ScratchDir:  cfg.Scratch.Dir,
		KeepScratch: cfg.Scratch.Keep,
		Workers:     cfg.Pipeline.Workers,
		Retries:     cfg.Fetch.Retries,
		RetryDelay:  cfg.Fetch.RetryDelay,
		ErrorLimit:  cfg.Logging.InvalidDomainLimit,
		Log:         log,
	}, nil
}

func buildSources(cfgs []config.SourceConfig) ([]pipeline.Source, error) {
	sources := make([]pipeline.Source, 0, len(cfgs))
	for i, src := range cfgs {
		format, err := scan.ParseFormat(src.Format)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		name := src.Name
		if name == "" {
			name = config.SourceName(src.URL, i)
		}
		sources = append(sources, pipeline.Source{Name: name, URL: src.URL, Format: format})
	}
	return sources, nil
}

func sourcesCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Print the resolved source list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			sources, err := buildSources(cfg.Sources)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, source := range sources {
				fmt.Fprintf(out, "%s\t%s\t%s\n", source.Name, source.Format, source.URL)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "blockgen %s\n", version.BlockgenVersion)
		},
	}
}
