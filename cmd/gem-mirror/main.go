// Package main implements the gem-mirror command-line tool for mirroring RubyGems repositories.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/steakknife/rubygems-mirror/internal/mirror"
)

const (
	defaultConfigPath = "~/.gemmirrorrc"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "gem-mirror",
	Short: "Mirror RubyGems repositories",
	Long: `gem-mirror creates and maintains local mirrors of RubyGems repositories.

It downloads the specs indexes of each configured mirror, fetches the gems
missing locally and deletes the gems that are no longer published.`,
}

var syncCmd = &cobra.Command{
	Use:   "sync [mirror-ids...]",
	Short: "Synchronize one or more gem mirrors",
	Long: `Synchronizes one or more gem mirrors based on the provided configuration.

Usage:
  # Synchronize all mirrors in your configuration file
  gem-mirror sync

  # Synchronize only specific mirrors
  gem-mirror sync rubygems internal

  # Use a TOML configuration file
  gem-mirror sync --config /etc/gem-mirror/mirror.toml

  # Override the log level
  gem-mirror sync --log-level debug

  # Show detailed error information
  gem-mirror sync --verbose-errors

  # Suppress all output except for errors
  gem-mirror sync --quiet

  # Dry run - compute what would be fetched and deleted
  gem-mirror sync --dry-run

If no mirror IDs are specified, all mirrors in the configuration file will be
synchronized. Send SIGUSR1 to log the progress of the running phase.`,
	Run: runMirror,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		printVersion()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path (TOML, or YAML .gemmirrorrc)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")

	rootCmd.Flags().BoolP("version", "v", false, "print version information and exit")

	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")
	rootCmd.PersistentFlags().Bool("dry-run", false, "compute sync plans without transferring gems")
}

func printVersion() {
	fmt.Printf("gem-mirror %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}
	return err.Error()
}

// analyzeUndecoded examines undecoded TOML keys and provides helpful suggestions
func analyzeUndecoded(undecoded []toml.Key) (suggestions []string, unknown []string) {
	mirrorGroups := make(map[string]int)
	var order []string

	for _, key := range undecoded {
		keyStr := key.String()

		// "mirror" vs "mirrors" typo
		if strings.HasPrefix(keyStr, "mirror.") {
			parts := strings.Split(keyStr, ".")
			if len(parts) >= 2 {
				rootSection := parts[0] + "." + parts[1]
				if mirrorGroups[rootSection] == 0 {
					order = append(order, rootSection)
				}
				mirrorGroups[rootSection]++
				continue
			}
		}
		unknown = append(unknown, keyStr)
	}

	for _, rootSection := range order {
		count := mirrorGroups[rootSection]
		correctedSection := strings.Replace(rootSection, "mirror.", "mirrors.", 1)
		if count == 1 {
			suggestions = append(suggestions, fmt.Sprintf("Section '%s' should be '%s'", rootSection, correctedSection))
		} else {
			suggestions = append(suggestions, fmt.Sprintf("Section '%s' should be '%s' (affects %d subsections)", rootSection, correctedSection, count))
		}
	}

	return suggestions, unknown
}

// formatUndecodedError builds a user-friendly error message for undecoded TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	suggestions, unknown := analyzeUndecoded(undecoded)

	var errorMsg strings.Builder
	if len(suggestions) > 0 {
		errorMsg.WriteString("configuration contains sections that don't match expected structure:\n")
		for _, suggestion := range suggestions {
			errorMsg.WriteString("  • " + suggestion + "\n")
		}
		errorMsg.WriteString("\nNote: Configuration section names are case-sensitive and must match exactly.")
	}

	if len(unknown) > 0 {
		if errorMsg.Len() > 0 {
			errorMsg.WriteString("\n\nAdditionally, found unknown sections: ")
		} else {
			errorMsg.WriteString("configuration contains unknown sections: ")
		}
		errorMsg.WriteString(fmt.Sprintf("%v", unknown))
		errorMsg.WriteString("\nThese sections don't match any expected configuration structure.")
	}

	return errorMsg.String()
}

// resolveConfigPath expands a leading "~" in p.
func resolveConfigPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

// loadConfig reads the configuration file and rejects unknown TOML keys.
func loadConfig(path string, verboseErrors bool) (*mirror.Config, error) {
	config, meta, err := mirror.LoadConfig(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("configuration file not found", "path", path)
			slog.Info("Please create a configuration file at the default location or specify one with the --config flag.")
			return nil, err
		}
		slog.Error("failed to decode config file", "error", formatError(err, verboseErrors), "path", path)
		return nil, err
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		errorMsg := formatUndecodedError(undecoded)
		slog.Error("configuration validation failed", "error", errorMsg, "path", path)
		return nil, errors.New(errorMsg)
	}
	return config, nil
}

// applyLogFlags applies the log configuration and command-line overrides.
func applyLogFlags(config *mirror.Config, quiet bool) error {
	if err := config.Log.Apply(); err != nil {
		return errors.Wrap(err, "log config")
	}

	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			return errors.Wrapf(err, "command-line log level %q", logLevel)
		}
		slog.Debug("log level successfully overridden from command line", "level", logLevel)
	}

	if quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			return errors.Wrap(err, "quiet log level")
		}
	}
	return nil
}

func runMirror(cmd *cobra.Command, args []string) {
	if versionFlag, _ := cmd.Flags().GetBool("version"); versionFlag {
		printVersion()
		return
	}

	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	quiet, _ := cmd.Flags().GetBool("quiet")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	path := resolveConfigPath(configPath)
	config, err := loadConfig(path, verboseErrors)
	if err != nil {
		os.Exit(1)
	}
	if err := applyLogFlags(config, quiet); err != nil {
		slog.Error("failed to apply log config", "error", err)
		os.Exit(1)
	}
	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors), "path", path)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := newBarProgress(os.Stderr, quiet)
	snapshots := make(chan os.Signal, 1)
	signal.Notify(snapshots, syscall.SIGUSR1)
	defer signal.Stop(snapshots)
	go func() {
		for {
			select {
			case <-snapshots:
				progress.logSnapshot()
			case <-ctx.Done():
				return
			}
		}
	}()

	reports, err := mirror.Run(ctx, config, args, mirror.Options{
		DryRun:   dryRun,
		Progress: progress,
	})
	if !quiet {
		mirror.WriteSummary(os.Stdout, reports, dryRun)
	}

	if err != nil {
		slog.Error("mirror run failed", "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}
	if failed := mirror.Failed(reports); failed > 0 {
		for _, r := range reports {
			for _, f := range r.Failures {
				slog.Error("gem failed", "repo", r.Mirror, "error", formatError(f, verboseErrors))
			}
		}
		slog.Error("mirror run finished with failures", "failed", failed)
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	path := resolveConfigPath(configPath)
	config, err := loadConfig(path, verboseErrors)
	if err != nil {
		os.Exit(1)
	}

	var validationErrors []error

	if err := config.Log.Apply(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "log config"))
	}

	if config.MaxConns < 0 {
		validationErrors = append(validationErrors, errors.New("global config: max_conns must not be negative"))
	}
	if len(config.Mirrors) == 0 {
		validationErrors = append(validationErrors, errors.New("global config: no mirrors defined"))
	}

	for _, mirrorID := range config.MirrorIDs() {
		if !mirror.IsValidID(mirrorID) {
			validationErrors = append(validationErrors, errors.New("invalid mirror ID: "+mirrorID))
		}
		mirrorConfig := config.Mirrors[mirrorID]
		if mirrorConfig == nil {
			validationErrors = append(validationErrors, errors.New("empty mirror definition: "+mirrorID))
			continue
		}
		if err := mirrorConfig.Check(); err != nil {
			validationErrors = append(validationErrors, errors.Wrap(err, "mirror \""+mirrorID+"\""))
		}
	}

	if len(validationErrors) > 0 {
		slog.Error("the configuration file is not valid", "path", path)
		for _, err := range validationErrors {
			slog.Error(err.Error())
		}
		os.Exit(1)
	}

	slog.Info("the configuration file passes validation checks", "path", path, "mirrors", len(config.Mirrors))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
