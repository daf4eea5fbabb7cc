package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/config"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/output"
)

var (
	cfgFile      string
	verbose      bool
	quiet        bool
	outputFormat string

	// Set by initialize before any command runs.
	cfg  *config.Config
	logs *logging.Logging

	rootCmd = &cobra.Command{
		Use:   "apkmerge",
		Short: "Merge Android bytecode into a single APK",
		Long: `apkmerge combines the classes*.dex entries of APKs, ZIPs and standalone
.dex files into one APK, renumbering them classes.dex, classes2.dex, ...

When the first input is an APK holding classes.dex it is copied as the base
of the output, so its resources and manifest are kept.

Commands can be abbreviated to any unique prefix.

Examples:
  apkmerge merge -o all.apk app.apk extra/          # Merge an APK and a directory
  apkmerge m app.apk plugin.dex                      # Output named merged_HHMMSS.apk
  apkmerge inspect all.apk                           # List bytecode entries
  apkmerge pull package -3 example                   # Pull third party packages
  apkmerge pull framework && apkmerge merge -o fw.apk .
  apkmerge history                                   # Show past merges`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE: initialize,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	cobra.EnablePrefixMatching = true

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/apkmerge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output-format", "O", "",
		fmt.Sprintf("report format %v (default from config)", output.Available()))
}

// Execute runs the root command. Logging is closed here rather than in a
// post-run hook, which cobra skips when the command fails.
func Execute() (err error) {
	defer func() {
		err = errors.Join(err, shutdown())
	}()
	return rootCmd.Execute()
}

// initialize loads configuration and sets up logging. It runs before
// every command.
func initialize(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logs, err = setupLogging(cfg, consoleLevel(verbose, quiet))
	return err
}

// shutdown flushes and closes the log file.
func shutdown() error {
	err := logs.Close()
	logs = nil
	return err
}

// setupLogging opens the log file described by c. When the file cannot
// be opened logging continues on the console only.
func setupLogging(c *config.Config, console string) (*logging.Logging, error) {
	lc, err := c.LoggingConfig(console, os.Stderr)
	if err != nil {
		return nil, err
	}
	l, err := logging.New(lc)
	if err != nil {
		printVerbose("file logging disabled: %v", err)
		return logging.Discard(console, os.Stderr)
	}
	return l, nil
}

// consoleLevel picks the level mirrored to stderr.
func consoleLevel(verbose, quiet bool) string {
	switch {
	case quiet:
		return "error"
	case verbose:
		return "debug"
	default:
		return "warn"
	}
}

// logger returns the component logger, or nil before initialize ran.
func logger(component string) *logging.Logger {
	return logs.Get(component)
}

// reportFormat returns the selected report format.
func reportFormat() string {
	if outputFormat != "" {
		return outputFormat
	}
	if cfg != nil && cfg.Format != "" {
		return cfg.Format
	}
	return config.DefaultFormat
}

// render writes one formatted document to stdout.
func render(fn func(output.Formatter, *bytes.Buffer) error) error {
	formatter, err := output.Get(reportFormat())
	if err != nil {
		return fmt.Errorf("unknown output format %q: available formats are %v", reportFormat(), output.Available())
	}

	var buf bytes.Buffer
	if err := fn(formatter, &buf); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(buf.String())
	return nil
}

// signalContext returns a context canceled on interrupt or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			printInfo("\nInterrupted, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message to stderr if quiet mode is not enabled.
// Stdout is reserved for reports.
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
