package main

import (
	"bytes"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/merge"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/output"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

var (
	mergeOutput    string
	mergeForce     bool
	mergeCompress  bool
	mergeAtomic    bool
	mergeNoHistory bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge [flags] <input>...",
	Short: "Merge bytecode from APKs, ZIPs, .dex files and directories",
	Long: `Merge the bytecode of every input into one APK.

Inputs are processed in the order given. Directories are searched
recursively: .dex files first, then .zip, then .apk, each group in path
order. Names starting with a dot are skipped.

If the first input is an APK holding classes.dex it is copied as the base
of the output and numbering continues after its own bytecode entries.

A single input must be a directory. The output must not exist unless
--force is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "output APK (default: merged_HHMMSS.apk)")
	mergeCmd.Flags().BoolVarP(&mergeForce, "force", "f", false, "overwrite an existing output")
	mergeCmd.Flags().BoolVar(&mergeCompress, "compress", false, "deflate standalone .dex files (default from config)")
	mergeCmd.Flags().BoolVar(&mergeAtomic, "atomic", false, "only create the output when the whole merge succeeds")
	mergeCmd.Flags().BoolVar(&mergeNoHistory, "no-history", false, "do not record this merge in the history")

	rootCmd.AddCommand(mergeCmd)
}

// runMerge merges the inputs, prints the report and records it.
func runMerge(_ *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	opts := mergeOptions(args, time.Now())
	printVerbose("Merging %d inputs into %s", len(args), opts.Output)

	report, mergeErr := merge.Run(ctx, opts)

	if cfg.History.Enabled && !mergeNoHistory {
		if err := recordHistory(report); err != nil {
			logger("history").Warn("failed to record merge", "id", report.ID, "error", err)
			printVerbose("History not recorded: %v", err)
		}
	}

	if err := render(func(f output.Formatter, buf *bytes.Buffer) error {
		return f.FormatReport(buf, report)
	}); err != nil {
		return err
	}
	return mergeErr
}

// mergeOptions combines the merge flags with the configuration.
func mergeOptions(inputs []string, now time.Time) merge.Options {
	out := mergeOutput
	if out == "" {
		out = merge.DefaultOutput(cfg.OutputPattern, now)
	}
	return merge.Options{
		Output:    out,
		Inputs:    inputs,
		Overwrite: mergeForce,
		Compress:  mergeCompress || cfg.Merge.Compress,
		Atomic:    mergeAtomic || cfg.Merge.Atomic,
		Logger:    logger("merge"),
	}
}

// recordHistory stores a report in the history database.
func recordHistory(report *types.MergeReport) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Put(report)
}
