package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/archive"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/output"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>...",
	Short: "List the bytecode entries of archives",
	Long: `List the classes*.dex entries of each archive with their compression
method and sizes, and the highest dex index present.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

// runInspect prints one listing per archive. A bad archive is reported
// and the rest are still listed.
func runInspect(_ *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		listing, err := archive.Inspect(path)
		if err != nil {
			printError("%v", err)
			failed++
			continue
		}
		if err := render(func(f output.Formatter, buf *bytes.Buffer) error {
			return f.FormatListing(buf, listing)
		}); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d archives could not be inspected", failed, len(args))
	}
	return nil
}
