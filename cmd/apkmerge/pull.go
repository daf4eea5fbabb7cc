package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/command"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/device"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/extract"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/pull"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull archives from a device",
	Long: `Pull application or framework archives from the device attached
through adb and restore the bytecode stripped from optimized system
archives with vdexExtractor and cdexExtractor.

The adb binary, device serial and extractor tools come from the
configuration (device.* and extract.*).`,
}

var pullPackageCmd = &cobra.Command{
	Use:   "package [keyword]...",
	Short: "Pull installed packages",
	Long: `Pull every installed package whose name contains one of the keywords,
or all packages when none are given. base.apk is saved as <package>.apk.

System archives without bytecode get the dex files extracted from their
vdex appended as classes.dex, classes2.dex, ...`,
	RunE: runPullPackage,
}

var pullFrameworkCmd = &cobra.Command{
	Use:   "framework",
	Short: "Pull the Android framework",
	Long: `Pull the framework jars and vdex files of an Android 8 to 11 device and
turn them into .apk and .dex files that can be merged:

  apkmerge pull framework -d fw && apkmerge merge -o framework.apk fw`,
	Args: cobra.NoArgs,
	RunE: runPullFramework,
}

var (
	pullDir        string
	pullForce      bool
	pullThirdParty bool
	pullSystem     bool
	pullSerial     string
)

func init() {
	pullCmd.PersistentFlags().StringVarP(&pullDir, "dir", "d", ".", "directory receiving the pulled files")
	pullCmd.PersistentFlags().BoolVar(&pullForce, "force", false, "pull files again even if they exist locally")
	pullCmd.PersistentFlags().StringVar(&pullSerial, "serial", "", "device serial (default from config)")

	pullPackageCmd.Flags().BoolVarP(&pullThirdParty, "third-party", "3", false, "only third party packages")
	pullPackageCmd.Flags().BoolVarP(&pullSystem, "system", "s", false, "only system packages")

	pullCmd.AddCommand(pullPackageCmd)
	pullCmd.AddCommand(pullFrameworkCmd)
	rootCmd.AddCommand(pullCmd)
}

// pullOptions builds the device and extractor from the configuration.
func pullOptions() pull.Options {
	serial := pullSerial
	if serial == "" {
		serial = cfg.Device.Serial
	}

	runner := &command.Exec{Timeout: cfg.Device.Timeout, Logger: logger("device")}
	return pull.Options{
		Device: device.NewADB(cfg.Device.ADBPath, serial, runner, logger("device")),
		Extractor: &extract.Tools{
			VdexExtractor: cfg.Extract.VdexExtractor,
			CdexExtractor: cfg.Extract.CdexExtractor,
			Runner:        &command.Exec{Timeout: cfg.Device.Timeout, Logger: logger("extract")},
			Logger:        logger("extract"),
		},
		Dir:      pullDir,
		Force:    pullForce,
		Compress: cfg.Merge.Compress,
		Logger:   logger("pull"),
	}
}

func runPullPackage(_ *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	res, err := pull.Packages(ctx, pull.PackageOptions{
		Options:  pullOptions(),
		Keywords: args,
		Filter: device.PackageFilter{
			ThirdParty: pullThirdParty,
			System:     pullSystem,
		},
	})
	if res != nil {
		printPullResult(res)
	}
	return err
}

func runPullFramework(_ *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	res, err := pull.Framework(ctx, pullOptions())
	if res != nil {
		printPullResult(res)
		if len(res.Inputs) > 0 {
			printInfo("Merge with: apkmerge merge -o framework.apk %s", pullDir)
		}
	}
	return err
}

func printPullResult(res *pull.Result) {
	printInfo("Pulled %d files, kept %d existing, restored bytecode in %d.",
		len(res.Pulled), len(res.Kept), len(res.Patched))
	for _, p := range res.Missing {
		printInfo("No bytecode found for %s", p)
	}
	for _, p := range res.Inputs {
		fmt.Println(p)
	}
}
