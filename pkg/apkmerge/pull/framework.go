package pull

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/archive"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/device"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/extract"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/source"
)

// API levels with a known framework layout.
const (
	SDKAndroid8  = 26
	SDKAndroid9  = 28
	SDKAndroid10 = 29
	SDKAndroid11 = 30
)

// FrameworkRoot is where the framework archives live on the device.
const FrameworkRoot = "/system/framework"

// RemoteDir is a device directory and the suffix of the files to pull
// from it.
type RemoteDir struct {
	Path   string
	Suffix string
}

// FrameworkLayout returns the directories to pull for an API level and
// ABI list. Android 10 and 11 keep the framework jars without bytecode
// next to arm64 vdex files and are only supported on 64-bit devices.
// Android 8 and 9 only need the vdex files for the primary arch.
func FrameworkLayout(sdk int, abis []string) ([]RemoteDir, error) {
	is64 := device.Supports64(abis)
	switch {
	case sdk >= SDKAndroid10 && sdk <= SDKAndroid11:
		if !is64 {
			return nil, fmt.Errorf("%w: sdk %d on a 32-bit device", ErrUnsupportedSDK, sdk)
		}
		return []RemoteDir{
			{FrameworkRoot + "/oat/arm64", extract.SuffixVdex},
			{FrameworkRoot + "/arm64", extract.SuffixVdex},
			{FrameworkRoot, ".jar"},
		}, nil
	case sdk >= SDKAndroid8 && sdk <= SDKAndroid9:
		arch := "arm"
		if is64 {
			arch = "arm64"
		}
		return []RemoteDir{
			{FrameworkRoot + "/oat/" + arch, extract.SuffixVdex},
			{FrameworkRoot + "/" + arch, extract.SuffixVdex},
		}, nil
	default:
		return nil, fmt.Errorf("%w: sdk %d, need %d to %d", ErrUnsupportedSDK, sdk, SDKAndroid8, SDKAndroid11)
	}
}

// Framework pulls the device framework into Dir and leaves it as merge
// input: every vdex is extracted to dex files, jars holding bytecode are
// renamed to .apk and the rest are removed, together with the vdex and
// compact dex intermediates.
func Framework(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	sdk, err := device.SDKVersion(ctx, opts.Device)
	if err != nil {
		return nil, err
	}
	abis, err := device.ABIList(ctx, opts.Device)
	if err != nil {
		return nil, err
	}
	layout, err := FrameworkLayout(sdk, abis)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("pulling framework", "sdk", sdk, "abis", strings.Join(abis, ","), "dir", opts.dir())

	res := &Result{}
	var errs []error
	for _, d := range layout {
		if err := pullDir(ctx, &opts, res, d); err != nil {
			return res, err
		}
	}

	if err := prepareFramework(ctx, &opts, res); err != nil {
		errs = append(errs, err)
	}
	if err := removeMatching(opts.dir(), opts.Logger, extract.SuffixCdex, extract.SuffixVdex); err != nil {
		errs = append(errs, err)
	}
	if err := renameConverted(opts.dir()); err != nil {
		errs = append(errs, err)
	}

	inputs, err := mergeInputs(opts.dir())
	if err != nil {
		errs = append(errs, err)
	}
	res.Inputs = inputs
	return res, errors.Join(errs...)
}

func pullDir(ctx context.Context, opts *Options, res *Result, d RemoteDir) error {
	names, err := opts.Device.List(ctx, d.Path)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, d.Suffix) {
			continue
		}
		local := filepath.Join(opts.dir(), name)
		if err := opts.fetch(ctx, res, path.Join(d.Path, name), local); err != nil {
			return err
		}
	}
	return nil
}

// prepareFramework extracts every vdex and sorts out the jars. A vdex
// without bytecode is logged and skipped.
func prepareFramework(ctx context.Context, opts *Options, res *Result) error {
	entries, err := os.ReadDir(opts.dir())
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(opts.dir(), e.Name())
		switch {
		case strings.HasSuffix(e.Name(), extract.SuffixVdex):
			if _, err := opts.Extractor.Extract(ctx, p); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, extract.ErrNoBytecode) {
					opts.Logger.Warn("vdex holds no bytecode", "path", p)
					res.Missing = append(res.Missing, p)
					continue
				}
				errs = append(errs, err)
			}
		case strings.HasSuffix(e.Name(), ".jar"):
			if err := sortJar(p, opts); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// sortJar renames a jar holding classes.dex to .apk and removes it
// otherwise.
func sortJar(p string, opts *Options) error {
	isZip, err := archive.IsZip(p)
	if err != nil {
		return err
	}
	keep := false
	if isZip {
		if keep, err = holdsBytecode(p); err != nil {
			opts.Logger.Warn("unreadable jar", "path", p, "error", err)
			keep = false
		}
	}

	if !keep {
		opts.Logger.Debug("removing jar without bytecode", "path", p)
		return os.Remove(p)
	}
	apk := strings.TrimSuffix(p, ".jar") + source.ExtApk
	opts.Logger.Debug("keeping jar", "path", apk)
	return os.Rename(p, apk)
}

// renameConverted turns the converted compact dex files into plain .dex.
func renameConverted(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), extract.SuffixCdexNew) {
			continue
		}
		from := filepath.Join(dir, e.Name())
		to := strings.TrimSuffix(from, extract.SuffixCdexNew) + source.ExtDex
		if err := os.Rename(from, to); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// mergeInputs lists the .apk and .dex files left in dir, sorted.
func mergeInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var inputs []string
	for _, e := range entries {
		if e.IsDir() || !hasSuffix(e.Name(), source.ExtApk, source.ExtDex) {
			continue
		}
		inputs = append(inputs, filepath.Join(dir, e.Name()))
	}
	sort.Strings(inputs)
	return inputs, nil
}
