package pull

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/device"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/extract"
)

// PackageOptions configures Packages.
type PackageOptions struct {
	Options

	// Keywords select packages whose name contains any of them. No
	// keywords selects every listed package.
	Keywords []string

	Filter device.PackageFilter
}

// vdexDirs are tried in order, relative to the archive's directory.
var vdexDirs = []string{"oat/arm", "oat/arm64"}

// Packages pulls the selected packages into Dir. Archives installed
// under /data/ or already holding classes.dex are kept as pulled. For
// the others the matching vdex is pulled and extracted, and its dex
// files are appended to the archive. A package that fails does not stop
// the others; all failures are returned joined.
func Packages(ctx context.Context, opts PackageOptions) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	pkgs, err := device.Packages(ctx, opts.Device, opts.Filter)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var errs []error
	for _, pkg := range pkgs {
		if !Matches(pkg.Name, opts.Keywords) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := pullPackage(ctx, &opts.Options, res, pkg); err != nil {
			opts.Logger.Error("package failed", "package", pkg.Name, "error", err)
			errs = append(errs, wrap("package", pkg.Name, err))
		}
	}

	if err := removeMatching(opts.dir(), opts.Logger,
		".dex", extract.SuffixCdex, extract.SuffixVdex, extract.SuffixCdexNew); err != nil {
		errs = append(errs, err)
	}

	res.Inputs = append(append([]string(nil), res.Pulled...), res.Kept...)
	return res, errors.Join(errs...)
}

// Matches reports whether name contains any keyword. Every name matches
// an empty keyword list.
func Matches(name string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// LocalName is the file name a pulled package archive is saved under:
// <package>.apk for base.apk, the remote file name for splits.
func LocalName(pkg device.Package) string {
	if path.Base(pkg.Path) == "base.apk" {
		return pkg.Name + ".apk"
	}
	return path.Base(pkg.Path)
}

func pullPackage(ctx context.Context, opts *Options, res *Result, pkg device.Package) error {
	local := filepath.Join(opts.dir(), LocalName(pkg))
	if err := opts.fetch(ctx, res, pkg.Path, local); err != nil {
		return err
	}

	if strings.HasPrefix(pkg.Path, "/data/") {
		opts.Logger.Info("pulled package", "package", pkg.Name, "path", local)
		return nil
	}
	ok, err := holdsBytecode(local)
	if err != nil {
		return err
	}
	if ok {
		opts.Logger.Info("pulled package", "package", pkg.Name, "path", local)
		return nil
	}

	vdex, err := pullVdex(ctx, opts, res, pkg.Path)
	if err != nil {
		return err
	}
	if vdex == "" {
		opts.Logger.Warn("no vdex found", "package", pkg.Name, "remote", pkg.Path)
		res.Missing = append(res.Missing, local)
		return nil
	}

	dexes, err := opts.Extractor.Extract(ctx, vdex)
	if err != nil {
		return err
	}
	if err := appendBytecode(local, dexes, opts); err != nil {
		return err
	}
	res.Patched = append(res.Patched, local)
	return nil
}

// pullVdex fetches the vdex compiled from the remote archive, trying each
// of vdexDirs. It returns "" when none has it.
func pullVdex(ctx context.Context, opts *Options, res *Result, remote string) (string, error) {
	name := remoteVdexName(remote)
	local := filepath.Join(opts.dir(), name)
	if _, err := os.Stat(local); err == nil && !opts.Force {
		opts.Logger.Info("already pulled", "path", local)
		return local, nil
	}

	for _, dir := range vdexDirs {
		candidate := path.Join(path.Dir(remote), dir, name)
		if err := opts.Device.Pull(ctx, candidate, local); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			opts.Logger.Debug("vdex not found", "remote", candidate, "error", err)
			continue
		}
		return local, nil
	}
	return "", nil
}
