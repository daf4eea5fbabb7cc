// Package pull fetches application and framework archives from a device
// and restores the bytecode that Android strips out of optimized system
// archives, so the results can be merged like any other input.
package pull

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/archive"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/device"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/extract"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/merge"
)

var (
	// ErrUnsupportedSDK is returned by Framework for API levels whose
	// framework layout is unknown.
	ErrUnsupportedSDK = errors.New("unsupported sdk version")

	// ErrNoDevice is returned when Options has no Device.
	ErrNoDevice = errors.New("no device")
)

// Options are shared by both workflows.
type Options struct {
	Device    device.Device
	Extractor extract.Extractor

	// Dir receives the pulled files. Empty means the current directory.
	Dir string

	// Force pulls files again even when a local copy exists.
	Force bool

	// Compress deflates extracted dex files appended to archives.
	Compress bool

	Logger *logging.Logger
}

func (o *Options) dir() string {
	if o.Dir == "" {
		return "."
	}
	return o.Dir
}

func (o *Options) validate() error {
	if o.Device == nil {
		return ErrNoDevice
	}
	if o.Extractor == nil {
		return errors.New("no extractor")
	}
	return os.MkdirAll(o.dir(), 0o755)
}

// Result lists what a workflow did, by local path.
type Result struct {
	// Pulled are files copied from the device.
	Pulled []string

	// Kept are files already present locally and not pulled again.
	Kept []string

	// Patched are archives that received extracted bytecode.
	Patched []string

	// Missing are remote archives without bytecode and without a vdex.
	Missing []string

	// Inputs are the files left in Dir that are ready to merge.
	Inputs []string
}

// fetch pulls remote into local unless a local copy exists and force is
// off, recording the outcome in res.
func (o *Options) fetch(ctx context.Context, res *Result, remote, local string) error {
	if _, err := os.Stat(local); err == nil && !o.Force {
		o.Logger.Info("already pulled", "path", local)
		res.Kept = append(res.Kept, local)
		return nil
	}
	if err := o.Device.Pull(ctx, remote, local); err != nil {
		return err
	}
	res.Pulled = append(res.Pulled, local)
	return nil
}

// removeMatching deletes the files in dir whose names end with one of
// the suffixes.
func removeMatching(dir string, logger *logging.Logger, suffixes ...string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !hasSuffix(e.Name(), suffixes...) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		logger.Debug("removed intermediate file", "path", p)
	}
	return errors.Join(errs...)
}

func hasSuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// appendBytecode appends dex files to the archive at local under the
// next free classes names.
func appendBytecode(local string, dexes []string, opts *Options) error {
	engine, err := merge.OpenEngine(local, merge.EngineOptions{
		Compress: opts.Compress,
		Logger:   opts.Logger,
	})
	if err != nil {
		return err
	}
	for _, dex := range dexes {
		if err := engine.AddFile(dex); err != nil {
			return errors.Join(err, engine.Close())
		}
	}
	if err := engine.Close(); err != nil {
		return err
	}
	opts.Logger.Info("restored bytecode", "path", local, "entries", len(dexes), "total", engine.Count())
	return nil
}

// holdsBytecode reports whether the archive at local already has
// classes.dex.
func holdsBytecode(local string) (bool, error) {
	a, err := archive.Open(local, archive.ModeRead)
	if err != nil {
		return false, err
	}
	defer a.Close()
	return a.Has(archive.PrimaryBytecode), nil
}

// remoteVdexName maps an archive path on the device to the name of the
// vdex file compiled from it.
func remoteVdexName(remote string) string {
	return strings.TrimSuffix(path.Base(remote), path.Ext(remote)) + extract.SuffixVdex
}

func wrap(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, subject, err)
}
