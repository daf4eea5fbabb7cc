// Package merge combines the bytecode of APKs, ZIPs and standalone .dex
// files into one APK.
//
// A merge session runs in three steps. SelectBase creates the output and,
// when the first input is an APK holding classes.dex, seeds it with a copy
// of that APK. A source.Expander then turns the remaining inputs into a
// stream of bytecode sources. Finally an Engine appends every bytecode
// payload under the next free name (classes.dex, classes2.dex, ...).
//
// A failed session leaves whatever was appended on disk unless
// Options.Atomic is set.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/source"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

var (
	// ErrOutputExists is returned when the output path exists and
	// overwriting was not requested.
	ErrOutputExists = errors.New("output already exists")

	// ErrInvalidInput is returned when the inputs cannot form a merge.
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultOutputPattern names outputs when none is given; %s is HHMMSS.
const DefaultOutputPattern = "merged_%s.apk"

// DefaultOutput returns the output name for a session started at now.
func DefaultOutput(pattern string, now time.Time) string {
	if pattern == "" {
		pattern = DefaultOutputPattern
	}
	return fmt.Sprintf(pattern, now.Format("150405"))
}

// Options configures a merge session.
type Options struct {
	// Output is the archive to produce.
	Output string

	// Inputs are .dex files, archives and directories, in merge order.
	Inputs []string

	// Overwrite replaces an existing output instead of failing.
	Overwrite bool

	// Compress deflates bare .dex files instead of storing them.
	Compress bool

	// Atomic builds the output under a temporary name and renames it into
	// place only when the whole session succeeds.
	Atomic bool

	Logger *logging.Logger
}

// ValidateInputs checks the input list before any file is touched.
// A single input is only meaningful when it is a directory.
func ValidateInputs(inputs []string) error {
	switch len(inputs) {
	case 0:
		return fmt.Errorf("%w: no inputs", ErrInvalidInput)
	case 1:
		info, err := os.Stat(inputs[0])
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: need at least two inputs or one directory, got %s", ErrInvalidInput, inputs[0])
		}
	}
	return nil
}

// Run performs one merge session. The returned report is never nil and
// describes what was written even when an error is returned.
func Run(ctx context.Context, opts Options) (*types.MergeReport, error) {
	started := time.Now()
	report := &types.MergeReport{
		ID:      uuid.NewString(),
		Output:  opts.Output,
		Inputs:  append([]string(nil), opts.Inputs...),
		Started: started,
	}

	err := run(ctx, opts, report)

	report.Duration = time.Since(started)
	if err != nil {
		report.Error = err.Error()
		opts.Logger.Error("merge failed", "id", report.ID, "output", opts.Output, "error", err)
		return report, err
	}

	opts.Logger.Info("merge finished",
		"id", report.ID, "output", opts.Output, "total", report.Total, "duration", report.Duration)
	return report, nil
}

func run(ctx context.Context, opts Options, report *types.MergeReport) (err error) {
	logger := opts.Logger

	if opts.Output == "" {
		return fmt.Errorf("%w: no output path", ErrInvalidInput)
	}
	if err := ValidateInputs(opts.Inputs); err != nil {
		return err
	}
	if err := checkOutputNotInput(opts.Output, opts.Inputs); err != nil {
		return err
	}

	target := opts.Output
	overwrite := opts.Overwrite
	if opts.Atomic {
		if _, err := os.Lstat(opts.Output); err == nil && !opts.Overwrite {
			return fmt.Errorf("%s: %w", opts.Output, ErrOutputExists)
		}
		target = filepath.Join(filepath.Dir(opts.Output),
			"."+filepath.Base(opts.Output)+"."+report.ID+".partial")
		overwrite = true
		defer func() {
			if err != nil {
				_ = os.Remove(target)
			}
		}()
	}

	logger.Info("merge started", "id", report.ID, "output", opts.Output, "inputs", len(opts.Inputs))

	remaining, base, err := SelectBase(target, opts.Inputs, overwrite, logger)
	if err != nil {
		return err
	}
	report.Base = base

	engine, err := OpenEngine(target, EngineOptions{Compress: opts.Compress, Logger: logger})
	if err != nil {
		return err
	}
	report.BaseEntries = engine.Count()

	expander := source.New(remaining, source.Options{
		Skip:   []string{opts.Output, target},
		Logger: logger,
	})
	consumeErr := engine.Consume(ctx, expander.All(ctx))
	closeErr := engine.Close()

	report.Entries = engine.Entries()
	report.Total = engine.Count()

	if err := errors.Join(consumeErr, closeErr); err != nil {
		return err
	}

	if opts.Atomic {
		if err := os.Rename(target, opts.Output); err != nil {
			return fmt.Errorf("move %s into place: %w", opts.Output, err)
		}
	}
	return nil
}

// checkOutputNotInput refuses sessions that would overwrite one of their
// own input files.
func checkOutputNotInput(output string, inputs []string) error {
	out, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("resolve output %s: %w", output, err)
	}
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			continue
		}
		if abs == out {
			return fmt.Errorf("%w: output %s is also an input", ErrInvalidInput, output)
		}
	}
	return nil
}
