// Package extract recovers dex bytecode from the vdex files Android
// keeps next to optimized system archives, using the external
// vdexExtractor and cdexExtractor tools.
//
// The extracted files are opaque to apkmerge: they are only handed to
// the merge engine by path.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/command"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
)

// File suffixes produced and consumed during extraction.
const (
	SuffixVdex    = ".vdex"
	SuffixCdex    = ".cdex"
	SuffixCdexNew = ".cdex.new"
)

// ErrNoBytecode indicates a vdex file that yielded no dex or cdex output.
var ErrNoBytecode = errors.New("no bytecode extracted")

// Extractor turns one vdex file into dex files.
type Extractor interface {
	// Extract returns the dex files recovered from vdexPath in index
	// order: the first becomes classes.dex, the next classes2.dex.
	Extract(ctx context.Context, vdexPath string) ([]string, error)
}

// Tools implements Extractor with vdexExtractor and cdexExtractor.
type Tools struct {
	// VdexExtractor and CdexExtractor are the tool binaries.
	VdexExtractor string
	CdexExtractor string

	Runner command.Runner
	Logger *logging.Logger
}

// Extract implements Extractor.
//
// vdexExtractor writes <base>_classes.dex, <base>_classes2.dex, ... next
// to the input. Newer vdex files hold compact dex instead, written as
// <base>_classes.cdex, ...; each of those is converted by cdexExtractor
// into a .cdex.new file, which is a regular dex.
func (t *Tools) Extract(ctx context.Context, vdexPath string) ([]string, error) {
	// The tools run inside the vdex directory, so they get base names.
	dir := filepath.Dir(vdexPath)
	_, runErr := t.Runner.Run(ctx, dir, t.VdexExtractor, "--ignore-crc-error", "-i", filepath.Base(vdexPath))
	if runErr != nil {
		// The tool exits non-zero on some recoverable CRC and section
		// problems; judge by what it wrote.
		t.Logger.Warn("vdex extractor reported an error", "vdex", vdexPath, "error", runErr)
	}

	base := strings.TrimSuffix(vdexPath, SuffixVdex)
	if dexes := Sequence(base, ".dex"); len(dexes) > 0 {
		t.Logger.Debug("extracted dex", "vdex", vdexPath, "count", len(dexes))
		return dexes, nil
	}

	cdexes := Sequence(base, SuffixCdex)
	if len(cdexes) == 0 {
		if runErr != nil {
			return nil, fmt.Errorf("%s: %w: %w", vdexPath, ErrNoBytecode, runErr)
		}
		return nil, fmt.Errorf("%s: %w", vdexPath, ErrNoBytecode)
	}

	t.Logger.Debug("extracted compact dex", "vdex", vdexPath, "count", len(cdexes))
	converted := make([]string, 0, len(cdexes))
	for _, cdex := range cdexes {
		if _, err := t.Runner.Run(ctx, dir, t.CdexExtractor, filepath.Base(cdex)); err != nil {
			return converted, fmt.Errorf("convert %s: %w", cdex, err)
		}
		out := cdex + ".new"
		if !exists(out) {
			return converted, fmt.Errorf("convert %s: %s missing: %w", cdex, filepath.Base(out), ErrNoBytecode)
		}
		converted = append(converted, out)
	}
	return converted, nil
}

// Sequence returns the existing files <base>_classes<ext>,
// <base>_classes2<ext>, ... stopping at the first missing index.
func Sequence(base, ext string) []string {
	first := base + "_classes" + ext
	if !exists(first) {
		return nil
	}
	files := []string{first}
	for k := 2; ; k++ {
		next := fmt.Sprintf("%s_classes%d%s", base, k, ext)
		if !exists(next) {
			return files
		}
		files = append(files, next)
	}
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Ensure Tools implements Extractor.
var _ Extractor = (*Tools)(nil)
