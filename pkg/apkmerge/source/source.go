// Package source expands merge inputs into an ordered stream of bytecode
// sources. A directory contributes every .dex file beneath it, then every
// .zip, then every .apk; a .dex file contributes itself; anything else is
// opened as an archive.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/archive"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
)

// Recognized file extensions.
const (
	ExtDex = ".dex"
	ExtApk = ".apk"
	ExtZip = ".zip"
)

// Kind tells bare bytecode files and archives apart.
type Kind int

const (
	// KindFile is a standalone bytecode file.
	KindFile Kind = iota
	// KindArchive is a ZIP container scanned for bytecode entries.
	KindArchive
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindArchive {
		return "archive"
	}
	return "file"
}

// Item is one source of bytecode.
type Item struct {
	Kind Kind
	Path string

	// Archive is the read-only handle of a KindArchive item. It is closed
	// as soon as the consumer's loop body returns.
	Archive *archive.Archive
}

// Options configures an Expander.
type Options struct {
	// Skip lists paths that are never yielded, typically the merge output
	// when it lives inside an input directory.
	Skip []string

	Logger *logging.Logger
}

// Expander turns a list of input paths into source items.
type Expander struct {
	inputs []string
	skip   map[string]struct{}
	logger *logging.Logger
}

// New returns an Expander over inputs.
func New(inputs []string, opts Options) *Expander {
	skip := make(map[string]struct{}, len(opts.Skip))
	for _, p := range opts.Skip {
		skip[absPath(p)] = struct{}{}
	}
	return &Expander{
		inputs: append([]string(nil), inputs...),
		skip:   skip,
		logger: opts.Logger,
	}
}

// All returns the items for every input in order. Directories are walked
// when reached, and each archive is opened only for the duration of its
// iteration step. The first error is yielded with a zero Item and ends
// the sequence. Every call starts over from the first input.
func (e *Expander) All(ctx context.Context) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		for _, input := range e.inputs {
			if err := ctx.Err(); err != nil {
				yield(Item{}, err)
				return
			}

			info, err := os.Stat(input)
			if err == nil && info.IsDir() {
				if !e.expandDir(ctx, input, yield) {
					return
				}
				continue
			}

			if !e.emit(input, yield) {
				return
			}
		}
	}
}

// Paths returns the files the inputs expand to, in yield order, without
// opening any archive.
func (e *Expander) Paths(ctx context.Context) ([]string, error) {
	var paths []string
	for _, input := range e.inputs {
		info, err := os.Stat(input)
		if err == nil && info.IsDir() {
			found, err := e.discover(ctx, input)
			if err != nil {
				return nil, err
			}
			paths = append(paths, found...)
			continue
		}
		paths = append(paths, input)
	}
	return paths, nil
}

func (e *Expander) expandDir(ctx context.Context, dir string, yield func(Item, error) bool) bool {
	found, err := e.discover(ctx, dir)
	if err != nil {
		yield(Item{}, err)
		return false
	}
	if len(found) == 0 {
		e.logger.Debug("directory holds no sources", "dir", dir)
	}
	for _, path := range found {
		if err := ctx.Err(); err != nil {
			yield(Item{}, err)
			return false
		}
		if !e.emit(path, yield) {
			return false
		}
	}
	return true
}

// emit yields one path as a bare file or an open archive.
func (e *Expander) emit(path string, yield func(Item, error) bool) bool {
	if strings.HasSuffix(path, ExtDex) {
		return yield(Item{Kind: KindFile, Path: path}, nil)
	}

	a, err := archive.Open(path, archive.ModeRead)
	if err != nil {
		yield(Item{}, err)
		return false
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			e.logger.Warn("closing source archive", "path", path, "error", cerr)
		}
	}()

	return yield(Item{Kind: KindArchive, Path: path, Archive: a}, nil)
}

// discover walks dir and returns its .dex files, then .zip files, then
// .apk files, each group in lexical order. Hidden names are skipped.
func (e *Expander) discover(ctx context.Context, dir string) ([]string, error) {
	var (
		mu              sync.Mutex
		dex, zips, apks []string
	)

	root := filepath.Clean(dir)
	conf := fastwalk.Config{Follow: false}

	walkErr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		if err != nil {
			e.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}

		if filepath.Clean(path) != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		if d.IsDir() || !isFile(path, d) {
			return nil
		}

		if _, skipped := e.skip[absPath(path)]; skipped {
			e.logger.Debug("skipping output inside input directory", "path", path)
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		switch filepath.Ext(path) {
		case ExtDex:
			dex = append(dex, path)
		case ExtZip:
			zips = append(zips, path)
		case ExtApk:
			apks = append(apks, path)
		}
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		return nil, fmt.Errorf("walking %s: %w", dir, walkErr)
	}

	sort.Strings(dex)
	sort.Strings(zips)
	sort.Strings(apks)

	e.logger.Debug("expanded directory",
		"dir", dir, "dex", len(dex), "zip", len(zips), "apk", len(apks))

	found := make([]string, 0, len(dex)+len(zips)+len(apks))
	found = append(found, dex...)
	found = append(found, zips...)
	return append(found, apks...), nil
}

// isFile accepts regular files and symlinks that resolve to one.
func isFile(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
