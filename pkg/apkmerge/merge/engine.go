package merge

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strconv"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/archive"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/source"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// EntryName returns the output name of the k-th bytecode entry, counting
// from 1: classes.dex, classes2.dex, classes3.dex, ...
func EntryName(k int) string {
	if k <= 1 {
		return archive.PrimaryBytecode
	}
	return "classes" + strconv.Itoa(k) + ".dex"
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Compress deflates bare .dex files instead of storing them.
	Compress bool

	Logger *logging.Logger
}

// Engine appends bytecode to an output archive under sequential names.
// Numbering continues from the bytecode entries the output already holds.
type Engine struct {
	out     *archive.Archive
	next    int
	entries []types.MergedEntry
	logger  *logging.Logger
}

// OpenEngine opens the archive at path for appending.
func OpenEngine(path string, opts EngineOptions) (*Engine, error) {
	out, err := archive.Open(path, archive.ModeAppend)
	if err != nil {
		return nil, err
	}
	out.Compress = opts.Compress

	existing, err := out.Bytecode()
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	opts.Logger.Debug("opened output", "path", path, "bytecode", len(existing))

	return &Engine{
		out:    out,
		next:   len(existing),
		logger: opts.Logger,
	}, nil
}

// Count returns the number of bytecode entries in the output so far.
func (e *Engine) Count() int {
	return e.next
}

// Entries returns the entries appended by this engine, in write order.
func (e *Engine) Entries() []types.MergedEntry {
	return append([]types.MergedEntry(nil), e.entries...)
}

// AddFile appends a standalone bytecode file.
func (e *Engine) AddFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("source %s: %w", path, err)
	}

	name := EntryName(e.next + 1)
	if err := e.out.WriteFile(path, name); err != nil {
		return err
	}
	e.record(types.MergedEntry{Name: name, Source: path, Size: info.Size()})
	return nil
}

// AddArchive appends every bytecode entry of src in physical order.
func (e *Engine) AddArchive(src *archive.Archive) error {
	names, err := src.Bytecode()
	if err != nil {
		return fmt.Errorf("list %s: %w", src.Path(), err)
	}
	if len(names) == 0 {
		e.logger.Debug("archive holds no bytecode", "path", src.Path())
		return nil
	}

	for _, srcName := range names {
		entry, err := src.Entry(srcName)
		if err != nil {
			return err
		}

		name := EntryName(e.next + 1)
		if err := e.out.CopyFrom(src, srcName, name); err != nil {
			return err
		}
		e.record(types.MergedEntry{
			Name:        name,
			Source:      src.Path(),
			SourceEntry: srcName,
			Size:        entry.Size,
		})
	}
	return nil
}

// Add appends one source item.
func (e *Engine) Add(item source.Item) error {
	switch item.Kind {
	case source.KindFile:
		return e.AddFile(item.Path)
	case source.KindArchive:
		return e.AddArchive(item.Archive)
	default:
		return fmt.Errorf("source %s: unknown kind %d", item.Path, item.Kind)
	}
}

// Consume appends every item of seq, stopping at the first error. Items
// appended before the error stay in the output.
func (e *Engine) Consume(ctx context.Context, seq iter.Seq2[source.Item, error]) error {
	for item, err := range seq {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		before := e.next
		if err := e.Add(item); err != nil {
			return err
		}
		e.logger.Info("merged source",
			"source", item.Path, "kind", item.Kind, "entries", e.next-before, "total", e.next)
	}
	return nil
}

// Close flushes the output archive.
func (e *Engine) Close() error {
	return e.out.Close()
}

func (e *Engine) record(entry types.MergedEntry) {
	e.next++
	e.entries = append(e.entries, entry)
	e.logger.Debug("appended entry", "name", entry.Name, "source", entry.Source, "source_entry", entry.SourceEntry)
}
