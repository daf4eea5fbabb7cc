// Package output renders merge reports, archive listings and merge
// history in several formats (plain, pretty, json, yaml).
//
// The package uses a registry so formatters can be selected by name at
// runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.FormatReport(&buf, report); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// Formatter renders apkmerge results into a buffer.
type Formatter interface {
	// FormatReport writes one merge report.
	FormatReport(w *bytes.Buffer, r *types.MergeReport) error

	// FormatListing writes the bytecode listing of one archive.
	FormatListing(w *bytes.Buffer, l *types.Listing) error

	// FormatHistory writes a summary of past merge reports.
	FormatHistory(w *bytes.Buffer, reports []types.MergeReport) error
}

// FormatterFactory returns a fresh Formatter.
type FormatterFactory func() Formatter

// Registry maps format names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]FormatterFactory{}}
}

// Register binds name to factory. A later registration wins.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

// Get builds the formatter registered as name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the registered names in lexical order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// DefaultRegistry holds the built-in formats; each registers itself in init.
var DefaultRegistry = NewRegistry()

func Register(name string, factory FormatterFactory) { DefaultRegistry.Register(name, factory) }

func Get(name string) (Formatter, error) { return DefaultRegistry.Get(name) }

func Available() []string { return DefaultRegistry.Available() }

// status returns "ok" or "failed" for a report.
func status(r *types.MergeReport) string {
	if r.Succeeded() {
		return "ok"
	}
	return "failed"
}
