// Package types provides the data types shared by the apkmerge packages:
// merge reports, archive listings, and helpers for parsing and formatting
// byte sizes.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// MergedEntry describes one bytecode entry written to the output archive.
type MergedEntry struct {
	// Name is the entry name in the output (classes.dex, classes2.dex, ...).
	Name string `json:"name" yaml:"name"`

	// Source is the file or archive the payload came from.
	Source string `json:"source" yaml:"source"`

	// SourceEntry is the entry name inside Source, empty for bare files.
	SourceEntry string `json:"source_entry,omitempty" yaml:"source_entry,omitempty"`

	// Size is the uncompressed payload size in bytes.
	Size int64 `json:"size" yaml:"size"`
}

// MergeReport is the outcome of one merge session.
// A failed session still produces a report holding whatever was appended
// before the failure.
type MergeReport struct {
	// ID uniquely identifies the session.
	ID string `json:"id" yaml:"id"`

	// Output is the path of the merged archive.
	Output string `json:"output" yaml:"output"`

	// Inputs are the paths given on the command line, in order.
	Inputs []string `json:"inputs" yaml:"inputs"`

	// Base is the input copied verbatim as the starting point, if any.
	Base string `json:"base,omitempty" yaml:"base,omitempty"`

	// BaseEntries is the number of bytecode entries the output held before
	// any source was appended.
	BaseEntries int `json:"base_entries" yaml:"base_entries"`

	// Entries lists the appended bytecode entries in write order.
	Entries []MergedEntry `json:"entries" yaml:"entries"`

	// Total is the final bytecode entry count of the output.
	Total int `json:"total" yaml:"total"`

	// Started is when the session began.
	Started time.Time `json:"started" yaml:"started"`

	// Duration is how long the session took.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Succeeded reports whether the session completed without error.
func (r *MergeReport) Succeeded() bool {
	return r.Error == ""
}

// AppendedBytes returns the sum of all appended payload sizes.
func (r *MergeReport) AppendedBytes() int64 {
	var total int64
	for _, e := range r.Entries {
		total += e.Size
	}
	return total
}

// ListedEntry is one entry of an inspected archive.
type ListedEntry struct {
	Name           string `json:"name" yaml:"name"`
	Method         string `json:"method" yaml:"method"`
	CompressedSize int64  `json:"compressed_size" yaml:"compressed_size"`
	Size           int64  `json:"size" yaml:"size"`
}

// Listing is the bytecode content of one archive.
type Listing struct {
	// Path is the inspected archive.
	Path string `json:"path" yaml:"path"`

	// Entries are the bytecode entries in physical order.
	Entries []ListedEntry `json:"entries" yaml:"entries"`

	// TotalEntries is the number of entries of any kind in the archive.
	TotalEntries int `json:"total_entries" yaml:"total_entries"`

	// MaxIndex is the upper bound of the archive's dex index range.
	MaxIndex int `json:"max_index" yaml:"max_index"`
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size string ("512", "100K", "10MB",
// "2GiB") and returns the size in bytes. Decimal values are truncated.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable IEC string.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
