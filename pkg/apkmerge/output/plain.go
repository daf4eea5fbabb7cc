package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// PlainFormatter formats output as tab-aligned text without styling,
// suitable for scripting and piping.
type PlainFormatter struct{}

// FormatReport writes one row per appended entry followed by a summary.
func (f *PlainFormatter) FormatReport(w *bytes.Buffer, r *types.MergeReport) error {
	if len(r.Entries) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ENTRY\tSIZE\tSOURCE")
		for _, e := range r.Entries {
			src := e.Source
			if e.SourceEntry != "" {
				src += "!" + e.SourceEntry
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, types.FormatSize(e.Size), src)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if r.Base != "" {
		fmt.Fprintf(w, "base: %s (%d bytecode entries)\n", r.Base, r.BaseEntries)
	}
	if !r.Succeeded() {
		fmt.Fprintf(w, "error: %s\n", r.Error)
	}
	fmt.Fprintf(w, "total: %d bytecode entries in %s\n", r.Total, r.Output)
	return nil
}

// FormatListing writes one row per bytecode entry followed by a summary.
func (f *PlainFormatter) FormatListing(w *bytes.Buffer, l *types.Listing) error {
	if len(l.Entries) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ENTRY\tMETHOD\tCOMPRESSED\tSIZE")
		for _, e := range l.Entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				e.Name, e.Method, types.FormatSize(e.CompressedSize), types.FormatSize(e.Size))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "%s: %d bytecode entries of %d, max index %d\n",
		l.Path, len(l.Entries), l.TotalEntries, l.MaxIndex)
	return nil
}

// FormatHistory writes one row per report.
func (f *PlainFormatter) FormatHistory(w *bytes.Buffer, reports []types.MergeReport) error {
	if len(reports) == 0 {
		w.WriteString("no merges recorded\n")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tTOTAL\tOUTPUT")
	for i := range reports {
		r := &reports[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			shortID(r.ID), r.Started.Local().Format(time.DateTime), status(r), r.Total, r.Output)
	}
	return tw.Flush()
}

// shortID trims a UUID to its first group, which is enough to address it.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
