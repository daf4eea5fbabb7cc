package output

import (
	"bytes"
	"encoding/json"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// JSONFormatter formats output as indented JSON documents.
type JSONFormatter struct{}

// FormatReport writes the report as one JSON object.
func (f *JSONFormatter) FormatReport(w *bytes.Buffer, r *types.MergeReport) error {
	return f.encode(w, newReportView(r))
}

// FormatListing writes the listing as one JSON object.
func (f *JSONFormatter) FormatListing(w *bytes.Buffer, l *types.Listing) error {
	return f.encode(w, newListingView(l))
}

// FormatHistory writes the reports as a JSON array.
func (f *JSONFormatter) FormatHistory(w *bytes.Buffer, reports []types.MergeReport) error {
	return f.encode(w, newHistoryViews(reports))
}

func (f *JSONFormatter) encode(w *bytes.Buffer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)
