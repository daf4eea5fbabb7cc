package output

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// YAMLFormatter formats output as YAML.
// It produces the same structure as JSONFormatter.
type YAMLFormatter struct{}

// FormatReport writes the report as a YAML document.
func (f *YAMLFormatter) FormatReport(w *bytes.Buffer, r *types.MergeReport) error {
	return f.encode(w, newReportView(r))
}

// FormatListing writes the listing as a YAML document.
func (f *YAMLFormatter) FormatListing(w *bytes.Buffer, l *types.Listing) error {
	return f.encode(w, newListingView(l))
}

// FormatHistory writes the reports as a YAML sequence.
func (f *YAMLFormatter) FormatHistory(w *bytes.Buffer, reports []types.MergeReport) error {
	return f.encode(w, newHistoryViews(reports))
}

func (f *YAMLFormatter) encode(w *bytes.Buffer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

// Ensure YAMLFormatter implements Formatter.
var _ Formatter = (*YAMLFormatter)(nil)
