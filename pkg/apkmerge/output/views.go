package output

import (
	"time"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// The view types below are what the json and yaml formatters encode.
// Durations are rendered as strings and sizes get a human form.

type reportView struct {
	ID            string      `json:"id" yaml:"id"`
	Status        string      `json:"status" yaml:"status"`
	Output        string      `json:"output" yaml:"output"`
	Inputs        []string    `json:"inputs" yaml:"inputs"`
	Base          string      `json:"base,omitempty" yaml:"base,omitempty"`
	BaseEntries   int         `json:"base_entries" yaml:"base_entries"`
	Entries       []entryView `json:"entries" yaml:"entries"`
	Total         int         `json:"total" yaml:"total"`
	AppendedBytes int64       `json:"appended_bytes" yaml:"appended_bytes"`
	AppendedHuman string      `json:"appended_human" yaml:"appended_human"`
	Started       time.Time   `json:"started" yaml:"started"`
	Duration      string      `json:"duration" yaml:"duration"`
	Error         string      `json:"error,omitempty" yaml:"error,omitempty"`
}

type entryView struct {
	Name        string `json:"name" yaml:"name"`
	Source      string `json:"source" yaml:"source"`
	SourceEntry string `json:"source_entry,omitempty" yaml:"source_entry,omitempty"`
	Size        int64  `json:"size" yaml:"size"`
	SizeHuman   string `json:"size_human" yaml:"size_human"`
}

type listingView struct {
	Path         string       `json:"path" yaml:"path"`
	Bytecode     int          `json:"bytecode" yaml:"bytecode"`
	TotalEntries int          `json:"total_entries" yaml:"total_entries"`
	MaxIndex     int          `json:"max_index" yaml:"max_index"`
	Entries      []listedView `json:"entries" yaml:"entries"`
}

type listedView struct {
	Name           string `json:"name" yaml:"name"`
	Method         string `json:"method" yaml:"method"`
	CompressedSize int64  `json:"compressed_size" yaml:"compressed_size"`
	Size           int64  `json:"size" yaml:"size"`
	SizeHuman      string `json:"size_human" yaml:"size_human"`
}

type historyView struct {
	ID       string    `json:"id" yaml:"id"`
	Status   string    `json:"status" yaml:"status"`
	Started  time.Time `json:"started" yaml:"started"`
	Output   string    `json:"output" yaml:"output"`
	Inputs   int       `json:"inputs" yaml:"inputs"`
	Total    int       `json:"total" yaml:"total"`
	Duration string    `json:"duration" yaml:"duration"`
	Error    string    `json:"error,omitempty" yaml:"error,omitempty"`
}

func newReportView(r *types.MergeReport) reportView {
	entries := make([]entryView, len(r.Entries))
	for i, e := range r.Entries {
		entries[i] = entryView{
			Name:        e.Name,
			Source:      e.Source,
			SourceEntry: e.SourceEntry,
			Size:        e.Size,
			SizeHuman:   types.FormatSize(e.Size),
		}
	}

	inputs := r.Inputs
	if inputs == nil {
		inputs = []string{}
	}

	return reportView{
		ID:            r.ID,
		Status:        status(r),
		Output:        r.Output,
		Inputs:        inputs,
		Base:          r.Base,
		BaseEntries:   r.BaseEntries,
		Entries:       entries,
		Total:         r.Total,
		AppendedBytes: r.AppendedBytes(),
		AppendedHuman: types.FormatSize(r.AppendedBytes()),
		Started:       r.Started,
		Duration:      r.Duration.String(),
		Error:         r.Error,
	}
}

func newListingView(l *types.Listing) listingView {
	entries := make([]listedView, len(l.Entries))
	for i, e := range l.Entries {
		entries[i] = listedView{
			Name:           e.Name,
			Method:         e.Method,
			CompressedSize: e.CompressedSize,
			Size:           e.Size,
			SizeHuman:      types.FormatSize(e.Size),
		}
	}
	return listingView{
		Path:         l.Path,
		Bytecode:     len(l.Entries),
		TotalEntries: l.TotalEntries,
		MaxIndex:     l.MaxIndex,
		Entries:      entries,
	}
}

func newHistoryViews(reports []types.MergeReport) []historyView {
	views := make([]historyView, len(reports))
	for i := range reports {
		r := &reports[i]
		views[i] = historyView{
			ID:       r.ID,
			Status:   status(r),
			Started:  r.Started,
			Output:   r.Output,
			Inputs:   len(r.Inputs),
			Total:    r.Total,
			Duration: r.Duration.String(),
			Error:    r.Error,
		}
	}
	return views
}
