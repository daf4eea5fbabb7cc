package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// PrettyFormatter formats output with colors and boxes using lipgloss,
// for terminal display.
type PrettyFormatter struct{}

// FormatReport writes a header box, the appended entries and a summary.
func (f *PrettyFormatter) FormatReport(w *bytes.Buffer, r *types.MergeReport) error {
	var header []string
	header = append(header, field("Output:", ValueStyle.Render(r.Output)))
	if r.Base != "" {
		header = append(header, field("Base:", ValueStyle.Render(r.Base)+
			MutedStyle.Render(fmt.Sprintf(" (%d bytecode entries)", r.BaseEntries))))
	}
	header = append(header, field("Session:", MutedStyle.Render(r.ID)))
	w.WriteString(HeaderBox.Render(strings.Join(header, "\n")))
	w.WriteString("\n")

	if len(r.Entries) == 0 {
		w.WriteString(MutedStyle.Render("  No bytecode appended"))
		w.WriteString("\n")
	} else {
		rows := make([][]string, len(r.Entries))
		for i, e := range r.Entries {
			src := PathStyle.Render(e.Source)
			if e.SourceEntry != "" {
				src += MutedStyle.Render(" > " + e.SourceEntry)
			}
			rows[i] = []string{EntryStyle.Render(e.Name), types.FormatSize(e.Size), src}
		}
		w.WriteString(table([]string{"ENTRY", "SIZE", "SOURCE"}, rows))
	}

	var footer []string
	footer = append(footer, field("Total:", EntryStyle.Render(fmt.Sprintf("%d", r.Total))))
	footer = append(footer, field("Appended:", ValueStyle.Render(types.FormatSize(r.AppendedBytes()))))
	footer = append(footer, field("Took:", ValueStyle.Render(formatDuration(r.Duration))))
	if r.Succeeded() {
		footer = append(footer, SuccessStyle.Render("ok"))
	} else {
		footer = append(footer, ErrorStyle.Render("failed"))
	}
	w.WriteString(FooterBox.Render(strings.Join(footer, "  ")))
	w.WriteString("\n")

	if !r.Succeeded() {
		w.WriteString(ErrorBox.Render(ErrorStyle.Render(r.Error)))
		w.WriteString("\n")
	}
	return nil
}

// FormatListing writes the archive's bytecode entries as a table.
func (f *PrettyFormatter) FormatListing(w *bytes.Buffer, l *types.Listing) error {
	w.WriteString(HeaderBox.Render(field("Archive:", ValueStyle.Render(l.Path))))
	w.WriteString("\n")

	if len(l.Entries) == 0 {
		w.WriteString(MutedStyle.Render("  No bytecode entries"))
		w.WriteString("\n")
	} else {
		rows := make([][]string, len(l.Entries))
		for i, e := range l.Entries {
			rows[i] = []string{e.Name, e.Method, types.FormatSize(e.CompressedSize), types.FormatSize(e.Size)}
		}
		w.WriteString(table([]string{"ENTRY", "METHOD", "COMPRESSED", "SIZE"}, rows))
	}

	footer := strings.Join([]string{
		field("Bytecode:", EntryStyle.Render(fmt.Sprintf("%d", len(l.Entries)))),
		field("Entries:", ValueStyle.Render(fmt.Sprintf("%d", l.TotalEntries))),
		field("Max index:", ValueStyle.Render(fmt.Sprintf("%d", l.MaxIndex))),
	}, "  ")
	w.WriteString(FooterBox.Render(footer))
	w.WriteString("\n")
	return nil
}

// FormatHistory writes past merges as a table, newest first.
func (f *PrettyFormatter) FormatHistory(w *bytes.Buffer, reports []types.MergeReport) error {
	if len(reports) == 0 {
		w.WriteString(MutedStyle.Render("No merges recorded"))
		w.WriteString("\n")
		return nil
	}

	rows := make([][]string, len(reports))
	for i := range reports {
		r := &reports[i]
		state := SuccessStyle.Render("ok")
		if !r.Succeeded() {
			state = ErrorStyle.Render("failed")
		}
		rows[i] = []string{
			shortID(r.ID),
			humanize.Time(r.Started),
			state,
			fmt.Sprintf("%d", r.Total),
			r.Output,
		}
	}
	w.WriteString(TitleStyle.Render("Merge history"))
	w.WriteString("\n")
	w.WriteString(table([]string{"ID", "WHEN", "STATUS", "TOTAL", "OUTPUT"}, rows))
	return nil
}

func field(label, value string) string {
	return LabelStyle.Render(label) + " " + value
}

// table renders rows under a header with columns padded to their widest
// cell. Widths are measured on rendered text so styled cells line up.
func table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := lipgloss.Width(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(" ")
	for i, h := range header {
		sb.WriteString(" ")
		sb.WriteString(TableHeaderStyle.Render(padRight(h, widths[i])))
	}
	sb.WriteString("\n")
	for _, row := range rows {
		sb.WriteString(" ")
		for i, cell := range row {
			sb.WriteString(" ")
			sb.WriteString(cell)
			if i < len(row)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
