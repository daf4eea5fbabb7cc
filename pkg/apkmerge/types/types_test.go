package types

import (
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain bytes", input: "1024", want: 1024},
		{name: "zero bytes", input: "0", want: 0},
		{name: "bytes with B suffix", input: "512B", want: 512},
		{name: "kilobytes", input: "100K", want: 100 * 1024},
		{name: "kilobytes with iB", input: "100KiB", want: 100 * 1024},
		{name: "megabytes with B", input: "10MB", want: 10 * 1024 * 1024},
		{name: "gigabytes lowercase", input: "2g", want: 2 * 1024 * 1024 * 1024},
		{name: "surrounding whitespace", input: "  100M  ", want: 100 * 1024 * 1024},
		{name: "decimal values truncated", input: "1.5G", want: 1610612736},

		{name: "empty string", input: "", wantErr: true},
		{name: "invalid suffix", input: "100X", wantErr: true},
		{name: "negative value", input: "-100M", wantErr: true},
		{name: "suffix only", input: "M", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1024, "1.0 KiB"},
		{1536 * 1024, "1.5 MiB"},
		{-5, "0 B"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestMergeReport(t *testing.T) {
	r := &MergeReport{
		Entries: []MergedEntry{
			{Name: "classes.dex", Size: 100},
			{Name: "classes2.dex", Size: 50},
		},
	}

	if !r.Succeeded() {
		t.Error("Succeeded() = false for report without error")
	}
	if got := r.AppendedBytes(); got != 150 {
		t.Errorf("AppendedBytes() = %d, want 150", got)
	}

	r.Error = "boom"
	if r.Succeeded() {
		t.Error("Succeeded() = true for report with error")
	}
}
