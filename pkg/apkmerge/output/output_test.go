package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

func sampleReport() *types.MergeReport {
	return &types.MergeReport{
		ID:          "0f8fad5b-d9cb-469f-a165-70867728950e",
		Output:      "/tmp/merged.apk",
		Inputs:      []string{"/tmp/base.apk", "/tmp/extra"},
		Base:        "/tmp/base.apk",
		BaseEntries: 1,
		Entries: []types.MergedEntry{
			{Name: "classes2.dex", Source: "/tmp/extra/a.dex", Size: 2048},
			{Name: "classes3.dex", Source: "/tmp/extra/lib.zip", SourceEntry: "classes.dex", Size: 1024},
		},
		Total:    3,
		Started:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration: 1500 * time.Millisecond,
	}
}

func failedReport() *types.MergeReport {
	r := sampleReport()
	r.Entries = r.Entries[:1]
	r.Total = 2
	r.Error = "lib.zip: corrupt archive"
	return r
}

func sampleListing() *types.Listing {
	return &types.Listing{
		Path: "/tmp/merged.apk",
		Entries: []types.ListedEntry{
			{Name: "classes.dex", Method: "store", CompressedSize: 100, Size: 100},
			{Name: "classes2.dex", Method: "deflate", CompressedSize: 40, Size: 100},
		},
		TotalEntries: 5,
		MaxIndex:     2,
	}
}

func TestRegistry_Available(t *testing.T) {
	assert.Equal(t, []string{"json", "plain", "pretty", "yaml"}, Available())
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := Get("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown formatter")
}

func TestRegistry_GetCallsFactoryEachTime(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("plain", func() Formatter {
		calls++
		return &PlainFormatter{}
	})

	for range 2 {
		f, err := r.Get("plain")
		require.NoError(t, err)
		assert.IsType(t, &PlainFormatter{}, f)
	}
	assert.Equal(t, 2, calls)

	r.Register("plain", func() Formatter { return &JSONFormatter{} })
	f, err := r.Get("plain")
	require.NoError(t, err)
	assert.IsType(t, &JSONFormatter{}, f, "later registration wins")
	assert.Equal(t, 2, calls)
}

func TestPlainFormatter_Report(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).FormatReport(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "ENTRY")
	assert.Contains(t, out, "classes2.dex")
	assert.Contains(t, out, "/tmp/extra/lib.zip!classes.dex")
	assert.Contains(t, out, "base: /tmp/base.apk (1 bytecode entries)")
	assert.Contains(t, out, "total: 3 bytecode entries in /tmp/merged.apk")
	assert.NotContains(t, out, "error:")
}

func TestPlainFormatter_FailedReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).FormatReport(&buf, failedReport()))
	assert.Contains(t, buf.String(), "error: lib.zip: corrupt archive")
	assert.Contains(t, buf.String(), "total: 2 bytecode entries")
}

func TestPlainFormatter_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	r := &types.MergeReport{Output: "out.apk"}
	require.NoError(t, (&PlainFormatter{}).FormatReport(&buf, r))
	assert.Equal(t, "total: 0 bytecode entries in out.apk\n", buf.String())
}

func TestPlainFormatter_Listing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).FormatListing(&buf, sampleListing()))

	out := buf.String()
	assert.Contains(t, out, "deflate")
	assert.Contains(t, out, "/tmp/merged.apk: 2 bytecode entries of 5, max index 2")
}

func TestPlainFormatter_History(t *testing.T) {
	var buf bytes.Buffer
	reports := []types.MergeReport{*sampleReport(), *failedReport()}
	require.NoError(t, (&PlainFormatter{}).FormatHistory(&buf, reports))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "0f8fad5b")
	assert.NotContains(t, lines[1], "d9cb")
	assert.Contains(t, lines[1], "ok")
	assert.Contains(t, lines[2], "failed")
}

func TestPlainFormatter_EmptyHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).FormatHistory(&buf, nil))
	assert.Equal(t, "no merges recorded\n", buf.String())
}

func TestJSONFormatter_Report(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatReport(&buf, sampleReport()))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "ok", parsed["status"])
	assert.Equal(t, float64(3), parsed["total"])
	assert.Equal(t, float64(3072), parsed["appended_bytes"])
	assert.Equal(t, "1.5s", parsed["duration"])
	assert.NotContains(t, parsed, "error")

	entries := parsed["entries"].([]any)
	require.Len(t, entries, 2)
	second := entries[1].(map[string]any)
	assert.Equal(t, "classes3.dex", second["name"])
	assert.Equal(t, "classes.dex", second["source_entry"])
}

func TestJSONFormatter_FailedReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatReport(&buf, failedReport()))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "failed", parsed["status"])
	assert.Equal(t, "lib.zip: corrupt archive", parsed["error"])
}

func TestJSONFormatter_EmptyReportHasArrays(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatReport(&buf, &types.MergeReport{}))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, []any{}, parsed["entries"])
	assert.Equal(t, []any{}, parsed["inputs"])
}

func TestJSONFormatter_Listing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatListing(&buf, sampleListing()))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, float64(2), parsed["bytecode"])
	assert.Equal(t, float64(5), parsed["total_entries"])
	assert.Equal(t, float64(2), parsed["max_index"])
}

func TestJSONFormatter_History(t *testing.T) {
	var buf bytes.Buffer
	reports := []types.MergeReport{*sampleReport(), *failedReport()}
	require.NoError(t, (&JSONFormatter{}).FormatHistory(&buf, reports))

	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	require.Len(t, parsed, 2)
	assert.Equal(t, float64(2), parsed[0]["inputs"])
	assert.Equal(t, "failed", parsed[1]["status"])
}

func TestJSONFormatter_EmptyHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatHistory(&buf, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestYAMLFormatter_MatchesJSONStructure(t *testing.T) {
	var jbuf, ybuf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatListing(&jbuf, sampleListing()))
	require.NoError(t, (&YAMLFormatter{}).FormatListing(&ybuf, sampleListing()))

	var fromJSON, fromYAML map[string]any
	require.NoError(t, json.Unmarshal(jbuf.Bytes(), &fromJSON))
	require.NoError(t, yaml.Unmarshal(ybuf.Bytes(), &fromYAML))

	for key := range fromJSON {
		assert.Contains(t, fromYAML, key)
	}
	assert.Equal(t, "/tmp/merged.apk", fromYAML["path"])
	assert.Equal(t, 2, fromYAML["max_index"])
}

func TestYAMLFormatter_Report(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).FormatReport(&buf, failedReport()))

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "failed", parsed["status"])
	assert.Equal(t, 2, parsed["total"])
}

func TestPrettyFormatter_Report(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).FormatReport(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "/tmp/merged.apk")
	assert.Contains(t, out, "classes3.dex")
	assert.Contains(t, out, "classes.dex")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "ok")
	assert.NotContains(t, out, "corrupt")
}

func TestPrettyFormatter_FailedReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).FormatReport(&buf, failedReport()))
	assert.Contains(t, buf.String(), "failed")
	assert.Contains(t, buf.String(), "lib.zip: corrupt archive")
}

func TestPrettyFormatter_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).FormatReport(&buf, &types.MergeReport{Output: "out.apk"}))
	assert.Contains(t, buf.String(), "No bytecode appended")
}

func TestPrettyFormatter_Listing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).FormatListing(&buf, sampleListing()))
	assert.Contains(t, buf.String(), "classes2.dex")
	assert.Contains(t, buf.String(), "deflate")
}

func TestPrettyFormatter_History(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).FormatHistory(&buf, []types.MergeReport{*sampleReport()}))
	assert.Contains(t, buf.String(), "Merge history")
	assert.Contains(t, buf.String(), "0f8fad5b")

	buf.Reset()
	require.NoError(t, (&PrettyFormatter{}).FormatHistory(&buf, nil))
	assert.Contains(t, buf.String(), "No merges recorded")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}
