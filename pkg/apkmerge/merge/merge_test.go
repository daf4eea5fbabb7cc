package merge_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/archive"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/merge"
)

type zipEntry struct {
	name    string
	content string
}

func writeZip(t *testing.T, path string, entries ...zipEntry) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, e.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// readZip returns entry names in physical order and their contents.
func readZip(t *testing.T, path string) ([]string, map[string]string) {
	t.Helper()

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	contents := make(map[string]string, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		names = append(names, f.Name)
		contents[f.Name] = string(b)
	}
	return names, contents
}

func run(t *testing.T, opts merge.Options) error {
	t.Helper()
	_, err := merge.Run(context.Background(), opts)
	return err
}

func TestEntryName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		k    int
		want string
	}{
		{1, "classes.dex"},
		{2, "classes2.dex"},
		{3, "classes3.dex"},
		{10, "classes10.dex"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, merge.EntryName(tt.k), "k=%d", tt.k)
	}
}

func TestRunSequentialNaming(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "zeta.dex")
	b := filepath.Join(dir, "alpha.dex")
	c := filepath.Join(dir, "c.zip")
	writeFile(t, a, "A")
	writeFile(t, b, "B")
	writeZip(t, c, zipEntry{"classes7.dex", "C"})
	out := filepath.Join(dir, "out.apk")

	report, err := merge.Run(context.Background(), merge.Options{Output: out, Inputs: []string{a, b, c}})
	require.NoError(t, err)

	names, contents := readZip(t, out)
	assert.Equal(t, []string{"classes.dex", "classes2.dex", "classes3.dex"}, names)
	assert.Equal(t, "A", contents["classes.dex"])
	assert.Equal(t, "B", contents["classes2.dex"])
	assert.Equal(t, "C", contents["classes3.dex"])

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 0, report.BaseEntries)
	assert.Empty(t, report.Base)
	assert.True(t, report.Succeeded())
	assert.NotEmpty(t, report.ID)
	require.Len(t, report.Entries, 3)
	assert.Equal(t, "classes7.dex", report.Entries[2].SourceEntry)
	assert.Equal(t, c, report.Entries[2].Source)
}

func TestRunBaseArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, "base.apk")
	writeZip(t, base,
		zipEntry{"AndroidManifest.xml", "manifest"},
		zipEntry{"classes.dex", "base-dex"},
		zipEntry{"res/layout/main.xml", "layout"},
		zipEntry{"META-INF/CERT.RSA", "sig"},
	)
	extra := filepath.Join(dir, "extra.dex")
	writeFile(t, extra, "extra-dex")
	out := filepath.Join(dir, "out.apk")

	report, err := merge.Run(context.Background(), merge.Options{Output: out, Inputs: []string{base, extra}})
	require.NoError(t, err)

	names, contents := readZip(t, out)
	assert.Equal(t, []string{
		"AndroidManifest.xml",
		"classes.dex",
		"res/layout/main.xml",
		"META-INF/CERT.RSA",
		"classes2.dex",
	}, names)
	assert.Equal(t, "base-dex", contents["classes.dex"])
	assert.Equal(t, "extra-dex", contents["classes2.dex"])
	assert.Equal(t, "manifest", contents["AndroidManifest.xml"])
	assert.Equal(t, "layout", contents["res/layout/main.xml"])
	assert.Equal(t, "sig", contents["META-INF/CERT.RSA"])

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.BaseEntries)
	assert.Equal(t, base, report.Base)
	require.Len(t, report.Entries, 1, "base bytecode must not be appended again")
}

func TestRunBaseEntriesRawIdentical(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, "base.apk")
	writeZip(t, base,
		zipEntry{"classes.dex", "dex"},
		zipEntry{"resources.arsc", "arsc-bytes"},
	)
	extra := filepath.Join(dir, "x.dex")
	writeFile(t, extra, "x")
	out := filepath.Join(dir, "out.apk")
	require.NoError(t, run(t, merge.Options{Output: out, Inputs: []string{base, extra}}))

	src, err := archive.Open(base, archive.ModeRead)
	require.NoError(t, err)
	defer src.Close()
	dst, err := archive.Open(out, archive.ModeRead)
	require.NoError(t, err)
	defer dst.Close()

	want, err := src.Entry("resources.arsc")
	require.NoError(t, err)
	got, err := dst.Entry("resources.arsc")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRunDirectoryNotBase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	writeFile(t, filepath.Join(in, "x.dex"), "x")
	writeZip(t, filepath.Join(in, "y.apk"),
		zipEntry{"classes.dex", "y1"},
		zipEntry{"res/raw.bin", "res"},
		zipEntry{"classes2.dex", "y2"},
	)
	out := filepath.Join(dir, "out.apk")

	report, err := merge.Run(context.Background(), merge.Options{Output: out, Inputs: []string{in}})
	require.NoError(t, err)

	names, contents := readZip(t, out)
	assert.Equal(t, []string{"classes.dex", "classes2.dex", "classes3.dex"}, names)
	assert.Equal(t, "x", contents["classes.dex"])
	assert.Equal(t, "y1", contents["classes2.dex"])
	assert.Equal(t, "y2", contents["classes3.dex"])
	assert.Empty(t, report.Base)
	assert.Equal(t, 3, report.Total)
}

func TestRunApkWithoutPrimaryIsNotBase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "first.apk")
	writeZip(t, first,
		zipEntry{"classes2.dex", "only-secondary"},
		zipEntry{"res/a.xml", "a"},
	)
	second := filepath.Join(dir, "second.dex")
	writeFile(t, second, "second")
	out := filepath.Join(dir, "out.apk")

	report, err := merge.Run(context.Background(), merge.Options{Output: out, Inputs: []string{first, second}})
	require.NoError(t, err)

	names, contents := readZip(t, out)
	assert.Equal(t, []string{"classes.dex", "classes2.dex"}, names)
	assert.Equal(t, "only-secondary", contents["classes.dex"])
	assert.Equal(t, "second", contents["classes2.dex"])
	assert.Empty(t, report.Base)
}

func TestRunZipFirstIsNotBase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "first.zip")
	writeZip(t, first, zipEntry{"classes.dex", "z"}, zipEntry{"res/a.xml", "a"})
	second := filepath.Join(dir, "second.dex")
	writeFile(t, second, "s")
	out := filepath.Join(dir, "out.apk")

	require.NoError(t, run(t, merge.Options{Output: out, Inputs: []string{first, second}}))

	names, _ := readZip(t, out)
	assert.Equal(t, []string{"classes.dex", "classes2.dex"}, names)
}

func TestRunEmptyDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.Mkdir(empty, 0o755))
	out := filepath.Join(dir, "out.apk")

	report, err := merge.Run(context.Background(), merge.Options{Output: out, Inputs: []string{empty}})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)

	names, _ := readZip(t, out)
	assert.Empty(t, names)
}

func TestRunOutputExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.dex")
	b := filepath.Join(dir, "b.dex")
	writeFile(t, a, "a")
	writeFile(t, b, "b")
	out := filepath.Join(dir, "out.apk")
	writeZip(t, out, zipEntry{"classes.dex", "old"}, zipEntry{"classes2.dex", "old2"})

	for _, atomic := range []bool{false, true} {
		err := run(t, merge.Options{Output: out, Inputs: []string{a, b}, Atomic: atomic})
		require.ErrorIs(t, err, merge.ErrOutputExists, "atomic=%v", atomic)

		_, contents := readZip(t, out)
		assert.Equal(t, "old", contents["classes.dex"], "existing output must be untouched")
	}

	require.NoError(t, run(t, merge.Options{Output: out, Inputs: []string{b, a}, Overwrite: true}))

	names, contents := readZip(t, out)
	assert.Equal(t, []string{"classes.dex", "classes2.dex"}, names)
	assert.Equal(t, "b", contents["classes.dex"])
	assert.Equal(t, "a", contents["classes2.dex"])
}

func TestRunInvalidInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	single := filepath.Join(dir, "one.dex")
	writeFile(t, single, "1")
	out := filepath.Join(dir, "out.apk")

	tests := []struct {
		name   string
		inputs []string
		output string
	}{
		{name: "no inputs", inputs: nil, output: out},
		{name: "single file", inputs: []string{single}, output: out},
		{name: "single missing path", inputs: []string{filepath.Join(dir, "nope")}, output: out},
		{name: "no output", inputs: []string{single, single}, output: ""},
		{name: "output is an input", inputs: []string{single, out}, output: out},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := merge.Run(context.Background(), merge.Options{Output: tt.output, Inputs: tt.inputs})
			require.ErrorIs(t, err, merge.ErrInvalidInput)
			require.NotNil(t, report)
			assert.False(t, report.Succeeded())
		})
	}

	_, err := os.Stat(out)
	assert.ErrorIs(t, err, os.ErrNotExist, "invalid input must be rejected before any I/O")
}

func TestRunCorruptSourceLeavesPartialOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.dex")
	bad := filepath.Join(dir, "bad.apk")
	later := filepath.Join(dir, "later.dex")
	writeFile(t, good, "good")
	writeFile(t, bad, "garbage")
	writeFile(t, later, "later")
	out := filepath.Join(dir, "out.apk")

	report, err := merge.Run(context.Background(), merge.Options{Output: out, Inputs: []string{good, bad, later}})
	require.ErrorIs(t, err, archive.ErrCorruptArchive)
	assert.Contains(t, err.Error(), bad)
	assert.Equal(t, 1, report.Total)
	assert.NotEmpty(t, report.Error)

	names, contents := readZip(t, out)
	assert.Equal(t, []string{"classes.dex"}, names)
	assert.Equal(t, "good", contents["classes.dex"])
}

func TestRunAtomicFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.dex")
	writeFile(t, good, "good")
	out := filepath.Join(dir, "out.apk")

	_, err := merge.Run(context.Background(), merge.Options{
		Output: out,
		Inputs: []string{good, filepath.Join(dir, "missing.dex")},
		Atomic: true,
	})
	require.ErrorIs(t, err, os.ErrNotExist)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "out.apk", e.Name())
		assert.NotContains(t, e.Name(), ".partial")
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestRunAtomicSuccess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.dex")
	b := filepath.Join(dir, "b.dex")
	writeFile(t, a, "a")
	writeFile(t, b, "b")
	out := filepath.Join(dir, "out.apk")
	writeZip(t, out, zipEntry{"classes.dex", "old"})

	require.NoError(t, run(t, merge.Options{Output: out, Inputs: []string{a, b}, Atomic: true, Overwrite: true}))

	names, contents := readZip(t, out)
	assert.Equal(t, []string{"classes.dex", "classes2.dex"}, names)
	assert.Equal(t, "a", contents["classes.dex"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRunOutputInsideInputDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.dex"), "a")
	writeZip(t, filepath.Join(dir, "b.zip"), zipEntry{"classes.dex", "b"})
	out := filepath.Join(dir, "merged.apk")

	report, err := merge.Run(context.Background(), merge.Options{Output: out, Inputs: []string{dir}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
}

func TestRunCompress(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.dex")
	b := filepath.Join(dir, "b.dex")
	writeFile(t, a, "aaaaaaaaaaaaaaaaaaaaaaaa")
	writeFile(t, b, "b")

	for _, compress := range []bool{false, true} {
		out := filepath.Join(dir, "out.apk")
		require.NoError(t, run(t, merge.Options{Output: out, Inputs: []string{a, b}, Compress: compress, Overwrite: true}))

		r, err := archive.Open(out, archive.ModeRead)
		require.NoError(t, err)
		e, err := r.Entry("classes.dex")
		require.NoError(t, err)
		require.NoError(t, r.Close())

		want := zip.Store
		if compress {
			want = zip.Deflate
		}
		assert.Equal(t, want, e.Method, "compress=%v", compress)
	}
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.dex")
	b := filepath.Join(dir, "b.dex")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := merge.Run(ctx, merge.Options{Output: filepath.Join(dir, "out.apk"), Inputs: []string{a, b}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Total)
}

func TestEngineContinuesNumbering(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "app.apk")
	writeZip(t, out,
		zipEntry{"classes.dex", "1"},
		zipEntry{"classes2.dex", "2"},
		zipEntry{"assets/x", "x"},
	)
	extra := filepath.Join(dir, "extra.dex")
	writeFile(t, extra, "3")

	engine, err := merge.OpenEngine(out, merge.EngineOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, engine.Count())
	require.NoError(t, engine.AddFile(extra))
	assert.Equal(t, 3, engine.Count())
	require.NoError(t, engine.Close())

	names, contents := readZip(t, out)
	assert.Equal(t, []string{"classes.dex", "classes2.dex", "assets/x", "classes3.dex"}, names)
	assert.Equal(t, "3", contents["classes3.dex"])
}

func TestEngineArchiveWithoutBytecode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "out.apk")
	require.NoError(t, archive.CreateEmpty(out))
	src := filepath.Join(dir, "res.zip")
	writeZip(t, src, zipEntry{"res/a.xml", "a"})

	engine, err := merge.OpenEngine(out, merge.EngineOptions{})
	require.NoError(t, err)
	a, err := archive.Open(src, archive.ModeRead)
	require.NoError(t, err)
	require.NoError(t, engine.AddArchive(a))
	require.NoError(t, a.Close())
	assert.Equal(t, 0, engine.Count())
	assert.Empty(t, engine.Entries())
	require.NoError(t, engine.Close())
}

func TestSelectBase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	apk := filepath.Join(dir, "app.apk")
	writeZip(t, apk, zipEntry{"classes.dex", "d"}, zipEntry{"res/a", "a"})
	dex := filepath.Join(dir, "x.dex")
	writeFile(t, dex, "x")

	out := filepath.Join(dir, "out.apk")
	remaining, base, err := merge.SelectBase(out, []string{apk, dex}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, apk, base)
	assert.Equal(t, []string{dex}, remaining)

	want, err := os.ReadFile(apk)
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, want, got, "base copy must be byte-for-byte")

	out2 := filepath.Join(dir, "out2.apk")
	remaining, base, err = merge.SelectBase(out2, []string{dex, apk}, false, nil)
	require.NoError(t, err)
	assert.Empty(t, base)
	assert.Equal(t, []string{dex, apk}, remaining)
	names, _ := readZip(t, out2)
	assert.Empty(t, names)
}

func TestDefaultOutput(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC)
	assert.Equal(t, "merged_090507.apk", merge.DefaultOutput("", now))
	assert.Equal(t, "out-090507.apk", merge.DefaultOutput("out-%s.apk", now))
}
