// Package archive provides scoped access to ZIP containers (APK, JAR and
// plain zip files) for the merge engine.
//
// An Archive is opened in one of three modes:
//
//	a, err := archive.Open("app.apk", archive.ModeRead)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	names, err := a.List(archive.BytecodePattern)
//
// Append mode keeps every existing entry byte-identical and adds new
// entries after them. Entries are written to a sibling temp file that
// replaces the original on Close, so Close must run on every exit path.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/klauspost/compress/zip"
)

// BytecodePattern matches the bytecode entries of a package.
const BytecodePattern = "classes*.dex"

// PrimaryBytecode is the entry that marks a package as carrying bytecode.
const PrimaryBytecode = "classes.dex"

// Mode selects how an archive is opened.
type Mode int

// Open modes.
const (
	ModeRead Mode = iota
	ModeAppend
	ModeCreate
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeAppend:
		return "append"
	case ModeCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Errors returned by archive operations.
var (
	ErrAlreadyExists  = errors.New("archive already exists")
	ErrCorruptArchive = errors.New("corrupt archive")
	ErrEntryNotFound  = errors.New("entry not found")
	ErrNotWritable    = errors.New("archive not opened for writing")
	ErrNotReadable    = errors.New("archive not opened for reading")
	ErrClosed         = errors.New("archive closed")
)

// zipMagic is the local file header signature every non-empty ZIP starts with.
var zipMagic = []byte("PK\x03\x04")

// Entry describes one entry of a readable archive.
type Entry struct {
	Name           string
	Method         uint16
	CRC32          uint32
	CompressedSize int64
	Size           int64
}

// MethodName returns a short name for the entry's compression method.
func (e Entry) MethodName() string {
	switch e.Method {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method-%d", e.Method)
	}
}

// Archive is one ZIP container opened for read, append or create.
type Archive struct {
	path string
	mode Mode

	// reader holds the original contents (read and append modes).
	reader *zip.ReadCloser
	byName map[string]*zip.File

	// file and writer receive new content (append and create modes).
	// In append mode file is a temp file renamed over path on Close.
	file   *os.File
	writer *zip.Writer
	perm   fs.FileMode

	// names tracks entry names of a writable archive in physical order.
	names   []string
	present map[string]struct{}

	// Compress deflates entries added with WriteFile instead of storing them.
	Compress bool

	closed bool
}

// Open opens the archive at path in the given mode.
//
// ModeCreate fails with ErrAlreadyExists when path exists. ModeAppend
// requires path to hold a valid, possibly empty, ZIP. ModeRead and
// ModeAppend fail with ErrCorruptArchive when the bytes are not a ZIP.
func Open(path string, mode Mode) (*Archive, error) {
	switch mode {
	case ModeRead:
		return openRead(path)
	case ModeAppend:
		return openAppend(path)
	case ModeCreate:
		return openCreate(path)
	default:
		return nil, fmt.Errorf("open %s: unknown mode %d", path, mode)
	}
}

// CreateEmpty writes a valid ZIP container with zero entries at path,
// truncating whatever was there.
func CreateEmpty(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := zip.NewWriter(f)
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write empty archive %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// IsZip reports whether the file at path starts with a ZIP local header.
func IsZip(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(header, zipMagic), nil
}

func openRead(path string) (*Archive, error) {
	rc, err := openReader(path)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		path:   path,
		mode:   ModeRead,
		reader: rc,
		byName: make(map[string]*zip.File, len(rc.File)),
	}
	for _, f := range rc.File {
		a.byName[f.Name] = f
	}
	return a, nil
}

func openAppend(path string) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	rc, err := openReader(path)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("open %s for append: %w", path, err)
	}

	a := &Archive{
		path:    path,
		mode:    ModeAppend,
		reader:  rc,
		byName:  make(map[string]*zip.File, len(rc.File)),
		file:    tmp,
		writer:  zip.NewWriter(tmp),
		perm:    info.Mode().Perm(),
		present: make(map[string]struct{}, len(rc.File)),
	}

	for _, f := range rc.File {
		a.byName[f.Name] = f
		if err := a.writer.Copy(f); err != nil {
			a.discard()
			return nil, fmt.Errorf("carry over %s from %s: %w", f.Name, path, err)
		}
		a.track(f.Name)
	}
	if rc.Comment != "" {
		if err := a.writer.SetComment(rc.Comment); err != nil {
			a.discard()
			return nil, fmt.Errorf("carry over comment of %s: %w", path, err)
		}
	}

	return a, nil
}

func openCreate(path string) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create %s: %w", path, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	return &Archive{
		path:    path,
		mode:    ModeCreate,
		file:    f,
		writer:  zip.NewWriter(f),
		present: make(map[string]struct{}),
	}, nil
}

// openReader opens path as a ZIP, mapping parse failures to ErrCorruptArchive.
func openReader(path string) (*zip.ReadCloser, error) {
	rc, err := zip.OpenReader(path)
	if err == nil {
		return rc, nil
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return nil, fmt.Errorf("open %s: %w: %w", path, ErrCorruptArchive, err)
}

// Path returns the archive's file path.
func (a *Archive) Path() string {
	return a.path
}

// Mode returns the mode the archive was opened in.
func (a *Archive) Mode() Mode {
	return a.mode
}

// String implements fmt.Stringer.
func (a *Archive) String() string {
	return fmt.Sprintf("<Archive %s (%s)>", a.path, a.mode)
}

// List returns the names of entries matching a glob pattern, in physical
// order. The pattern follows shell rules where '*' also matches '/'.
// Every call scans the current entry set again.
func (a *Archive) List(pattern string) ([]string, error) {
	if a.closed {
		return nil, ErrClosed
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var matched []string
	for _, name := range a.entryNames() {
		if g.Match(name) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// Bytecode returns the bytecode entry names in physical order.
func (a *Archive) Bytecode() ([]string, error) {
	return a.List(BytecodePattern)
}

// Has reports whether an entry with exactly this name exists.
func (a *Archive) Has(name string) bool {
	if a.mode == ModeRead {
		_, ok := a.byName[name]
		return ok
	}
	_, ok := a.present[name]
	return ok
}

// Entry returns metadata for a named entry of a readable archive.
// In append mode only entries present when the archive was opened are visible.
func (a *Archive) Entry(name string) (Entry, error) {
	if a.reader == nil {
		return Entry{}, ErrNotReadable
	}
	f, ok := a.byName[name]
	if !ok {
		return Entry{}, fmt.Errorf("%s in %s: %w", name, a.path, ErrEntryNotFound)
	}
	return toEntry(f), nil
}

// Entries returns metadata for every entry of a read-only archive.
func (a *Archive) Entries() ([]Entry, error) {
	if a.mode != ModeRead {
		return nil, ErrNotReadable
	}
	if a.closed {
		return nil, ErrClosed
	}

	entries := make([]Entry, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		entries = append(entries, toEntry(f))
	}
	return entries, nil
}

// CopyFrom copies the raw, still compressed bytes of srcName in src into
// a new entry named dstName. Nothing is decompressed or recompressed.
func (a *Archive) CopyFrom(src *Archive, srcName, dstName string) error {
	if err := a.writable(); err != nil {
		return err
	}
	if src.reader == nil {
		return fmt.Errorf("copy from %s: %w", src.path, ErrNotReadable)
	}
	if src.closed {
		return fmt.Errorf("copy from %s: %w", src.path, ErrClosed)
	}

	f, ok := src.byName[srcName]
	if !ok {
		return fmt.Errorf("%s in %s: %w", srcName, src.path, ErrEntryNotFound)
	}

	r, err := f.OpenRaw()
	if err != nil {
		return fmt.Errorf("read %s in %s: %w", srcName, src.path, err)
	}

	// The payload is read in full before the header is added, so a bad
	// source never leaves an entry whose sizes disagree with its data.
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read %s in %s: %w", srcName, src.path, err)
	}
	if uint64(len(raw)) != f.CompressedSize64 {
		return fmt.Errorf("read %s in %s: %d of %d bytes: %w",
			srcName, src.path, len(raw), f.CompressedSize64, ErrCorruptArchive)
	}

	header := f.FileHeader
	header.Name = dstName
	w, err := a.writer.CreateRaw(&header)
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", dstName, a.path, err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("copy %s in %s to %s: %w", srcName, src.path, dstName, err)
	}

	a.track(dstName)
	return nil
}

// WriteFile streams the file at srcPath into a new entry named dstName.
// The entry is stored unless Compress is set.
func (a *Archive) WriteFile(srcPath, dstName string) error {
	if err := a.writable(); err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat source %s: %w", srcPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("source %s is a directory", srcPath)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", srcPath, err)
	}
	header.Name = dstName
	header.Method = zip.Store
	if a.Compress {
		header.Method = zip.Deflate
	}

	w, err := a.writer.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", dstName, a.path, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write %s to %s: %w", srcPath, dstName, err)
	}

	a.track(dstName)
	return nil
}

// Close releases the archive. Writable archives flush their central
// directory; in append mode the rewritten container replaces the original.
// Close is safe to call more than once.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	switch a.mode {
	case ModeRead:
		return a.reader.Close()

	case ModeCreate:
		err := errors.Join(a.writer.Close(), a.file.Close())
		if err != nil {
			return fmt.Errorf("close %s: %w", a.path, err)
		}
		return nil

	case ModeAppend:
		tmpPath := a.file.Name()
		err := errors.Join(
			a.writer.Close(),
			a.file.Sync(),
			a.file.Close(),
			a.reader.Close(),
		)
		if err == nil {
			err = os.Chmod(tmpPath, a.perm)
		}
		if err == nil {
			err = os.Rename(tmpPath, a.path)
		}
		if err != nil {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("close %s: %w", a.path, err)
		}
		return nil
	}
	return nil
}

// discard abandons a half-opened append archive.
func (a *Archive) discard() {
	a.closed = true
	_ = a.file.Close()
	_ = os.Remove(a.file.Name())
	_ = a.reader.Close()
}

func (a *Archive) writable() error {
	if a.closed {
		return fmt.Errorf("%s: %w", a.path, ErrClosed)
	}
	if a.writer == nil {
		return fmt.Errorf("%s: %w", a.path, ErrNotWritable)
	}
	return nil
}

func (a *Archive) track(name string) {
	a.names = append(a.names, name)
	a.present[name] = struct{}{}
}

func (a *Archive) entryNames() []string {
	if a.mode != ModeRead {
		return a.names
	}
	names := make([]string, len(a.reader.File))
	for i, f := range a.reader.File {
		names[i] = f.Name
	}
	return names
}

func toEntry(f *zip.File) Entry {
	return Entry{
		Name:           f.Name,
		Method:         f.Method,
		CRC32:          f.CRC32,
		CompressedSize: int64(f.CompressedSize64),
		Size:           int64(f.UncompressedSize64),
	}
}
