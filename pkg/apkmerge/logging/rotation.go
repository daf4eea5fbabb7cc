package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// MaxSize is the size in bytes at which the file rotates. Zero means 10MB.
	MaxSize int64

	// MaxAge removes backups older than this many days. Zero disables it.
	MaxAge int

	// MaxBackups caps the number of backups kept. Zero keeps them all.
	MaxBackups int

	// Daily rotates when the calendar day changes.
	Daily bool
}

// DefaultRotationConfig returns the default rotation settings.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    10 << 20,
		MaxAge:     30,
		MaxBackups: 5,
		Daily:      true,
	}
}

// RotatingWriter appends to a log file and shifts it into numbered
// backups (apkmerge.1.log is the newest) when it grows past MaxSize or
// the day changes. Writes take an flock so concurrent apkmerge
// processes do not interleave partial lines.
type RotatingWriter struct {
	mu   sync.Mutex
	path string
	cfg  RotationConfig
	file *os.File
	size int64
	day  string
}

type backup struct {
	n       int
	path    string
	modTime time.Time
}

// NewRotatingWriter opens path for appending, creating its directory.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

// Write appends p, rotating first when p would not fit.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.due(len(p)) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	fd := int(w.file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("locking log file: %w", err)
	}
	n, err := w.file.Write(p)
	_ = unix.Flock(fd, unix.LOCK_UN)

	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the file. Closing twice is a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing log file: %w", syncErr)
	}
	return closeErr
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	w.file = f
	w.size = info.Size()
	w.day = dayOf(info.ModTime())
	return nil
}

func (w *RotatingWriter) due(n int) bool {
	if w.size > 0 && w.size+int64(n) > w.cfg.MaxSize {
		return true
	}
	return w.cfg.Daily && w.size > 0 && dayOf(time.Now()) != w.day
}

// rotate shifts every backup up by one, moves the live file to .1 and
// reopens a fresh one.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	w.file = nil

	backups := w.backups()
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		if err := os.Rename(b.path, w.backupPath(b.n+1)); err != nil {
			return fmt.Errorf("shifting %s: %w", filepath.Base(b.path), err)
		}
	}
	if err := os.Rename(w.path, w.backupPath(1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	w.day = dayOf(time.Now())
	w.prune()
	return nil
}

func (w *RotatingWriter) backupPath(n int) string {
	ext := filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext) + "." + strconv.Itoa(n) + ext
}

// backups lists the numbered backups of the log, lowest number first.
func (w *RotatingWriter) backups() []backup {
	dir := filepath.Dir(w.path)
	ext := filepath.Ext(w.path)
	prefix := strings.TrimSuffix(filepath.Base(w.path), ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var found []backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext))
		if err != nil || n < 1 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, backup{n: n, path: filepath.Join(dir, name), modTime: info.ModTime()})
	}
	slices.SortFunc(found, func(a, b backup) int { return a.n - b.n })
	return found
}

// prune drops backups past MaxBackups or older than MaxAge.
func (w *RotatingWriter) prune() {
	cutoff := time.Now().AddDate(0, 0, -w.cfg.MaxAge)
	for _, b := range w.backups() {
		tooMany := w.cfg.MaxBackups > 0 && b.n > w.cfg.MaxBackups
		tooOld := w.cfg.MaxAge > 0 && b.modTime.Before(cutoff)
		if tooMany || tooOld {
			_ = os.Remove(b.path)
		}
	}
}

func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}
