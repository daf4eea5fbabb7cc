package logging_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
)

func countLogs(t *testing.T, dir, prefix string) int {
	t.Helper()

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	n := 0
	for _, f := range files {
		if strings.HasPrefix(f.Name(), prefix) && strings.HasSuffix(f.Name(), ".log") {
			n++
		}
	}
	return n
}

func TestRotationBySize(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "size_rotate.log")

	writer, err := logging.NewRotatingWriter(logPath, logging.RotationConfig{
		MaxSize:    512,
		MaxAge:     7,
		MaxBackups: 3,
	})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		msg := strings.Repeat("x", 50) + "\n"
		if _, writeErr := writer.Write([]byte(msg)); writeErr != nil {
			t.Fatalf("Write() error = %v", writeErr)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := countLogs(t, tempDir, "size_rotate"); n < 2 {
		t.Errorf("expected at least 2 log files after rotation, got %d", n)
	}
}

func TestRotationMaxBackups(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "backup_limit.log")

	maxBackups := 2
	writer, err := logging.NewRotatingWriter(logPath, logging.RotationConfig{
		MaxSize:    256,
		MaxAge:     7,
		MaxBackups: maxBackups,
	})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	for i := 0; i < 50; i++ {
		msg := strings.Repeat("y", 30) + "\n"
		if _, writeErr := writer.Write([]byte(msg)); writeErr != nil {
			t.Fatalf("Write() error = %v", writeErr)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// current file plus MaxBackups rotated files
	if n := countLogs(t, tempDir, "backup_limit"); n > maxBackups+1 {
		t.Errorf("expected at most %d log files, got %d", maxBackups+1, n)
	}
}

func TestRotationNumbersBackups(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "naming.log")

	writer, err := logging.NewRotatingWriter(logPath, logging.RotationConfig{
		MaxSize:    128,
		MaxBackups: 5,
	})
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	for i := 0; i < 40; i++ {
		if _, err := writer.Write([]byte(strings.Repeat("z", 20) + "\n")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("main log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "naming.1.log")); err != nil {
		t.Errorf("newest backup missing: %v", err)
	}
	if n := countLogs(t, tempDir, "naming."); n != 6 {
		t.Errorf("expected main log plus 5 backups, got %d files", n)
	}
}

func TestRotationWriteAfterClose(t *testing.T) {
	t.Parallel()

	writer, err := logging.NewRotatingWriter(filepath.Join(t.TempDir(), "closed.log"), logging.DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter() error = %v", err)
	}

	data := []byte("test log line\n")
	n, err := writer.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write() = %d, %v", n, err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := writer.Write(data); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write() after Close error = %v, want os.ErrClosed", err)
	}
}
