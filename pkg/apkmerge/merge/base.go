package merge

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/archive"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/source"
)

// SelectBase prepares the output at path and picks the base archive.
//
// The output is created as an empty ZIP. An existing file fails with
// ErrOutputExists unless overwrite is set, in which case it is replaced.
// When the first input is an .apk file holding classes.dex, the output
// becomes a byte-for-byte copy of it and that input is dropped from the
// returned list. base is the copied input, or "" when there is none.
func SelectBase(path string, inputs []string, overwrite bool, logger *logging.Logger) (remaining []string, base string, err error) {
	if err := prepareOutput(path, overwrite); err != nil {
		return nil, "", err
	}

	if len(inputs) == 0 {
		return inputs, "", nil
	}

	first := inputs[0]
	eligible, err := isBaseCandidate(first)
	if err != nil {
		return nil, "", err
	}
	if !eligible {
		logger.Debug("no base archive, starting empty", "output", path)
		return inputs, "", nil
	}

	if err := copyFile(first, path); err != nil {
		return nil, "", err
	}
	logger.Info("copied base archive", "base", first, "output", path)

	return inputs[1:], first, nil
}

func prepareOutput(path string, overwrite bool) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		if !overwrite {
			return fmt.Errorf("%s: %w", path, ErrOutputExists)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove existing output %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat output %s: %w", path, err)
	}

	return archive.CreateEmpty(path)
}

// isBaseCandidate reports whether path is an .apk file holding classes.dex.
func isBaseCandidate(path string) (bool, error) {
	if !strings.HasSuffix(path, source.ExtApk) {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// Left for the expander, which reports the failure in order.
		return false, nil
	}

	a, err := archive.Open(path, archive.ModeRead)
	if err != nil {
		return false, err
	}
	defer a.Close()

	return a.Has(archive.PrimaryBytecode), nil
}

// copyFile replaces dst with an exact copy of src.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open base %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("open output %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy base %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", dst, err)
	}
	return nil
}
