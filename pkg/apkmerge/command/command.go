// Package command runs the external tools apkmerge depends on (adb and
// the bytecode extractors) behind a small interface so callers can be
// tested without them installed.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
)

// DefaultTimeout bounds a single command when Exec.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// waitDelay bounds how long Run waits for output pipes after the process
// group was killed.
const waitDelay = time.Second

// Runner runs one external command and returns its standard output.
type Runner interface {
	// Run executes name with args in dir (the current directory when
	// empty). A non-zero exit status is reported as an *Error.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// Error describes a command that could not run or exited unsuccessfully.
type Error struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit status of a command that ran and failed,
// or -1 when err does not carry one.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Exec runs commands with os/exec.
type Exec struct {
	// Timeout bounds each command. Zero means DefaultTimeout.
	Timeout time.Duration

	Logger *logging.Logger
}

// Run implements Runner.
func (x *Exec) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	timeout := x.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// adb and the extractors may leave helpers holding the pipes open;
	// run them in their own group and kill the whole group on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	x.Logger.Debug("command finished",
		"name", name,
		"args", args,
		"dir", dir,
		"duration", time.Since(start),
		"err", err)

	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
		}
		return stdout.Bytes(), &Error{
			Name:   name,
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// Ensure Exec implements Runner.
var _ Runner = (*Exec)(nil)
