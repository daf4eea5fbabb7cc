//go:build stave

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
)

// Default target when running `stave` with no arguments.
var Default = Build

var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"l": Lint,
	"i": Install,
	"c": Clean,
}

const (
	binaryName = "apkmerge"
	modulePath = "github.com/jamesainslie/apkmerge"
	mainPkg    = "./cmd/apkmerge"
	binDir     = "bin"
)

// All runs lint and tests, then builds.
func All() error {
	st.Deps(Lint, Test)
	st.Deps(Build)
	return nil
}

// Build compiles bin/apkmerge with version information.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}
	return sh.RunV("go", "build", "-ldflags", buildLdflags(), "-o", binaryPath(), mainPkg)
}

// Install copies the built binary into GOBIN.
func Install() error {
	st.Deps(Build)

	bin, err := goBin()
	if err != nil {
		return err
	}
	dst := filepath.Join(bin, filepath.Base(binaryPath()))
	if st.Verbose() {
		fmt.Printf("Installing %s to %s\n", binaryPath(), dst)
	}
	return sh.Copy(dst, binaryPath())
}

// Test runs the test suite with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Tools reports which external programs used by `apkmerge pull` are on PATH.
func Tools() error {
	var missing []string
	for _, tool := range []string{"adb", "vdexExtractor", "cdexExtractor"} {
		p, err := exec.LookPath(tool)
		if err != nil {
			missing = append(missing, tool)
			continue
		}
		fmt.Printf("%-14s %s\n", tool, p)
	}
	if len(missing) > 0 {
		return errors.New("not found on PATH: " + strings.Join(missing, ", "))
	}
	return nil
}

// Clean removes build artifacts.
func Clean() error {
	return sh.Rm(binDir + "/")
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

func binaryPath() string {
	out := filepath.Join(binDir, binaryName)
	if runtime.GOOS == "windows" {
		out += ".exe"
	}
	return out
}

// goBin returns GOBIN, then GOPATH/bin, then /usr/local/bin.
func goBin() (string, error) {
	gocmd := st.GoCmd()
	bin, err := sh.Output(gocmd, "env", "GOBIN")
	if err != nil {
		return "", fmt.Errorf("determining GOBIN: %w", err)
	}
	if bin != "" {
		return bin, nil
	}
	gopath, err := sh.Output(gocmd, "env", "GOPATH")
	if err != nil {
		return "", fmt.Errorf("determining GOPATH: %w", err)
	}
	if gopath == "" {
		return "/usr/local/bin", nil
	}
	return filepath.Join(gopath, "bin"), nil
}

// buildLdflags injects version, commit and date into cmd/apkmerge.
func buildLdflags() string {
	version, commit := "dev", "unknown"
	date := time.Now().UTC().Format(time.RFC3339)

	if v, err := sh.Output("git", "describe", "--tags", "--always"); err == nil && v != "" {
		version = strings.TrimSpace(v)
	}
	if c, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && c != "" {
		commit = strings.TrimSpace(c)
	}

	pkg := modulePath + "/cmd/apkmerge"
	return fmt.Sprintf("-X %s.version=%s -X %s.commit=%s -X %s.date=%s",
		pkg, version, pkg, commit, pkg, date)
}
