// Package device talks to an attached Android device through adb: it
// lists installed packages, reads build properties and pulls files.
package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/command"
	"github.com/jamesainslie/apkmerge/pkg/apkmerge/logging"
)

// Property names read from the device.
const (
	PropSDKVersion = "ro.build.version.sdk"
	PropABIList    = "ro.product.cpu.abilist"
)

// ErrBadProperty indicates a device property that could not be parsed.
var ErrBadProperty = errors.New("unexpected property value")

// Device is the subset of adb the pull workflows need.
type Device interface {
	// Shell runs a command on the device and returns its output.
	Shell(ctx context.Context, args ...string) (string, error)

	// List returns the names of the entries of a remote directory.
	List(ctx context.Context, dir string) ([]string, error)

	// Pull copies a remote file to a local path.
	Pull(ctx context.Context, remote, local string) error
}

// ADB implements Device by running the adb binary.
type ADB struct {
	path   string
	serial string
	runner command.Runner
	logger *logging.Logger
}

// NewADB returns a Device using the adb binary at path (looked up on
// PATH when it has no separator). A non-empty serial selects the device
// when several are attached.
func NewADB(path, serial string, runner command.Runner, logger *logging.Logger) *ADB {
	if path == "" {
		path = "adb"
	}
	return &ADB{
		path:   path,
		serial: serial,
		runner: runner,
		logger: logger,
	}
}

func (a *ADB) run(ctx context.Context, args ...string) (string, error) {
	if a.serial != "" {
		args = append([]string{"-s", a.serial}, args...)
	}
	out, err := a.runner.Run(ctx, "", a.path, args...)
	return string(out), err
}

// Shell implements Device.
func (a *ADB) Shell(ctx context.Context, args ...string) (string, error) {
	return a.run(ctx, append([]string{"shell"}, args...)...)
}

// List implements Device.
func (a *ADB) List(ctx context.Context, dir string) ([]string, error) {
	out, err := a.Shell(ctx, "ls", dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return lines(out), nil
}

// Pull implements Device.
func (a *ADB) Pull(ctx context.Context, remote, local string) error {
	a.logger.Debug("pulling", "remote", remote, "local", local)
	if _, err := a.run(ctx, "pull", remote, local); err != nil {
		return fmt.Errorf("pull %s: %w", remote, err)
	}
	return nil
}

// Package is one installed package and the path of its code archive.
type Package struct {
	Name string
	Path string
}

// PackageFilter narrows the package listing the way pm list does.
type PackageFilter struct {
	// ThirdParty keeps only third party packages (-3).
	ThirdParty bool

	// System keeps only system packages (-s).
	System bool
}

// Packages lists the installed packages with their archive paths.
func Packages(ctx context.Context, dev Device, filter PackageFilter) ([]Package, error) {
	args := []string{"pm", "list", "package", "-f"}
	if filter.ThirdParty {
		args = append(args, "-3")
	}
	if filter.System {
		args = append(args, "-s")
	}

	out, err := dev.Shell(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return ParsePackages(out), nil
}

// ParsePackages parses pm list package -f output, one
// "package:<path>=<name>" per line. The path may itself contain '='
// so the name is taken after the last one. A package listed twice keeps
// its first position and its last path.
func ParsePackages(out string) []Package {
	var pkgs []Package
	index := make(map[string]int)
	for _, line := range lines(out) {
		line = strings.TrimPrefix(line, "package:")
		i := strings.LastIndexByte(line, '=')
		if i <= 0 || i == len(line)-1 {
			continue
		}
		p := Package{Path: line[:i], Name: line[i+1:]}
		if j, ok := index[p.Name]; ok {
			pkgs[j] = p
			continue
		}
		index[p.Name] = len(pkgs)
		pkgs = append(pkgs, p)
	}
	return pkgs
}

// Property reads one system property.
func Property(ctx context.Context, dev Device, name string) (string, error) {
	out, err := dev.Shell(ctx, "getprop", name)
	if err != nil {
		return "", fmt.Errorf("getprop %s: %w", name, err)
	}
	return strings.TrimSpace(out), nil
}

// SDKVersion returns the device API level.
func SDKVersion(ctx context.Context, dev Device) (int, error) {
	v, err := Property(ctx, dev, PropSDKVersion)
	if err != nil {
		return 0, err
	}
	sdk, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", PropSDKVersion, v, ErrBadProperty)
	}
	return sdk, nil
}

// ABIList returns the ABIs the device supports, preferred first.
func ABIList(ctx context.Context, dev Device) ([]string, error) {
	v, err := Property(ctx, dev, PropABIList)
	if err != nil {
		return nil, err
	}
	var abis []string
	for _, abi := range strings.Split(v, ",") {
		if abi = strings.TrimSpace(abi); abi != "" {
			abis = append(abis, abi)
		}
	}
	return abis, nil
}

// Supports64 reports whether any ABI in the list is a 64-bit arm ABI.
func Supports64(abis []string) bool {
	for _, abi := range abis {
		if strings.Contains(abi, "arm64") {
			return true
		}
	}
	return false
}

// lines splits command output into trimmed, non-empty lines.
func lines(out string) []string {
	var result []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			result = append(result, line)
		}
	}
	return result
}

// Ensure ADB implements Device.
var _ Device = (*ADB)(nil)
