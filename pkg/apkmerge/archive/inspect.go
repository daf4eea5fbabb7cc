package archive

import (
	"strconv"
	"strings"

	"github.com/jamesainslie/apkmerge/pkg/apkmerge/types"
)

// Inspect opens the archive at path read-only and describes its bytecode
// entries.
//
// MaxIndex is the highest dex index named in the archive, counting
// classes.dex as 1. It equals the number of bytecode entries when the
// names are contiguous; a larger value means the archive has gaps and
// appending to it would produce a name that already exists.
func Inspect(path string) (*types.Listing, error) {
	a, err := Open(path, ModeRead)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	names, err := a.Bytecode()
	if err != nil {
		return nil, err
	}
	all, err := a.Entries()
	if err != nil {
		return nil, err
	}

	listing := &types.Listing{
		Path:         path,
		Entries:      make([]types.ListedEntry, 0, len(names)),
		TotalEntries: len(all),
	}
	for _, name := range names {
		e, err := a.Entry(name)
		if err != nil {
			return nil, err
		}
		listing.Entries = append(listing.Entries, types.ListedEntry{
			Name:           e.Name,
			Method:         e.MethodName(),
			CompressedSize: e.CompressedSize,
			Size:           e.Size,
		})
		if idx := BytecodeIndex(name); idx > listing.MaxIndex {
			listing.MaxIndex = idx
		}
	}
	return listing, nil
}

// BytecodeIndex returns the dex index encoded in a bytecode entry name:
// 1 for classes.dex, k for classes<k>.dex. Names outside that scheme,
// such as classes-extra.dex or classes1.dex, return 0.
func BytecodeIndex(name string) int {
	if name == PrimaryBytecode {
		return 1
	}
	digits, ok := strings.CutPrefix(name, "classes")
	if !ok {
		return 0
	}
	digits, ok = strings.CutSuffix(digits, ".dex")
	if !ok || digits == "" || digits[0] == '0' {
		return 0
	}
	k, err := strconv.Atoi(digits)
	if err != nil || k < 2 {
		return 0
	}
	return k
}
