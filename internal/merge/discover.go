package merge

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultPattern matches per-run SQLite stores.
const DefaultPattern = "*.db"

var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// Discover lists store files in dir matching pattern, excluding output and
// SQLite sidecar files. The result is sorted.
func Discover(dir, pattern, output string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, eris.Wrapf(err, "merge: glob %s", pattern)
	}

	outAbs := ""
	if output != "" {
		if outAbs, err = filepath.Abs(output); err != nil {
			return nil, eris.Wrap(err, "merge: resolve output path")
		}
	}

	var paths []string
	for _, m := range matches {
		if isSidecar(m) {
			continue
		}
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, eris.Wrapf(err, "merge: resolve %s", m)
		}
		if abs == outAbs {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			return nil, eris.Wrapf(err, "merge: stat %s", m)
		}
		if info.IsDir() {
			continue
		}
		paths = append(paths, m)
	}
	slices.Sort(paths)
	return paths, nil
}

func isSidecar(path string) bool {
	for _, s := range sidecarSuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}
