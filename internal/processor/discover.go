package processor

import (
	"os"
	"path/filepath"
)

// DiscoverConfig walks from dir towards the filesystem root looking for the
// first existing candidate file. Returns "" when nothing is found - tools
// then run with their built in defaults.
func DiscoverConfig(dir string, candidates ...string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		for _, name := range candidates {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				return path
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
