package infra

import (
	"os"
	"path/filepath"
)

// ExpandHome expands a leading "~" in path to the current user's home
// directory. Paths that do not start with "~" are returned unchanged.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[1:])
	}
	return home
}
